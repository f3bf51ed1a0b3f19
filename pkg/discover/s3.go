package discover

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

// S3Options configures the remote artifact source. Credentials come
// from the ambient AWS chain unless the static pair is set, which keeps
// MinIO-style gateways usable without instance profiles.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Source pulls dump artifacts from a bucket prefix into a local
// directory so the rest of discovery runs unchanged
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
	logger logging.Logger
}

// NewS3Source builds the client from the options
func NewS3Source(ctx context.Context, opts S3Options, logger logging.Logger) (*S3Source, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithBaseEndpoint(opts.Endpoint))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("discover: aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// gateways route by path, not virtual host
		o.UsePathStyle = opts.Endpoint != ""
	})

	return &S3Source{
		client: client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		logger: logger,
	}, nil
}

// Pull downloads every object under the prefix into destDir, flattening
// keys to their base name. Object timestamps carry over so newest-wins
// selection sees the bucket's ordering, not the download's.
func (s *S3Source) Pull(ctx context.Context, destDir string) (int, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("discover: dest dir: %w", err)
	}

	timer := logging.StartTimer(s.logger, "s3 artifacts pulled",
		logging.String("bucket", s.bucket),
		logging.String("prefix", s.prefix))

	downloaded := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return downloaded, fmt.Errorf("discover: list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			dest := filepath.Join(destDir, path.Base(key))
			if err := s.download(ctx, key, dest); err != nil {
				return downloaded, err
			}
			if obj.LastModified != nil {
				_ = os.Chtimes(dest, *obj.LastModified, *obj.LastModified)
			}
			downloaded++
			s.logger.Debug("artifact downloaded",
				logging.String("key", key),
				logging.Path(dest))
		}
	}

	timer.End()
	s.logger.Info("s3 pull complete",
		logging.String("bucket", s.bucket),
		logging.Count(downloaded))
	return downloaded, nil
}

func (s *S3Source) download(ctx context.Context, key, dest string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("discover: get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	fh, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("discover: create %s: %w", dest, err)
	}
	if _, err := io.Copy(fh, out.Body); err != nil {
		_ = fh.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("discover: write %s: %w", dest, err)
	}
	return fh.Close()
}
