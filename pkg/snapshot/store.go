package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"golang.org/x/crypto/blake2b"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
)

var (
	// ErrNoSnapshot means the store holds nothing usable
	ErrNoSnapshot = errors.New("no snapshot available")
	// ErrCorruptSnapshot means a file failed frame, checksum or decode checks
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

// Frame layout: [Magic:4][Version:1][PayloadLen:4][Payload:N][Checksum:32]
// Payload is the snappy-compressed JSON document; the checksum is
// blake2b-256 over the compressed bytes, verified before decompression.
const (
	frameMagic   uint32 = 0x46484353 // "FHCS"
	frameVersion byte   = 1

	fileExt = ".snap"
)

// Store keeps snapshot files in one directory. Filenames embed the
// creation time and a digest prefix, so both Latest and digest lookup
// work off the directory listing without opening every file.
type Store struct {
	dir     string
	retain  int
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewStore opens (and if needed creates) the snapshot directory.
// retain caps how many files Write leaves behind; zero keeps all.
func NewStore(dir string, retain int, logger logging.Logger, m *metrics.Registry) (*Store, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Store{dir: dir, retain: retain, logger: logger, metrics: m}, nil
}

// Write persists the document and returns the file path. The file is
// staged under a temp name and renamed in, so readers never observe a
// half-written snapshot. Older files beyond the retain cap are pruned.
func (s *Store) Write(doc *Document) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	compressed := snappy.Encode(nil, raw)
	sum := blake2b.Sum256(compressed)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, frameMagic); err != nil {
		return "", err
	}
	buf.WriteByte(frameVersion)
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(compressed))); err != nil {
		return "", err
	}
	buf.Write(compressed)
	buf.Write(sum[:])

	name := fileName(doc.CreatedAt, doc.SourceDigest)
	dest := filepath.Join(s.dir, name)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	s.metrics.RecordSnapshot("write", buf.Len())
	s.logger.Info("snapshot written",
		logging.Path(dest),
		logging.Int("nodes", len(doc.Nodes)),
		logging.Int("links", len(doc.Links)),
		logging.Int("bytes", buf.Len()),
		logging.Float64("ratio", ratio(len(raw), len(compressed))))

	s.prune()
	return dest, nil
}

// Read loads and verifies one snapshot file
func (s *Store) Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	r := bytes.NewReader(data)
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptSnapshot)
	}
	if magic != frameMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorruptSnapshot, magic)
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptSnapshot)
	}
	if version != frameVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, version)
	}
	var payloadLen uint32
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptSnapshot)
	}

	compressed := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("%w: truncated payload", ErrCorruptSnapshot)
	}
	var sum [blake2b.Size256]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated checksum", ErrCorruptSnapshot)
	}
	if blake2b.Sum256(compressed) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	s.metrics.RecordSnapshot("read", len(data))
	return &doc, nil
}

// Latest returns the newest snapshot. Filenames sort by creation time,
// so the listing alone decides which file to open.
func (s *Store) Latest() (*Document, string, error) {
	names, err := s.list()
	if err != nil {
		return nil, "", err
	}
	if len(names) == 0 {
		return nil, "", ErrNoSnapshot
	}
	path := filepath.Join(s.dir, names[len(names)-1])
	doc, err := s.Read(path)
	if err != nil {
		return nil, "", err
	}
	return doc, path, nil
}

// Lookup finds the newest snapshot built from the given source digest.
// The digest prefix in the filename narrows candidates; the decoded
// document settles the match. ErrNoSnapshot when nothing matches.
func (s *Store) Lookup(sourceDigest string) (*Document, string, error) {
	if sourceDigest == "" {
		return nil, "", ErrNoSnapshot
	}
	names, err := s.list()
	if err != nil {
		return nil, "", err
	}
	suffix := "-" + digestPrefix(sourceDigest) + fileExt
	for i := len(names) - 1; i >= 0; i-- {
		if !strings.HasSuffix(names[i], suffix) {
			continue
		}
		path := filepath.Join(s.dir, names[i])
		doc, err := s.Read(path)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot",
				logging.Path(path), logging.Error(err))
			continue
		}
		if doc.SourceDigest == sourceDigest {
			return doc, path, nil
		}
	}
	return nil, "", ErrNoSnapshot
}

// list returns snapshot filenames in ascending name order
func (s *Store) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// prune removes the oldest files beyond the retain cap
func (s *Store) prune() {
	if s.retain <= 0 {
		return
	}
	names, err := s.list()
	if err != nil {
		s.logger.Warn("snapshot prune skipped", logging.Error(err))
		return
	}
	for len(names) > s.retain {
		victim := filepath.Join(s.dir, names[0])
		if err := os.Remove(victim); err != nil {
			s.logger.Warn("snapshot prune failed",
				logging.Path(victim), logging.Error(err))
			return
		}
		s.logger.Debug("snapshot pruned", logging.Path(victim))
		names = names[1:]
	}
}

// Digest fingerprints the source artifacts a snapshot was built from.
// Parts are length-prefixed before hashing so ("ab","c") and ("a","bc")
// cannot collide. Order matters; callers pass artifacts in a fixed order.
func Digest(parts ...[]byte) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func fileName(created time.Time, sourceDigest string) string {
	return fmt.Sprintf("%s-%s%s",
		created.UTC().Format("20060102T150405.000000000"),
		digestPrefix(sourceDigest), fileExt)
}

func digestPrefix(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	if digest == "" {
		return "nodigest"
	}
	return digest
}

func ratio(raw, compressed int) float64 {
	if raw == 0 {
		return 1
	}
	return float64(compressed) / float64(raw)
}
