// Package discover locates the diagnostic artifacts one analysis run
// consumes. Dumps land in a directory (dropped by collection tooling or
// pulled from S3 first), discovery globs per artifact kind, and when a
// glob matches several generations of the same dump the newest wins.
package discover

import (
	"os"
	"path/filepath"
	"time"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/counters"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/parse"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// Request names the artifact globs for one run. The net dump is the
// one artifact analysis cannot run without; the rest are optional and
// an empty glob disables the kind entirely.
type Request struct {
	Dir          string
	NetDumpGlob  string
	FMLogGlob    string
	CountersGlob string
}

// Artifact is one located input file
type Artifact struct {
	Kind    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Set holds everything discovery found for one run
type Set struct {
	// NetDump is always present when Discover returns nil error
	NetDump *Artifact
	// FMLog and Counters stay nil when their glob matched nothing
	FMLog    *Artifact
	Counters *Artifact
}

// Finder runs artifact discovery
type Finder struct {
	logger logging.Logger
}

// NewFinder creates a Finder. A nil logger falls back to the nop logger.
func NewFinder(logger logging.Logger) *Finder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Finder{logger: logger}
}

// Discover resolves the request against the local directory. A missing
// net dump is fatal; missing optional artifacts only narrow the run.
func (f *Finder) Discover(req Request) (*Set, error) {
	netDump, err := f.find(req.Dir, req.NetDumpGlob, parse.ArtifactNetDump)
	if err != nil {
		return nil, err
	}
	if netDump == nil {
		return nil, topology.NewError("discover-artifacts").
			WithArtifact(parse.ArtifactNetDump).
			WithCause(topology.ErrArtifactMissing).
			Build()
	}

	set := &Set{NetDump: netDump}
	if set.FMLog, err = f.find(req.Dir, req.FMLogGlob, parse.ArtifactFMLog); err != nil {
		return nil, err
	}
	if set.Counters, err = f.find(req.Dir, req.CountersGlob, counters.ArtifactPMCounters); err != nil {
		return nil, err
	}

	f.logger.Info("artifacts discovered",
		logging.String("net_dump", set.NetDump.Path),
		logging.Bool("fm_log", set.FMLog != nil),
		logging.Bool("counters", set.Counters != nil))
	return set, nil
}

// find returns the newest regular file matching glob under dir, nil
// when nothing matches. Equal timestamps break toward the greater path
// so repeated runs stay deterministic.
func (f *Finder) find(dir, glob, kind string) (*Artifact, error) {
	if glob == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return nil, topology.NewError("discover-artifacts").
			WithArtifact(kind).
			WithCause(err).
			Build()
	}

	var best *Artifact
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		cand := &Artifact{Kind: kind, Path: path, Size: info.Size(), ModTime: info.ModTime()}
		if best == nil || newer(cand, best) {
			best = cand
		}
	}
	if best == nil {
		f.logger.Debug("no artifact for glob",
			logging.Artifact(kind),
			logging.String("glob", glob))
		return nil, nil
	}
	if len(matches) > 1 {
		f.logger.Info("multiple artifact generations, newest selected",
			logging.Artifact(kind),
			logging.Path(best.Path),
			logging.Count(len(matches)))
	}
	return best, nil
}

func newer(a, b *Artifact) bool {
	if !a.ModTime.Equal(b.ModTime) {
		return a.ModTime.After(b.ModTime)
	}
	return a.Path > b.Path
}
