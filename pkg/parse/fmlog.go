package parse

import (
	"bytes"
	"errors"
	"regexp"
	"strings"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// The fabric-manager log repeats its identity banner on every election
// and health tick, so the same GUID shows up hundreds of times per day:
//
//	[Aug 20 07:12:01] Master SM: ufm01 HCA-1 GUID=0xb8599f0300fa1234 priority 15
//	[Aug 20 07:12:01] Standby SM: ufm02 HCA-1 GUID=0xb8599f0300fa5678 priority 14
var reSMIdentity = regexp.MustCompile(`(?i)\b(Master|Standby)\s+SM\b[^"]*?\bGUID[=:\s]+(0x[0-9a-fA-F]+)`)

// FMResult summarizes fabric-manager marking
type FMResult struct {
	Masters  []string
	Standbys []string
	Marked   int
	Skipped  int
}

// ParseFMLog marks the Master and Standby SM endpoints on the graph.
// Must run after inventory loading and before adjacency loading so role
// counting downstream sees the marks. A GUID naming no registered node
// is skipped with a diagnostic; repeated banners for a known GUID are
// deduplicated.
func ParseFMLog(data []byte, g *topology.Graph, logger logging.Logger) (*FMResult, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, topology.NewError("parse-fm-log").
			WithArtifact(ArtifactFMLog).
			WithCause(topology.ErrArtifactMissing).
			Build()
	}

	res := &FMResult{}
	seen := make(map[string]struct{})

	scanner := newLineScanner(data)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		m := reSMIdentity.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}

		guid, ok := topology.CanonicalGUID(m[2])
		if !ok {
			res.Skipped++
			continue
		}
		if _, dup := seen[guid]; dup {
			continue
		}
		seen[guid] = struct{}{}

		if err := g.MarkFabricManager(guid); err != nil {
			if errors.Is(err, topology.ErrNodeNotFound) {
				logger.Warn("fabric manager guid not in inventory",
					logging.Artifact(ArtifactFMLog),
					logging.Int("line", lineNo),
					logging.GUID(guid))
				res.Skipped++
				continue
			}
			return nil, err
		}

		res.Marked++
		if strings.EqualFold(m[1], "Master") {
			res.Masters = append(res.Masters, guid)
		} else {
			res.Standbys = append(res.Standbys, guid)
		}
	}

	if res.Marked == 0 {
		logger.Warn("no fabric manager identity found",
			logging.Artifact(ArtifactFMLog))
	}
	return res, nil
}
