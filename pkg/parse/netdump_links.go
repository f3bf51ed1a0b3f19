package parse

import (
	"bytes"
	"errors"
	"strconv"
	"time"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// AdjacencyResult summarizes one adjacency load
type AdjacencyResult struct {
	// Accepted counts adjacency lines that produced or confirmed a
	// link. Switch-to-switch links appear in both endpoint blocks, so
	// Accepted exceeds the physical link count.
	Accepted int
	Skipped  int
	Lines    int
}

// LoadAdjacency builds the edge set from the per-switch port blocks.
// Every node must already be registered; a line whose peer is missing
// from the registry is skipped with a diagnostic and parsing moves on.
// Only switch blocks are walked. Adapter blocks mirror links the switch
// side already describes, and GPU per-port LIDs arrive through the
// switch-side view as well.
func (p *NetDumpParser) LoadAdjacency(data []byte) (*AdjacencyResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, topology.NewError("load-adjacency").
			WithArtifact(ArtifactNetDump).
			WithCause(topology.ErrArtifactMissing).
			Build()
	}

	start := time.Now()
	timer := logging.StartTimer(p.logger, "adjacency loaded", logging.Artifact(ArtifactNetDump))

	res := &AdjacencyResult{Lines: countLines(data)}
	progress := newProgressTicker(p.Progress, "adjacency", res.Lines)
	defer progress.finish()

	scanner := newLineScanner(data)
	var src *topology.Node
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		progress.tick(lineNo)
		line := scanner.Text()

		if m := reNodeLine.FindStringSubmatch(line); m != nil {
			src = nil
			if m[1] != "Switch" {
				continue
			}
			guid := labelGUID(m[3])
			if guid == "" {
				continue
			}
			n, err := p.graph.GetNode(guid)
			if err != nil {
				// Inventory skipped this block; its ports are lost too.
				p.logger.Warn("adjacency block for unregistered switch",
					logging.Artifact(ArtifactNetDump),
					logging.Int("line", lineNo),
					logging.GUID(guid))
				continue
			}
			src = n
			continue
		}

		if len(line) == 0 || line[0] != '[' {
			continue
		}
		if src == nil {
			continue
		}

		m := rePortLine.FindStringSubmatch(line)
		if m == nil {
			p.logger.Warn("malformed adjacency line",
				logging.Artifact(ArtifactNetDump),
				logging.Int("line", lineNo),
				logging.GUID(src.GUID))
			res.Skipped++
			continue
		}
		p.addLink(src, m, lineNo, res)
	}

	p.metrics.RecordArtifactParse(ArtifactNetDump, res.Lines, 0, time.Since(start))
	p.metrics.RecordParsedRecords(ArtifactNetDump, "link", res.Accepted)
	p.metrics.RecordSkipped(ArtifactNetDump, "adjacency", res.Skipped)

	timer.End()
	p.logger.Info("adjacency built",
		logging.Artifact(ArtifactNetDump),
		logging.Int("accepted", res.Accepted),
		logging.Int("skipped", res.Skipped))
	return res, nil
}

func (p *NetDumpParser) addLink(src *topology.Node, m []string, line int, res *AdjacencyResult) {
	srcPort, err1 := strconv.Atoi(m[1])
	dstPort, err2 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil || srcPort <= 0 || dstPort <= 0 {
		p.logger.Warn("unparseable port fields",
			logging.Artifact(ArtifactNetDump),
			logging.Int("line", line),
			logging.GUID(src.GUID))
		res.Skipped++
		return
	}

	peerGUID := labelGUID(m[2])
	if peerGUID == "" {
		p.logger.Warn("unparseable peer label",
			logging.Artifact(ArtifactNetDump),
			logging.Int("line", line),
			logging.GUID(src.GUID),
			logging.Port(srcPort))
		res.Skipped++
		return
	}

	lid := findLID(m[6])
	speed := findSpeed(m[6])

	err := p.graph.AddLink(src.GUID, srcPort, peerGUID, dstPort, lid, speed)
	switch {
	case err == nil:
		res.Accepted++
	case errors.Is(err, topology.ErrNodeNotFound):
		p.logger.Debug("adjacency references unregistered peer",
			logging.Artifact(ArtifactNetDump),
			logging.Int("line", line),
			logging.GUID(peerGUID),
			logging.Port(srcPort))
		res.Skipped++
	default:
		p.logger.Warn("adjacency line rejected",
			logging.Artifact(ArtifactNetDump),
			logging.Int("line", line),
			logging.GUID(src.GUID),
			logging.Port(srcPort),
			logging.Error(err))
		res.Skipped++
	}
}
