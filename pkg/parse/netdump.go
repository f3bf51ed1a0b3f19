// Package parse extracts fabric topology from diagnostic text dumps.
//
// The net dump artifact interleaves per-device blocks: a few key=value
// header lines, a node line, then one bracketed line per connected port:
//
//	vendid=0x2c9
//	devid=0xd2f0
//	sysimgguid=0x248a0703009c7e90
//	switchguid=0x248a0703009c7e96
//	Switch  41 "S-248a0703009c7e96"  # "MF0;leaf01:MQM8700/U1" lid 3
//	[1]  "H-b8599f0300fa1234"[1](b8599f0300fa1234)  # "node001 mlx5_0" lid 7 4xHDR
//	[33] "S-248a0703009c8e00"[17]  # "MF0;spine01:MQM8700/U1" lid 9 4xHDR
//
// Channel adapter blocks look the same with caguid= and a Ca node line.
// GPU endpoints are adapters whose description carries the GPU marker.
//
// Loading is a fixed sequence the graph lifecycle depends on: switch
// inventory, adapter inventory, fabric-manager marking, then one
// adjacency pass that builds every edge.
package parse

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// Artifact names used in logs, metrics and structured errors
const (
	ArtifactNetDump = "net_dump"
	ArtifactFMLog   = "fm_log"
)

var (
	reHeaderKV = regexp.MustCompile(`^(vendid|devid|sysimgguid|switchguid|caguid)=(\S+)`)
	reNodeLine = regexp.MustCompile(`^(Switch|Ca)\s+(\d+)\s+"([^"]+)"\s*#\s*"([^"]*)"(.*)$`)
	rePortLine = regexp.MustCompile(`^\[(\d+)\]\s*"([^"]+)"\[(\d+)\](?:\((\S+?)\))?\s*#\s*"([^"]*)"(.*)$`)
	reLID      = regexp.MustCompile(`\blid\s+(\d+)\b`)
	reSpeed    = regexp.MustCompile(`\b(\d+x[A-Z]{3}\d*)\b`)
)

// maxLineSize bounds one dump line; adjacency lines on dense directors
// run long but never near this.
const maxLineSize = 1 << 20

// NetDumpParser builds a topology graph from one net dump artifact
type NetDumpParser struct {
	graph   *topology.Graph
	logger  logging.Logger
	metrics *metrics.Registry

	// Progress, when set, receives per-stage completion ticks. Purely
	// informational; parsing never depends on it.
	Progress ProgressFunc

	// GPUPattern, when set, replaces the default GPU marker match on
	// adapter descriptions. Sites whose GPU hosts do not carry "GPU"
	// in the node description configure their own pattern.
	GPUPattern *regexp.Regexp
}

// NewNetDumpParser creates a parser targeting the given graph
func NewNetDumpParser(g *topology.Graph, logger logging.Logger, m *metrics.Registry) *NetDumpParser {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}
	return &NetDumpParser{graph: g, logger: logger, metrics: m}
}

// InventoryResult summarizes one inventory load
type InventoryResult struct {
	Switches int
	Adapters int
	GPUs     int
	Aliases  int
	Skipped  int
	Lines    int
}

// header accumulates the key=value lines preceding a node line
type header struct {
	vendor  uint32
	device  uint32
	sysGUID string
	guid    string
}

// LoadInventory registers every device in the dump: all switches first,
// then all adapters and GPUs. The order is required for multi-ASIC
// alias detection, which can only recognize a secondary adapter
// identity once the chassis switch is present.
func (p *NetDumpParser) LoadInventory(data []byte) (*InventoryResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, topology.NewError("load-inventory").
			WithArtifact(ArtifactNetDump).
			WithCause(topology.ErrArtifactMissing).
			Build()
	}

	timer := logging.StartTimer(p.logger, "inventory loaded", logging.Artifact(ArtifactNetDump))

	res := &InventoryResult{Lines: countLines(data)}
	p.scanInventory(data, true, res)
	p.scanInventory(data, false, res)

	p.metrics.RecordParsedRecords(ArtifactNetDump, "switch", res.Switches)
	p.metrics.RecordParsedRecords(ArtifactNetDump, "adapter", res.Adapters)
	p.metrics.RecordParsedRecords(ArtifactNetDump, "gpu", res.GPUs)
	p.metrics.RecordSkipped(ArtifactNetDump, "inventory", res.Skipped)

	timer.End()
	p.logger.Info("inventory registered",
		logging.Artifact(ArtifactNetDump),
		logging.Int("switches", res.Switches),
		logging.Int("adapters", res.Adapters),
		logging.Int("gpus", res.GPUs),
		logging.Int("aliases", res.Aliases),
		logging.Int("skipped", res.Skipped))
	return res, nil
}

func (p *NetDumpParser) scanInventory(data []byte, switches bool, res *InventoryResult) {
	stage := "inventory-adapters"
	if switches {
		stage = "inventory-switches"
	}
	progress := newProgressTicker(p.Progress, stage, res.Lines)
	defer progress.finish()

	scanner := newLineScanner(data)
	var pending header
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		progress.tick(lineNo)
		line := scanner.Text()

		if kv := reHeaderKV.FindStringSubmatch(line); kv != nil {
			p.consumeHeader(&pending, kv[1], kv[2], lineNo)
			continue
		}

		m := reNodeLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		isSwitch := m[1] == "Switch"
		if isSwitch != switches {
			pending = header{}
			continue
		}
		p.registerNode(pending, isSwitch, m, lineNo, res)
		pending = header{}
	}
}

// consumeHeader folds one key=value line into the pending block header
func (p *NetDumpParser) consumeHeader(h *header, key, value string, line int) {
	switch key {
	case "vendid", "devid":
		v, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			p.logger.Debug("unparseable header value",
				logging.Artifact(ArtifactNetDump),
				logging.Int("line", line),
				logging.String("key", key))
			return
		}
		if key == "vendid" {
			h.vendor = uint32(v)
		} else {
			h.device = uint32(v)
		}
	case "sysimgguid":
		if guid, ok := topology.CanonicalGUID(value); ok {
			h.sysGUID = guid
		}
	case "switchguid", "caguid":
		if guid, ok := topology.CanonicalGUID(value); ok {
			h.guid = guid
		}
	}
}

func (p *NetDumpParser) registerNode(h header, isSwitch bool, m []string, line int, res *InventoryResult) {
	guid := h.guid
	if guid == "" {
		guid = labelGUID(m[3])
	}
	if guid == "" {
		p.logger.Warn("node without usable guid skipped",
			logging.Artifact(ArtifactNetDump),
			logging.Int("line", line))
		res.Skipped++
		return
	}

	sysGUID := h.sysGUID
	if sysGUID == "" {
		sysGUID = guid
	}

	desc := m[4]
	kind := topology.KindAdapter
	if isSwitch {
		kind = topology.KindSwitch
	} else if p.isGPUDescription(desc) {
		kind = topology.KindGPU
	}

	n := topology.NewNode(guid, sysGUID, kind)
	n.VendorID = h.vendor
	n.DeviceID = h.device
	n.Description = desc
	if lid := findLID(m[5]); lid > 0 {
		n.AddLID(lid)
	}

	p.graph.Register(n)

	switch {
	case n.Role == topology.RoleAggregateAlias:
		res.Aliases++
	case kind == topology.KindSwitch:
		res.Switches++
	case kind == topology.KindGPU:
		res.GPUs++
	default:
		res.Adapters++
	}
}

// labelGUID extracts the guid embedded in a node label like
// "S-248a0703009c7e96" or "H-b8599f0300fa1234".
func labelGUID(label string) string {
	i := strings.IndexByte(label, '-')
	if i < 0 || i == len(label)-1 {
		return ""
	}
	guid, ok := topology.CanonicalGUID(label[i+1:])
	if !ok {
		return ""
	}
	return guid
}

func (p *NetDumpParser) isGPUDescription(desc string) bool {
	if p.GPUPattern != nil {
		return p.GPUPattern.MatchString(desc)
	}
	return strings.Contains(strings.ToUpper(desc), "GPU")
}

func findLID(s string) int {
	m := reLID.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	lid, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return lid
}

func findSpeed(s string) string {
	m := reSpeed.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

func newLineScanner(data []byte) *bufio.Scanner {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return scanner
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}
