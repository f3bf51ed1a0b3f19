package parse

import (
	"errors"
	"regexp"
	"testing"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// Two leafs with two hosts each, one spine. Switch-to-switch links are
// listed from both endpoint blocks, as real dumps do.
const fabricDump = `
vendid=0x2c9
devid=0xd2f0
sysimgguid=0xaa01
switchguid=0xaa01
Switch  41 "S-aa01"  # "MF0;leaf01:MQM8700/U1" lid 11
[1]  "H-bb01"[1](bb01)  # "node001 mlx5_0" lid 21 4xHDR
[2]  "H-bb02"[1](bb02)  # "node002 mlx5_0" lid 22 4xHDR
[33] "S-cc01"[1]  # "MF0;spine01:MQM8700/U1" lid 31 4xHDR

vendid=0x2c9
devid=0xd2f0
sysimgguid=0xaa02
switchguid=0xaa02
Switch  41 "S-aa02"  # "MF0;leaf02:MQM8700/U1" lid 12
[1]  "H-bb03"[1](bb03)  # "node003 mlx5_0" lid 23 4xHDR
[2]  "H-bb04"[1](bb04)  # "node004 mlx5_0" lid 24 4xHDR
[33] "S-cc01"[2]  # "MF0;spine01:MQM8700/U1" lid 31 4xHDR

vendid=0x2c9
devid=0xd2f0
sysimgguid=0xcc01
switchguid=0xcc01
Switch  41 "S-cc01"  # "MF0;spine01:MQM8700/U1" lid 31
[1] "S-aa01"[33]  # "MF0;leaf01:MQM8700/U1" lid 11 4xHDR
[2] "S-aa02"[33]  # "MF0;leaf02:MQM8700/U1" lid 12 4xHDR

vendid=0x2c9
devid=0x101b
sysimgguid=0xb001
caguid=0xbb01
Ca  1 "H-bb01"  # "node001 mlx5_0" lid 21

vendid=0x2c9
devid=0x101b
sysimgguid=0xb002
caguid=0xbb02
Ca  1 "H-bb02"  # "node002 mlx5_0" lid 22

vendid=0x2c9
devid=0x101b
sysimgguid=0xb003
caguid=0xbb03
Ca  1 "H-bb03"  # "node003 mlx5_0" lid 23

vendid=0x2c9
devid=0x101b
sysimgguid=0xb004
caguid=0xbb04
Ca  1 "H-bb04"  # "node004 mlx5_0" lid 24
`

// One chassis exposing a switch ASIC plus a secondary adapter identity
// under the same sysimgguid, and one ordinary host.
const aliasDump = `
vendid=0x2c9
devid=0xd2f4
sysimgguid=0xdd00
switchguid=0xdd01
Switch  64 "S-dd01"  # "MF0;dir01:Q3400/U1" lid 5

vendid=0x2c9
devid=0x1023
sysimgguid=0xdd00
caguid=0xdd02
Ca  2 "H-dd02"  # "dir01 aggregation"

vendid=0x2c9
devid=0x101b
sysimgguid=0xe001
caguid=0xee01
Ca  1 "H-ee01"  # "node010 mlx5_0" lid 40
`

const nvlinkDump = `
vendid=0x2c9
devid=0xd2f0
sysimgguid=0xa100
switchguid=0xa101
Switch  64 "S-a101"  # "MF0;nvsw01:N5110/U1" lid 2
[1] "H-f001"[1]  # "dgx001 GPU0" lid 41 4xNDR
[2] "H-f001"[2]  # "dgx001 GPU0" lid 42 4xNDR

vendid=0x2c9
devid=0x1021
sysimgguid=0xf000
caguid=0xf001
Ca  2 "H-f001"  # "dgx001 GPU0"
`

func newTestParser(t *testing.T) (*topology.Graph, *NetDumpParser) {
	t.Helper()
	g := topology.NewGraph(topology.DefaultConfig(), logging.NewNopLogger())
	p := NewNetDumpParser(g, logging.NewNopLogger(), metrics.NewRegistry())
	return g, p
}

func loadFabric(t *testing.T, dump string) (*topology.Graph, *NetDumpParser) {
	t.Helper()
	g, p := newTestParser(t)
	if _, err := p.LoadInventory([]byte(dump)); err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	if _, err := p.LoadAdjacency([]byte(dump)); err != nil {
		t.Fatalf("LoadAdjacency: %v", err)
	}
	return g, p
}

func mustNode(t *testing.T, g *topology.Graph, guid string) *topology.Node {
	t.Helper()
	n, err := g.GetNode(guid)
	if err != nil {
		t.Fatalf("GetNode(%s): %v", guid, err)
	}
	return n
}

func TestLoadInventoryCounts(t *testing.T) {
	g, p := newTestParser(t)
	res, err := p.LoadInventory([]byte(fabricDump))
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}

	if res.Switches != 3 {
		t.Errorf("Switches = %d, want 3", res.Switches)
	}
	if res.Adapters != 4 {
		t.Errorf("Adapters = %d, want 4", res.Adapters)
	}
	if res.GPUs != 0 || res.Aliases != 0 || res.Skipped != 0 {
		t.Errorf("GPUs/Aliases/Skipped = %d/%d/%d, want 0/0/0",
			res.GPUs, res.Aliases, res.Skipped)
	}
	if got := g.NodeCount(); got != 7 {
		t.Errorf("NodeCount = %d, want 7", got)
	}
}

func TestLoadInventoryNodeFields(t *testing.T) {
	g, _ := loadFabric(t, fabricDump)

	leaf := mustNode(t, g, "0xaa01")
	if leaf.Kind != topology.KindSwitch {
		t.Errorf("kind = %v, want Switch", leaf.Kind)
	}
	if leaf.VendorID != 0x2c9 {
		t.Errorf("vendor = %#x, want 0x2c9", leaf.VendorID)
	}
	if leaf.DeviceID != 0xd2f0 {
		t.Errorf("device = %#x, want 0xd2f0", leaf.DeviceID)
	}
	if leaf.LID != 11 {
		t.Errorf("lid = %d, want 11", leaf.LID)
	}
	if leaf.Name() != "leaf01" {
		t.Errorf("name = %q, want leaf01", leaf.Name())
	}

	host := mustNode(t, g, "0xbb01")
	if host.Kind != topology.KindAdapter {
		t.Errorf("host kind = %v, want Adapter", host.Kind)
	}
	if host.LID != 21 {
		t.Errorf("host lid = %d, want 21", host.LID)
	}
	if host.Name() != "node001" {
		t.Errorf("host name = %q, want node001", host.Name())
	}
}

func TestLoadInventoryGUIDCanonicalization(t *testing.T) {
	g, _ := loadFabric(t, fabricDump)

	a := mustNode(t, g, "0xaa01")
	b := mustNode(t, g, "0x00AA01")
	c := mustNode(t, g, "AA01")
	if a != b || b != c {
		t.Error("guid spellings resolved to different nodes")
	}
}

func TestLoadInventoryAliasDetection(t *testing.T) {
	g, p := newTestParser(t)
	res, err := p.LoadInventory([]byte(aliasDump))
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}

	if res.Aliases != 1 {
		t.Fatalf("Aliases = %d, want 1", res.Aliases)
	}
	if res.Adapters != 1 {
		t.Errorf("Adapters = %d, want 1", res.Adapters)
	}

	alias := mustNode(t, g, "0xdd02")
	if alias.Role != topology.RoleAggregateAlias {
		t.Errorf("alias role = %v, want AggregateAlias", alias.Role)
	}
	if alias.Kind != topology.KindAdapter {
		t.Errorf("alias kind = %v, want Adapter", alias.Kind)
	}

	host := mustNode(t, g, "0xee01")
	if host.Role != topology.RoleNone {
		t.Errorf("ordinary host role = %v, want None", host.Role)
	}
}

func TestLoadInventoryEmptyArtifact(t *testing.T) {
	_, p := newTestParser(t)
	_, err := p.LoadInventory([]byte("  \n \n"))
	if !errors.Is(err, topology.ErrArtifactMissing) {
		t.Fatalf("err = %v, want ErrArtifactMissing", err)
	}
}

func TestLoadAdjacencySymmetry(t *testing.T) {
	g, _ := loadFabric(t, fabricDump)

	leaf := mustNode(t, g, "0xaa01")
	spine := mustNode(t, g, "0xcc01")

	out := leaf.Children[33]
	if out == nil {
		t.Fatal("leaf port 33 has no edge")
	}
	if out.Peer != spine || out.DstPort != 1 {
		t.Errorf("leaf[33] -> %v port %d, want spine port 1", out.Peer.GUID, out.DstPort)
	}

	back := spine.Children[1]
	if back == nil {
		t.Fatal("spine port 1 has no edge")
	}
	if back.Peer != leaf || back.DstPort != 33 {
		t.Errorf("spine[1] -> %v port %d, want leaf port 33", back.Peer.GUID, back.DstPort)
	}

	peer, err := g.GetConnection("0xaa01", 33)
	if err != nil || peer != spine {
		t.Errorf("GetConnection(leaf,33) = %v, %v", peer, err)
	}
	peer, err = g.GetConnection("0xcc01", 1)
	if err != nil || peer != leaf {
		t.Errorf("GetConnection(spine,1) = %v, %v", peer, err)
	}

	if out.Speed != "4xHDR" {
		t.Errorf("speed = %q, want 4xHDR", out.Speed)
	}
	if g.Stats().Links != 6 {
		t.Errorf("links = %d, want 6", g.Stats().Links)
	}
}

func TestLoadAdjacencyUnknownPeerSkipped(t *testing.T) {
	dump := fabricDump + `
vendid=0x2c9
devid=0xd2f0
sysimgguid=0xaa03
switchguid=0xaa03
Switch  41 "S-aa03"  # "MF0;leaf03:MQM8700/U1" lid 13
[1] "H-dead"[1]  # "ghost mlx5_0" lid 99 4xHDR
`
	g, p := newTestParser(t)
	if _, err := p.LoadInventory([]byte(dump)); err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	res, err := p.LoadAdjacency([]byte(dump))
	if err != nil {
		t.Fatalf("LoadAdjacency: %v", err)
	}

	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	leaf3 := mustNode(t, g, "0xaa03")
	if len(leaf3.Children) != 0 {
		t.Errorf("ghost peer produced an edge: %v", leaf3.Children)
	}
}

func TestLoadAdjacencyMalformedLineSkipped(t *testing.T) {
	dump := fabricDump + `
vendid=0x2c9
devid=0xd2f0
sysimgguid=0xaa04
switchguid=0xaa04
Switch  41 "S-aa04"  # "MF0;leaf04:MQM8700/U1" lid 14
[not-a-port garbage
`
	_, p := newTestParser(t)
	if _, err := p.LoadInventory([]byte(dump)); err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	res, err := p.LoadAdjacency([]byte(dump))
	if err != nil {
		t.Fatalf("LoadAdjacency: %v", err)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
}

func TestLoadAdjacencyIntraChassisDisabled(t *testing.T) {
	dump := `
vendid=0x2c9
devid=0xd2f4
sysimgguid=0xcd00
switchguid=0xcd01
Switch  64 "S-cd01"  # "MF0;dir01:Q3400/U1" lid 6
[60] "S-cd02"[60]  # "MF0;dir01:Q3400/U2" lid 7 4xNDR

vendid=0x2c9
devid=0xd2f4
sysimgguid=0xcd00
switchguid=0xcd02
Switch  64 "S-cd02"  # "MF0;dir01:Q3400/U2" lid 7
[60] "S-cd01"[60]  # "MF0;dir01:Q3400/U1" lid 6 4xNDR
`
	g, _ := loadFabric(t, dump)

	asic := mustNode(t, g, "0xcd01")
	e := asic.Children[60]
	if e == nil {
		t.Fatal("intra-chassis edge missing")
	}
	if !e.Disabled {
		t.Error("intra-chassis edge not disabled")
	}
	mirror := mustNode(t, g, "0xcd02").Children[60]
	if mirror == nil || !mirror.Disabled {
		t.Error("mirror edge missing or not disabled")
	}
}

func TestGPULIDAccumulation(t *testing.T) {
	g, p := newTestParser(t)
	res, err := p.LoadInventory([]byte(nvlinkDump))
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	if res.GPUs != 1 {
		t.Fatalf("GPUs = %d, want 1", res.GPUs)
	}
	if _, err := p.LoadAdjacency([]byte(nvlinkDump)); err != nil {
		t.Fatalf("LoadAdjacency: %v", err)
	}

	gpu := mustNode(t, g, "0xf001")
	if gpu.Kind != topology.KindGPU {
		t.Fatalf("kind = %v, want GPU", gpu.Kind)
	}
	if len(gpu.LIDs) != 2 || gpu.LIDs[0] != 41 || gpu.LIDs[1] != 42 {
		t.Errorf("LIDs = %v, want [41 42]", gpu.LIDs)
	}
	if gpu.LID != 0 {
		t.Errorf("scalar lid = %d, want 0 for GPU", gpu.LID)
	}
}

func TestProgressCallback(t *testing.T) {
	g := topology.NewGraph(topology.DefaultConfig(), logging.NewNopLogger())
	p := NewNetDumpParser(g, logging.NewNopLogger(), metrics.NewRegistry())

	type tickRec struct {
		stage string
		done  int
		total int
	}
	var ticks []tickRec
	p.Progress = func(stage string, done, total int) {
		ticks = append(ticks, tickRec{stage, done, total})
	}

	if _, err := p.LoadInventory([]byte(fabricDump)); err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	if len(ticks) == 0 {
		t.Fatal("no progress ticks delivered")
	}

	last := ticks[len(ticks)-1]
	if last.done != last.total {
		t.Errorf("final tick %d/%d, want done == total", last.done, last.total)
	}
	stages := make(map[string]bool)
	for _, tk := range ticks {
		stages[tk.stage] = true
	}
	if !stages["inventory-switches"] || !stages["inventory-adapters"] {
		t.Errorf("stages seen = %v", stages)
	}
}

func TestGPUPatternOverride(t *testing.T) {
	dump := `
vendid=0x2c9
devid=0x101b
sysimgguid=0xe001
caguid=0xe001
Ca  2 "H-e001"  # "accel001 hca_2"

vendid=0x2c9
devid=0x101b
sysimgguid=0xe002
caguid=0xe002
Ca  1 "H-e002"  # "node001 mlx5_0"
`
	g, p := newTestParser(t)
	p.GPUPattern = regexp.MustCompile(`^accel`)

	res, err := p.LoadInventory([]byte(dump))
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	if res.GPUs != 1 || res.Adapters != 1 {
		t.Fatalf("GPUs = %d, Adapters = %d, want 1 and 1", res.GPUs, res.Adapters)
	}
	if mustNode(t, g, "0xe001").Kind != topology.KindGPU {
		t.Error("pattern match not classified as GPU")
	}
	if mustNode(t, g, "0xe002").Kind != topology.KindAdapter {
		t.Error("non-matching host reclassified")
	}
}
