package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/sub"
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/config"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// Two leafs and a spine; leaf01 additionally carries the UFM host.
const pipelineDump = `
vendid=0x2c9
devid=0xd2f0
sysimgguid=0xaa01
switchguid=0xaa01
Switch  41 "S-aa01"  # "MF0;leaf01:MQM8700/U1" lid 11
[1]  "H-bb01"[1](bb01)  # "node001 mlx5_0" lid 21 4xHDR
[2]  "H-bb02"[1](bb02)  # "node002 mlx5_0" lid 22 4xHDR
[3]  "H-bb05"[1](bb05)  # "ufm01 mlx5_0" lid 25 4xHDR
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

vendid=0x2c9
devid=0x101b
sysimgguid=0xb005
caguid=0xbb05
Ca  1 "H-bb05"  # "ufm01 mlx5_0" lid 25
`

const pipelineFMLog = `
[Aug 20 07:12:01] Master SM: ufm01 HCA-1 GUID=0xbb05 priority 15
[Aug 20 07:12:31] Master SM: ufm01 HCA-1 GUID=0xbb05 priority 15
`

const pipelineCounters = `
guid,port,xmit_wait,xmit_data
0xaa01,1,42,1000
0xaa01,2,7,2000
`

// writeInput drops the standard artifact set into dir
func writeInput(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"fabric.net_dump":    pipelineDump,
		"fabric.fm_log":      pipelineFMLog,
		"fabric.pm_counters": pipelineCounters,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func testConfig(t *testing.T, inputDir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Input.Dir = inputDir
	cfg.Snapshot.Dir = filepath.Join(t.TempDir(), "snapshots")
	return &cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config) *Pipeline {
	t.Helper()
	p, err := New(context.Background(), cfg, logging.NewNopLogger(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestRunFullPipeline(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir)
	cfg := testConfig(t, dir)
	p := newTestPipeline(t, cfg)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.RunID == "" || res.SourceDigest == "" {
		t.Error("run identity not set")
	}
	if res.FromCache {
		t.Error("first run reported a cache hit")
	}

	stats := res.Graph.Stats()
	if stats.Switches != 3 || stats.Adapters != 5 {
		t.Errorf("stats = %+v, want 3 switches and 5 adapters", stats)
	}
	if stats.Links != 7 {
		t.Errorf("links = %d, want 7", stats.Links)
	}
	if stats.FabricManagers != 1 {
		t.Errorf("fabric managers = %d, want 1", stats.FabricManagers)
	}

	if res.Roles == nil {
		t.Fatal("fresh run carried no role report")
	}
	if res.Roles.Leaf != 2 || res.Roles.Spine != 1 {
		t.Errorf("roles = %+v, want 2 leafs and 1 spine", res.Roles)
	}

	if len(res.Nodes.Rows) != 8 {
		t.Errorf("node rows = %d, want 8", len(res.Nodes.Rows))
	}
	if len(res.Edges.Rows) != 14 {
		t.Errorf("edge rows = %d, want 14", len(res.Edges.Rows))
	}
	if len(res.Unreachable) != 0 {
		t.Errorf("unreachable = %v, want none", res.Unreachable)
	}

	// the counter table covered two endpoints
	found := false
	for _, row := range res.Edges.Rows {
		if row.SourceGUID == "0xaa01" && row.SourcePort == 1 {
			found = true
			if row.TransmitWait == nil || *row.TransmitWait != 42 {
				t.Errorf("xmit_wait = %v, want 42", row.TransmitWait)
			}
		}
	}
	if !found {
		t.Error("edge row for the counter-covered endpoint missing")
	}
	if len(res.Edges.Failures) != 12 {
		t.Errorf("failures = %d, want 12 uncovered endpoints", len(res.Edges.Failures))
	}

	snaps, err := os.ReadDir(cfg.Snapshot.Dir)
	if err != nil || len(snaps) != 1 {
		t.Errorf("snapshot dir has %d entries (err %v), want 1", len(snaps), err)
	}
}

func TestRunSnapshotCacheHit(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir)
	cfg := testConfig(t, dir)
	p := newTestPipeline(t, cfg)

	first, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if !second.FromCache {
		t.Error("unchanged input did not hit the cache")
	}
	if second.RunID == first.RunID {
		t.Error("cache hit reused the run id")
	}
	if second.SourceDigest != first.SourceDigest {
		t.Error("digest changed on identical input")
	}
	if second.Roles != nil {
		t.Error("cache hit ran inference")
	}
	if second.Graph.Stats() != first.Graph.Stats() {
		t.Errorf("restored stats %+v != built stats %+v",
			second.Graph.Stats(), first.Graph.Stats())
	}

	// the restored graph keeps its inferred roles
	leaf, err := second.Graph.GetNode("0xaa01")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if leaf.Role != topology.RoleLeaf {
		t.Errorf("restored role = %v, want LEAF", leaf.Role)
	}

	snaps, _ := os.ReadDir(cfg.Snapshot.Dir)
	if len(snaps) != 1 {
		t.Errorf("snapshot dir has %d entries, want 1 after a cache hit", len(snaps))
	}
}

func TestRunCacheMissOnChangedInput(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir)
	cfg := testConfig(t, dir)
	p := newTestPipeline(t, cfg)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// a different FM log is a different fabric observation
	changed := strings.ReplaceAll(pipelineFMLog, "0xbb05", "0xbb01")
	if err := os.WriteFile(filepath.Join(dir, "fabric.fm_log"), []byte(changed), 0o644); err != nil {
		t.Fatalf("rewrite fm log: %v", err)
	}

	second, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.FromCache {
		t.Error("changed input still hit the cache")
	}

	snaps, _ := os.ReadDir(cfg.Snapshot.Dir)
	if len(snaps) != 2 {
		t.Errorf("snapshot dir has %d entries, want 2", len(snaps))
	}
}

func TestRunMissingNetDump(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	p := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background())
	if !errors.Is(err, topology.ErrArtifactMissing) {
		t.Fatalf("err = %v, want ErrArtifactMissing", err)
	}
}

func TestRunWithoutOptionalArtifacts(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "fabric.net_dump"), []byte(pipelineDump), 0o644); err != nil {
		t.Fatalf("write dump: %v", err)
	}
	cfg := testConfig(t, dir)
	p := newTestPipeline(t, cfg)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Graph.Stats().FabricManagers != 0 {
		t.Error("fabric managers marked without an fm log")
	}
	if res.Unreachable != nil {
		t.Errorf("unreachable = %v, want nil without a sweep origin", res.Unreachable)
	}
	for _, row := range res.Edges.Rows {
		if row.TransmitWait != nil {
			t.Error("counter column set without a counter artifact")
			break
		}
	}
	if len(res.Edges.Failures) != 0 {
		t.Errorf("failures = %d, want 0 without counters", len(res.Edges.Failures))
	}
}

func TestRunUnusableCounters(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir)
	// no header row, so the counter loader rejects the artifact
	bad := "0xaa01,1,42,1000\n"
	if err := os.WriteFile(filepath.Join(dir, "fabric.pm_counters"), []byte(bad), 0o644); err != nil {
		t.Fatalf("rewrite counters: %v", err)
	}
	cfg := testConfig(t, dir)
	p := newTestPipeline(t, cfg)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("a bad counter artifact should narrow the run, not fail it: %v", err)
	}
	for _, row := range res.Edges.Rows {
		if row.TransmitWait != nil {
			t.Error("counter column set from a rejected artifact")
			break
		}
	}
}

func TestRunPublishesEvents(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir)
	cfg := testConfig(t, dir)
	cfg.Stream.Bind = "inproc://pipeline-events-test"
	p := newTestPipeline(t, cfg)

	sock, err := sub.NewSocket()
	if err != nil {
		t.Fatalf("sub socket: %v", err)
	}
	defer sock.Close()
	if err := sock.Dial(cfg.Stream.Bind); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := sock.SetOption(mangos.OptionSubscribe, []byte("")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, 2*time.Second); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	// the pub side drops frames sent before the subscription propagates
	time.Sleep(50 * time.Millisecond)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantTypes := []string{"run_started", "node_table", "edge_table"}
	for _, want := range wantTypes {
		frame, err := sock.Recv()
		if err != nil {
			t.Fatalf("recv %s: %v", want, err)
		}
		idx := strings.IndexByte(string(frame), ':')
		if idx < 0 {
			t.Fatalf("frame without topic separator: %q", frame)
		}
		var event struct {
			Type  string `json:"type"`
			RunID string `json:"run_id"`
		}
		if err := json.Unmarshal(frame[idx+1:], &event); err != nil {
			t.Fatalf("decode %s: %v", want, err)
		}
		if event.Type != want {
			t.Errorf("event type = %q, want %q", event.Type, want)
		}
		if event.RunID != res.RunID {
			t.Errorf("event run id = %q, want %q", event.RunID, res.RunID)
		}
	}
}
