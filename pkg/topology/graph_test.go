package topology

import (
	"errors"
	"testing"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	return NewGraph(DefaultConfig(), logging.NewNopLogger())
}

func addSwitch(t *testing.T, g *Graph, guid string) *Node {
	t.Helper()
	return addSwitchSys(t, g, guid, guid)
}

func addSwitchSys(t *testing.T, g *Graph, guid, sysGUID string) *Node {
	t.Helper()
	n := NewNode(MustGUID(guid), MustGUID(sysGUID), KindSwitch)
	n.Description = "MF0;sw-" + n.GUID + ":MQM8700/U1"
	g.Register(n)
	return n
}

func addAdapter(t *testing.T, g *Graph, guid string) *Node {
	t.Helper()
	n := NewNode(MustGUID(guid), MustGUID(guid), KindAdapter)
	n.Description = "host-" + n.GUID + " mlx5_0"
	g.Register(n)
	return n
}

func addAdapterSys(t *testing.T, g *Graph, guid, sysGUID string) *Node {
	t.Helper()
	n := NewNode(MustGUID(guid), MustGUID(sysGUID), KindAdapter)
	g.Register(n)
	return n
}

func addGPU(t *testing.T, g *Graph, guid string) *Node {
	t.Helper()
	n := NewNode(MustGUID(guid), MustGUID(guid), KindGPU)
	n.Description = "dgx GPU-" + n.GUID
	g.Register(n)
	return n
}

func link(t *testing.T, g *Graph, src string, srcPort int, dst string, dstPort int) {
	t.Helper()
	if err := g.AddLink(src, srcPort, dst, dstPort, 0, "4xHDR"); err != nil {
		t.Fatalf("AddLink(%s[%d] -> %s[%d]): %v", src, srcPort, dst, dstPort, err)
	}
}

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	g := testGraph(t)

	var last uint64
	for _, guid := range []string{"0x1", "0x2", "0x3", "0x4"} {
		n := addSwitch(t, g, guid)
		if n.ID != last+1 {
			t.Errorf("id for %s = %d, want %d", guid, n.ID, last+1)
		}
		last = n.ID
	}
	if g.NodeCount() != 4 {
		t.Errorf("NodeCount = %d, want 4", g.NodeCount())
	}
}

func TestRegisterLastWriteWins(t *testing.T) {
	g := testGraph(t)

	first := addSwitch(t, g, "0x10")
	second := NewNode(MustGUID("0x10"), MustGUID("0x10"), KindAdapter)
	g.Register(second)

	got, err := g.GetNode("0x10")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got != second {
		t.Error("lookup returned the replaced node")
	}
	if second.ID <= first.ID {
		t.Errorf("replacement id %d not greater than original %d", second.ID, first.ID)
	}
	if g.NodeCount() != 1 {
		t.Errorf("NodeCount = %d, want 1", g.NodeCount())
	}
}

func TestRegisterAliasRule(t *testing.T) {
	t.Run("adapter after chassis switch", func(t *testing.T) {
		g := testGraph(t)
		addSwitchSys(t, g, "0xa1", "0xa0")
		alias := addAdapterSys(t, g, "0xa2", "0xa0")
		if alias.Role != RoleAggregateAlias {
			t.Errorf("role = %v, want AggregateAlias", alias.Role)
		}
	})

	t.Run("adapter before chassis switch", func(t *testing.T) {
		g := testGraph(t)
		adapter := addAdapterSys(t, g, "0xa2", "0xa0")
		addSwitchSys(t, g, "0xa1", "0xa0")
		if adapter.Role != RoleNone {
			t.Errorf("role = %v, want None when the switch arrives later", adapter.Role)
		}
	})

	t.Run("second switch on one chassis", func(t *testing.T) {
		g := testGraph(t)
		addSwitchSys(t, g, "0xa1", "0xa0")
		sw := addSwitchSys(t, g, "0xa2", "0xa0")
		if sw.Role != RoleNone {
			t.Errorf("role = %v, want None for a switch", sw.Role)
		}
	})

	t.Run("distinct chassis", func(t *testing.T) {
		g := testGraph(t)
		addSwitchSys(t, g, "0xa1", "0xa0")
		adapter := addAdapterSys(t, g, "0xa2", "0xb0")
		if adapter.Role != RoleNone {
			t.Errorf("role = %v, want None across chassis", adapter.Role)
		}
	})
}

func TestGetNodeCanonicalization(t *testing.T) {
	g := testGraph(t)
	addSwitch(t, g, "0xab")

	for _, spelling := range []string{"0xab", "0x00ab", "0xAB", "AB", "00ab"} {
		n, err := g.GetNode(spelling)
		if err != nil {
			t.Errorf("GetNode(%q): %v", spelling, err)
			continue
		}
		if n.GUID != "0xab" {
			t.Errorf("GetNode(%q).GUID = %s", spelling, n.GUID)
		}
	}
}

func TestGetNodeNotFound(t *testing.T) {
	g := testGraph(t)

	_, err := g.GetNode("0xdead")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("missing guid: err = %v, want ErrNodeNotFound", err)
	}

	_, err = g.GetNode("not-hex")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("malformed guid: err = %v, want ErrNodeNotFound", err)
	}
}

func TestGetConnectionAndChild(t *testing.T) {
	g := testGraph(t)
	sw := addSwitch(t, g, "0x1")
	ad := addAdapter(t, g, "0x2")
	link(t, g, "0x1", 7, "0x2", 1)

	peer, err := g.GetConnection("0x1", 7)
	if err != nil || peer != ad {
		t.Errorf("GetConnection = %v, %v; want adapter", peer, err)
	}
	peer, err = g.GetConnection("0x2", 1)
	if err != nil || peer != sw {
		t.Errorf("reverse GetConnection = %v, %v; want switch", peer, err)
	}

	e, err := g.GetChild("0x1", 7)
	if err != nil {
		t.Fatalf("GetChild: %v", err)
	}
	if e.Peer != ad || e.SrcPort != 7 || e.DstPort != 1 {
		t.Errorf("edge = %+v", e)
	}

	if _, err := g.GetChild("0x1", 99); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("vacant port: err = %v, want ErrConnectionNotFound", err)
	}
	if _, err := g.GetConnection("0x9", 1); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("unknown guid: err = %v, want ErrConnectionNotFound", err)
	}
}

func TestAddLinkUnregisteredPeer(t *testing.T) {
	g := testGraph(t)
	addSwitch(t, g, "0x1")

	err := g.AddLink("0x1", 1, "0xdead", 1, 0, "")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("err = %v, want ErrNodeNotFound", err)
	}
	if len(g.nodes["0x1"].Children) != 0 {
		t.Error("failed link left a dangling edge")
	}
}

func TestAddLinkIdempotentAndConflict(t *testing.T) {
	g := testGraph(t)
	addSwitch(t, g, "0x1")
	addSwitch(t, g, "0x2")
	addSwitch(t, g, "0x3")
	link(t, g, "0x1", 1, "0x2", 5)

	// The same physical link reported from the other endpoint.
	if err := g.AddLink("0x2", 5, "0x1", 1, 0, "4xHDR"); err != nil {
		t.Errorf("mirror re-add: %v", err)
	}
	if g.Stats().Links != 1 {
		t.Errorf("links = %d, want 1 after mirror re-add", g.Stats().Links)
	}

	// A different peer on an occupied port is a wiring contradiction.
	err := g.AddLink("0x1", 1, "0x3", 2, 0, "")
	if !errors.Is(err, ErrDuplicateLink) {
		t.Errorf("err = %v, want ErrDuplicateLink", err)
	}
}

func TestAddLinkIntraChassisDisabled(t *testing.T) {
	g := testGraph(t)
	addSwitchSys(t, g, "0xa1", "0xa0")
	addSwitchSys(t, g, "0xa2", "0xa0")
	addSwitch(t, g, "0xb1")
	link(t, g, "0xa1", 60, "0xa2", 60)
	link(t, g, "0xa1", 1, "0xb1", 1)

	intra, _ := g.GetChild("0xa1", 60)
	if !intra.Disabled {
		t.Error("intra-chassis link not disabled")
	}
	mirror, _ := g.GetChild("0xa2", 60)
	if !mirror.Disabled {
		t.Error("mirror of intra-chassis link not disabled")
	}
	inter, _ := g.GetChild("0xa1", 1)
	if inter.Disabled {
		t.Error("cross-chassis link wrongly disabled")
	}
}

func TestMarkFabricManager(t *testing.T) {
	g := testGraph(t)
	addAdapter(t, g, "0x5")
	addSwitch(t, g, "0x6")

	if err := g.MarkFabricManager("0x5"); err != nil {
		t.Fatalf("MarkFabricManager adapter: %v", err)
	}
	n, _ := g.GetNode("0x5")
	if n.Role != RoleUFM {
		t.Errorf("adapter role = %v, want UFM", n.Role)
	}

	if err := g.MarkFabricManager("0x6"); err != nil {
		t.Fatalf("MarkFabricManager switch: %v", err)
	}
	sw, _ := g.GetNode("0x6")
	if sw.Role != RoleNone {
		t.Errorf("switch role = %v, want None", sw.Role)
	}
	if len(g.FabricManagers()) != 2 {
		t.Errorf("FabricManagers = %d, want 2", len(g.FabricManagers()))
	}

	if err := g.MarkFabricManager("0x404"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("unknown guid: err = %v, want ErrNodeNotFound", err)
	}
}

func TestSetFilter(t *testing.T) {
	g := testGraph(t)
	addSwitch(t, g, "0x1")
	addAdapter(t, g, "0x2")

	if err := g.SetFilter([]FilterKey{NodeKey("0x01"), PortKey("0x2", 1)}); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	f := g.ActiveFilter()
	if f == nil {
		t.Fatal("filter not installed")
	}
	if !f.MatchNode("0x1") {
		t.Error("canonicalized node key did not match")
	}
	if !f.MatchEndpoint("0x2", 1) || f.MatchEndpoint("0x2", 2) {
		t.Error("port key matching wrong")
	}

	if err := g.SetFilter([]FilterKey{NodeKey("0xdead")}); !errors.Is(err, ErrFilterNoMatch) {
		t.Errorf("err = %v, want ErrFilterNoMatch", err)
	}

	if err := g.SetFilter(nil); err != nil {
		t.Fatalf("clearing SetFilter: %v", err)
	}
	if g.ActiveFilter() != nil {
		t.Error("nil key set did not clear the filter")
	}
}

func TestStats(t *testing.T) {
	g := testGraph(t)
	addSwitch(t, g, "0x1")
	addSwitch(t, g, "0x2")
	addAdapter(t, g, "0x3")
	addGPU(t, g, "0x4")
	link(t, g, "0x1", 1, "0x2", 1)
	link(t, g, "0x1", 2, "0x3", 1)

	s := g.Stats()
	if s.Nodes != 4 || s.Switches != 2 || s.Adapters != 1 || s.GPUs != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.Links != 2 {
		t.Errorf("links = %d, want 2", s.Links)
	}
	if s.Filtered {
		t.Error("Filtered = true without a filter")
	}
}

func TestNodeName(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"MF0;leaf01:MQM8700/U1", "leaf01"},
		{"node001 mlx5_0", "node001"},
		{"plain", "plain"},
		{"", "0x77"},
	}
	for _, tt := range tests {
		n := NewNode("0x77", "0x77", KindSwitch)
		n.Description = tt.desc
		if got := n.Name(); got != tt.want {
			t.Errorf("Name(%q) = %q, want %q", tt.desc, got, tt.want)
		}
	}
}

func TestKindRoleStringRoundTrip(t *testing.T) {
	for _, k := range []NodeKind{KindSwitch, KindAdapter, KindGPU} {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if _, ok := ParseKind("Router"); ok {
		t.Error("unknown kind parsed")
	}

	roles := []Role{RoleNone, RoleLeaf, RoleSpine, RoleCore, RoleNVLinkSW, RoleUFM, RoleAggregateAlias, RoleUnknown}
	for _, r := range roles {
		got, ok := ParseRole(r.String())
		if !ok || got != r {
			t.Errorf("ParseRole(%q) = %v, %v", r.String(), got, ok)
		}
	}
	if _, ok := ParseRole("TOR"); ok {
		t.Error("unknown role parsed")
	}
}
