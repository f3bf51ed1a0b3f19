package topology

import (
	"errors"
	"testing"
)

func TestTraceRouteAcrossFatTree(t *testing.T) {
	g := testGraph(t)
	buildFatTree(t, g)
	InferRoles(g)

	route, err := TraceRoute(g, "0x101", "0x107")
	if err != nil {
		t.Fatalf("TraceRoute: %v", err)
	}

	want := []string{"0x101", "0x11", "0x21", "0x14", "0x107"}
	if len(route.Hops) != len(want) {
		t.Fatalf("hops = %d, want %d", len(route.Hops), len(want))
	}
	for i, h := range route.Hops {
		if h.GUID != want[i] {
			t.Errorf("hop %d = %s, want %s", i, h.GUID, want[i])
		}
	}
	if route.Distance() != 4 {
		t.Errorf("distance = %d, want 4", route.Distance())
	}

	first, last := route.Hops[0], route.Hops[len(route.Hops)-1]
	if first.EntryPort != 0 || first.ExitPort != 1 {
		t.Errorf("first hop ports = %d/%d, want 0/1", first.EntryPort, first.ExitPort)
	}
	if last.EntryPort != 1 || last.ExitPort != 0 {
		t.Errorf("last hop ports = %d/%d, want 1/0", last.EntryPort, last.ExitPort)
	}
	if route.Hops[1].Role != "LEAF" || route.Hops[2].Role != "SPINE" {
		t.Errorf("middle roles = %s, %s", route.Hops[1].Role, route.Hops[2].Role)
	}

	// Same endpoints, same route.
	again, err := TraceRoute(g, "0x101", "0x107")
	if err != nil {
		t.Fatalf("repeat TraceRoute: %v", err)
	}
	for i := range again.Hops {
		if again.Hops[i] != route.Hops[i] {
			t.Fatalf("route changed between runs at hop %d", i)
		}
	}
}

func TestTraceRouteSameEndpoint(t *testing.T) {
	g := testGraph(t)
	addSwitch(t, g, "0x1")

	route, err := TraceRoute(g, "0x1", "0x01")
	if err != nil {
		t.Fatalf("TraceRoute: %v", err)
	}
	if route.Distance() != 0 || len(route.Hops) != 1 {
		t.Errorf("route = %+v", route)
	}
	if route.Hops[0].EntryPort != 0 || route.Hops[0].ExitPort != 0 {
		t.Errorf("ports = %+v", route.Hops[0])
	}
}

func TestTraceRouteAdaptersDoNotForward(t *testing.T) {
	// Two switches joined only through a dual-rail host have no route
	// between them; the host itself is still a valid destination.
	g := testGraph(t)
	addSwitch(t, g, "0x1")
	addSwitch(t, g, "0x2")
	addAdapter(t, g, "0xa")
	link(t, g, "0x1", 1, "0xa", 1)
	link(t, g, "0x2", 1, "0xa", 2)

	_, err := TraceRoute(g, "0x1", "0x2")
	if !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("err = %v, want ErrRouteNotFound", err)
	}

	route, err := TraceRoute(g, "0x1", "0xa")
	if err != nil {
		t.Fatalf("TraceRoute to host: %v", err)
	}
	if route.Distance() != 1 {
		t.Errorf("distance = %d, want 1", route.Distance())
	}
}

func TestTraceRouteSkipsDisabledLinks(t *testing.T) {
	// The direct ASIC-to-ASIC link is disabled; the route detours over
	// the external switch even though it is longer.
	g := testGraph(t)
	addSwitchSys(t, g, "0xa1", "0xa0")
	addSwitchSys(t, g, "0xa2", "0xa0")
	link(t, g, "0xa1", 60, "0xa2", 60)

	_, err := TraceRoute(g, "0xa1", "0xa2")
	if !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("err = %v, want ErrRouteNotFound without a detour", err)
	}

	addSwitch(t, g, "0xb1")
	link(t, g, "0xa1", 1, "0xb1", 1)
	link(t, g, "0xb1", 2, "0xa2", 1)

	route, err := TraceRoute(g, "0xa1", "0xa2")
	if err != nil {
		t.Fatalf("TraceRoute: %v", err)
	}
	if route.Distance() != 2 || route.Hops[1].GUID != "0xb1" {
		t.Errorf("route = %+v, want detour via 0xb1", route.Hops)
	}
}

func TestTraceRouteUnknownEndpoint(t *testing.T) {
	g := testGraph(t)
	addSwitch(t, g, "0x1")

	if _, err := TraceRoute(g, "0x1", "0xdead"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("missing target: err = %v, want ErrNodeNotFound", err)
	}
	if _, err := TraceRoute(g, "not-hex", "0x1"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("malformed source: err = %v, want ErrNodeNotFound", err)
	}
}

func TestUnreachableFromFindsDarkNodes(t *testing.T) {
	g := testGraph(t)
	buildFatTree(t, g)
	addSwitch(t, g, "0x51")
	addAdapter(t, g, "0x52")
	link(t, g, "0x51", 1, "0x52", 1)

	dark, err := UnreachableFrom(g, "0x101")
	if err != nil {
		t.Fatalf("UnreachableFrom: %v", err)
	}
	if len(dark) != 2 || dark[0] != "0x51" || dark[1] != "0x52" {
		t.Errorf("dark = %v, want [0x51 0x52]", dark)
	}

	// From inside the island everything else is dark.
	dark, err = UnreachableFrom(g, "0x51")
	if err != nil {
		t.Fatalf("UnreachableFrom island: %v", err)
	}
	if len(dark) != g.NodeCount()-2 {
		t.Errorf("dark = %d nodes, want %d", len(dark), g.NodeCount()-2)
	}
}

func TestUnreachableFromConnectedFabricIsEmpty(t *testing.T) {
	g := testGraph(t)
	buildFatTree(t, g)

	dark, err := UnreachableFrom(g, "0x101")
	if err != nil {
		t.Fatalf("UnreachableFrom: %v", err)
	}
	if len(dark) != 0 {
		t.Errorf("dark = %v on a connected fabric", dark)
	}
}

func TestUnreachableFromStopsAtAdapters(t *testing.T) {
	g := testGraph(t)
	addSwitch(t, g, "0x1")
	addSwitch(t, g, "0x2")
	addAdapter(t, g, "0xa")
	link(t, g, "0x1", 1, "0xa", 1)
	link(t, g, "0x2", 1, "0xa", 2)

	dark, err := UnreachableFrom(g, "0x1")
	if err != nil {
		t.Fatalf("UnreachableFrom: %v", err)
	}
	if len(dark) != 1 || dark[0] != "0x2" {
		t.Errorf("dark = %v, want [0x2]", dark)
	}
}
