package topology

import (
	"sort"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

// Role inference recovers the fat-tree layer of every switch from purely
// local connectivity evidence. Raw dumps carry no LEAF/SPINE/CORE labels;
// the classifier derives them from neighbor tallies alone, so it must be
// deterministic and must terminate on arbitrary (including miswired)
// fabrics.
//
// The rule order below is load-bearing. Downstream consumers key off
// these exact labels, and on ambiguous fabrics a different precedence
// produces different results.

// childTally counts a node's usable neighbors by kind and resolved role.
// Disabled links, fabric managers and aggregate aliases do not count.
type childTally struct {
	switches int
	adapters int
	gpus     int
	leaf     int
	spine    int
	core     int
}

func (g *Graph) tally(n *Node) childTally {
	var t childTally
	for _, e := range n.Children {
		if e.Disabled {
			continue
		}
		peer := e.Peer
		if peer.Role == RoleAggregateAlias || g.isFabricManager(peer.GUID) {
			continue
		}
		switch peer.Kind {
		case KindSwitch:
			t.switches++
		case KindAdapter:
			t.adapters++
		case KindGPU:
			t.gpus++
		}
		switch peer.Role {
		case RoleLeaf:
			t.leaf++
		case RoleSpine:
			t.spine++
		case RoleCore:
			t.core++
		}
	}
	return t
}

// RoleResult reports what one classification run resolved
type RoleResult struct {
	Passes   int
	Leaf     int
	Spine    int
	Core     int
	NVLinkSW int
	Unknown  int
}

// InferRoles runs the fixed-point role classification over every switch.
// Already-resolved nodes are never revisited, so re-running on a
// classified graph is a no-op.
//
// Three seeding passes run once, in precedence order:
//
//	LEAF:  more than one Adapter child
//	SPINE: more than one Switch child, a LEAF child, no Adapter child
//	CORE:  more than one Switch child, more than one SPINE child,
//	       no LEAF and no Adapter children
//
// A relaxation loop then reclassifies the remainder from neighbor roles,
// terminating as soon as a full pass resolves nothing. Whatever survives
// is Unknown, which is a valid outcome on ambiguous fabrics, not an
// error.
func InferRoles(g *Graph) *RoleResult {
	timer := logging.StartTimer(g.logger, "role inference complete")

	g.mu.Lock()
	defer g.mu.Unlock()

	var worklist []*Node
	for _, n := range g.nodesByID() {
		if n.Kind == KindSwitch && !n.Role.resolved() {
			worklist = append(worklist, n)
		}
	}

	res := &RoleResult{}

	// Seeding passes.
	for _, n := range worklist {
		t := g.tally(n)
		if t.adapters > 1 && n.assignRole(RoleLeaf) {
			res.Leaf++
		}
	}
	for _, n := range worklist {
		if n.Role.resolved() {
			continue
		}
		t := g.tally(n)
		if t.switches > 1 && t.leaf >= 1 && t.adapters == 0 && n.assignRole(RoleSpine) {
			res.Spine++
		}
	}
	for _, n := range worklist {
		if n.Role.resolved() {
			continue
		}
		t := g.tally(n)
		if t.switches > 1 && t.spine > 1 && t.leaf == 0 && t.adapters == 0 && n.assignRole(RoleCore) {
			res.Core++
		}
	}

	unresolved := 0
	for _, n := range worklist {
		if !n.Role.resolved() {
			unresolved++
		}
	}

	// Relaxation loop. Each pass walks the remaining switches in id
	// order with fresh tallies and exits on no progress, so runtime is
	// bounded by one resolution per pass.
	res.Passes = 3
	for unresolved > 0 {
		res.Passes++
		before := unresolved
		for _, n := range worklist {
			if n.Role.resolved() {
				continue
			}
			t := g.tally(n)
			switch {
			case t.gpus > 0:
				n.assignRole(RoleNVLinkSW)
				res.NVLinkSW++
			case t.switches > 0 && t.spine == 0 && t.leaf >= 1:
				n.assignRole(RoleSpine)
				res.Spine++
			case t.switches > 0 && t.core == 0 && t.spine > 0 && t.leaf == 0:
				n.assignRole(RoleLeaf)
				res.Leaf++
			case t.switches > 0 && t.core > 0 && t.spine == 0:
				n.assignRole(RoleSpine)
				res.Spine++
			default:
				continue
			}
			unresolved--
		}
		if unresolved == before {
			break
		}
	}

	for _, n := range worklist {
		if !n.Role.resolved() {
			n.Role = RoleUnknown
			res.Unknown++
		}
	}

	timer.End()
	g.logger.Info("roles resolved",
		logging.Int("passes", res.Passes),
		logging.Int("leaf", res.Leaf),
		logging.Int("spine", res.Spine),
		logging.Int("core", res.Core),
		logging.Int("nvlink_sw", res.NVLinkSW),
		logging.Int("unknown", res.Unknown))
	return res
}

// nodesByID returns all nodes in id order. Callers must hold g.mu.
func (g *Graph) nodesByID() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
