package topology

import (
	"sort"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

// Plane inference labels the edges of multi-ASIC director switches with
// the plane (internal ASIC grouping) they belong to, so bandwidth
// consumers can avoid double counting links that share a physical plane.
// Only device ids from Config.MultiPlaneDeviceIDs participate; everything
// else is untouched.

// PlaneResult reports what one plane-inference run decided
type PlaneResult struct {
	Candidates   int
	Disabled     int
	Seeded       int
	EdgesLabeled int
}

// InferPlanes detects plane membership and propagates it across each
// multi-plane island. Must run after role inference.
//
// Tracking is disabled on a candidate switch in two situations:
// a crocodile cabling pattern (a LEAF whose adapters land on more than
// one distinct adapter-side port), or ambiguous cross-plane wiring
// (switch links leaving the chassis toward more than one distinct
// foreign chassis). A disabled switch contributes no plane labels at
// all.
//
// For the remaining candidates the plane id is the adapter-side port
// most frequently used by the switch's adapter children, smallest port
// winning ties. The label spreads over both directions of every edge
// the island spans, recursing through neighboring multi-plane switches
// but never across an adapter boundary and never over intra-chassis
// links.
//
// Relabeling an edge with the value it already holds is a no-op. A
// conflicting relabel aborts the run: it indicates a wiring pattern the
// model cannot represent, or a bug upstream.
func InferPlanes(g *Graph) (*PlaneResult, error) {
	timer := logging.StartTimer(g.logger, "plane inference complete")

	g.mu.Lock()
	defer g.mu.Unlock()

	res := &PlaneResult{}

	var candidates []*Node
	for _, n := range g.nodesByID() {
		if n.Kind == KindSwitch && g.cfg.multiPlane(n.DeviceID) {
			n.HasPlaneTracking = true
			candidates = append(candidates, n)
		}
	}
	res.Candidates = len(candidates)

	for _, n := range candidates {
		if g.crocodileCabled(n) || g.ambiguousChassisWiring(n) {
			n.HasPlaneTracking = false
			res.Disabled++
			g.logger.Debug("plane tracking disabled",
				logging.GUID(n.GUID),
				logging.String("name", n.Name()))
		}
	}

	for _, n := range candidates {
		if !n.HasPlaneTracking {
			continue
		}
		plane, ok := adapterPortMode(n)
		if !ok {
			continue
		}
		res.Seeded++
		if err := g.propagatePlane(n, plane, res); err != nil {
			timer.EndError(err)
			return nil, err
		}
	}

	timer.End()
	g.logger.Info("planes resolved",
		logging.Int("candidates", res.Candidates),
		logging.Int("disabled", res.Disabled),
		logging.Int("seeded", res.Seeded),
		logging.Int("edges_labeled", res.EdgesLabeled))
	return res, nil
}

// crocodileCabled reports whether a LEAF's adapter children land on more
// than one distinct destination port. Split cabling like this feeds one
// adapter from several planes and makes per-plane attribution
// meaningless.
func (g *Graph) crocodileCabled(n *Node) bool {
	if n.Role != RoleLeaf {
		return false
	}
	seen := make(map[int]struct{})
	for _, e := range n.Children {
		if e.Disabled || e.Peer.Kind != KindAdapter {
			continue
		}
		seen[e.DstPort] = struct{}{}
		if len(seen) > 1 {
			return true
		}
	}
	return false
}

// ambiguousChassisWiring reports whether the switch reaches more than
// one distinct foreign chassis over non-intra-chassis switch links.
func (g *Graph) ambiguousChassisWiring(n *Node) bool {
	foreign := make(map[string]struct{})
	for _, e := range n.Children {
		if e.Disabled || e.Peer.Kind != KindSwitch {
			continue
		}
		if e.Peer.SystemGUID == n.SystemGUID {
			continue
		}
		foreign[e.Peer.SystemGUID] = struct{}{}
		if len(foreign) > 1 {
			return true
		}
	}
	return false
}

// adapterPortMode picks the most frequent adapter-side destination port,
// smallest port on ties. ok is false when the switch has no adapter
// children to derive a plane from.
func adapterPortMode(n *Node) (int, bool) {
	counts := make(map[int]int)
	for _, e := range n.Children {
		if e.Disabled || e.Peer.Kind != KindAdapter {
			continue
		}
		counts[e.DstPort]++
	}
	if len(counts) == 0 {
		return 0, false
	}

	ports := make([]int, 0, len(counts))
	for p := range counts {
		ports = append(ports, p)
	}
	sort.Ints(ports)

	best := ports[0]
	for _, p := range ports[1:] {
		if counts[p] > counts[best] {
			best = p
		}
	}
	return best, true
}

// propagatePlane floods the plane id over the island reachable from
// start through multi-plane switches.
func (g *Graph) propagatePlane(start *Node, plane int, res *PlaneResult) error {
	visited := map[string]struct{}{start.GUID: {}}
	queue := []*Node{start}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		ports := make([]int, 0, len(n.Children))
		for p := range n.Children {
			ports = append(ports, p)
		}
		sort.Ints(ports)

		for _, p := range ports {
			e := n.Children[p]
			if e.Disabled {
				continue
			}
			if err := g.labelEdgePair(n, e, plane, res); err != nil {
				return err
			}
			peer := e.Peer
			if peer.Kind != KindSwitch || !g.cfg.multiPlane(peer.DeviceID) {
				continue
			}
			if _, ok := visited[peer.GUID]; ok {
				continue
			}
			visited[peer.GUID] = struct{}{}
			queue = append(queue, peer)
		}
	}
	return nil
}

// labelEdgePair stamps both directions of one physical link
func (g *Graph) labelEdgePair(n *Node, e *Edge, plane int, res *PlaneResult) error {
	if e.Plane == 0 {
		res.EdgesLabeled++
	}
	if err := e.setPlane(plane); err != nil {
		return err
	}
	mirror := e.Peer.Children[e.DstPort]
	if mirror == nil || mirror.Peer != n {
		return nil
	}
	if mirror.Plane == 0 {
		res.EdgesLabeled++
	}
	return mirror.setPlane(plane)
}
