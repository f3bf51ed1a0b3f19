package topology

import (
	"sort"
	"strings"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

// Rack inference groups NVLink-domain switches and GPUs into racks.
// Conventional IB fabrics have no rack notion here; the GPU population
// crossing Config.RackGPUThreshold is the sole signal that the dump
// describes an NVLink domain.

// RackResult reports what one rack-inference run assigned
type RackResult struct {
	// Skipped is true when the fabric is below the GPU threshold and
	// no grouping ran.
	Skipped  bool
	Racks    int
	GPUs     int
	Switches int
}

// InferRacks groups switches by the exact set of GPUs attached to them.
// Each distinct GPU set becomes one rack, indexed sequentially in
// first-seen order with switches visited sorted by display name. The
// index lands on every GPU of the set and on every switch neighboring
// one of those GPUs, so second-tier NVLink switches inherit their rack
// through the GPUs they serve.
func InferRacks(g *Graph) *RackResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := &RackResult{}
	if g.gpus <= g.cfg.RackGPUThreshold {
		res.Skipped = true
		g.logger.Debug("rack inference skipped",
			logging.Int("gpus", g.gpus),
			logging.Int("threshold", g.cfg.RackGPUThreshold))
		return res
	}

	switches := make([]*Node, 0)
	for _, n := range g.nodes {
		if n.Kind == KindSwitch {
			switches = append(switches, n)
		}
	}
	sort.Slice(switches, func(i, j int) bool {
		if switches[i].Name() != switches[j].Name() {
			return switches[i].Name() < switches[j].Name()
		}
		return switches[i].GUID < switches[j].GUID
	})

	groups := make(map[string]int)
	for _, sw := range switches {
		members := attachedGPUs(sw)
		if len(members) == 0 {
			continue
		}
		key := strings.Join(members, ",")
		if _, ok := groups[key]; ok {
			continue
		}
		rack := len(groups)
		groups[key] = rack

		for _, guid := range members {
			gpu := g.nodes[guid]
			if gpu == nil {
				continue
			}
			if gpu.Rack == nil {
				r := rack
				gpu.Rack = &r
				res.GPUs++
			}
			for _, e := range gpu.Children {
				peer := e.Peer
				if peer.Kind != KindSwitch || peer.Rack != nil {
					continue
				}
				r := rack
				peer.Rack = &r
				res.Switches++
			}
		}
	}
	res.Racks = len(groups)

	g.logger.Info("racks resolved",
		logging.Int("racks", res.Racks),
		logging.Int("gpus", res.GPUs),
		logging.Int("switches", res.Switches))
	return res
}

// attachedGPUs returns the sorted GUIDs of a switch's GPU children
func attachedGPUs(sw *Node) []string {
	seen := make(map[string]struct{})
	for _, e := range sw.Children {
		if e.Peer.Kind == KindGPU {
			seen[e.Peer.GUID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for guid := range seen {
		out = append(out, guid)
	}
	sort.Strings(out)
	return out
}
