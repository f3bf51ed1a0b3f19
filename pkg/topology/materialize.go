package topology

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/parallel"
)

// CounterSample carries the transmit counters one endpoint reported
type CounterSample struct {
	TransmitWait uint64
	TransmitData uint64
}

// CounterProvider is the read-only lookup an already-loaded counter
// table exposes to materialization. Implementations must be safe for
// concurrent lookups; expansion tasks share one provider.
type CounterProvider interface {
	Lookup(guid string, port int) (CounterSample, bool)
}

// NodeRow is one row of the materialized node table
type NodeRow struct {
	ID         uint64 `json:"id"`
	Kind       string `json:"kind"`
	Role       string `json:"inferred_role"`
	Vendor     uint32 `json:"vendor"`
	DeviceType uint32 `json:"device_type"`
	GUID       string `json:"guid"`
	Name       string `json:"name"`
	Rack       *int   `json:"rack,omitempty"`
}

// EdgeRow is one row of the materialized edge table, one directed edge
// per row. Counter columns stay nil unless a provider supplied values
// for the source endpoint.
type EdgeRow struct {
	SourceID   uint64 `json:"source_id"`
	SourceGUID string `json:"source_guid"`
	SourcePort int    `json:"source_port"`
	TargetID   uint64 `json:"target_id"`
	TargetGUID string `json:"target_guid"`
	TargetPort int    `json:"target_port"`

	Speed    string `json:"speed"`
	Disabled bool   `json:"disabled"`
	Plane    int    `json:"plane"`
	Rack     *int   `json:"rack,omitempty"`

	SourceRole string `json:"source_role"`
	TargetRole string `json:"target_role"`

	TransmitWait *uint64 `json:"transmit_wait,omitempty"`
	TransmitData *uint64 `json:"transmit_data,omitempty"`
}

// NodeTable is the materialized node view
type NodeTable struct {
	Rows []NodeRow `json:"rows"`
}

// EdgeTable is the materialized edge view. Failures collects per-node
// expansion problems (missing counter entries, panicking lookups); the
// rows for every other node are still present and valid.
type EdgeTable struct {
	Rows     []EdgeRow `json:"rows"`
	Failures []error   `json:"-"`
}

// Tables expands the graph into node and edge tables. The node table is
// built synchronously in id order. Edge expansion fans out one task per
// source node over a bounded pool: every task reads only its own node's
// port map plus the shared read-only provider, dispatch order is
// shuffled to spread the heavy switches across workers, and results are
// stitched together in id order after a single gather barrier, so the
// output is deterministic regardless of scheduling.
//
// With a filter installed both tables are pruned to the active key set
// before being returned. Pruning affects only the returned copies.
func (g *Graph) Tables(counters CounterProvider) (*NodeTable, *EdgeTable, error) {
	timer := logging.StartTimer(g.logger, "materialization complete")

	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := g.nodesByID()

	nodeTable := &NodeTable{Rows: make([]NodeRow, 0, len(nodes))}
	for _, n := range nodes {
		nodeTable.Rows = append(nodeTable.Rows, NodeRow{
			ID:         n.ID,
			Kind:       n.Kind.String(),
			Role:       n.Role.String(),
			Vendor:     n.VendorID,
			DeviceType: n.DeviceID,
			GUID:       n.GUID,
			Name:       n.Name(),
			Rack:       n.Rack,
		})
	}

	pool, err := parallel.NewWorkerPool(g.cfg.workers(), g.logger)
	if err != nil {
		return nil, nil, NewError("materialize").WithCause(err).Build()
	}

	rowSlots := make([][]EdgeRow, len(nodes))
	failSlots := make([][]error, len(nodes))

	for _, idx := range rand.Perm(len(nodes)) {
		slot := idx
		n := nodes[idx]
		pool.Submit(func() {
			defer func() {
				if r := recover(); r != nil {
					failSlots[slot] = append(failSlots[slot],
						NewError("materialize-edges").
							WithGUID(n.GUID).
							WithCause(fmt.Errorf("task panic: %v", r)).
							Build())
				}
			}()
			rowSlots[slot], failSlots[slot] = expandNode(n, counters)
		})
	}
	pool.Wait()

	edgeTable := &EdgeTable{}
	for i := range rowSlots {
		edgeTable.Rows = append(edgeTable.Rows, rowSlots[i]...)
		edgeTable.Failures = append(edgeTable.Failures, failSlots[i]...)
	}

	if g.filter != nil {
		pruneTables(nodeTable, edgeTable, g.filter)
	}

	timer.End()
	g.logger.Info("tables materialized",
		logging.Int("node_rows", len(nodeTable.Rows)),
		logging.Int("edge_rows", len(edgeTable.Rows)),
		logging.Int("failures", len(edgeTable.Failures)))
	return nodeTable, edgeTable, nil
}

// expandNode renders one source node's outgoing edges. Runs on a pool
// worker; must only touch n, its immutable neighbors and the provider.
func expandNode(n *Node, counters CounterProvider) ([]EdgeRow, []error) {
	if len(n.Children) == 0 {
		return nil, nil
	}

	ports := make([]int, 0, len(n.Children))
	for p := range n.Children {
		ports = append(ports, p)
	}
	sort.Ints(ports)

	rows := make([]EdgeRow, 0, len(ports))
	var failures []error

	for _, p := range ports {
		e := n.Children[p]
		peer := e.Peer

		row := EdgeRow{
			SourceID:   n.ID,
			SourceGUID: n.GUID,
			SourcePort: e.SrcPort,
			TargetID:   peer.ID,
			TargetGUID: peer.GUID,
			TargetPort: e.DstPort,
			Speed:      e.Speed,
			Disabled:   e.Disabled,
			Plane:      e.Plane,
			Rack:       n.Rack,
			SourceRole: n.Role.String(),
			TargetRole: peer.Role.String(),
		}

		if counters != nil {
			if s, ok := counters.Lookup(n.GUID, e.SrcPort); ok {
				tw, td := s.TransmitWait, s.TransmitData
				row.TransmitWait = &tw
				row.TransmitData = &td
			} else {
				failures = append(failures,
					NewError("materialize-edges").
						WithGUID(n.GUID).
						WithPort(e.SrcPort).
						WithCause(ErrCounterMissing).
						Build())
			}
		}
		rows = append(rows, row)
	}
	return rows, failures
}

// pruneTables drops rows outside the active filter. An edge row
// survives when either endpoint is active.
func pruneTables(nodes *NodeTable, edges *EdgeTable, f *Filter) {
	keptNodes := nodes.Rows[:0:0]
	for _, r := range nodes.Rows {
		if f.MatchNode(r.GUID) {
			keptNodes = append(keptNodes, r)
		}
	}
	nodes.Rows = keptNodes

	keptEdges := edges.Rows[:0:0]
	for _, r := range edges.Rows {
		if f.MatchEndpoint(r.SourceGUID, r.SourcePort) ||
			f.MatchEndpoint(r.TargetGUID, r.TargetPort) {
			keptEdges = append(keptEdges, r)
		}
	}
	edges.Rows = keptEdges
}
