package topology

import (
	"sort"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

// Register inserts a node under its canonical GUID and assigns its
// sequential id. Registering a GUID twice replaces the earlier node
// (last write wins) while ids keep increasing, so an id observed once
// is never handed out again.
//
// Multi-ASIC handling: when an Adapter arrives whose chassis already
// holds a registered Switch under a different GUID, the adapter is a
// secondary identity of that same physical device. It is stored under
// its own GUID but marked AggregateAlias so inference and most
// traversals skip it.
func (g *Graph) Register(n *Node) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n.Kind == KindAdapter && n.SystemGUID != "" {
		for _, member := range g.bySystem[n.SystemGUID] {
			if member.Kind == KindSwitch && member.GUID != n.GUID {
				n.Role = RoleAggregateAlias
				g.logger.Debug("registered aggregate alias",
					logging.GUID(n.GUID),
					logging.String("system_guid", n.SystemGUID))
				break
			}
		}
	}

	if prev, ok := g.nodes[n.GUID]; ok {
		g.dropFromSystem(prev)
		if prev.Kind == KindGPU {
			g.gpus--
		}
	}

	g.nodes[n.GUID] = n
	g.bySystem[n.SystemGUID] = append(g.bySystem[n.SystemGUID], n)
	if n.Kind == KindGPU {
		g.gpus++
	}

	g.nextID++
	n.ID = g.nextID
	return n.ID
}

func (g *Graph) dropFromSystem(n *Node) {
	members := g.bySystem[n.SystemGUID]
	for i, member := range members {
		if member == n {
			g.bySystem[n.SystemGUID] = append(members[:i], members[i+1:]...)
			return
		}
	}
}

// GetNode looks up a node by GUID in any textual spelling. Malformed
// GUIDs report not-found rather than a distinct error; callers routinely
// probe with tokens scraped from logs.
func (g *Graph) GetNode(guid string) (*Node, error) {
	key, ok := CanonicalGUID(guid)
	if !ok {
		return nil, NewError("get-node").WithGUID(guid).WithCause(ErrNodeNotFound).Build()
	}

	g.mu.RLock()
	n := g.nodes[key]
	g.mu.RUnlock()

	if n == nil {
		return nil, NewError("get-node").WithGUID(key).WithCause(ErrNodeNotFound).Build()
	}
	return n, nil
}

// GetConnection returns the neighbor reached from (guid, port)
func (g *Graph) GetConnection(guid string, port int) (*Node, error) {
	key, ok := CanonicalGUID(guid)
	if !ok {
		return nil, NewError("get-connection").WithGUID(guid).WithPort(port).WithCause(ErrConnectionNotFound).Build()
	}

	g.mu.RLock()
	peer := g.conns[ConnKey{GUID: key, Port: port}]
	g.mu.RUnlock()

	if peer == nil {
		return nil, NewError("get-connection").WithGUID(key).WithPort(port).WithCause(ErrConnectionNotFound).Build()
	}
	return peer, nil
}

// GetChild returns the outgoing edge installed on (guid, port)
func (g *Graph) GetChild(guid string, port int) (*Edge, error) {
	key, ok := CanonicalGUID(guid)
	if !ok {
		return nil, NewError("get-child").WithGUID(guid).WithPort(port).WithCause(ErrConnectionNotFound).Build()
	}

	g.mu.RLock()
	n := g.nodes[key]
	g.mu.RUnlock()

	if n == nil {
		return nil, NewError("get-child").WithGUID(key).WithPort(port).WithCause(ErrNodeNotFound).Build()
	}
	e := n.Children[port]
	if e == nil {
		return nil, NewError("get-child").WithGUID(key).WithPort(port).WithCause(ErrConnectionNotFound).Build()
	}
	return e, nil
}

// MarkFabricManager records a Master/Standby SM endpoint. Adapter-kind
// nodes take the UFM role; a switch hosting an SM keeps its kind and
// role untouched but still joins the fabric-manager set so inference
// excludes it from neighbor counts.
func (g *Graph) MarkFabricManager(guid string) error {
	key, ok := CanonicalGUID(guid)
	if !ok {
		return NewError("mark-fabric-manager").WithGUID(guid).WithCause(ErrBadGUID).Build()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.nodes[key]
	if n == nil {
		return NewError("mark-fabric-manager").WithGUID(key).WithCause(ErrNodeNotFound).Build()
	}

	g.fabricMgrs[key] = n
	if n.Kind == KindAdapter {
		n.Role = RoleUFM
	}
	g.logger.Info("fabric manager marked",
		logging.GUID(key),
		logging.String("kind", n.Kind.String()))
	return nil
}

// isFabricManager reports fabric-manager membership for a canonical GUID
func (g *Graph) isFabricManager(guid string) bool {
	_, ok := g.fabricMgrs[guid]
	return ok
}

// FabricManagers returns the SM endpoints in id order
func (g *Graph) FabricManagers() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Node, 0, len(g.fabricMgrs))
	for _, n := range g.fabricMgrs {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddLink installs the complementary edge pair for one physical link:
// src[srcPort] -> dst[dstPort] and its mirror. peerLID is the LID the
// source-side adjacency reports for the destination; zero means the
// dump did not carry one. Links between two ASICs of one chassis are
// created disabled so traffic and role accounting skip them.
//
// Re-adding the identical link is a no-op. A different link on an
// occupied port is rejected without touching either endpoint.
func (g *Graph) AddLink(srcGUID string, srcPort int, dstGUID string, dstPort int, peerLID int, speed string) error {
	srcKey, ok := CanonicalGUID(srcGUID)
	if !ok {
		return NewError("add-link").WithGUID(srcGUID).WithPort(srcPort).WithCause(ErrBadGUID).Build()
	}
	dstKey, ok := CanonicalGUID(dstGUID)
	if !ok {
		return NewError("add-link").WithGUID(dstGUID).WithPort(dstPort).WithCause(ErrBadGUID).Build()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	src := g.nodes[srcKey]
	if src == nil {
		return NewError("add-link").WithGUID(srcKey).WithPort(srcPort).WithCause(ErrNodeNotFound).Build()
	}
	dst := g.nodes[dstKey]
	if dst == nil {
		return NewError("add-link").WithGUID(dstKey).WithPort(dstPort).WithCause(ErrNodeNotFound).Build()
	}

	if existing := src.Children[srcPort]; existing != nil {
		if existing.Peer == dst && existing.DstPort == dstPort {
			dst.AddLID(peerLID)
			return nil
		}
		return NewError("add-link").WithGUID(srcKey).WithPort(srcPort).WithCause(ErrDuplicateLink).Build()
	}
	if existing := dst.Children[dstPort]; existing != nil {
		if existing.Peer != src || existing.DstPort != srcPort {
			return NewError("add-link").WithGUID(dstKey).WithPort(dstPort).WithCause(ErrDuplicateLink).Build()
		}
	}

	disabled := src.SystemGUID != "" &&
		src.SystemGUID == dst.SystemGUID &&
		src.GUID != dst.GUID

	out := &Edge{SrcPort: srcPort, DstPort: dstPort, Speed: speed, Disabled: disabled, Peer: dst}
	back := &Edge{SrcPort: dstPort, DstPort: srcPort, Speed: speed, Disabled: disabled, Peer: src}

	src.Children[srcPort] = out
	if dst.Children[dstPort] == nil {
		dst.Children[dstPort] = back
	}
	g.conns[ConnKey{GUID: srcKey, Port: srcPort}] = dst
	g.conns[ConnKey{GUID: dstKey, Port: dstPort}] = src
	g.links++

	dst.AddLID(peerLID)
	return nil
}

// NodeCount returns the number of registered nodes
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GPUCount returns the number of registered GPU nodes
func (g *Graph) GPUCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gpus
}

// Nodes returns a snapshot of all nodes in id order
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Switches returns Switch-kind nodes sorted by display name, GUID as a
// tie break. Inference passes rely on this order being stable.
func (g *Graph) Switches() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n.Kind == KindSwitch {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].GUID < out[j].GUID
	})
	return out
}
