package topology

import (
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

// FilterKey selects a whole node by GUID or, when HasPort is set, one
// specific endpoint.
type FilterKey struct {
	GUID    string
	Port    int
	HasPort bool
}

// NodeKey builds a node-level filter key
func NodeKey(guid string) FilterKey {
	return FilterKey{GUID: guid}
}

// PortKey builds an endpoint-level filter key
func PortKey(guid string, port int) FilterKey {
	return FilterKey{GUID: guid, Port: port, HasPort: true}
}

// Filter is an immutable snapshot of active keys. Materialized tables
// are pruned against it; the registry itself is never touched.
type Filter struct {
	nodes     map[string]struct{}
	ports     map[ConnKey]struct{}
	portGUIDs map[string]struct{}
}

func newFilter(keys []FilterKey) *Filter {
	f := &Filter{
		nodes:     make(map[string]struct{}),
		ports:     make(map[ConnKey]struct{}),
		portGUIDs: make(map[string]struct{}),
	}
	for _, k := range keys {
		guid, ok := CanonicalGUID(k.GUID)
		if !ok {
			continue
		}
		if k.HasPort {
			f.ports[ConnKey{GUID: guid, Port: k.Port}] = struct{}{}
			f.portGUIDs[guid] = struct{}{}
		} else {
			f.nodes[guid] = struct{}{}
		}
	}
	return f
}

// MatchNode reports whether any active key names the GUID
func (f *Filter) MatchNode(guid string) bool {
	if _, ok := f.nodes[guid]; ok {
		return true
	}
	_, ok := f.portGUIDs[guid]
	return ok
}

// MatchEndpoint reports whether (guid, port) is active, either through a
// node-level key or an exact endpoint key.
func (f *Filter) MatchEndpoint(guid string, port int) bool {
	if _, ok := f.nodes[guid]; ok {
		return true
	}
	_, ok := f.ports[ConnKey{GUID: guid, Port: port}]
	return ok
}

func (f *Filter) empty() bool {
	return len(f.nodes) == 0 && len(f.ports) == 0
}

// SetFilter installs an active-key snapshot restricting materialized
// views. Keys are canonicalized on the way in; keys naming no registered
// node are kept (a later rebuild may introduce the node) but a filter
// in which nothing matches the current registry is rejected. A nil or
// empty key set clears the filter.
func (g *Graph) SetFilter(keys []FilterKey) error {
	if len(keys) == 0 {
		g.ClearFilter()
		return nil
	}

	f := newFilter(keys)
	if f.empty() {
		return NewError("set-filter").WithCause(ErrFilterNoMatch).Build()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	matched := 0
	for guid := range f.nodes {
		if _, ok := g.nodes[guid]; ok {
			matched++
		}
	}
	for guid := range f.portGUIDs {
		if _, ok := g.nodes[guid]; ok {
			matched++
		}
	}
	if matched == 0 {
		return NewError("set-filter").WithCause(ErrFilterNoMatch).Build()
	}

	g.filter = f
	g.logger.Info("filter installed",
		logging.Int("node_keys", len(f.nodes)),
		logging.Int("port_keys", len(f.ports)))
	return nil
}

// ClearFilter removes the active filter
func (g *Graph) ClearFilter() {
	g.mu.Lock()
	g.filter = nil
	g.mu.Unlock()
}

// ActiveFilter returns the installed filter, nil when unfiltered
func (g *Graph) ActiveFilter() *Filter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filter
}
