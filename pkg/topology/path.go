package topology

import (
	"sort"
	"sync"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/parallel"
)

// Hop is one node along a traced route. EntryPort is the port the route
// arrives on (zero on the first hop), ExitPort the port toward the next
// hop (zero on the last).
type Hop struct {
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	EntryPort int    `json:"entry_port"`
	ExitPort  int    `json:"exit_port"`
}

// Route is a shortest path between two fabric endpoints
type Route struct {
	Hops []Hop `json:"hops"`
}

// Distance returns the number of links the route crosses
func (r *Route) Distance() int {
	return len(r.Hops) - 1
}

type parentLink struct {
	prev      string
	exitPort  int
	entryPort int
}

// TraceRoute finds a shortest route by hop count between two endpoints.
// Disabled links carry no traffic and are skipped, and only switches
// forward: an adapter or GPU can start or end a route but never sits in
// the middle. Neighbors are explored in ascending port order, so among
// equal-length routes the one through the lowest ports wins and repeated
// calls return the same route.
func TraceRoute(g *Graph, fromGUID, toGUID string) (*Route, error) {
	fromKey, ok := CanonicalGUID(fromGUID)
	if !ok {
		return nil, NewError("trace-route").WithGUID(fromGUID).WithCause(ErrNodeNotFound).Build()
	}
	toKey, ok := CanonicalGUID(toGUID)
	if !ok {
		return nil, NewError("trace-route").WithGUID(toGUID).WithCause(ErrNodeNotFound).Build()
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	from := g.nodes[fromKey]
	if from == nil {
		return nil, NewError("trace-route").WithGUID(fromKey).WithCause(ErrNodeNotFound).Build()
	}
	if g.nodes[toKey] == nil {
		return nil, NewError("trace-route").WithGUID(toKey).WithCause(ErrNodeNotFound).Build()
	}

	if fromKey == toKey {
		return &Route{Hops: []Hop{{
			GUID: from.GUID,
			Name: from.Name(),
			Role: from.Role.String(),
		}}}, nil
	}

	parents := make(map[string]parentLink)
	visited := map[string]struct{}{fromKey: {}}
	frontier := []*Node{from}
	found := false

	for len(frontier) > 0 && !found {
		var next []*Node
		for _, n := range frontier {
			if n != from && n.Kind != KindSwitch {
				continue
			}

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
				peer := e.Peer
				if _, seen := visited[peer.GUID]; seen {
					continue
				}
				visited[peer.GUID] = struct{}{}
				parents[peer.GUID] = parentLink{prev: n.GUID, exitPort: e.SrcPort, entryPort: e.DstPort}
				if peer.GUID == toKey {
					found = true
					break
				}
				next = append(next, peer)
			}
			if found {
				break
			}
		}
		frontier = next
	}

	if !found {
		return nil, NewError("trace-route").WithGUID(toKey).WithCause(ErrRouteNotFound).Build()
	}

	var hops []Hop
	cur, exit := toKey, 0
	for {
		n := g.nodes[cur]
		pl, hasParent := parents[cur]
		entry := 0
		if hasParent {
			entry = pl.entryPort
		}
		hops = append(hops, Hop{
			GUID:      n.GUID,
			Name:      n.Name(),
			Role:      n.Role.String(),
			EntryPort: entry,
			ExitPort:  exit,
		})
		if !hasParent {
			break
		}
		cur, exit = pl.prev, pl.exitPort
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return &Route{Hops: hops}, nil
}

// UnreachableFrom returns, sorted by GUID, every registered node with no
// enabled path from start. Run from the master subnet manager this finds
// the dark side of a partitioned or truncated fabric; a healthy dump
// yields an empty slice.
//
// Each BFS ring is expanded in chunks across a bounded worker pool, so
// sweeping from a core switch of a large fabric does not serialize on
// one goroutine.
func UnreachableFrom(g *Graph, fromGUID string) ([]string, error) {
	key, ok := CanonicalGUID(fromGUID)
	if !ok {
		return nil, NewError("reachability-sweep").WithGUID(fromGUID).WithCause(ErrNodeNotFound).Build()
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	start := g.nodes[key]
	if start == nil {
		return nil, NewError("reachability-sweep").WithGUID(key).WithCause(ErrNodeNotFound).Build()
	}

	pool, err := parallel.NewWorkerPool(g.cfg.workers(), g.logger)
	if err != nil {
		return nil, NewError("reachability-sweep").WithCause(err).Build()
	}
	defer pool.Close()

	visited := &sync.Map{}
	visited.Store(start.GUID, true)
	frontier := []*Node{start}

	for len(frontier) > 0 {
		chunkSize := (len(frontier) + pool.Workers() - 1) / pool.Workers()
		if chunkSize < 1 {
			chunkSize = 1
		}

		var next sync.Map
		var wg sync.WaitGroup
		for i := 0; i < len(frontier); i += chunkSize {
			end := i + chunkSize
			if end > len(frontier) {
				end = len(frontier)
			}
			part := frontier[i:end]
			wg.Add(1)
			pool.Submit(func() {
				defer wg.Done()
				for _, n := range part {
					if n != start && n.Kind != KindSwitch {
						continue
					}
					for _, e := range n.Children {
						if e.Disabled {
							continue
						}
						if _, seen := visited.LoadOrStore(e.Peer.GUID, true); !seen {
							next.Store(e.Peer.GUID, e.Peer)
						}
					}
				}
			})
		}
		wg.Wait()

		frontier = frontier[:0]
		next.Range(func(_, v any) bool {
			frontier = append(frontier, v.(*Node))
			return true
		})
	}

	var dark []string
	for guid := range g.nodes {
		if _, seen := visited.Load(guid); !seen {
			dark = append(dark, guid)
		}
	}
	sort.Strings(dark)
	return dark, nil
}
