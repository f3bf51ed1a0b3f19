package api

import (
	"errors"
	"sort"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// ErrNoGraph means no analysis run has published a graph yet
var ErrNoGraph = errors.New("no graph published yet")

// portEdge carries an edge together with its source node, so the
// connection type can expose both sides.
type portEdge struct {
	src  *topology.Node
	edge *topology.Edge
}

// buildSchema wires the read-only query surface over whatever graph
// generation the server currently holds.
func buildSchema(s *Server) (graphql.Schema, error) {
	nodeType := createNodeType()
	connectionType := createConnectionType(nodeType)
	hopType := createHopType()
	statsType := createStatsType()

	// node -> ports -> connection -> peer -> node closes a cycle, so
	// the ports field lands after both types exist
	nodeType.AddFieldConfig("ports", &graphql.Field{
		Type: graphql.NewList(connectionType),
		Resolve: func(p graphql.ResolveParams) (any, error) {
			n, ok := p.Source.(*topology.Node)
			if !ok {
				return nil, nil
			}
			out := make([]portEdge, 0, len(n.Children))
			for _, port := range sortedPorts(n) {
				out = append(out, portEdge{src: n, edge: n.Children[port]})
			}
			return out, nil
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"node": &graphql.Field{
				Type: nodeType,
				Args: graphql.FieldConfigArgument{
					"guid": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
				},
				Resolve: s.resolveNode,
			},
			"nodes": &graphql.Field{
				Type: graphql.NewList(nodeType),
				Args: graphql.FieldConfigArgument{
					"kind": &graphql.ArgumentConfig{Type: graphql.String},
					"role": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: s.resolveNodes,
			},
			"connection": &graphql.Field{
				Type: connectionType,
				Args: graphql.FieldConfigArgument{
					"guid": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
					"port": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.Int),
					},
				},
				Resolve: s.resolveConnection,
			},
			"route": &graphql.Field{
				Type: graphql.NewList(hopType),
				Args: graphql.FieldConfigArgument{
					"from": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
					"to": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
				},
				Resolve: s.resolveRoute,
			},
			"stats": &graphql.Field{
				Type:    statsType,
				Resolve: s.resolveStats,
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}

func createNodeType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Node",
		Fields: graphql.Fields{
			"guid": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if n, ok := p.Source.(*topology.Node); ok {
						return n.GUID, nil
					}
					return nil, nil
				},
			},
			"systemGuid": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if n, ok := p.Source.(*topology.Node); ok {
						return n.SystemGUID, nil
					}
					return nil, nil
				},
			},
			"name": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if n, ok := p.Source.(*topology.Node); ok {
						return n.Name(), nil
					}
					return nil, nil
				},
			},
			"kind": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if n, ok := p.Source.(*topology.Node); ok {
						return n.Kind.String(), nil
					}
					return nil, nil
				},
			},
			"role": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if n, ok := p.Source.(*topology.Node); ok {
						return n.Role.String(), nil
					}
					return nil, nil
				},
			},
			"description": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if n, ok := p.Source.(*topology.Node); ok {
						return n.Description, nil
					}
					return nil, nil
				},
			},
			"lid": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if n, ok := p.Source.(*topology.Node); ok {
						return n.LID, nil
					}
					return nil, nil
				},
			},
			"lids": &graphql.Field{
				Type: graphql.NewList(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if n, ok := p.Source.(*topology.Node); ok {
						return n.LIDs, nil
					}
					return nil, nil
				},
			},
			"rack": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if n, ok := p.Source.(*topology.Node); ok && n.Rack != nil {
						return *n.Rack, nil
					}
					return nil, nil
				},
			},
			"deviceId": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if n, ok := p.Source.(*topology.Node); ok {
						return int(n.DeviceID), nil
					}
					return nil, nil
				},
			},
		},
	})
}

func createConnectionType(nodeType *graphql.Object) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Connection",
		Fields: graphql.Fields{
			"srcGuid": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if pe, ok := p.Source.(portEdge); ok {
						return pe.src.GUID, nil
					}
					return nil, nil
				},
			},
			"srcPort": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if pe, ok := p.Source.(portEdge); ok {
						return pe.edge.SrcPort, nil
					}
					return nil, nil
				},
			},
			"dstPort": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if pe, ok := p.Source.(portEdge); ok {
						return pe.edge.DstPort, nil
					}
					return nil, nil
				},
			},
			"speed": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if pe, ok := p.Source.(portEdge); ok {
						return pe.edge.Speed, nil
					}
					return nil, nil
				},
			},
			"disabled": &graphql.Field{
				Type: graphql.Boolean,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if pe, ok := p.Source.(portEdge); ok {
						return pe.edge.Disabled, nil
					}
					return nil, nil
				},
			},
			"plane": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if pe, ok := p.Source.(portEdge); ok {
						return pe.edge.Plane, nil
					}
					return nil, nil
				},
			},
			"peer": &graphql.Field{
				Type: nodeType,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if pe, ok := p.Source.(portEdge); ok {
						return pe.edge.Peer, nil
					}
					return nil, nil
				},
			},
		},
	})
}

func createHopType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Hop",
		Fields: graphql.Fields{
			"guid": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if h, ok := p.Source.(topology.Hop); ok {
						return h.GUID, nil
					}
					return nil, nil
				},
			},
			"name": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if h, ok := p.Source.(topology.Hop); ok {
						return h.Name, nil
					}
					return nil, nil
				},
			},
			"role": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if h, ok := p.Source.(topology.Hop); ok {
						return h.Role, nil
					}
					return nil, nil
				},
			},
			"entryPort": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if h, ok := p.Source.(topology.Hop); ok {
						return h.EntryPort, nil
					}
					return nil, nil
				},
			},
			"exitPort": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if h, ok := p.Source.(topology.Hop); ok {
						return h.ExitPort, nil
					}
					return nil, nil
				},
			},
		},
	})
}

func createStatsType() *graphql.Object {
	fields := graphql.Fields{}
	intField := func(get func(gen *generation) int) *graphql.Field {
		return &graphql.Field{
			Type: graphql.Int,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				if gen, ok := p.Source.(*generation); ok {
					return get(gen), nil
				}
				return nil, nil
			},
		}
	}
	fields["nodes"] = intField(func(gen *generation) int { return gen.graph.Stats().Nodes })
	fields["links"] = intField(func(gen *generation) int { return gen.graph.Stats().Links })
	fields["switches"] = intField(func(gen *generation) int { return gen.graph.Stats().Switches })
	fields["adapters"] = intField(func(gen *generation) int { return gen.graph.Stats().Adapters })
	fields["gpus"] = intField(func(gen *generation) int { return gen.graph.Stats().GPUs })
	fields["fabricManagers"] = intField(func(gen *generation) int { return gen.graph.Stats().FabricManagers })
	fields["runId"] = &graphql.Field{
		Type: graphql.String,
		Resolve: func(p graphql.ResolveParams) (any, error) {
			if gen, ok := p.Source.(*generation); ok {
				return gen.runID, nil
			}
			return nil, nil
		},
	}
	fields["builtAt"] = &graphql.Field{
		Type: graphql.String,
		Resolve: func(p graphql.ResolveParams) (any, error) {
			if gen, ok := p.Source.(*generation); ok {
				return gen.builtAt.Format(time.RFC3339), nil
			}
			return nil, nil
		},
	}
	return graphql.NewObject(graphql.ObjectConfig{Name: "Stats", Fields: fields})
}

func (s *Server) mustGraph() (*topology.Graph, error) {
	gen := s.generation()
	if gen == nil {
		return nil, ErrNoGraph
	}
	return gen.graph, nil
}

func (s *Server) resolveNode(p graphql.ResolveParams) (any, error) {
	g, err := s.mustGraph()
	if err != nil {
		return nil, err
	}
	guid, _ := p.Args["guid"].(string)
	n, err := g.GetNode(guid)
	if err != nil {
		if errors.Is(err, topology.ErrNodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}

func (s *Server) resolveNodes(p graphql.ResolveParams) (any, error) {
	g, err := s.mustGraph()
	if err != nil {
		return nil, err
	}
	kind, _ := p.Args["kind"].(string)
	role, _ := p.Args["role"].(string)

	var out []*topology.Node
	for _, n := range g.Nodes() {
		if kind != "" && n.Kind.String() != kind {
			continue
		}
		if role != "" && n.Role.String() != role {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Server) resolveConnection(p graphql.ResolveParams) (any, error) {
	g, err := s.mustGraph()
	if err != nil {
		return nil, err
	}
	guid, _ := p.Args["guid"].(string)
	port, _ := p.Args["port"].(int)

	n, err := g.GetNode(guid)
	if err != nil {
		if errors.Is(err, topology.ErrNodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	e, err := g.GetChild(guid, port)
	if err != nil {
		if errors.Is(err, topology.ErrConnectionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return portEdge{src: n, edge: e}, nil
}

func (s *Server) resolveRoute(p graphql.ResolveParams) (any, error) {
	g, err := s.mustGraph()
	if err != nil {
		return nil, err
	}
	from, _ := p.Args["from"].(string)
	to, _ := p.Args["to"].(string)

	route, err := topology.TraceRoute(g, from, to)
	if err != nil {
		return nil, err
	}
	return route.Hops, nil
}

func (s *Server) resolveStats(p graphql.ResolveParams) (any, error) {
	gen := s.generation()
	if gen == nil {
		return nil, ErrNoGraph
	}
	return gen, nil
}

func sortedPorts(n *topology.Node) []int {
	ports := make([]int, 0, len(n.Children))
	for p := range n.Children {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}
