package topology

import (
	"runtime"
	"sync"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

// Config holds tunable parameters for graph construction and inference
type Config struct {
	// MultiPlaneDeviceIDs lists switch device ids that expose multiple
	// ASIC planes behind one chassis. Only these participate in plane
	// inference.
	MultiPlaneDeviceIDs []uint32

	// RackGPUThreshold is the GPU population above which the fabric is
	// treated as an NVLink domain and rack grouping runs.
	RackGPUThreshold int

	// MaterializeWorkers bounds the table-expansion pool. Zero or
	// negative selects the available hardware parallelism.
	MaterializeWorkers int
}

// DefaultConfig returns the configuration used by production analyses
func DefaultConfig() Config {
	return Config{
		MultiPlaneDeviceIDs: []uint32{0xd2f4},
		RackGPUThreshold:    30,
		MaterializeWorkers:  0,
	}
}

// workers resolves the effective pool size
func (c Config) workers() int {
	if c.MaterializeWorkers > 0 {
		return c.MaterializeWorkers
	}
	return runtime.NumCPU()
}

// multiPlane reports whether the device id belongs to a multi-plane part
func (c Config) multiPlane(deviceID uint32) bool {
	for _, id := range c.MultiPlaneDeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// Graph is the GUID-keyed registry for one analysis session. Construction
// is sequential; once built, the registry is safe for concurrent readers.
type Graph struct {
	mu sync.RWMutex

	// nodes maps canonical GUID to the uniquely owned node.
	nodes map[string]*Node
	// bySystem groups registered nodes by chassis identity, in
	// registration order. Drives multi-ASIC alias detection.
	bySystem map[string][]*Node
	// conns mirrors every directed edge for O(1) peer lookup.
	conns map[ConnKey]*Node
	// fabricMgrs holds the Master/Standby SM endpoints.
	fabricMgrs map[string]*Node

	filter *Filter

	nextID uint64
	links  int
	gpus   int

	cfg    Config
	logger logging.Logger
}

// NewGraph creates an empty graph with the given configuration. A nil
// logger disables logging.
func NewGraph(cfg Config, logger logging.Logger) *Graph {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.RackGPUThreshold == 0 {
		cfg.RackGPUThreshold = DefaultConfig().RackGPUThreshold
	}
	return &Graph{
		nodes:      make(map[string]*Node),
		bySystem:   make(map[string][]*Node),
		conns:      make(map[ConnKey]*Node),
		fabricMgrs: make(map[string]*Node),
		cfg:        cfg,
		logger:     logger,
	}
}

// Stats summarizes the registry contents
type Stats struct {
	Nodes          int `json:"nodes"`
	Links          int `json:"links"`
	Switches       int `json:"switches"`
	Adapters       int `json:"adapters"`
	GPUs           int `json:"gpus"`
	FabricManagers int `json:"fabric_managers"`
	Filtered       bool `json:"filtered"`
}

// Stats returns current registry counts
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		Nodes:          len(g.nodes),
		Links:          g.links,
		GPUs:           g.gpus,
		FabricManagers: len(g.fabricMgrs),
		Filtered:       g.filter != nil,
	}
	for _, n := range g.nodes {
		switch n.Kind {
		case KindSwitch:
			s.Switches++
		case KindAdapter:
			s.Adapters++
		}
	}
	return s
}

// Config returns the configuration the graph was built with
func (g *Graph) Config() Config {
	return g.cfg
}
