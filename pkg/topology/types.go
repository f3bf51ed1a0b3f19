package topology

import (
	"strings"
	"sync"
)

// NodeKind represents the hardware class of a fabric node
type NodeKind uint8

const (
	KindSwitch NodeKind = iota
	KindAdapter
	KindGPU
)

// String returns the string representation of a node kind
func (k NodeKind) String() string {
	switch k {
	case KindSwitch:
		return "Switch"
	case KindAdapter:
		return "Adapter"
	case KindGPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// ParseKind resolves the string form of a node kind
func ParseKind(s string) (NodeKind, bool) {
	switch s {
	case "Switch":
		return KindSwitch, true
	case "Adapter":
		return KindAdapter, true
	case "GPU":
		return KindGPU, true
	default:
		return 0, false
	}
}

// Role is the structural role inferred for a node from connectivity evidence.
// Raw dumps never state these labels; they are recovered by the classifier.
type Role uint8

const (
	// RoleNone marks a node the classifier has not resolved. Adapter
	// and GPU endpoints keep it for life; the state machine only
	// labels switches.
	RoleNone Role = iota
	RoleLeaf
	RoleSpine
	RoleCore
	RoleNVLinkSW
	RoleUFM
	RoleAggregateAlias
	// RoleUnknown is the terminal fallback for genuinely ambiguous
	// topologies. It is a valid outcome, not an error.
	RoleUnknown
)

// String returns the string representation of a role
func (r Role) String() string {
	switch r {
	case RoleNone:
		return "None"
	case RoleLeaf:
		return "LEAF"
	case RoleSpine:
		return "SPINE"
	case RoleCore:
		return "CORE"
	case RoleNVLinkSW:
		return "NVLinkSW"
	case RoleUFM:
		return "UFM"
	case RoleAggregateAlias:
		return "AggregateAlias"
	case RoleUnknown:
		return "Unknown"
	default:
		return "Unknown"
	}
}

// ParseRole resolves the string form of a role
func ParseRole(s string) (Role, bool) {
	switch s {
	case "None":
		return RoleNone, true
	case "LEAF":
		return RoleLeaf, true
	case "SPINE":
		return RoleSpine, true
	case "CORE":
		return RoleCore, true
	case "NVLinkSW":
		return RoleNVLinkSW, true
	case "UFM":
		return RoleUFM, true
	case "AggregateAlias":
		return RoleAggregateAlias, true
	case "Unknown":
		return RoleUnknown, true
	default:
		return 0, false
	}
}

// resolved reports whether a role is definite. Resolved roles are
// write-once: the classifier never downgrades them.
func (r Role) resolved() bool {
	return r != RoleNone
}

// Node represents one fabric device: a switch, a channel adapter, or a GPU
// endpoint in an NVLink domain. Nodes are created during parsing and live
// for the whole analysis session; the Graph registry uniquely owns them.
type Node struct {
	// GUID is the canonical node GUID and the registry key.
	GUID string
	// SystemGUID identifies the physical chassis. Multi-ASIC devices
	// expose several node GUIDs sharing one system GUID.
	SystemGUID string

	Kind     NodeKind
	Role     Role
	VendorID uint32
	DeviceID uint32

	// Description is the free-text label from the dump; the display
	// name is derived from it lazily and cached.
	Description string

	// LID is the scalar LID for Switch and Adapter nodes.
	LID int
	// LIDs collects per-port LIDs for GPU nodes; NVLink ports are not
	// LID-uniform, so each port carries its own.
	LIDs []int

	// Rack is the NVLink rack index, nil outside NVLink domains.
	Rack *int

	// HasPlaneTracking is true while plane inference considers this
	// switch a usable multi-ASIC plane member.
	HasPlaneTracking bool

	// ID is the dense sequential vertex id assigned at registration.
	// Ids strictly increase with registration order and are never reused.
	ID uint64

	// Children maps a local port number to the outgoing edge on it.
	Children map[int]*Edge

	nameOnce sync.Once
	name     string
}

// NewNode creates a node with an initialized port map. The guid and system
// guid must already be canonical; Register enforces that.
func NewNode(guid, systemGUID string, kind NodeKind) *Node {
	return &Node{
		GUID:       guid,
		SystemGUID: systemGUID,
		Kind:       kind,
		Children:   make(map[int]*Edge),
	}
}

// Name returns the display name derived from the node description:
// "MF0;leaf01:MQM8700/U1" yields "leaf01", "node001 mlx5_0" yields
// "node001". Falls back to the GUID when the description is empty.
func (n *Node) Name() string {
	n.nameOnce.Do(func() {
		n.name = deriveName(n.Description)
		if n.name == "" {
			n.name = n.GUID
		}
	})
	return n.name
}

// assignRole sets the role if the node is still unresolved and reports
// whether it was applied. Definite roles never regress.
func (n *Node) assignRole(r Role) bool {
	if n.Role.resolved() {
		return false
	}
	n.Role = r
	return true
}

// AddLID records a per-port LID. GPU nodes accumulate the ordered list;
// other kinds keep the first scalar seen.
func (n *Node) AddLID(lid int) {
	if lid <= 0 {
		return
	}
	if n.Kind == KindGPU {
		for _, l := range n.LIDs {
			if l == lid {
				return
			}
		}
		n.LIDs = append(n.LIDs, lid)
		return
	}
	if n.LID == 0 {
		n.LID = lid
	}
}

// Edge represents one direction of a physical link. The parser always
// inserts edges in complementary pairs, so for every edge src→peer with
// ports (p,q) the peer holds the mirror edge with ports (q,p).
type Edge struct {
	SrcPort int
	DstPort int
	// Speed is the link width/rate token from the dump, e.g. "4xHDR".
	Speed string
	// Disabled marks intra-chassis ASIC-to-ASIC links, which are
	// excluded from traffic and role accounting.
	Disabled bool
	// Plane is the inferred plane id, 0 while unassigned. It is set at
	// most once; a conflicting second assignment is an invariant
	// violation, not valid input.
	Plane int
	// Peer is a non-owning reference to the neighbor node. The Graph
	// registry owns node lifetime, never the edge.
	Peer *Node
}

// setPlane labels the edge with a plane id. Relabeling with the same value
// is a no-op; a different value reports a conflict.
func (e *Edge) setPlane(plane int) error {
	if e.Plane == plane {
		return nil
	}
	if e.Plane != 0 {
		return &TopoError{
			Op:    "plane-assign",
			GUID:  e.Peer.GUID,
			Port:  e.SrcPort,
			Cause: ErrPlaneConflict,
		}
	}
	e.Plane = plane
	return nil
}

// ConnKey addresses one endpoint of the connection index.
type ConnKey struct {
	GUID string
	Port int
}

// deriveName extracts the short display name from a dump description.
func deriveName(desc string) string {
	s := strings.TrimSpace(desc)
	if s == "" {
		return ""
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
