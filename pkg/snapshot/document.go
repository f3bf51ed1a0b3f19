// Package snapshot persists parsed topology graphs so repeated analyses
// of an unchanged dump skip the parse and inference stages. A snapshot
// is a JSON document, snappy-compressed inside a checksummed frame, and
// keyed by the digest of the source artifacts that produced it.
package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// Document is the serialized form of one built graph
type Document struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	RunID        string    `json:"run_id"`
	SourceDigest string    `json:"source_digest"`

	Nodes      []NodeRecord `json:"nodes"`
	Links      []LinkRecord `json:"links"`
	FabricMgrs []string     `json:"fabric_managers,omitempty"`
}

// NodeRecord carries one node. Kind and role use their string forms so
// a decompressed snapshot reads without the enum tables at hand.
type NodeRecord struct {
	GUID        string `json:"guid"`
	SystemGUID  string `json:"system_guid"`
	Kind        string `json:"kind"`
	Role        string `json:"role"`
	VendorID    uint32 `json:"vendor_id,omitempty"`
	DeviceID    uint32 `json:"device_id,omitempty"`
	Description string `json:"description,omitempty"`
	LID         int    `json:"lid,omitempty"`
	LIDs        []int  `json:"lids,omitempty"`
	Rack        *int   `json:"rack,omitempty"`
	PlaneTrack  bool   `json:"plane_tracking,omitempty"`
}

// LinkRecord carries one directed edge. Snapshots keep both directions
// of every physical link, mirroring the in-memory form.
type LinkRecord struct {
	SrcGUID  string `json:"src_guid"`
	SrcPort  int    `json:"src_port"`
	DstGUID  string `json:"dst_guid"`
	DstPort  int    `json:"dst_port"`
	Speed    string `json:"speed,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	Plane    int    `json:"plane,omitempty"`
}

// Capture serializes the graph into a fresh document. Nodes are written
// in id order so Restore re-registers them deterministically.
func Capture(g *topology.Graph, runID, sourceDigest string) *Document {
	nodes := g.Nodes()
	doc := &Document{
		ID:           uuid.New().String(),
		CreatedAt:    time.Now().UTC(),
		RunID:        runID,
		SourceDigest: sourceDigest,
		Nodes:        make([]NodeRecord, 0, len(nodes)),
	}

	for _, n := range nodes {
		doc.Nodes = append(doc.Nodes, NodeRecord{
			GUID:        n.GUID,
			SystemGUID:  n.SystemGUID,
			Kind:        n.Kind.String(),
			Role:        n.Role.String(),
			VendorID:    n.VendorID,
			DeviceID:    n.DeviceID,
			Description: n.Description,
			LID:         n.LID,
			LIDs:        n.LIDs,
			Rack:        n.Rack,
			PlaneTrack:  n.HasPlaneTracking,
		})
		for _, port := range sortedPorts(n) {
			e := n.Children[port]
			doc.Links = append(doc.Links, LinkRecord{
				SrcGUID:  n.GUID,
				SrcPort:  port,
				DstGUID:  e.Peer.GUID,
				DstPort:  e.DstPort,
				Speed:    e.Speed,
				Disabled: e.Disabled,
				Plane:    e.Plane,
			})
		}
	}

	for _, fm := range g.FabricManagers() {
		doc.FabricMgrs = append(doc.FabricMgrs, fm.GUID)
	}
	return doc
}

// Restore rebuilds a graph from the document. The result is equivalent
// to the graph Capture saw: same nodes, ids, links, roles and labels.
func (d *Document) Restore(cfg topology.Config, logger logging.Logger) (*topology.Graph, error) {
	g := topology.NewGraph(cfg, logger)

	for _, rec := range d.Nodes {
		kind, ok := topology.ParseKind(rec.Kind)
		if !ok {
			return nil, fmt.Errorf("%w: node %s kind %q", ErrCorruptSnapshot, rec.GUID, rec.Kind)
		}
		role, ok := topology.ParseRole(rec.Role)
		if !ok {
			return nil, fmt.Errorf("%w: node %s role %q", ErrCorruptSnapshot, rec.GUID, rec.Role)
		}

		n := topology.NewNode(rec.GUID, rec.SystemGUID, kind)
		n.VendorID = rec.VendorID
		n.DeviceID = rec.DeviceID
		n.Description = rec.Description
		n.LID = rec.LID
		n.LIDs = rec.LIDs
		n.Rack = rec.Rack
		g.Register(n)
		// the stored role wins over anything registration inferred
		n.Role = role
		n.HasPlaneTracking = rec.PlaneTrack
	}

	seen := make(map[[2]string]bool, len(d.Links)/2)
	for _, l := range d.Links {
		fwd := [2]string{endpointKey(l.SrcGUID, l.SrcPort), endpointKey(l.DstGUID, l.DstPort)}
		rev := [2]string{fwd[1], fwd[0]}
		if seen[fwd] || seen[rev] {
			continue
		}
		seen[fwd] = true
		if err := g.AddLink(l.SrcGUID, l.SrcPort, l.DstGUID, l.DstPort, 0, l.Speed); err != nil {
			return nil, fmt.Errorf("%w: link %s[%d]: %v", ErrCorruptSnapshot, l.SrcGUID, l.SrcPort, err)
		}
	}

	// per-direction labels reapplied after the symmetric insert
	for _, l := range d.Links {
		e, err := g.GetChild(l.SrcGUID, l.SrcPort)
		if err != nil {
			return nil, fmt.Errorf("%w: missing edge %s[%d]", ErrCorruptSnapshot, l.SrcGUID, l.SrcPort)
		}
		e.Plane = l.Plane
		e.Disabled = l.Disabled
	}

	for _, guid := range d.FabricMgrs {
		if err := g.MarkFabricManager(guid); err != nil {
			return nil, fmt.Errorf("%w: fabric manager %s", ErrCorruptSnapshot, guid)
		}
	}
	return g, nil
}

func endpointKey(guid string, port int) string {
	return fmt.Sprintf("%s/%d", guid, port)
}

func sortedPorts(n *topology.Node) []int {
	ports := make([]int, 0, len(n.Children))
	for p := range n.Children {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}
