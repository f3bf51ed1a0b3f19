// Package stream publishes topology lifecycle events over a mangos pub
// socket. Frames are a topic prefix plus JSON, "<topic>:{...}", so
// subscribers filter with a plain prefix subscription. Pub sockets drop
// frames when nobody listens; the agent never blocks on a consumer.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"

	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/snapshot"
)

// Topic prefixes, one per event family
const (
	TopicRun   = "run"
	TopicNodes = "nodes"
	TopicLinks = "links"
	TopicRoles = "roles"
)

// RunStarted announces a fresh analysis run
type RunStarted struct {
	Type         string    `json:"type"`
	RunID        string    `json:"run_id"`
	SourceDigest string    `json:"source_digest"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// NodeTable summarizes the node population of a finished run
type NodeTable struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Nodes     int       `json:"nodes"`
	Switches  int       `json:"switches"`
	Adapters  int       `json:"adapters"`
	GPUs      int       `json:"gpus"`
	EmittedAt time.Time `json:"emitted_at"`
}

// LinkTable summarizes the link population of a finished run
type LinkTable struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Links     int       `json:"links"`
	Disabled  int       `json:"disabled"`
	EmittedAt time.Time `json:"emitted_at"`
}

// RoleChange reports one switch whose inferred role moved between runs
type RoleChange struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	GUID      string    `json:"guid"`
	Previous  string    `json:"previous"`
	Current   string    `json:"current"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Publisher owns the pub socket bound to the stream address
type Publisher struct {
	sock    mangos.Socket
	addr    string
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewPublisher binds a pub socket to addr (tcp://, ipc:// or inproc://)
func NewPublisher(addr string, logger logging.Logger, m *metrics.Registry) (*Publisher, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}

	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create pub socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	logger.Info("event stream bound", logging.String("addr", addr))
	return &Publisher{sock: sock, addr: addr, logger: logger, metrics: m}, nil
}

// Close shuts the socket down
func (p *Publisher) Close() error {
	return p.sock.Close()
}

// RunStarted publishes the run kickoff event
func (p *Publisher) RunStarted(runID, sourceDigest string) error {
	return p.publish(TopicRun, "run_started", RunStarted{
		Type:         "run_started",
		RunID:        runID,
		SourceDigest: sourceDigest,
		EmittedAt:    time.Now().UTC(),
	})
}

// TableSummaries publishes the node and link table events for one run
func (p *Publisher) TableSummaries(doc *snapshot.Document) error {
	now := time.Now().UTC()

	nodes := NodeTable{Type: "node_table", RunID: doc.RunID, EmittedAt: now}
	for _, n := range doc.Nodes {
		nodes.Nodes++
		switch n.Kind {
		case "Switch":
			nodes.Switches++
		case "Adapter":
			nodes.Adapters++
		case "GPU":
			nodes.GPUs++
		}
	}
	if err := p.publish(TopicNodes, "node_table", nodes); err != nil {
		return err
	}

	links := LinkTable{Type: "edge_table", RunID: doc.RunID, EmittedAt: now}
	for _, l := range doc.Links {
		links.Links++
		if l.Disabled {
			links.Disabled++
		}
	}
	return p.publish(TopicLinks, "edge_table", links)
}

// RoleChanges diffs the new run against the previous snapshot and
// publishes one event per node whose role moved. Returns the number of
// changes published. Nodes only present on one side are not changes.
func (p *Publisher) RoleChanges(prev, curr *snapshot.Document) (int, error) {
	changes := diffRoles(prev, curr)
	now := time.Now().UTC()
	for _, c := range changes {
		c.RunID = curr.RunID
		c.EmittedAt = now
		if err := p.publish(TopicRoles, "role_changed", c); err != nil {
			return 0, err
		}
	}
	if len(changes) > 0 {
		p.logger.Info("role changes published",
			logging.RunID(curr.RunID),
			logging.Count(len(changes)))
	}
	return len(changes), nil
}

func (p *Publisher) publish(topic, eventType string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	frame := append([]byte(topic+":"), data...)
	if err := p.sock.Send(frame); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	p.metrics.RecordEventPublished(eventType)
	return nil
}

func diffRoles(prev, curr *snapshot.Document) []RoleChange {
	if prev == nil || curr == nil {
		return nil
	}
	before := make(map[string]string, len(prev.Nodes))
	for _, n := range prev.Nodes {
		before[n.GUID] = n.Role
	}

	var out []RoleChange
	for _, n := range curr.Nodes {
		was, ok := before[n.GUID]
		if !ok || was == n.Role {
			continue
		}
		out = append(out, RoleChange{
			Type:     "role_changed",
			GUID:     n.GUID,
			Previous: was,
			Current:  n.Role,
		})
	}
	return out
}
