package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/snapshot"
)

func inprocAddr(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("inproc://%s", strings.ReplaceAll(t.Name(), "/", "-"))
}

func newTestPublisher(t *testing.T) (*Publisher, string) {
	t.Helper()
	addr := inprocAddr(t)
	p, err := NewPublisher(addr, logging.NewNopLogger(), metrics.NewRegistry())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, addr
}

// subscribe dials the publisher and filters on topic. The brief pause
// lets the subscription propagate before the test publishes; pub
// sockets silently drop frames sent before that.
func subscribe(t *testing.T, addr, topic string) mangos.Socket {
	t.Helper()
	sock, err := sub.NewSocket()
	if err != nil {
		t.Fatalf("sub socket: %v", err)
	}
	t.Cleanup(func() { sock.Close() })

	if err := sock.Dial(addr); err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	if err := sock.SetOption(mangos.OptionSubscribe, []byte(topic)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, 2*time.Second); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	return sock
}

// recvFrame receives one frame and splits the topic prefix off
func recvFrame(t *testing.T, sock mangos.Socket) (string, []byte) {
	t.Helper()
	frame, err := sock.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	idx := bytes.IndexByte(frame, ':')
	if idx < 0 {
		t.Fatalf("frame without topic prefix: %q", frame)
	}
	return string(frame[:idx]), frame[idx+1:]
}

func TestRunStartedFrame(t *testing.T) {
	p, addr := newTestPublisher(t)
	sock := subscribe(t, addr, TopicRun+":")

	if err := p.RunStarted("run-42", "digest-abc"); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}

	topic, payload := recvFrame(t, sock)
	if topic != TopicRun {
		t.Errorf("topic = %q, want %q", topic, TopicRun)
	}

	var ev RunStarted
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != "run_started" || ev.RunID != "run-42" || ev.SourceDigest != "digest-abc" {
		t.Errorf("event = %+v", ev)
	}
	if ev.EmittedAt.IsZero() {
		t.Error("emitted_at not set")
	}
}

func TestTableSummaries(t *testing.T) {
	p, addr := newTestPublisher(t)
	sock := subscribe(t, addr, "")

	doc := &snapshot.Document{
		RunID: "run-7",
		Nodes: []snapshot.NodeRecord{
			{GUID: "0x1", Kind: "Switch"},
			{GUID: "0x2", Kind: "Switch"},
			{GUID: "0x10", Kind: "Adapter"},
			{GUID: "0x20", Kind: "GPU"},
		},
		Links: []snapshot.LinkRecord{
			{SrcGUID: "0x1", SrcPort: 1, DstGUID: "0x2", DstPort: 7},
			{SrcGUID: "0x2", SrcPort: 7, DstGUID: "0x1", DstPort: 1},
			{SrcGUID: "0x1", SrcPort: 2, DstGUID: "0x10", DstPort: 1, Disabled: true},
			{SrcGUID: "0x10", SrcPort: 1, DstGUID: "0x1", DstPort: 2, Disabled: true},
		},
	}
	if err := p.TableSummaries(doc); err != nil {
		t.Fatalf("TableSummaries: %v", err)
	}

	topic, payload := recvFrame(t, sock)
	if topic != TopicNodes {
		t.Fatalf("first topic = %q, want %q", topic, TopicNodes)
	}
	var nodes NodeTable
	if err := json.Unmarshal(payload, &nodes); err != nil {
		t.Fatalf("decode nodes: %v", err)
	}
	if nodes.Nodes != 4 || nodes.Switches != 2 || nodes.Adapters != 1 || nodes.GPUs != 1 {
		t.Errorf("node table = %+v", nodes)
	}
	if nodes.RunID != "run-7" {
		t.Errorf("node table run = %q", nodes.RunID)
	}

	topic, payload = recvFrame(t, sock)
	if topic != TopicLinks {
		t.Fatalf("second topic = %q, want %q", topic, TopicLinks)
	}
	var links LinkTable
	if err := json.Unmarshal(payload, &links); err != nil {
		t.Fatalf("decode links: %v", err)
	}
	if links.Links != 4 || links.Disabled != 2 {
		t.Errorf("link table = %+v", links)
	}
	if links.Type != "edge_table" {
		t.Errorf("link table type = %q", links.Type)
	}
}

func TestRoleChangesPublished(t *testing.T) {
	p, addr := newTestPublisher(t)
	sock := subscribe(t, addr, TopicRoles+":")

	prev := &snapshot.Document{
		RunID: "run-1",
		Nodes: []snapshot.NodeRecord{
			{GUID: "0x1", Kind: "Switch", Role: "LEAF"},
			{GUID: "0x2", Kind: "Switch", Role: "SPINE"},
		},
	}
	curr := &snapshot.Document{
		RunID: "run-2",
		Nodes: []snapshot.NodeRecord{
			{GUID: "0x1", Kind: "Switch", Role: "SPINE"},
			{GUID: "0x2", Kind: "Switch", Role: "SPINE"},
		},
	}

	n, err := p.RoleChanges(prev, curr)
	if err != nil {
		t.Fatalf("RoleChanges: %v", err)
	}
	if n != 1 {
		t.Fatalf("published %d changes, want 1", n)
	}

	_, payload := recvFrame(t, sock)
	var ev RoleChange
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.GUID != "0x1" || ev.Previous != "LEAF" || ev.Current != "SPINE" {
		t.Errorf("event = %+v", ev)
	}
	if ev.RunID != "run-2" {
		t.Errorf("run id = %q, want the new run", ev.RunID)
	}
}

func TestDiffRoles(t *testing.T) {
	prev := &snapshot.Document{Nodes: []snapshot.NodeRecord{
		{GUID: "0x1", Role: "LEAF"},
		{GUID: "0x2", Role: "SPINE"},
		{GUID: "0x3", Role: "CORE"},
	}}
	curr := &snapshot.Document{Nodes: []snapshot.NodeRecord{
		{GUID: "0x1", Role: "SPINE"},
		{GUID: "0x2", Role: "SPINE"},
		{GUID: "0x4", Role: "LEAF"},
	}}

	changes := diffRoles(prev, curr)
	if len(changes) != 1 {
		t.Fatalf("changes = %v, want exactly the 0x1 move", changes)
	}
	if changes[0].GUID != "0x1" || changes[0].Previous != "LEAF" || changes[0].Current != "SPINE" {
		t.Errorf("change = %+v", changes[0])
	}

	if got := diffRoles(nil, curr); got != nil {
		t.Errorf("nil previous should yield no changes, got %v", got)
	}
	if got := diffRoles(prev, nil); got != nil {
		t.Errorf("nil current should yield no changes, got %v", got)
	}
	if got := diffRoles(prev, prev); got != nil {
		t.Errorf("identical documents should yield no changes, got %v", got)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	p, _ := newTestPublisher(t)

	done := make(chan error, 1)
	go func() { done <- p.RunStarted("run-1", "d") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("publish without subscribers: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}
