package core

import (
	"errors"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/encodeous/spark/sparkio"
	"github.com/encodeous/spark/state"
)

const (
	iface1 = "iface1"
	iface2 = "iface2"

	ifIndex1 = 1
	ifIndex2 = 2

	testDomain = "Fire_and_Blood"
)

var (
	ip1V4 = netip.MustParsePrefix("192.168.0.1/24")
	ip2V4 = netip.MustParsePrefix("192.168.0.2/24")
	ip1V6 = netip.MustParseAddr("fe80::1")
	ip2V6 = netip.MustParseAddr("fe80::2")

	rec1 = state.InterfaceRecord{Name: iface1, IfIndex: ifIndex1, V4Cidr: ip1V4, V6LinkLocal: ip1V6}
	rec2 = state.InterfaceRecord{Name: iface2, IfIndex: ifIndex2, V4Cidr: ip2V4, V6LinkLocal: ip2V6}
)

func testCfg(domain, node string) state.SparkCfg {
	cfg := state.SparkCfg{
		Domain:       domain,
		Node:         node,
		EnableV4:     true,
		EnableSpark2: true,
	}
	state.ExpandConfig(&cfg)
	return cfg
}

// testNode runs one full agent over a shared mock hub, in the style of the
// in-memory virtual network harness.
type testNode struct {
	t    *testing.T
	name string
	s    *state.State
	sub  *state.EventSubscription
	done chan error
}

func startNode(t *testing.T, hub *sparkio.MockHub, cfg state.SparkCfg) *testNode {
	t.Helper()
	if err := state.ConfigValidator(&cfg); err != nil {
		t.Fatal(err)
	}
	n := &testNode{
		t:    t,
		name: cfg.Node,
		done: make(chan error, 1),
	}
	provider := hub.Provider()
	go func() {
		n.done <- Start(cfg, slog.LevelDebug, provider, &n.s)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if n.s != nil && n.s.Started.Load() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("node %s did not start", cfg.Node)
		}
		time.Sleep(5 * time.Millisecond)
	}
	n.sub = n.spark().SubscribeNeighborEvents(state.EventQueueSize)
	t.Cleanup(n.stop)
	return n
}

func (n *testNode) spark() *Spark {
	return Get[*Spark](n.s)
}

func (n *testNode) updateInterfaceDb(recs ...state.InterfaceRecord) bool {
	return n.spark().UpdateInterfaceDb(recs)
}

// stop shuts the node down gracefully; its exit path advertises
// restarting=true to peers.
func (n *testNode) stop() {
	if n.s.Stopping.Load() {
		return
	}
	n.s.Cancel(errors.New("test teardown"))
	select {
	case <-n.done:
	case <-time.After(5 * time.Second):
		n.t.Errorf("node %s did not stop", n.name)
	}
}

// waitForEvent discards events until one of the wanted type arrives, or
// returns nil at the deadline.
func (n *testNode) waitForEvent(typ state.NeighborEventType, timeout time.Duration) *state.NeighborEvent {
	n.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-n.sub.C:
			if !ok {
				return nil
			}
			if ev.Type == typ {
				return &ev
			}
		case <-deadline:
			return nil
		}
	}
}

func (n *testNode) expectEvent(typ state.NeighborEventType, timeout time.Duration) state.NeighborEvent {
	n.t.Helper()
	ev := n.waitForEvent(typ, timeout)
	if ev == nil {
		n.t.Fatalf("node %s: timed out waiting for %s", n.name, typ)
	}
	return *ev
}

func (n *testNode) expectNoEvent(typ state.NeighborEventType, within time.Duration) {
	n.t.Helper()
	if ev := n.waitForEvent(typ, within); ev != nil {
		n.t.Fatalf("node %s: unexpected %s for %s", n.name, ev.Type, ev.Neighbor.NodeName)
	}
}

func (n *testNode) neighState(ifName, peer string) (state.SparkNeighState, bool) {
	return n.spark().GetSparkNeighState(ifName, peer)
}

// connectedHub wires iface1 and iface2 back to back with the given one-way
// delays.
func connectedHub(d12, d21 time.Duration) *sparkio.MockHub {
	hub := sparkio.NewMockHub(state.DefaultMcastPort)
	hub.SetConnectedPairs(map[string][]sparkio.MockConnection{
		iface1: {{IfName: iface2, Latency: d12}},
		iface2: {{IfName: iface1, Latency: d21}},
	})
	return hub
}

// startConnectedPair brings up node-1/node-2 over a 10ms link and waits for
// the mutual adjacency, mirroring the common fixture of the scenarios.
func startConnectedPair(t *testing.T, hub *sparkio.MockHub) (*testNode, *testNode) {
	t.Helper()
	node1 := startNode(t, hub, testCfg(testDomain, "node-1"))
	node2 := startNode(t, hub, testCfg(testDomain, "node-2"))

	if !node1.updateInterfaceDb(rec1) {
		t.Fatal("node-1 rejected interface db")
	}
	if !node2.updateInterfaceDb(rec2) {
		t.Fatal("node-2 rejected interface db")
	}

	upTimeout := 2 * (state.DefaultHelloInterval + state.DefaultNegotiateHold)

	ev := node1.expectEvent(state.NeighborUp, upTimeout)
	if ev.IfName != iface1 || ev.Neighbor.NodeName != "node-2" {
		t.Fatalf("node-1 unexpected UP: %+v", ev)
	}
	if ev.Neighbor.TransportV4 != ip2V4.Addr() || ev.Neighbor.TransportV6 != ip2V6 {
		t.Fatalf("node-1 wrong transport addrs: %+v", ev.Neighbor)
	}

	ev = node2.expectEvent(state.NeighborUp, upTimeout)
	if ev.IfName != iface2 || ev.Neighbor.NodeName != "node-1" {
		t.Fatalf("node-2 unexpected UP: %+v", ev)
	}
	if ev.Neighbor.TransportV4 != ip1V4.Addr() || ev.Neighbor.TransportV6 != ip1V6 {
		t.Fatalf("node-2 wrong transport addrs: %+v", ev.Neighbor)
	}
	return node1, node2
}
