package core

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"slices"
	"time"

	"github.com/encodeous/spark/perf"
	"github.com/encodeous/spark/protocol"
	"github.com/encodeous/spark/sparkio"
	"github.com/encodeous/spark/state"
	"github.com/jellydator/ttlcache/v3"
)

// Spark owns neighbor discovery: per-interface hello emission, the
// handshake/heartbeat exchanges, the per-neighbor state machine and the
// event stream consumed by the rest of the routing stack. All mutable state
// is touched only on the dispatch loop.
type Spark struct {
	env      *state.Env
	provider sparkio.Provider
	registry *state.EventRegistry

	ifaces map[string]*sparkIface

	// seqNum is the instance-wide packet sequence; a restart begins a new
	// sequence space, which is how peers recognize us as a fresh instance.
	seqNum uint64

	// txTimes pairs a sent hello's sequence with its send time for RTT
	// estimation against the peer's reflection.
	txTimes *ttlcache.Cache[uint64, time.Time]

	// restarting flips during orderly shutdown so the final hellos carry
	// the graceful-restart advertisement.
	restarting bool
}

type sparkIface struct {
	rec       state.InterfaceRecord
	neighbors map[string]*state.SparkNeighbor

	helloTimer     *state.Timer
	heartbeatTimer *state.Timer

	// fastInitLeft counts down the accelerated hello phase.
	fastInitLeft    int
	lastSolicitedAt time.Time
}

func (sp *Spark) Init(s *state.State) error {
	s.Log.Debug("init spark")
	sp.env = s.Env
	sp.registry = state.NewEventRegistry()
	sp.ifaces = make(map[string]*sparkIface)
	sp.txTimes = ttlcache.New[uint64, time.Time](
		ttlcache.WithTTL[uint64, time.Time](state.HelloTxCacheTTL),
		ttlcache.WithDisableTouchOnHit[uint64, time.Time](),
	)

	go sp.recvLoop(s.Env)

	s.Env.RepeatTask(func(s *state.State) error {
		sp.txTimes.DeleteExpired()
		return nil
	}, time.Second)
	return nil
}

func (sp *Spark) Cleanup(s *state.State) error {
	// advertise the restart so peers hold our adjacency through GR
	sp.restarting = true
	for _, ifc := range sp.ifaces {
		sp.sendHelloOn(s, ifc, true)
	}
	for name := range sp.ifaces {
		sp.teardownIface(s, sp.ifaces[name], false)
		delete(sp.ifaces, name)
	}
	sp.registry.Close()
	return sp.provider.Close()
}

func (sp *Spark) recvLoop(e *state.Env) {
	for pkt := range sp.provider.Packets() {
		p := pkt
		e.Dispatch(func(s *state.State) error {
			return sp.handlePacket(s, p)
		})
	}
}

func (sp *Spark) nextSeq() uint64 {
	sp.seqNum++
	return sp.seqNum
}

func (sp *Spark) handlePacket(s *state.State, pkt sparkio.Packet) error {
	perf.PktRecvPerSecond.Add(1)
	ifc, ok := sp.ifaces[pkt.IfName]
	if !ok {
		return nil
	}
	msg, err := protocol.Decode(pkt.Data)
	if err != nil {
		perf.DecodeFailures.Add(1)
		s.Log.Debug("dropping malformed packet", "iface", pkt.IfName, "error", err)
		return nil
	}
	switch m := msg.(type) {
	case *protocol.HelloMsg:
		if !sp.admit(s, m.Domain, m.NodeName, m.Version) {
			return nil
		}
		return sp.processHello(s, ifc, m, pkt)
	case *protocol.HandshakeMsg:
		if !sp.admit(s, m.Domain, m.NodeName, m.Version) {
			return nil
		}
		return sp.processHandshake(s, ifc, m)
	case *protocol.HeartbeatMsg:
		if !sp.admit(s, m.Domain, m.NodeName, 0) {
			return nil
		}
		return sp.processHeartbeat(s, ifc, m, pkt)
	}
	return nil
}

// admit applies the checks every inbound packet must pass before any state
// is touched: domain match, self-loop guard and version floor.
func (sp *Spark) admit(s *state.State, domain, node string, version uint32) bool {
	if domain != s.Cfg.Domain {
		perf.DomainMismatch.Add(1)
		return false
	}
	if node == s.Cfg.Node {
		perf.LoopedPackets.Add(1)
		return false
	}
	if version != 0 && version < s.Cfg.MinSupportedVersion {
		s.Log.Debug("dropping packet below min supported version", "from", node, "version", version)
		return false
	}
	return true
}

// UpdateInterfaceDb replaces the tracked interface set. It returns false
// iff a record is malformed; the update is applied synchronously.
func (sp *Spark) UpdateInterfaceDb(recs []state.InterfaceRecord) bool {
	for i := range recs {
		if !recs[i].Valid(sp.env.Cfg.EnableV4) {
			sp.env.Log.Warn("rejecting malformed interface record", "name", recs[i].Name)
			return false
		}
	}
	_, err := sp.env.DispatchWait(func(s *state.State) (any, error) {
		sp.applyInterfaceDb(s, recs)
		return nil, nil
	})
	return err == nil
}

// SendNeighborDownInfo forces DOWN for any neighbor whose transport address
// matches, regardless of hold timers. Used by the link monitor for
// fast-fail.
func (sp *Spark) SendNeighborDownInfo(ips []netip.Addr) {
	sp.env.Dispatch(func(s *state.State) error {
		for _, ifc := range sp.ifaces {
			for _, n := range ifc.neighbors {
				if slices.Contains(ips, n.TransportV4) || slices.Contains(ips, n.TransportV6) {
					sp.neighborDown(s, ifc, n, "forced down")
				}
			}
		}
		return nil
	})
}

// GetSparkNeighState reports the state machine position for one neighbor.
func (sp *Spark) GetSparkNeighState(ifName, node string) (state.SparkNeighState, bool) {
	res, err := sp.env.DispatchWait(func(s *state.State) (any, error) {
		ifc, ok := sp.ifaces[ifName]
		if !ok {
			return nil, nil
		}
		n, ok := ifc.neighbors[node]
		if !ok {
			return nil, nil
		}
		return n.State, nil
	})
	if err != nil || res == nil {
		return 0, false
	}
	return res.(state.SparkNeighState), true
}

// SubscribeNeighborEvents attaches a new event subscriber. The publisher
// never blocks: the oldest event is dropped on overflow.
func (sp *Spark) SubscribeNeighborEvents(buffer int) *state.EventSubscription {
	return sp.registry.Subscribe(buffer)
}

func (sp *Spark) publish(s *state.State, ev state.NeighborEvent) {
	s.Log.Info("neighbor event", "type", ev.Type.String(), "iface", ev.IfName, "neighbor", ev.Neighbor.NodeName, "area", ev.Area, "rttUs", ev.RttUs)
	sp.registry.Publish(ev)
}

type NeighborSummary struct {
	IfName      string `json:"ifName"`
	Node        string `json:"node"`
	State       string `json:"state"`
	Area        string `json:"area,omitempty"`
	TransportV4 string `json:"transportV4,omitempty"`
	TransportV6 string `json:"transportV6,omitempty"`
	RttUs       int64  `json:"rttUs,omitempty"`
	Restarting  bool   `json:"restarting,omitempty"`
}

// NeighborsSnapshot copies the neighbor table off the loop.
func (sp *Spark) NeighborsSnapshot() []NeighborSummary {
	res, err := sp.env.DispatchWait(func(s *state.State) (any, error) {
		out := make([]NeighborSummary, 0)
		for _, ifc := range sp.ifaces {
			for _, n := range ifc.neighbors {
				sum := NeighborSummary{
					IfName:     n.IfName,
					Node:       n.Node,
					State:      n.State.String(),
					Area:       n.Area,
					RttUs:      n.Rtt.EstimateUs(),
					Restarting: n.Restarting,
				}
				if n.TransportV4.IsValid() {
					sum.TransportV4 = n.TransportV4.String()
				}
				if n.TransportV6.IsValid() {
					sum.TransportV6 = n.TransportV6.String()
				}
				out = append(out, sum)
			}
		}
		slices.SortFunc(out, func(a, b NeighborSummary) int {
			if a.IfName != b.IfName {
				if a.IfName < b.IfName {
					return -1
				}
				return 1
			}
			if a.Node < b.Node {
				return -1
			} else if a.Node > b.Node {
				return 1
			}
			return 0
		})
		return out, nil
	})
	if err != nil {
		return nil
	}
	return res.([]NeighborSummary)
}

func (sp *Spark) handleNeighborsHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sp.NeighborsSnapshot())
}
