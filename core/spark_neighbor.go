package core

import (
	"github.com/encodeous/spark/protocol"
	"github.com/encodeous/spark/sparkio"
	"github.com/encodeous/spark/state"
)

func (sp *Spark) newNeighbor(s *state.State, ifc *sparkIface, m *protocol.HelloMsg) *state.SparkNeighbor {
	n := &state.SparkNeighbor{
		Node:   m.NodeName,
		Domain: m.Domain,
		IfName: ifc.rec.Name,
		State:  state.NeighWarm,
	}
	n.NegotiateTimer = s.Env.NewTimer(func(s *state.State) error {
		return sp.negotiateExpired(s, ifc, n)
	})
	n.HoldTimer = s.Env.NewTimer(func(s *state.State) error {
		return sp.holdExpired(s, ifc, n)
	})
	n.GrTimer = s.Env.NewTimer(func(s *state.State) error {
		return sp.grExpired(s, ifc, n)
	})
	n.HandshakeTimer = s.Env.NewTimer(func(s *state.State) error {
		return sp.handshakeTick(s, ifc, n)
	})
	s.Log.Debug("discovered neighbor", "iface", ifc.rec.Name, "neighbor", m.NodeName, "version", m.Version)
	return n
}

func (sp *Spark) removeNeighbor(ifc *sparkIface, n *state.SparkNeighbor) {
	n.StopTimers()
	delete(ifc.neighbors, n.Node)
}

// neighborDown emits DOWN when the adjacency was up and removes the record.
// Removal is the only way a neighbor reaches the logical down state.
func (sp *Spark) neighborDown(s *state.State, ifc *sparkIface, n *state.SparkNeighbor, reason string) {
	if n.State == state.NeighEstablished {
		s.Log.Info("adjacency lost", "iface", ifc.rec.Name, "neighbor", n.Node, "reason", reason)
		sp.publish(s, state.NeighborEvent{
			Type:     state.NeighborDown,
			IfName:   ifc.rec.Name,
			Neighbor: n.Info(),
			Area:     n.Area,
		})
	}
	sp.removeNeighbor(ifc, n)
}

// enterNegotiate starts the handshake exchange once the peer proved it
// hears us.
func (sp *Spark) enterNegotiate(s *state.State, ifc *sparkIface, n *state.SparkNeighbor) {
	n.State = state.NeighNegotiate
	n.NegotiateTimer.Schedule(s.Cfg.NegotiateHold)
	sp.sendHandshake(s, ifc, n)
	n.HandshakeTimer.Schedule(s.Cfg.HandshakeInterval)
}

func (sp *Spark) negotiateExpired(s *state.State, ifc *sparkIface, n *state.SparkNeighbor) error {
	if n.State != state.NeighNegotiate {
		return nil
	}
	s.Log.Debug("negotiation timed out", "iface", ifc.rec.Name, "neighbor", n.Node)
	n.State = state.NeighWarm
	n.HandshakeTimer.Stop()
	return nil
}

// establish commits the negotiated parameters and reports the adjacency.
func (sp *Spark) establish(s *state.State, ifc *sparkIface, n *state.SparkNeighbor, area string, heartbeatHoldMs, grHoldMs uint64) {
	n.NegotiateTimer.Stop()
	n.HandshakeTimer.Stop()
	n.State = state.NeighEstablished
	n.Area = area
	n.HeartbeatHold = msToDuration(heartbeatHoldMs)
	if n.HeartbeatHold == 0 {
		n.HeartbeatHold = s.Cfg.HeartbeatHold
	}
	n.GrHold = msToDuration(grHoldMs)
	if n.GrHold == 0 {
		n.GrHold = s.Cfg.GrHold
	}
	n.LastReflectedAt = s.Clock.Now()
	n.HoldTimer.Schedule(n.HeartbeatHold)

	s.Log.Info("adjacency established", "iface", ifc.rec.Name, "neighbor", n.Node, "area", n.Area, "legacy", n.Legacy)
	sp.publish(s, state.NeighborEvent{
		Type:     state.NeighborUp,
		IfName:   ifc.rec.Name,
		Neighbor: n.Info(),
		Area:     n.Area,
		RttUs:    n.Rtt.EstimateUs(),
	})
	sp.onEstablished(s, ifc)
	// peers want to hear the new reflection promptly
	sp.sendHelloOn(s, ifc, true)
}

// establishLegacy forms a hello-only adjacency with a pre-spark2 peer.
func (sp *Spark) establishLegacy(s *state.State, ifc *sparkIface, n *state.SparkNeighbor, refl protocol.ReflectedNeighborInfo) {
	hold := refl.HoldTimeMs
	if hold == 0 {
		hold = uint64(s.Cfg.GrHold.Milliseconds())
	}
	sp.establish(s, ifc, n, state.DefaultArea, hold, uint64(s.Cfg.GrHold.Milliseconds()))
}

// refreshHold re-arms the liveness hold on any established-path traffic.
func (sp *Spark) refreshHold(s *state.State, n *state.SparkNeighbor, advertisedHoldMs uint64) {
	if n.State != state.NeighEstablished || n.Restarting {
		return
	}
	if n.Legacy && advertisedHoldMs != 0 {
		n.HeartbeatHold = msToDuration(advertisedHoldMs)
	}
	n.HoldTimer.Schedule(n.HeartbeatHold)
}

func (sp *Spark) holdExpired(s *state.State, ifc *sparkIface, n *state.SparkNeighbor) error {
	if n.State != state.NeighEstablished || n.Restarting {
		return nil
	}
	sp.neighborDown(s, ifc, n, "hold expired")
	return nil
}

func (sp *Spark) grExpired(s *state.State, ifc *sparkIface, n *state.SparkNeighbor) error {
	if !n.Restarting {
		return nil
	}
	sp.neighborDown(s, ifc, n, "graceful restart window expired")
	return nil
}

// neighborRestarting begins the graceful-restart window: the adjacency is
// kept, liveness is suspended, and the GR hold bounds the absence.
func (sp *Spark) neighborRestarting(s *state.State, ifc *sparkIface, n *state.SparkNeighbor) {
	if n.Restarting {
		return
	}
	n.Restarting = true
	n.HoldTimer.Stop()
	hold := n.GrHold
	if hold == 0 {
		hold = s.Cfg.GrHold
	}
	n.GrTimer.Schedule(hold)
	s.Log.Info("neighbor restarting", "iface", ifc.rec.Name, "neighbor", n.Node, "grHold", hold)
	sp.publish(s, state.NeighborEvent{
		Type:     state.NeighborRestarting,
		IfName:   ifc.rec.Name,
		Neighbor: n.Info(),
		Area:     n.Area,
	})
}

// neighborRestarted ends the GR window: the peer came back with a fresh
// sequence space and the adjacency continues without a DOWN/UP cycle.
func (sp *Spark) neighborRestarted(s *state.State, ifc *sparkIface, n *state.SparkNeighbor, m *protocol.HelloMsg, pkt sparkio.Packet) {
	n.Restarting = false
	n.GrTimer.Stop()
	n.RemoteSeqNum = m.SeqNum
	n.LocalSeqSeenByRemote = 0
	n.LastHeardAt = pkt.RxTime
	n.LastRxTsUs = uint64(pkt.RxTime.UnixMicro())
	n.LastReflectedAt = pkt.RxTime
	n.RemoteVersion = m.Version
	n.Legacy = sp.isLegacy(s, m.Version)
	if m.V4Addr.IsValid() {
		n.TransportV4 = m.V4Addr
	}
	if m.V6Addr.IsValid() {
		n.TransportV6 = m.V6Addr
	}
	n.HoldTimer.Schedule(n.HeartbeatHold)
	// a peer that comes back speaking spark2 needs heartbeats again
	sp.onEstablished(s, ifc)
	s.Log.Info("neighbor restarted", "iface", ifc.rec.Name, "neighbor", n.Node)
	sp.publish(s, state.NeighborEvent{
		Type:     state.NeighborRestarted,
		IfName:   ifc.rec.Name,
		Neighbor: n.Info(),
		Area:     n.Area,
	})
	if m.SolicitResponse {
		sp.maybeSolicitedHello(s, ifc)
	}
}
