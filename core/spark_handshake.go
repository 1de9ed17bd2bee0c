package core

import (
	"github.com/encodeous/spark/perf"
	"github.com/encodeous/spark/protocol"
	"github.com/encodeous/spark/state"
)

func (sp *Spark) sendHandshake(s *state.State, ifc *sparkIface, n *state.SparkNeighbor) {
	area, _ := s.Cfg.MatchArea(n.Node, ifc.rec.Name)
	m := &protocol.HandshakeMsg{
		Domain:           s.Cfg.Domain,
		NodeName:         s.Cfg.Node,
		NeighborNodeName: n.Node,
		ProposedArea:     area,
		TransportV6:      ifc.rec.V6LinkLocal,
		HeartbeatHoldMs:  uint64(s.Cfg.HeartbeatHold.Milliseconds()),
		GrHoldMs:         uint64(s.Cfg.GrHold.Milliseconds()),
		Version:          s.Cfg.AdvertisedVersion(),
		AdjEstablished:   n.State == state.NeighEstablished,
	}
	if s.Cfg.EnableV4 && ifc.rec.V4Cidr.IsValid() {
		m.TransportV4 = ifc.rec.V4Cidr.Addr()
	}
	payload, err := protocol.Encode(m)
	if err != nil {
		s.Log.Error("failed to encode handshake", "error", err)
		return
	}
	if n.TransportV6.IsValid() {
		err = sp.provider.SendUnicast(ifc.rec.Name, n.TransportV6, payload)
	} else {
		err = sp.provider.SendMulticast(ifc.rec.Name, payload)
	}
	if err != nil {
		perf.SendFailures.Add(1)
		s.Log.Debug("handshake send failed", "iface", ifc.rec.Name, "neighbor", n.Node, "error", err)
		return
	}
	perf.HandshakesPerSecond.Add(1)
	perf.PktSentPerSecond.Add(1)
}

// handshakeTick retransmits while negotiation is in flight.
func (sp *Spark) handshakeTick(s *state.State, ifc *sparkIface, n *state.SparkNeighbor) error {
	if n.State != state.NeighNegotiate {
		return nil
	}
	sp.sendHandshake(s, ifc, n)
	n.HandshakeTimer.Schedule(s.Cfg.HandshakeInterval)
	return nil
}

// negotiateArea reconciles the two proposals. Both sides must name the same
// area, except that a side without area support proposes the default area
// and drags its peer there for compatibility.
func negotiateArea(ours string, ok bool, theirs string) (string, bool) {
	if !ok || theirs == "" {
		return "", false
	}
	if ours == theirs {
		return ours, true
	}
	if ours == state.DefaultArea || theirs == state.DefaultArea {
		return state.DefaultArea, true
	}
	return "", false
}

func (sp *Spark) processHandshake(s *state.State, ifc *sparkIface, m *protocol.HandshakeMsg) error {
	if m.NeighborNodeName != "" && m.NeighborNodeName != s.Cfg.Node {
		return nil
	}
	n, ok := ifc.neighbors[m.NodeName]
	if !ok {
		// no hello seen yet; the hello path owns record creation
		return nil
	}

	if !m.AdjEstablished && n.State != state.NeighNegotiate {
		// the peer is still negotiating and wants our parameters
		sp.sendHandshake(s, ifc, n)
	}

	switch n.State {
	case state.NeighNegotiate:
		ourArea, matched := s.Cfg.MatchArea(m.NodeName, ifc.rec.Name)
		area, agreed := negotiateArea(ourArea, matched, m.ProposedArea)
		if !agreed {
			s.Log.Debug("area negotiation failed", "iface", ifc.rec.Name, "neighbor", n.Node, "ours", ourArea, "theirs", m.ProposedArea)
			n.State = state.NeighWarm
			n.NegotiateTimer.Stop()
			n.HandshakeTimer.Stop()
			return nil
		}
		if s.Cfg.EnableV4 && ifc.rec.V4Cidr.IsValid() {
			if !m.TransportV4.IsValid() || !ifc.rec.V4Cidr.Masked().Contains(m.TransportV4) {
				// incompatible v4 subnet; new hellos may still change
				// the outcome before negotiate-hold expires
				s.Log.Debug("v4 subnet validation failed", "iface", ifc.rec.Name, "neighbor", n.Node, "local", ifc.rec.V4Cidr, "remote", m.TransportV4)
				return nil
			}
		}
		if m.TransportV4.IsValid() {
			n.TransportV4 = m.TransportV4
		}
		if m.TransportV6.IsValid() {
			n.TransportV6 = m.TransportV6
		}
		sp.establish(s, ifc, n, area, m.HeartbeatHoldMs, m.GrHoldMs)
	case state.NeighEstablished:
		// duplicate handshake: absorb parameters, refresh liveness, but
		// never re-report the adjacency
		if m.HeartbeatHoldMs != 0 {
			n.HeartbeatHold = msToDuration(m.HeartbeatHoldMs)
		}
		if m.GrHoldMs != 0 {
			n.GrHold = msToDuration(m.GrHoldMs)
		}
		sp.refreshHold(s, n, 0)
	}
	return nil
}
