package core

import (
	"github.com/encodeous/spark/perf"
	"github.com/encodeous/spark/protocol"
	"github.com/encodeous/spark/sparkio"
	"github.com/encodeous/spark/state"
	"github.com/jellydator/ttlcache/v3"
)

// SeqResetWindow separates packet reordering from an instance reset: a
// sequence that went backwards by more than this is a new sequence space.
const SeqResetWindow = 16

// StaleReflectionMult scales the keep-alive interval into the window after
// which a hello that stopped reflecting us means the peer lost us.
const StaleReflectionMult = 3

func (sp *Spark) sendHelloOn(s *state.State, ifc *sparkIface, solicit bool) {
	seq := sp.nextSeq()
	now := s.Clock.Now()

	m := &protocol.HelloMsg{
		Domain:             s.Cfg.Domain,
		NodeName:           s.Cfg.Node,
		SeqNum:             seq,
		SolicitResponse:    solicit,
		ReflectedNeighbors: make(map[string]protocol.ReflectedNeighborInfo),
		V6Addr:             ifc.rec.V6LinkLocal,
		Version:            s.Cfg.AdvertisedVersion(),
		Restarting:         sp.restarting,
		SentTsUs:           uint64(now.UnixMicro()),
	}
	if s.Cfg.EnableV4 && ifc.rec.V4Cidr.IsValid() {
		m.V4Addr = ifc.rec.V4Cidr.Addr()
	}
	for name, n := range ifc.neighbors {
		if n.RemoteSeqNum == 0 {
			continue
		}
		hold := s.Cfg.HeartbeatHold
		if n.Legacy {
			hold = s.Cfg.GrHold
		}
		m.ReflectedNeighbors[name] = protocol.ReflectedNeighborInfo{
			SeqSeen:    n.RemoteSeqNum,
			HoldTimeMs: uint64(hold.Milliseconds()),
			LastRxTsUs: n.LastRxTsUs,
		}
	}

	sp.txTimes.Set(seq, now, ttlcache.DefaultTTL)

	payload, err := protocol.Encode(m)
	if err != nil {
		s.Log.Error("failed to encode hello", "error", err)
		return
	}
	if err := sp.provider.SendMulticast(ifc.rec.Name, payload); err != nil {
		perf.SendFailures.Add(1)
		s.Log.Debug("hello send failed", "iface", ifc.rec.Name, "error", err)
		return
	}
	perf.HellosPerSecond.Add(1)
	perf.PktSentPerSecond.Add(1)
}

// maybeSolicitedHello answers a solicitResponse promptly, rate limited to
// one per keep-alive interval per interface.
func (sp *Spark) maybeSolicitedHello(s *state.State, ifc *sparkIface) {
	now := s.Clock.Now()
	if now.Sub(ifc.lastSolicitedAt) < s.Cfg.KeepAliveInterval {
		return
	}
	ifc.lastSolicitedAt = now
	sp.sendHelloOn(s, ifc, false)
}

func (sp *Spark) processHello(s *state.State, ifc *sparkIface, m *protocol.HelloMsg, pkt sparkio.Packet) error {
	n, ok := ifc.neighbors[m.NodeName]
	if !ok {
		if m.Restarting {
			// a departing peer we never knew; nothing to track
			return nil
		}
		n = sp.newNeighbor(s, ifc, m)
		ifc.neighbors[m.NodeName] = n
	}

	refl, heardUs := m.ReflectedNeighbors[s.Cfg.Node]
	if heardUs && refl.SeqSeen > sp.seqNum {
		// reflection of a previous life of ours, not this instance
		heardUs = false
	}

	// graceful-restart handling on an established adjacency
	if n.State == state.NeighEstablished {
		if n.Restarting {
			if m.SeqNum < n.RemoteSeqNum {
				sp.neighborRestarted(s, ifc, n, m, pkt)
			} else {
				// still the departing instance flushing out
				n.RemoteSeqNum = m.SeqNum
				n.LastHeardAt = pkt.RxTime
				n.LastRxTsUs = uint64(pkt.RxTime.UnixMicro())
			}
			return nil
		}
		if m.Restarting {
			sp.neighborRestarting(s, ifc, n)
			n.RemoteSeqNum = m.SeqNum
			n.LastHeardAt = pkt.RxTime
			n.LastRxTsUs = uint64(pkt.RxTime.UnixMicro())
			return nil
		}
	} else if m.Restarting {
		// no adjacency to preserve; forget the departing peer
		sp.removeNeighbor(ifc, n)
		return nil
	}

	if m.SeqNum < n.RemoteSeqNum {
		if n.RemoteSeqNum-m.SeqNum <= SeqResetWindow {
			return nil // reordered stale hello
		}
		// sequence space reset without GR context (e.g. crash restart
		// noticed before any hold expired)
		n.LocalSeqSeenByRemote = 0
	}

	n.RemoteSeqNum = m.SeqNum
	n.LastHeardAt = pkt.RxTime
	n.LastRxTsUs = uint64(pkt.RxTime.UnixMicro())
	n.RemoteVersion = m.Version
	n.Legacy = sp.isLegacy(s, m.Version)
	if m.V4Addr.IsValid() {
		n.TransportV4 = m.V4Addr
	}
	if m.V6Addr.IsValid() {
		n.TransportV6 = m.V6Addr
	}

	if heardUs {
		n.LocalSeqSeenByRemote = refl.SeqSeen
		n.LastReflectedAt = pkt.RxTime
		sp.updateRtt(s, n, m, refl, pkt)
	}

	switch n.State {
	case state.NeighWarm:
		if !heardUs {
			break
		}
		if n.Legacy {
			sp.establishLegacy(s, ifc, n, refl)
		} else {
			sp.enterNegotiate(s, ifc, n)
		}
	case state.NeighNegotiate:
		// handshake retransmission is driving progress
	case state.NeighEstablished:
		if !heardUs && pkt.RxTime.Sub(n.LastReflectedAt) >= s.Cfg.KeepAliveInterval*StaleReflectionMult {
			// the peer stopped hearing us
			sp.neighborDown(s, ifc, n, "reflection lost")
			return nil
		}
		sp.refreshHold(s, n, refl.HoldTimeMs)
	}

	if m.SolicitResponse {
		sp.maybeSolicitedHello(s, ifc)
	}
	return nil
}

func (sp *Spark) isLegacy(s *state.State, version uint32) bool {
	return !s.Cfg.EnableSpark2 || version < state.Spark2Version
}

func (sp *Spark) updateRtt(s *state.State, n *state.SparkNeighbor, m *protocol.HelloMsg, refl protocol.ReflectedNeighborInfo, pkt sparkio.Packet) {
	if m.SentTsUs == 0 || refl.LastRxTsUs == 0 || m.SentTsUs < refl.LastRxTsUs {
		return
	}
	tx := sp.txTimes.Get(refl.SeqSeen)
	if tx == nil {
		return
	}
	// NTP-style: subtract the peer-side hold so only wire time remains
	peerHold := usToDuration(m.SentTsUs - refl.LastRxTsUs)
	sample := pkt.RxTime.Sub(tx.Value()) - peerHold
	n.Rtt.Update(sample)
	if n.State == state.NeighEstablished && n.Rtt.ShouldReport() {
		sp.publish(s, state.NeighborEvent{
			Type:     state.NeighborRttChange,
			IfName:   n.IfName,
			Neighbor: n.Info(),
			Area:     n.Area,
			RttUs:    n.Rtt.EstimateUs(),
		})
	}
}
