package core

import (
	"github.com/encodeous/spark/perf"
	"github.com/encodeous/spark/protocol"
	"github.com/encodeous/spark/sparkio"
	"github.com/encodeous/spark/state"
)

// heartbeatTick multicasts one heartbeat per interface while any spark2
// adjacency is up; it stops rescheduling itself once none remain.
func (sp *Spark) heartbeatTick(s *state.State, ifc *sparkIface) error {
	if sp.ifaces[ifc.rec.Name] != ifc {
		return nil
	}
	active := false
	for _, n := range ifc.neighbors {
		if n.State == state.NeighEstablished && !n.Legacy {
			active = true
			break
		}
	}
	if !active {
		return nil
	}
	m := &protocol.HeartbeatMsg{
		Domain:   s.Cfg.Domain,
		NodeName: s.Cfg.Node,
		SeqNum:   sp.nextSeq(),
	}
	payload, err := protocol.Encode(m)
	if err != nil {
		s.Log.Error("failed to encode heartbeat", "error", err)
		return nil
	}
	if err := sp.provider.SendMulticast(ifc.rec.Name, payload); err != nil {
		perf.SendFailures.Add(1)
		s.Log.Debug("heartbeat send failed", "iface", ifc.rec.Name, "error", err)
	} else {
		perf.HeartbeatsPerSecond.Add(1)
		perf.PktSentPerSecond.Add(1)
	}
	ifc.heartbeatTimer.Schedule(s.Cfg.HeartbeatInterval)
	return nil
}

func (sp *Spark) processHeartbeat(s *state.State, ifc *sparkIface, m *protocol.HeartbeatMsg, pkt sparkio.Packet) error {
	n, ok := ifc.neighbors[m.NodeName]
	if !ok {
		return nil
	}
	if n.State != state.NeighEstablished || n.Restarting || n.Legacy {
		return nil
	}
	n.LastHeardAt = pkt.RxTime
	sp.refreshHold(s, n, 0)
	return nil
}
