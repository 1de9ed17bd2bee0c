package core

import (
	"github.com/encodeous/spark/state"
)

// applyInterfaceDb reconciles the tracked set against the link monitor's
// view. Removals tear down synchronously; additions begin fast-init.
// A record with the same name but a new kernel index is treated as a
// remove + add; a pure address change refreshes in place.
func (sp *Spark) applyInterfaceDb(s *state.State, recs []state.InterfaceRecord) {
	incoming := make(map[string]state.InterfaceRecord, len(recs))
	for _, rec := range recs {
		incoming[rec.Name] = rec
	}

	for name, ifc := range sp.ifaces {
		rec, keep := incoming[name]
		if keep && rec.IfIndex == ifc.rec.IfIndex {
			continue
		}
		sp.teardownIface(s, ifc, true)
		delete(sp.ifaces, name)
	}

	for name, rec := range incoming {
		if ifc, ok := sp.ifaces[name]; ok {
			if ifc.rec != rec {
				// address refresh, neighbors survive
				ifc.rec = rec
				if err := sp.provider.AddInterface(rec); err != nil {
					s.Log.Warn("failed to refresh interface", "iface", name, "error", err)
				}
			}
			continue
		}
		sp.addIface(s, rec)
	}
}

func (sp *Spark) addIface(s *state.State, rec state.InterfaceRecord) {
	if err := sp.provider.AddInterface(rec); err != nil {
		s.Log.Warn("failed to start io on interface", "iface", rec.Name, "error", err)
		return
	}
	ifc := &sparkIface{
		rec:          rec,
		neighbors:    make(map[string]*state.SparkNeighbor),
		fastInitLeft: state.FastInitHelloCount,
	}
	ifc.helloTimer = s.Env.NewTimer(func(s *state.State) error {
		return sp.helloTick(s, ifc)
	})
	ifc.heartbeatTimer = s.Env.NewTimer(func(s *state.State) error {
		return sp.heartbeatTick(s, ifc)
	})
	sp.ifaces[rec.Name] = ifc
	s.Log.Info("tracking interface", "iface", rec.Name, "index", rec.IfIndex, "v4", rec.V4Cidr, "v6", rec.V6LinkLocal)

	// first hello goes out immediately; fast-init cadence follows
	sp.sendHelloOn(s, ifc, true)
	if ifc.fastInitLeft > 0 {
		ifc.fastInitLeft--
	}
	ifc.helloTimer.Schedule(s.Cfg.FastInitHelloInterval)
}

// teardownIface cancels every timer bound to the interface and removes all
// its neighbors. No event for this interface may be observed afterwards.
func (sp *Spark) teardownIface(s *state.State, ifc *sparkIface, emitDown bool) {
	ifc.helloTimer.Stop()
	ifc.heartbeatTimer.Stop()
	for name, n := range ifc.neighbors {
		n.StopTimers()
		if emitDown && n.State == state.NeighEstablished {
			sp.publish(s, state.NeighborEvent{
				Type:     state.NeighborDown,
				IfName:   ifc.rec.Name,
				Neighbor: n.Info(),
				Area:     n.Area,
			})
		}
		delete(ifc.neighbors, name)
	}
	if err := sp.provider.RemoveInterface(ifc.rec.Name); err != nil {
		s.Log.Warn("failed to stop io on interface", "iface", ifc.rec.Name, "error", err)
	}
	s.Log.Info("stopped tracking interface", "iface", ifc.rec.Name)
}

func (sp *Spark) helloTick(s *state.State, ifc *sparkIface) error {
	if sp.ifaces[ifc.rec.Name] != ifc {
		return nil
	}
	sp.sendHelloOn(s, ifc, ifc.fastInitLeft > 0)
	next := s.Cfg.HelloInterval
	if ifc.fastInitLeft > 0 {
		ifc.fastInitLeft--
		next = s.Cfg.FastInitHelloInterval
	}
	ifc.helloTimer.Schedule(next)
	return nil
}

// onEstablished ends fast-init for the interface and makes sure heartbeats
// are flowing.
func (sp *Spark) onEstablished(s *state.State, ifc *sparkIface) {
	ifc.fastInitLeft = 0
	if !ifc.heartbeatTimer.Armed() {
		ifc.heartbeatTimer.Schedule(s.Cfg.HeartbeatInterval)
	}
}
