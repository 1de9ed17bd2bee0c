package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/encodeous/spark/perf"
	"github.com/encodeous/spark/state"
	"github.com/gaissmai/bart"
)

// FibClient identifies the routing protocol requesting FIB mutations.
type FibClient int16

const (
	ClientOpenr  FibClient = 786
	ClientBgp    FibClient = 0
	ClientStatic FibClient = 64
)

// iproute2 protocol IDs in the kernel are a shared resource; keep ours
// inside the range not claimed by well-known protocols.
const (
	minRouteProtocolId = 17
	maxRouteProtocolId = 253
)

var clientToProtocol = map[FibClient]int{
	ClientOpenr:  99,
	ClientBgp:    253,
	ClientStatic: 196,
}

func (c FibClient) String() string {
	switch c {
	case ClientOpenr:
		return "OPENR"
	case ClientBgp:
		return "BGP"
	case ClientStatic:
		return "STATIC"
	}
	return fmt.Sprintf("CLIENT_%d", int16(c))
}

type NextHop struct {
	Addr    netip.Addr
	IfIndex int
}

type UnicastRoute struct {
	Prefix   netip.Prefix
	NextHops []NextHop
}

// Fib translates client-neutral route requests into kernel forwarding-table
// mutations. Each client's programmed routes are cached so a full-state
// sync can be computed as an add/delete diff. All mutation happens on the
// dispatch loop; failures are reported to the caller and never terminate
// the agent.
type Fib struct {
	env       *state.Env
	startedAt time.Time
	tables    map[FibClient]*bart.Table[[]NextHop]
}

func (f *Fib) Init(s *state.State) error {
	s.Log.Debug("init fib")
	f.env = s.Env
	f.startedAt = s.Clock.Now()
	f.tables = make(map[FibClient]*bart.Table[[]NextHop])
	return nil
}

func (f *Fib) Cleanup(s *state.State) error {
	// programmed routes are left in the kernel so a graceful restart
	// keeps forwarding
	f.tables = nil
	return nil
}

func (f *Fib) protocol(client FibClient) (int, error) {
	proto, ok := clientToProtocol[client]
	if !ok {
		return 0, fmt.Errorf("invalid client id: %d", client)
	}
	if proto < minRouteProtocolId || proto > maxRouteProtocolId {
		return 0, fmt.Errorf("invalid protocol id: %d", proto)
	}
	return proto, nil
}

func (f *Fib) table(client FibClient) *bart.Table[[]NextHop] {
	t, ok := f.tables[client]
	if !ok {
		t = &bart.Table[[]NextHop]{}
		f.tables[client] = t
	}
	return t
}

// allowedPieces clips the requested prefix against the exclusion ranges.
func (f *Fib) allowedPieces(s *state.State, prefix netip.Prefix) []netip.Prefix {
	if len(s.Cfg.Fib.ExcludeIPs) == 0 {
		return []netip.Prefix{prefix}
	}
	return state.SubtractPrefix([]netip.Prefix{prefix}, s.Cfg.Fib.ExcludeIPs)
}

func (f *Fib) programRoute(s *state.State, route UnicastRoute, proto int) error {
	if s.Cfg.Fib.DryRun {
		return nil
	}
	if err := kernelReplaceRoute(route, proto); err != nil {
		perf.FibProgramError.Add(1)
		return fmt.Errorf("replace %s: %w", route.Prefix, err)
	}
	return nil
}

func (f *Fib) unprogramRoute(s *state.State, prefix netip.Prefix, nhs []NextHop, proto int) error {
	if s.Cfg.Fib.DryRun {
		return nil
	}
	if err := kernelDeleteRoute(UnicastRoute{Prefix: prefix, NextHops: nhs}, proto); err != nil {
		perf.FibProgramError.Add(1)
		return fmt.Errorf("delete %s: %w", prefix, err)
	}
	return nil
}

// AddUnicastRoutes programs (or updates) the given routes for a client.
func (f *Fib) AddUnicastRoutes(client FibClient, routes []UnicastRoute) error {
	_, err := f.env.DispatchWait(func(s *state.State) (any, error) {
		proto, err := f.protocol(client)
		if err != nil {
			return nil, err
		}
		s.Log.Info("adding/updating routes", "client", client.String(), "count", len(routes))
		t := f.table(client)
		var errs []error
		for _, route := range routes {
			for _, piece := range f.allowedPieces(s, route.Prefix) {
				piece := UnicastRoute{Prefix: piece, NextHops: route.NextHops}
				if err := f.programRoute(s, piece, proto); err != nil {
					errs = append(errs, err)
					continue
				}
				t.Insert(piece.Prefix, piece.NextHops)
			}
		}
		return nil, errors.Join(errs...)
	})
	return err
}

// DeleteUnicastRoutes removes the given prefixes for a client.
func (f *Fib) DeleteUnicastRoutes(client FibClient, prefixes []netip.Prefix) error {
	_, err := f.env.DispatchWait(func(s *state.State) (any, error) {
		proto, err := f.protocol(client)
		if err != nil {
			return nil, err
		}
		s.Log.Info("deleting routes", "client", client.String(), "count", len(prefixes))
		t := f.table(client)
		var errs []error
		for _, prefix := range prefixes {
			for _, piece := range f.allowedPieces(s, prefix) {
				nhs, ok := t.Get(piece)
				if !ok {
					continue
				}
				if err := f.unprogramRoute(s, piece, nhs, proto); err != nil {
					errs = append(errs, err)
					continue
				}
				t.Delete(piece)
			}
		}
		return nil, errors.Join(errs...)
	})
	return err
}

// SyncFib replaces the client's whole route set: missing routes are added,
// stale ones deleted.
func (f *Fib) SyncFib(client FibClient, routes []UnicastRoute) error {
	_, err := f.env.DispatchWait(func(s *state.State) (any, error) {
		proto, err := f.protocol(client)
		if err != nil {
			return nil, err
		}
		t := f.table(client)

		wanted := make(map[netip.Prefix][]NextHop)
		for _, route := range routes {
			for _, piece := range f.allowedPieces(s, route.Prefix) {
				wanted[piece] = route.NextHops
			}
		}
		stale := make([]netip.Prefix, 0)
		for prefix := range t.All() {
			if _, keep := wanted[prefix]; !keep {
				stale = append(stale, prefix)
			}
		}
		s.Log.Info("syncing fib", "client", client.String(), "wanted", len(wanted), "stale", len(stale))

		var errs []error
		for _, prefix := range stale {
			nhs, _ := t.Get(prefix)
			if err := f.unprogramRoute(s, prefix, nhs, proto); err != nil {
				errs = append(errs, err)
				continue
			}
			t.Delete(prefix)
		}
		for prefix, nhs := range wanted {
			route := UnicastRoute{Prefix: prefix, NextHops: nhs}
			if err := f.programRoute(s, route, proto); err != nil {
				errs = append(errs, err)
				continue
			}
			t.Insert(prefix, nhs)
		}
		return nil, errors.Join(errs...)
	})
	return err
}

// GetRouteTableByClient snapshots the cached routes for one client.
func (f *Fib) GetRouteTableByClient(client FibClient) []UnicastRoute {
	res, err := f.env.DispatchWait(func(s *state.State) (any, error) {
		t, ok := f.tables[client]
		if !ok {
			return []UnicastRoute{}, nil
		}
		out := make([]UnicastRoute, 0)
		for prefix, nhs := range t.All() {
			out = append(out, UnicastRoute{Prefix: prefix, NextHops: nhs})
		}
		return out, nil
	})
	if err != nil {
		return nil
	}
	return res.([]UnicastRoute)
}

// AliveSince reports the module start time in unix seconds.
func (f *Fib) AliveSince() int64 {
	return f.startedAt.Unix()
}

type routeSummary struct {
	Client   string   `json:"client"`
	Prefix   string   `json:"prefix"`
	NextHops []string `json:"nextHops"`
}

func (f *Fib) snapshot() []routeSummary {
	res, err := f.env.DispatchWait(func(s *state.State) (any, error) {
		out := make([]routeSummary, 0)
		for client, t := range f.tables {
			for prefix, nhs := range t.All() {
				sum := routeSummary{Client: client.String(), Prefix: prefix.String()}
				for _, nh := range nhs {
					sum.NextHops = append(sum.NextHops, nh.Addr.String())
				}
				out = append(out, sum)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil
	}
	return res.([]routeSummary)
}

func (f *Fib) handleRoutesHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f.snapshot())
}
