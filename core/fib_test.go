package core

import (
	"net/netip"
	"testing"

	"github.com/encodeous/spark/sparkio"
	"github.com/encodeous/spark/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startFibNode(t *testing.T) (*testNode, *Fib) {
	t.Helper()
	hub := sparkio.NewMockHub(state.DefaultMcastPort)
	cfg := testCfg(testDomain, "node-1")
	cfg.Fib.Enable = true
	cfg.Fib.DryRun = true
	n := startNode(t, hub, cfg)
	return n, Get[*Fib](n.s)
}

func nh(addr string, ifIndex int) NextHop {
	return NextHop{Addr: netip.MustParseAddr(addr), IfIndex: ifIndex}
}

func TestFibAddDeleteRoutes(t *testing.T) {
	leakCheck(t)
	_, fib := startFibNode(t)

	routes := []UnicastRoute{
		{Prefix: netip.MustParsePrefix("10.0.1.0/24"), NextHops: []NextHop{nh("fe80::2", 1)}},
		{Prefix: netip.MustParsePrefix("10.0.2.0/24"), NextHops: []NextHop{nh("fe80::2", 1), nh("fe80::3", 2)}},
	}
	require.NoError(t, fib.AddUnicastRoutes(ClientOpenr, routes))

	got := fib.GetRouteTableByClient(ClientOpenr)
	assert.Len(t, got, 2)

	require.NoError(t, fib.DeleteUnicastRoutes(ClientOpenr, []netip.Prefix{netip.MustParsePrefix("10.0.1.0/24")}))
	got = fib.GetRouteTableByClient(ClientOpenr)
	require.Len(t, got, 1)
	assert.Equal(t, netip.MustParsePrefix("10.0.2.0/24"), got[0].Prefix)
}

func TestFibRejectsUnknownClient(t *testing.T) {
	leakCheck(t)
	_, fib := startFibNode(t)

	err := fib.AddUnicastRoutes(FibClient(12345), []UnicastRoute{
		{Prefix: netip.MustParsePrefix("10.0.0.0/24"), NextHops: []NextHop{nh("fe80::2", 1)}},
	})
	assert.Error(t, err)
}

// SyncFib replaces the whole set: stale routes vanish, new ones appear.
func TestFibSync(t *testing.T) {
	leakCheck(t)
	_, fib := startFibNode(t)

	require.NoError(t, fib.AddUnicastRoutes(ClientOpenr, []UnicastRoute{
		{Prefix: netip.MustParsePrefix("10.0.1.0/24"), NextHops: []NextHop{nh("fe80::2", 1)}},
		{Prefix: netip.MustParsePrefix("10.0.2.0/24"), NextHops: []NextHop{nh("fe80::2", 1)}},
	}))

	require.NoError(t, fib.SyncFib(ClientOpenr, []UnicastRoute{
		{Prefix: netip.MustParsePrefix("10.0.2.0/24"), NextHops: []NextHop{nh("fe80::3", 2)}},
		{Prefix: netip.MustParsePrefix("10.0.3.0/24"), NextHops: []NextHop{nh("fe80::3", 2)}},
	}))

	got := fib.GetRouteTableByClient(ClientOpenr)
	require.Len(t, got, 2)
	prefixes := []netip.Prefix{got[0].Prefix, got[1].Prefix}
	assert.Contains(t, prefixes, netip.MustParsePrefix("10.0.2.0/24"))
	assert.Contains(t, prefixes, netip.MustParsePrefix("10.0.3.0/24"))
}

// Clients are isolated from each other.
func TestFibPerClientTables(t *testing.T) {
	leakCheck(t)
	_, fib := startFibNode(t)

	require.NoError(t, fib.AddUnicastRoutes(ClientOpenr, []UnicastRoute{
		{Prefix: netip.MustParsePrefix("10.0.1.0/24"), NextHops: []NextHop{nh("fe80::2", 1)}},
	}))
	require.NoError(t, fib.AddUnicastRoutes(ClientBgp, []UnicastRoute{
		{Prefix: netip.MustParsePrefix("10.1.0.0/16"), NextHops: []NextHop{nh("fe80::9", 3)}},
	}))

	assert.Len(t, fib.GetRouteTableByClient(ClientOpenr), 1)
	assert.Len(t, fib.GetRouteTableByClient(ClientBgp), 1)
	assert.Empty(t, fib.GetRouteTableByClient(ClientStatic))
}

// Excluded ranges are clipped out of requested routes.
func TestFibExcludeIPs(t *testing.T) {
	leakCheck(t)
	hub := sparkio.NewMockHub(state.DefaultMcastPort)
	cfg := testCfg(testDomain, "node-1")
	cfg.Fib.Enable = true
	cfg.Fib.DryRun = true
	cfg.Fib.ExcludeIPs = []netip.Prefix{netip.MustParsePrefix("10.0.0.128/25")}
	n := startNode(t, hub, cfg)
	fib := Get[*Fib](n.s)

	require.NoError(t, fib.AddUnicastRoutes(ClientOpenr, []UnicastRoute{
		{Prefix: netip.MustParsePrefix("10.0.0.0/24"), NextHops: []NextHop{nh("fe80::2", 1)}},
	}))

	got := fib.GetRouteTableByClient(ClientOpenr)
	require.Len(t, got, 1)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/25"), got[0].Prefix)
}

func TestFibAliveSince(t *testing.T) {
	leakCheck(t)
	_, fib := startFibNode(t)
	assert.NotZero(t, fib.AliveSince())
}
