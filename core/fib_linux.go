//go:build linux

package core

import (
	"net"

	"github.com/vishvananda/netlink"
)

func buildNetlinkRoute(route UnicastRoute, proto int) *netlink.Route {
	nl := &netlink.Route{
		Dst: &net.IPNet{
			IP:   route.Prefix.Addr().AsSlice(),
			Mask: net.CIDRMask(route.Prefix.Bits(), route.Prefix.Addr().BitLen()),
		},
		Protocol: netlink.RouteProtocol(proto),
	}
	if len(route.NextHops) == 1 {
		nh := route.NextHops[0]
		nl.Gw = nh.Addr.AsSlice()
		nl.LinkIndex = nh.IfIndex
		return nl
	}
	for _, nh := range route.NextHops {
		nl.MultiPath = append(nl.MultiPath, &netlink.NexthopInfo{
			LinkIndex: nh.IfIndex,
			Gw:        nh.Addr.AsSlice(),
		})
	}
	return nl
}

func kernelReplaceRoute(route UnicastRoute, proto int) error {
	return netlink.RouteReplace(buildNetlinkRoute(route, proto))
}

func kernelDeleteRoute(route UnicastRoute, proto int) error {
	return netlink.RouteDel(buildNetlinkRoute(route, proto))
}
