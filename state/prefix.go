package state

import (
	"net"
	"net/netip"

	"github.com/cilium/cilium/pkg/ip"
)

func toIPNets(prefixes []netip.Prefix) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(prefixes))
	for _, p := range prefixes {
		if p.IsValid() {
			nets = append(nets, &net.IPNet{
				IP:   p.Addr().AsSlice(),
				Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
			})
		}
	}
	return nets
}

func fromIPNets(nets []*net.IPNet) []netip.Prefix {
	output := make([]netip.Prefix, 0, len(nets))
	for _, n := range nets {
		if addr, ok := netip.AddrFromSlice(n.IP); ok {
			ones, _ := n.Mask.Size()
			output = append(output, netip.PrefixFrom(addr.Unmap(), ones))
		}
	}
	return output
}

// SubtractPrefix removes the excluded ranges from the included ones,
// returning the coalesced remainder.
func SubtractPrefix(includesPrefix, excludesPrefix []netip.Prefix) []netip.Prefix {
	// an include that some exclusion covers entirely leaves nothing
	kept := make([]netip.Prefix, 0, len(includesPrefix))
	for _, inc := range includesPrefix {
		covered := false
		for _, exc := range excludesPrefix {
			if exc.IsValid() && exc.Bits() <= inc.Bits() && exc.Contains(inc.Addr()) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, inc)
		}
	}
	result := ip.RemoveCIDRs(toIPNets(kept), toIPNets(excludesPrefix))
	ipv4, ipv6 := ip.CoalesceCIDRs(result)
	return fromIPNets(append(ipv4, ipv6...))
}

func CoalescePrefix(prefixes []netip.Prefix) []netip.Prefix {
	ipv4, ipv6 := ip.CoalesceCIDRs(toIPNets(prefixes))
	return fromIPNets(append(ipv4, ipv6...))
}
