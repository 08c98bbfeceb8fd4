package dispatch

import (
	"context"
	"fmt"
	"net"

	fulfill "github.com/openstall/fulfill"
)

// Resolver is the subset of net.Resolver used by the private-address guard.
// Tests substitute a fixed resolver to simulate DNS answers.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// cgnatV4 is 100.64.0.0/10, carrier-grade NAT space. Not covered by
// net.IP.IsPrivate but never a legitimate public adapter.
var cgnatV4 = net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// thisNetV4 is 0.0.0.0/8.
var thisNetV4 = net.IPNet{IP: net.IPv4(0, 0, 0, 0), Mask: net.CIDRMask(8, 32)}

// disallowedIPReason reports why an IP must not be dialed by the untrusted
// transport, or "" when the IP is acceptable.
func disallowedIPReason(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback address"
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return "link-local address"
	case ip.IsPrivate():
		return "private address"
	case ip.IsUnspecified():
		return "unspecified address"
	case ip.IsMulticast():
		return "multicast address"
	case cgnatV4.Contains(ip):
		return "carrier-grade NAT address"
	case thisNetV4.Contains(ip):
		return "reserved address"
	}
	return ""
}

// checkPublicHost resolves host and rejects it when any answer lands in a
// loopback, link-local, private, or otherwise reserved range. The check runs
// before the first request and again at every redirect hop: each hop is a new
// attacker-controllable destination and must be re-audited.
func checkPublicHost(ctx context.Context, resolver Resolver, host string) error {
	// Literal IPs skip DNS but get the same range check.
	if ip := net.ParseIP(host); ip != nil {
		if reason := disallowedIPReason(ip); reason != "" {
			return fulfill.NewBlockedTargetError(host, reason)
		}
		return nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fulfill.NewBlockedTargetError(host, fmt.Sprintf("resolution failed: %v", err))
	}
	if len(addrs) == 0 {
		return fulfill.NewBlockedTargetError(host, "no addresses resolved")
	}
	for _, addr := range addrs {
		if reason := disallowedIPReason(addr.IP); reason != "" {
			return fulfill.NewBlockedTargetError(host, reason)
		}
	}
	return nil
}
