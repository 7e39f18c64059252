// Package privacy reduces personal identifiers before they reach logs.
package privacy

import "net/netip"

// AnonymizeIP masks an address to its /24 (IPv4) or /48 (IPv6) network.
// Values that are not IP addresses are returned unchanged.
func AnonymizeIP(s string) string {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	bits := 48
	if addr.Is4() || addr.Is4In6() {
		addr = addr.Unmap()
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return s
	}
	return prefix.String()
}
