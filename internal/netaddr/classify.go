// Package netaddr guesses whether participants share a private network.
//
// The guess is a heuristic: two machines behind different NATs can both sit
// in 192.168.0.0/16 without being on the same LAN. It is only used to pick a
// network mode, never for anything that affects correctness. Only IPv4 is
// classified; every IPv6 address is reported as Public.
package netaddr

import "net/netip"

// Class is the private range an address belongs to.
type Class int

const (
	Public Class = iota
	Loopback
	Private10
	Private172
	Private192
)

func (c Class) String() string {
	switch c {
	case Loopback:
		return "loopback"
	case Private10:
		return "10.0.0.0/8"
	case Private172:
		return "172.16.0.0/12"
	case Private192:
		return "192.168.0.0/16"
	}
	return "public"
}

var ranges = []struct {
	prefix netip.Prefix
	class  Class
}{
	{netip.MustParsePrefix("192.168.0.0/16"), Private192},
	{netip.MustParsePrefix("172.16.0.0/12"), Private172},
	{netip.MustParsePrefix("10.0.0.0/8"), Private10},
	{netip.MustParsePrefix("127.0.0.0/8"), Loopback},
}

// Classify returns the private range addr falls in, or Public.
func Classify(addr netip.Addr) Class {
	addr = addr.Unmap()
	if !addr.Is4() {
		return Public
	}
	for _, r := range ranges {
		if r.prefix.Contains(addr) {
			return r.class
		}
	}
	return Public
}

// SameNetwork reports whether a and b are probably on the same LAN: both in
// the same private range.
func SameNetwork(a, b netip.Addr) bool {
	ca := Classify(a)
	return ca != Public && ca == Classify(b)
}

// AllSameNetwork reports whether every address is in the same private range
// as the first one. An empty list is not a network.
func AllSameNetwork(addrs []netip.Addr) bool {
	if len(addrs) == 0 {
		return false
	}
	first := Classify(addrs[0])
	if first == Public {
		return false
	}
	for _, a := range addrs[1:] {
		if Classify(a) != first {
			return false
		}
	}
	return true
}
