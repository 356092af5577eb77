package core

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Address is an IPv4 or IPv6 host address.
//
// The zero Address is invalid. Addresses of different families are never
// equal, so an IPv4-mapped IPv6 address does not equal its IPv4 form.
type Address struct {
	ip netip.Addr
}

// AddressFrom4 returns the IPv4 address given by the bytes in b.
func AddressFrom4(b [4]byte) Address { return Address{ip: netip.AddrFrom4(b)} }

// AddressFrom16 returns the IPv6 address given by the bytes in b.
func AddressFrom16(b [16]byte) Address { return Address{ip: netip.AddrFrom16(b)} }

// AddressFromSlice parses a 4 or 16 byte slice as an address.
func AddressFromSlice(b []byte) (Address, bool) {
	ip, ok := netip.AddrFromSlice(b)
	if !ok {
		return Address{}, false
	}
	return Address{ip: ip}, true
}

// AddressFromNetIP wraps a netip.Addr, dropping any zone.
func AddressFromNetIP(ip netip.Addr) Address { return Address{ip: ip.WithZone("")} }

// ParseAddress parses a dotted-quad IPv4 or an IPv6 literal.
func ParseAddress(s string) (Address, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	if ip.Zone() != "" {
		return Address{}, fmt.Errorf("parse address %q: zones are not supported", s)
	}
	return Address{ip: ip}, nil
}

// MustParseAddress is like ParseAddress but panics on error. Intended for tests
// and static tables.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) IsValid() bool        { return a.ip.IsValid() }
func (a Address) Is4() bool            { return a.ip.Is4() }
func (a Address) Is6() bool            { return a.ip.Is6() }
func (a Address) Addr() netip.Addr     { return a.ip }
func (a Address) Equal(b Address) bool { return a.ip == b.ip }

// BitLen returns 32 for IPv4, 128 for IPv6 and 0 for the zero Address.
func (a Address) BitLen() int { return a.ip.BitLen() }

// IsMulticast reports whether a is in 224.0.0.0/4 or ff00::/8.
func (a Address) IsMulticast() bool { return a.ip.IsMulticast() }

func (a Address) String() string {
	if !a.ip.IsValid() {
		return "invalid"
	}
	return a.ip.String()
}

func (a Address) MarshalText() ([]byte, error) { return a.ip.MarshalText() }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Network is an address prefix. The stored address is kept as given;
// containment masks both sides.
type Network struct {
	addr Address
	bits int
}

// NewNetwork builds a network from a prefix address and a length in bits.
func NewNetwork(a Address, bits int) (Network, error) {
	if !a.IsValid() {
		return Network{}, fmt.Errorf("new network: invalid address")
	}
	if bits < 0 || bits > a.BitLen() {
		return Network{}, fmt.Errorf("new network: prefix length %d out of range for %s", bits, a)
	}
	return Network{addr: a, bits: bits}, nil
}

// NetworkFromAddress returns the host network of a.
func NetworkFromAddress(a Address) Network {
	return Network{addr: a, bits: a.BitLen()}
}

// ParseNetwork parses "addr/len". A bare address parses as a host network.
func ParseNetwork(s string) (Network, error) {
	addrPart, lenPart, hasLen := strings.Cut(s, "/")
	a, err := ParseAddress(addrPart)
	if err != nil {
		return Network{}, fmt.Errorf("parse network %q: %w", s, err)
	}
	if !hasLen {
		return NetworkFromAddress(a), nil
	}
	bits, err := strconv.Atoi(lenPart)
	if err != nil {
		return Network{}, fmt.Errorf("parse network %q: bad prefix length: %w", s, err)
	}
	return NewNetwork(a, bits)
}

// MustParseNetwork is like ParseNetwork but panics on error.
func MustParseNetwork(s string) Network {
	n, err := ParseNetwork(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Network) Address() Address { return n.addr }
func (n Network) Bits() int        { return n.bits }

// IsHost reports whether the prefix covers the whole address.
func (n Network) IsHost() bool { return n.addr.IsValid() && n.bits == n.addr.BitLen() }

// Contains reports whether a falls within n. Family mismatches never match.
func (n Network) Contains(a Address) bool {
	if !n.addr.IsValid() || !a.IsValid() || n.addr.Is4() != a.Is4() {
		return false
	}
	return netip.PrefixFrom(n.addr.ip, n.bits).Contains(a.ip)
}

func (n Network) Equal(o Network) bool { return n.bits == o.bits && n.addr.Equal(o.addr) }

// IsMulticast reports whether every address in n is a multicast address.
func (n Network) IsMulticast() bool {
	if !n.addr.IsMulticast() {
		return false
	}
	if n.addr.Is4() {
		return n.bits >= 4
	}
	return n.bits >= 8
}

func (n Network) String() string {
	return fmt.Sprintf("%s/%d", n.addr, n.bits)
}

func (n Network) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

func (n *Network) UnmarshalText(text []byte) error {
	parsed, err := ParseNetwork(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
