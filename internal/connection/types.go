// Package connection holds the flow records the analyzer maintains and the
// table that owns them.
//
// The table is not safe for concurrent use. All mutation happens on the
// packet processing goroutine; other goroutines only ever see snapshots.
package connection

import (
	"fmt"
	"slices"
	"time"
)

// Type identifies the kind of flow a Connection tracks.
type Type uint8

const (
	TypeTCP Type = iota
	TypeUDP
	TypeDNS
	TypeCoAP
	TypeQUIC
	TypeICMP
	TypeSCTP
	TypeHostPair
	TypeHostNetwork
	TypeNetworkNetwork
	TypeMulticastGroup
)

var typeNames = [...]string{
	TypeTCP:            "TCP",
	TypeUDP:            "UDP",
	TypeDNS:            "DNS",
	TypeCoAP:           "COAP",
	TypeQUIC:           "QUIC",
	TypeICMP:           "ICMP",
	TypeSCTP:           "SCTP",
	TypeHostPair:       "HOSTS",
	TypeHostNetwork:    "H2NET",
	TypeNetworkNetwork: "NET2NET",
	TypeMulticastGroup: "MCAST",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("INVALID(%d)", uint8(t))
}

// IsAggregate reports whether t is one of the grouping types.
func (t Type) IsAggregate() bool { return t >= TypeHostPair && t <= TypeMulticastGroup }

// ParseType accepts the names produced by String, case-sensitively, plus the
// lowercase configuration spellings of the aggregate kinds.
func ParseType(s string) (Type, error) {
	switch s {
	case "hostpair":
		return TypeHostPair, nil
	case "hostnetwork":
		return TypeHostNetwork, nil
	case "networknetwork":
		return TypeNetworkNetwork, nil
	case "multicastgroup":
		return TypeMulticastGroup, nil
	}
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown connection type %q", s)
}

// State is the lifecycle position of a connection. States only move forward.
type State uint8

const (
	StateEstablishing State = iota
	StateEstablished
	StateClosing
	StateClosed
	// StateStatic is used by manually configured aggregates and never
	// changes.
	StateStatic
)

func (s State) String() string {
	switch s {
	case StateEstablishing:
		return "Starting"
	case StateEstablished:
		return "Up"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateStatic:
		return "Static"
	default:
		return "invalid"
	}
}

// Timeouts are the grace periods applied by the periodic sweep.
type Timeouts struct {
	Closed       time.Duration
	Establishing time.Duration
	Inactive     time.Duration
}

// DefaultTimeouts returns the standard sweep grace periods.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Closed:       10 * time.Second,
		Establishing: 30 * time.Second,
		Inactive:     180 * time.Second,
	}
}

// MaxHandlers bounds the number of per-connection handler data slots.
const MaxHandlers = 10

// IDSet is a small ordered set of connection IDs used for the links between
// aggregates and their members.
type IDSet struct {
	ids []uint64
}

func (s *IDSet) Add(id uint64) bool {
	if slices.Contains(s.ids, id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

func (s *IDSet) Remove(id uint64) bool {
	i := slices.Index(s.ids, id)
	if i < 0 {
		return false
	}
	s.ids = slices.Delete(s.ids, i, i+1)
	return true
}

func (s *IDSet) Contains(id uint64) bool { return slices.Contains(s.ids, id) }

func (s *IDSet) Len() int { return len(s.ids) }

// IDs returns a copy of the members in insertion order.
func (s *IDSet) IDs() []uint64 { return slices.Clone(s.ids) }
