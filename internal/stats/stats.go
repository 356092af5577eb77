// Package stats holds the named counters incremented while analyzing
// packets. Counters are atomic so that metric scrapes and API handlers can
// read them from other goroutines.
package stats

import (
	"fmt"
	"sync/atomic"
)

// Counter names one statistic.
type Counter int

const (
	ReceivedFrames Counter = iota
	NotEnoughPacketForEthernetHdr
	UnsupportedEthertype
	UnsupportedNulltype
	UnsupportedLinkType

	ReceivedIP
	ReceivedIPBytes
	ReceivedIPv6
	ReceivedIPv6Bytes
	NotEnoughPacketForIPHdr
	InvalidIPHdrSize
	VersionMismatch
	InvalidIPLength
	UnhandledFragment
	FragmentTooShort
	ProtocolNotSupported

	ReceivedICMP
	NotEnoughPacketForICMPHdr
	InvalidICMPHdrSize
	UnsupportedICMPType
	InvalidICMPCode
	ReceivedICMPEcho

	ReceivedTCP
	NotEnoughPacketForTCPHdr
	InvalidTCPHdrSize
	UnknownTCPConnection

	ReceivedUDP
	NotEnoughPacketForUDPHdr
	NotEnoughPacketForDNSHdr
	NotEnoughPacketForCoAPHdr
	UnrecognisedCoAPVersion
	UntrackableCoAPMessage
	InvalidTLSPacket

	ReceivedQUIC
	NotEnoughPacketForQUICHdr
	UnrecognisedQUICVersion
	UnsupportedQUICVersion
	UnrecognisedQUICType
	RTLossReflectionAnomaly

	ReceivedSCTP
	NotEnoughPacketForSCTPHdr
	SCTPChunkTooShort

	InvalidRTT
	ConnectionTableFull

	Connections
	ConnectionsICMP
	ConnectionsTCP
	ConnectionsUDP
	ConnectionsDNS
	ConnectionsCoAP
	ConnectionsQUIC
	ConnectionsSCTP
	ConnectionsDeletedClosed
	ConnectionsDeletedInactive

	numCounters
)

var names = [numCounters]string{
	ReceivedFrames:                "receivedFrames",
	NotEnoughPacketForEthernetHdr: "notEnoughPacketForEthernetHdr",
	UnsupportedEthertype:          "unsupportedEthertype",
	UnsupportedNulltype:           "unsupportedNulltype",
	UnsupportedLinkType:           "unsupportedLinkType",
	ReceivedIP:                    "receivedIp",
	ReceivedIPBytes:               "receivedIpBytes",
	ReceivedIPv6:                  "receivedIpv6",
	ReceivedIPv6Bytes:             "receivedIpv6Bytes",
	NotEnoughPacketForIPHdr:       "notEnoughPacketForIpHdr",
	InvalidIPHdrSize:              "invalidIpHdrSize",
	VersionMismatch:               "versionMismatch",
	InvalidIPLength:               "invalidIpLength",
	UnhandledFragment:             "unhandledFragment",
	FragmentTooShort:              "fragmentTooShort",
	ProtocolNotSupported:          "protocolNotSupported",
	ReceivedICMP:                  "receivedIcmp",
	NotEnoughPacketForICMPHdr:     "notEnoughPacketForIcmpHdr",
	InvalidICMPHdrSize:            "invalidIcmpHdrSize",
	UnsupportedICMPType:           "unsupportedIcmpType",
	InvalidICMPCode:               "invalidIcmpCode",
	ReceivedICMPEcho:              "receivedIcmpEcho",
	ReceivedTCP:                   "receivedTcp",
	NotEnoughPacketForTCPHdr:      "notEnoughPacketForTcpHdr",
	InvalidTCPHdrSize:             "invalidTcpHdrSize",
	UnknownTCPConnection:          "unknownTcpConnection",
	ReceivedUDP:                   "receivedUdp",
	NotEnoughPacketForUDPHdr:      "notEnoughPacketForUdpHdr",
	NotEnoughPacketForDNSHdr:      "notEnoughPacketForDnsHdr",
	NotEnoughPacketForCoAPHdr:     "notEnoughPacketForCoapHdr",
	UnrecognisedCoAPVersion:       "unrecognisedCoapVersion",
	UntrackableCoAPMessage:        "untrackableCoapMessage",
	InvalidTLSPacket:              "invalidTlsPacket",
	ReceivedQUIC:                  "receivedQuic",
	NotEnoughPacketForQUICHdr:     "notEnoughPacketForQuicHdr",
	UnrecognisedQUICVersion:       "unrecognisedQuicVersion",
	UnsupportedQUICVersion:        "unsupportedQuicVersion",
	UnrecognisedQUICType:          "unrecognisedQuicType",
	RTLossReflectionAnomaly:       "rtLossReflectionAnomaly",
	ReceivedSCTP:                  "receivedSctp",
	NotEnoughPacketForSCTPHdr:     "notEnoughPacketForSctpHdr",
	SCTPChunkTooShort:             "sctpChunkTooShort",
	InvalidRTT:                    "invalidRtt",
	ConnectionTableFull:           "connectionTableFull",
	Connections:                   "connections",
	ConnectionsICMP:               "connectionsIcmp",
	ConnectionsTCP:                "connectionsTcp",
	ConnectionsUDP:                "connectionsUdp",
	ConnectionsDNS:                "connectionsDns",
	ConnectionsCoAP:               "connectionsCoap",
	ConnectionsQUIC:               "connectionsQuic",
	ConnectionsSCTP:               "connectionsSctp",
	ConnectionsDeletedClosed:      "connectionsDeletedClosed",
	ConnectionsDeletedInactive:    "connectionsDeletedInactive",
}

func (c Counter) String() string {
	if c >= 0 && c < numCounters {
		return names[c]
	}
	return fmt.Sprintf("counter(%d)", int(c))
}

// Stats is the counter sink. The zero value is ready to use.
type Stats struct {
	counters [numCounters]atomic.Uint64
}

func New() *Stats { return &Stats{} }

func (s *Stats) Inc(c Counter) { s.counters[c].Add(1) }

func (s *Stats) Add(c Counter, n uint64) { s.counters[c].Add(n) }

func (s *Stats) Get(c Counter) uint64 { return s.counters[c].Load() }

// Each calls fn for every counter in declaration order.
func (s *Stats) Each(fn func(c Counter, value uint64)) {
	for i := range s.counters {
		fn(Counter(i), s.counters[i].Load())
	}
}

// Snapshot returns all counters keyed by name.
func (s *Stats) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, numCounters)
	s.Each(func(c Counter, v uint64) { out[c.String()] = v })
	return out
}

// Counters lists every defined counter.
func Counters() []Counter {
	out := make([]Counter, numCounters)
	for i := range out {
		out[i] = Counter(i)
	}
	return out
}
