// Package core defines core data structures with zero external dependencies.
package core

import "time"

// LinkType is the pcap data link type of a captured frame.
type LinkType uint16

// Link types understood by the analyzer. Values follow the pcap DLT numbers.
const (
	LinkTypeNull     LinkType = 0
	LinkTypeEthernet LinkType = 1
	LinkTypeRaw      LinkType = 101
	LinkTypeLoop     LinkType = 108
)

func (l LinkType) String() string {
	switch l {
	case LinkTypeNull:
		return "null"
	case LinkTypeEthernet:
		return "ethernet"
	case LinkTypeRaw:
		return "raw"
	case LinkTypeLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// RawPacket is a captured frame handed to the analyzer.
// CaptureLen bounds every decode; OrigLen is only used for byte accounting.
type RawPacket struct {
	Data           []byte    // Raw frame data, zero-copy slice
	Timestamp      time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length
	InterfaceIndex int       // Network interface index
	LinkType       LinkType
}

// Captured returns the captured bytes of the frame.
func (p RawPacket) Captured() []byte {
	if int(p.CaptureLen) < len(p.Data) {
		return p.Data[:p.CaptureLen]
	}
	return p.Data
}
