// Package source defines where packets come from: an offline capture file
// or a live AF_PACKET socket.
package source

import (
	"context"
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/flowscope/internal/core"
)

// ErrTimeout is returned by ReadPacket when no packet arrived within the
// poll timeout. Callers retry after checking for cancellation.
var ErrTimeout = errors.New("source: read timeout")

// Source produces captured frames. ReadPacket returns io.EOF when an offline
// source is exhausted.
type Source interface {
	Start(ctx context.Context) error
	ReadPacket() (core.RawPacket, error)
	LinkType() core.LinkType
	Stop() error
}

// Stats are the capture counters a source can report.
type Stats struct {
	Packets uint64
	Drops   uint64
}

// StatsReporter is implemented by sources that know about kernel drops.
type StatsReporter interface {
	Stats() (Stats, error)
}

// LinkTypeOf maps a gopacket link type to the analyzer's. Bare IPv4 and
// IPv6 captures are read as raw IP.
func LinkTypeOf(lt layers.LinkType) core.LinkType {
	switch lt {
	case layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return core.LinkTypeRaw
	}
	return core.LinkType(lt)
}

// NewRawPacket wraps a frame read through gopacket.
func NewRawPacket(data []byte, ci gopacket.CaptureInfo, lt core.LinkType) core.RawPacket {
	return core.RawPacket{
		Data:           data,
		Timestamp:      ci.Timestamp,
		CaptureLen:     uint32(ci.CaptureLength),
		OrigLen:        uint32(ci.Length),
		InterfaceIndex: ci.InterfaceIndex,
		LinkType:       lt,
	}
}
