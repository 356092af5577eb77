// Package analyzer turns captured frames into connection state and
// measurements. It decodes each frame down to the transport, finds or
// creates the connection the packet belongs to and feeds the per-protocol
// trackers. Everything happens synchronously on the caller's goroutine.
package analyzer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/stats"
	"firestige.xyz/flowscope/internal/tracker"
)

// ExtraMeasurement selects which experimental QUIC header bits are
// interpreted.
type ExtraMeasurement uint8

const (
	ExtraNone ExtraMeasurement = iota
	ExtraRTLoss1
	ExtraRTLoss2
	ExtraQRLoss
	ExtraQLLoss
	ExtraDelayBit
)

var extraNames = [...]string{
	ExtraNone:     "none",
	ExtraRTLoss1:  "rtloss1",
	ExtraRTLoss2:  "rtloss2",
	ExtraQRLoss:   "qrloss",
	ExtraQLLoss:   "qlloss",
	ExtraDelayBit: "delaybit",
}

func (m ExtraMeasurement) String() string {
	if int(m) < len(extraNames) {
		return extraNames[m]
	}
	return "invalid"
}

// ParseExtraMeasurement maps a configuration value to a mode. The empty
// string means none.
func ParseExtraMeasurement(s string) (ExtraMeasurement, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ExtraNone, nil
	}
	for i, name := range extraNames {
		if name == s {
			return ExtraMeasurement(i), nil
		}
	}
	return ExtraNone, fmt.Errorf("%w: unknown extra measurement %q", core.ErrConfigInvalid, s)
}

// Options configures an Analyzer.
type Options struct {
	Table            connection.Options
	RTTFilter        tracker.RTTFilter
	ExtraMeasurement ExtraMeasurement
	Logger           *slog.Logger
}

// Analyzer owns the connection table and the statistics of one capture.
// It is not safe for concurrent use.
type Analyzer struct {
	table  *connection.Table
	stats  *stats.Stats
	logger *slog.Logger

	rttFilter tracker.RTTFilter
	extra     ExtraMeasurement
	handlers  []handler

	sweepTime time.Time
}

func New(opts Options) *Analyzer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Table.Logger == nil {
		opts.Table.Logger = opts.Logger
	}
	a := &Analyzer{
		table:     connection.NewTable(opts.Table),
		stats:     stats.New(),
		logger:    opts.Logger.With("component", "analyzer"),
		rttFilter: opts.RTTFilter,
		extra:     opts.ExtraMeasurement,
	}
	a.table.OnDelete(a.onDelete)
	return a
}

func (a *Analyzer) Table() *connection.Table { return a.table }

func (a *Analyzer) Stats() *stats.Stats { return a.stats }

// ipPacket is the decoded network layer of the packet in flight.
type ipPacket struct {
	ts      time.Time
	hdr     core.IPHeader
	payload []byte // captured transport bytes
	length  int    // IP total length
}

// transportLen is the transport length announced by the IP header, which
// may exceed the captured bytes.
func (p *ipPacket) transportLen() int { return p.length - p.hdr.HeaderLen }

func (p *ipPacket) info(fromResponder bool) PacketInfo {
	return PacketInfo{Timestamp: p.ts, FromResponder: fromResponder, IPLength: p.length}
}

// Process analyzes one captured frame and returns the connection it was
// attributed to, or nil.
func (a *Analyzer) Process(pkt core.RawPacket) *connection.Connection {
	a.stats.Inc(stats.ReceivedFrames)
	data := pkt.Captured()
	frameLen := max(int(pkt.OrigLen), len(data))

	var (
		version uint8
		ipData  []byte
	)
	switch pkt.LinkType {
	case core.LinkTypeEthernet:
		eth, payload, err := decoder.DecodeEthernet(data)
		if err != nil {
			if errors.Is(err, core.ErrPacketTooShort) {
				a.stats.Inc(stats.NotEnoughPacketForEthernetHdr)
			} else {
				a.stats.Inc(stats.UnsupportedEthertype)
			}
			return nil
		}
		switch eth.EtherType {
		case decoder.EtherTypeIPv4:
			version = 4
		case decoder.EtherTypeIPv6:
			version = 6
		default:
			a.stats.Inc(stats.UnsupportedEthertype)
			return nil
		}
		ipData = payload
	case core.LinkTypeNull, core.LinkTypeLoop:
		family, payload, err := decoder.DecodeNull(data)
		if err != nil {
			a.stats.Inc(stats.NotEnoughPacketForEthernetHdr)
			return nil
		}
		switch family {
		case 2:
			version = 4
		case 22, 28, 30:
			version = 6
		default:
			a.stats.Inc(stats.UnsupportedNulltype)
			return nil
		}
		ipData = payload
	case core.LinkTypeRaw:
		if len(data) == 0 {
			a.stats.Inc(stats.NotEnoughPacketForIPHdr)
			return nil
		}
		version = data[0] >> 4
		ipData = data
	default:
		a.stats.Inc(stats.UnsupportedLinkType)
		return nil
	}

	room := frameLen - (len(data) - len(ipData))
	return a.processIP(pkt.Timestamp, version, ipData, room)
}

// processIP decodes the network header. room is the number of frame bytes
// from the start of the IP header, captured or not.
func (a *Analyzer) processIP(ts time.Time, version uint8, data []byte, room int) *connection.Connection {
	var (
		hdr     core.IPHeader
		payload []byte
		err     error
	)
	switch version {
	case 4:
		a.stats.Inc(stats.ReceivedIP)
		hdr, payload, err = decoder.DecodeIPv4(data)
	case 6:
		a.stats.Inc(stats.ReceivedIPv6)
		hdr, payload, err = decoder.DecodeIPv6(data)
	default:
		a.stats.Inc(stats.VersionMismatch)
		return nil
	}
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidIPVersion):
			a.stats.Inc(stats.VersionMismatch)
		case errors.Is(err, core.ErrInvalidIPHeader):
			a.stats.Inc(stats.InvalidIPHdrSize)
		case errors.Is(err, core.ErrInvalidIPLength):
			a.stats.Inc(stats.InvalidIPLength)
		case hdr.Protocol == core.ProtocolFrag:
			a.stats.Inc(stats.FragmentTooShort)
		default:
			a.stats.Inc(stats.NotEnoughPacketForIPHdr)
		}
		a.logger.Debug("dropping packet", "ip_version", version, "error", err)
		return nil
	}
	if int(hdr.TotalLen) > room {
		a.stats.Inc(stats.InvalidIPLength)
		a.logger.Debug("ip length exceeds frame", "ip_length", hdr.TotalLen, "frame_remaining", room)
		return nil
	}
	if hdr.FragmentOffset != 0 {
		a.stats.Inc(stats.UnhandledFragment)
		return nil
	}
	if version == 4 {
		a.stats.Add(stats.ReceivedIPBytes, uint64(room))
	} else {
		a.stats.Add(stats.ReceivedIPv6Bytes, uint64(room))
	}

	p := &ipPacket{ts: ts, hdr: hdr, payload: payload, length: int(hdr.TotalLen)}
	var c *connection.Connection
	switch hdr.Protocol {
	case core.ProtocolTCP:
		c = a.processTCP(p)
	case core.ProtocolUDP:
		c = a.processUDP(p)
	case core.ProtocolICMP:
		c = a.processICMP(p, false)
	case core.ProtocolICMPv6:
		c = a.processICMP(p, true)
	case core.ProtocolSCTP:
		c = a.processSCTP(p)
	default:
		a.stats.Inc(stats.ProtocolNotSupported)
	}
	if c == nil {
		a.otherPayload(p)
	}
	return c
}

// otherPayload accounts a packet that produced no connection against the
// aggregates covering its addresses.
func (a *Analyzer) otherPayload(p *ipPacket) {
	for _, agg := range a.table.MatchingAggregates(p.hdr.Src, p.hdr.Dst) {
		a.pakstats(agg, aggregateFromResponder(agg, p.hdr.Src), p)
	}
}

// aggregateFromResponder orients a packet within an aggregate: side1 of the
// pattern is the initiator.
func aggregateFromResponder(agg *connection.Connection, src core.Address) bool {
	switch pl := agg.Payload.(type) {
	case *connection.HostPair:
		return !src.Equal(pl.Side1)
	case *connection.HostNetwork:
		return !src.Equal(pl.Side1)
	case *connection.NetworkNetwork:
		return !pl.Side1Network.Contains(src)
	case *connection.MulticastGroup:
		return src.Equal(pl.Group)
	}
	return false
}

// pakstats updates the per-side counters of c and of every aggregate c
// belongs to.
func (a *Analyzer) pakstats(c *connection.Connection, fromResponder bool, p *ipPacket) {
	side := c.SideFor(fromResponder)
	side.LastSeen = p.ts
	side.Packets++
	side.Bytes.Add(p.ts, uint64(p.length))

	ce := false
	switch p.hdr.ECN {
	case core.ECNECT0:
		side.ECT0++
	case core.ECNECT1:
		side.ECT1++
	case core.ECNCE:
		side.CE++
		ce = true
	}

	info := p.info(fromResponder)
	if fromResponder && side.Packets == 1 {
		a.fire(EventFirstResponsePacket, info, c)
	}
	a.fire(EventNewPacket, info, c)
	if ce {
		a.fire(sided(fromResponder, EventInitiatorECNCE, EventResponderECNCE), info, c)
	}

	for _, agg := range a.table.AggregatesOf(c) {
		a.pakstats(agg, fromResponder, p)
	}
}

// newRTT records sent→rcvd on c and its aggregates. right selects the
// measurement completed by a responder packet; unidirectional selects the
// full round trip of the sending side instead of the left/right halves.
func (a *Analyzer) newRTT(c *connection.Connection, p *ipPacket, right, unidirectional bool, sent, rcvd time.Time, why string) uint32 {
	d := rcvd.Sub(sent)
	if d < 0 {
		a.stats.Inc(stats.InvalidRTT)
		a.logger.Warn("negative rtt sample ignored", "id", c.ID, "reason", why, "diff", d)
		return tracker.RTTInfinite
	}

	var (
		r  *tracker.RTT
		ev Event
	)
	switch {
	case unidirectional && right:
		r, ev = &c.Side2.FullRTT, EventNewRespInitFullRTT
	case unidirectional:
		r, ev = &c.Side1.FullRTT, EventNewInitRespFullRTT
	case right:
		r, ev = &c.RightRTT, EventNewRightRTT
	default:
		r, ev = &c.LeftRTT, EventNewLeftRTT
	}
	v := r.Add(d, a.rttFilter)
	a.logger.Debug("new rtt measurement", "id", c.ID, "event", ev.String(), "rtt", tracker.FormatRTT(v), "reason", why)
	a.fire(ev, p.info(right), c)

	for _, agg := range a.table.AggregatesOf(c) {
		a.newRTT(agg, p, right, unidirectional, sent, rcvd, why)
	}
	return v
}

// changeState moves c forward and fires the state change event. Backward
// moves and changes of static connections are refused.
func (a *Analyzer) changeState(c *connection.Connection, p *ipPacket, fromResponder bool, s connection.State) {
	if c.State == s {
		return
	}
	if c.State == connection.StateStatic || s < c.State {
		a.logger.Error("refusing state transition", "id", c.ID, "from", c.State.String(), "to", s.String())
		return
	}
	c.State = s
	a.fire(EventStateChange, p.info(fromResponder), c)
}

// newConnection counts a created flow and announces it.
func (a *Analyzer) newConnection(c *connection.Connection, p *ipPacket, counter stats.Counter) {
	a.stats.Inc(stats.Connections)
	a.stats.Inc(counter)
	a.fire(EventNewConnection, p.info(false), c)
}

// createFailed records a failed insertion. The packet is then skipped.
func (a *Analyzer) createFailed(err error) {
	if errors.Is(err, core.ErrTableFull) {
		a.stats.Inc(stats.ConnectionTableFull)
	}
	a.logger.Warn("cannot create connection", "error", err)
}

// PeriodicCheck runs the table sweep for the time now and counts what it
// removed. Each removal fires EventConnectionDelete.
func (a *Analyzer) PeriodicCheck(now time.Time) connection.SweepResult {
	a.sweepTime = now
	res := a.table.PeriodicCheck(now)
	a.stats.Add(stats.ConnectionsDeletedClosed, uint64(res.DeletedClosed))
	a.stats.Add(stats.ConnectionsDeletedInactive, uint64(res.DeletedInactive))
	return res
}

func (a *Analyzer) onDelete(c *connection.Connection, reason string) {
	a.fire(EventConnectionDelete, PacketInfo{Timestamp: a.sweepTime}, c)
}
