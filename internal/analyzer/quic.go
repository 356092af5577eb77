package analyzer

import (
	"errors"

	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/stats"
	"firestige.xyz/flowscope/internal/tracker"
)

// processQUIC attributes a QUIC packet to a connection, trying the 5-tuple
// first and falling back to connection IDs so that migrated flows are still
// found. Short header packets feed the spin bit and, when configured, one of
// the experimental loss or delay measurements.
func (a *Analyzer) processQUIC(u *udpPacket) *connection.Connection {
	h, err := decoder.DecodeQUIC(u.payload)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrPacketTooShort):
			a.stats.Inc(stats.NotEnoughPacketForQUICHdr)
		case errors.Is(err, core.ErrUnsupportedQUICVersion):
			a.stats.Inc(stats.UnsupportedQUICVersion)
		case errors.Is(err, core.ErrUnrecognisedQUICVersion):
			a.stats.Inc(stats.UnrecognisedQUICVersion)
		default:
			a.stats.Inc(stats.UnrecognisedQUICType)
		}
		return nil
	}
	a.stats.Inc(stats.ReceivedQUIC)

	p := u.ipPacket
	src, dst := p.hdr.Src, p.hdr.Dst
	c, fromResponder := a.table.SearchQUIC5TupleEither(src, dst, u.hdr.SrcPort, u.hdr.DstPort)
	if c == nil && h.DestCIDLenKnown && h.SourceCIDPresent {
		c, fromResponder = a.table.SearchQUICCIDsEither(h.DestCID, h.SourceCID)
	}
	if c == nil && h.DestCIDLenKnown {
		if c = a.table.SearchQUICDestCID(h.DestCID); c != nil {
			fromResponder = true
		}
	}
	if c == nil && !h.DestCIDLenKnown {
		c, fromResponder = a.table.SearchQUICPartialCIDEither(h.DestCID)
	}

	created := false
	if c == nil {
		if h.DestCIDLenKnown && h.SourceCIDPresent {
			c, err = a.table.NewQUIC5TupleAndCIDs(src, dst, u.hdr.SrcPort, u.hdr.DstPort, h.DestCID, h.SourceCID, u.ts)
		} else {
			c, err = a.table.NewQUIC5Tuple(src, dst, u.hdr.SrcPort, u.hdr.DstPort, u.ts)
		}
		if err != nil {
			a.createFailed(err)
			return nil
		}
		q := c.Payload.(*connection.QUIC)
		q.Version, q.OriginalVersion = h.Version, h.Version
		if !h.LongForm {
			q.Version, q.OriginalVersion = decoder.QUICVersionUnknown, decoder.QUICVersionUnknown
		}
		fromResponder = false
		created = true
	}
	q := c.Payload.(*connection.QUIC)

	if h.LongForm && h.Type != decoder.QUICMessageVersionNegotiation && h.Version != q.Version {
		a.logger.Debug("quic version change", "id", c.ID,
			"from", decoder.QUICVersionName(q.Version), "to", decoder.QUICVersionName(h.Version))
		q.Version = h.Version
	}

	if c.State == connection.StateEstablishing {
		a.quicHandshake(c, q, p, h, fromResponder)
	}

	if fromResponder {
		if h.DestCIDLenKnown {
			q.Peer1CID = h.DestCID
		}
		if h.SourceCIDPresent {
			q.Peer2CID = h.SourceCID
		}
	}

	if created {
		a.newConnection(c, p, stats.ConnectionsQUIC)
	}

	if !h.LongForm {
		flipped := a.quicSpin(c, q, p, h, fromResponder)
		if a.extra != ExtraNone {
			a.quicExtra(c, q, p, h, fromResponder, flipped)
		}
	}

	a.pakstats(c, fromResponder, p)
	return c
}

// quicHandshake times the Initial exchange. The responder's first Initial
// (or a version negotiation) closes the right RTT and establishes the flow;
// a later initiator Initial closes the left RTT.
func (a *Analyzer) quicHandshake(c *connection.Connection, q *connection.QUIC, p *ipPacket, h decoder.QUICHeader, fromResponder bool) {
	if fromResponder {
		q.Side2InitialResponsePacket = p.ts
	} else {
		q.Side1InitialPacket = p.ts
	}

	switch {
	case fromResponder && (h.Type == decoder.QUICMessageInitial || h.Type == decoder.QUICMessageVersionNegotiation):
		if h.Type == decoder.QUICMessageInitial {
			a.changeState(c, p, true, connection.StateEstablished)
		}
		q.InitialRightRTT = a.newRTT(c, p, true, false, q.Side1InitialPacket, q.Side2InitialResponsePacket, "QUIC initial response")
	case !fromResponder && h.Type == decoder.QUICMessageInitial && !q.Side2InitialResponsePacket.IsZero():
		q.InitialLeftRTT = a.newRTT(c, p, false, false, q.Side2InitialResponsePacket, q.Side1InitialPacket, "QUIC initial")
	}
}

// quicSpin feeds the spin bit and reports whether it flipped.
func (a *Analyzer) quicSpin(c *connection.Connection, q *connection.QUIC, p *ipPacket, h decoder.QUICHeader, fromResponder bool) bool {
	spin, ok := decoder.QUICSpinBit(h, q.Version)
	if !ok {
		return false
	}
	obs := tracker.ObserveSpin(q.Direction(fromResponder).Spin, q.Direction(!fromResponder).Spin, p.ts, spin, fromResponder)
	info := p.info(fromResponder)
	a.fire(sided(fromResponder, EventInitiatorSpinValue, EventResponderSpinValue), info, c)
	if !obs.Flipped {
		return false
	}
	a.fire(sided(fromResponder, EventInitiatorSpinFlip, EventResponderSpinFlip), info, c)
	if obs.Bidirectional {
		a.newRTT(c, p, fromResponder, false, obs.BidirectionalSent, p.ts, "SPIN")
	}
	if obs.Unidirectional {
		a.newRTT(c, p, fromResponder, true, obs.UnidirectionalSent, p.ts, "SPIN_UNIDIR")
	}
	return true
}

// quicExtra interprets the two reserved short header bits according to the
// configured experiment. Rates are stored on the sending side.
func (a *Analyzer) quicExtra(c *connection.Connection, q *connection.QUIC, p *ipPacket, h decoder.QUICHeader, fromResponder, spinFlip bool) {
	bits := decoder.QUICReservedBits(h)
	bit1, bit0 := bits&0x2 != 0, bits&0x1 != 0
	dir := q.Direction(fromResponder)
	side := c.SideFor(fromResponder)
	info := p.info(fromResponder)

	switch a.extra {
	case ExtraRTLoss1:
		if dir.RTLoss1.Observe(p.ts, bit1, spinFlip) {
			side.RTLoss = dir.RTLoss1.Rates()
			a.fire(sided(fromResponder, EventInitiatorRTLoss, EventResponderRTLoss), info, c)
		}
	case ExtraRTLoss2:
		anomalies := dir.RTLoss2.Anomalies
		updated := dir.RTLoss2.Observe(p.ts, bits)
		if dir.RTLoss2.Anomalies != anomalies {
			a.stats.Inc(stats.RTLossReflectionAnomaly)
			a.logger.Debug("rtloss2 reflected more packets than generated", "id", c.ID)
		}
		if updated {
			side.RTLoss = dir.RTLoss2.Rates()
			a.fire(sided(fromResponder, EventInitiatorRTLoss, EventResponderRTLoss), info, c)
		}
	case ExtraQRLoss:
		if dir.QRLoss.Observe(bit1, bit0) > 0 {
			side.QRLoss = dir.QRLoss.Rates()
			a.fire(sided(fromResponder, EventInitiatorQRLoss, EventResponderQRLoss), info, c)
		}
	case ExtraQLLoss:
		// pakstats has not run yet for this packet.
		if dir.QLLoss.Observe(bit1, bit0) || bit0 {
			side.QLoss, side.LLoss = dir.QLLoss.Rates(side.Packets + 1)
			a.fire(sided(fromResponder, EventInitiatorQLLoss, EventResponderQLLoss), info, c)
		}
	case ExtraDelayBit:
		other := q.Direction(!fromResponder)
		obs := tracker.ObserveDelayBit(&dir.Delay, &other.Delay, p.ts, bit1)
		if obs.Unidirectional {
			a.newRTT(c, p, fromResponder, true, obs.UnidirectionalSent, p.ts, "DELAY_UNIDIR")
		}
		if obs.Bidirectional {
			a.newRTT(c, p, fromResponder, false, obs.BidirectionalSent, p.ts, "DELAY")
		}
	}
}
