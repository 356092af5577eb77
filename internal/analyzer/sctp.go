package analyzer

import (
	"errors"

	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/stats"
	"firestige.xyz/flowscope/internal/tracker"
)

// processSCTP follows the association handshake and teardown and pairs DATA
// TSNs with cumulative SACKs. Only the first INIT creates an association;
// packets of unknown associations are dropped.
func (a *Analyzer) processSCTP(p *ipPacket) *connection.Connection {
	a.stats.Inc(stats.ReceivedSCTP)
	hdr, body, err := decoder.DecodeSCTP(p.payload)
	if err != nil {
		a.stats.Inc(stats.NotEnoughPacketForSCTPHdr)
		return nil
	}
	chunks, err := decoder.DecodeSCTPChunks(body)
	if err != nil {
		if errors.Is(err, core.ErrSCTPChunkTooShort) {
			a.stats.Inc(stats.SCTPChunkTooShort)
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	src, dst := p.hdr.Src, p.hdr.Dst
	c, fromResponder := a.table.SearchSCTPEither(src, dst, hdr.SrcPort, hdr.DstPort)
	created := false
	if c == nil {
		first := chunks[0]
		if first.Type != decoder.SCTPChunkInit || first.Init == nil {
			return nil
		}
		if c, err = a.table.NewSCTP(src, dst, hdr.SrcPort, hdr.DstPort, first.Init.InitiateTag, p.ts); err != nil {
			a.createFailed(err)
			return nil
		}
		created = true
	}
	pl := c.Payload.(*connection.SCTP)

	closed := false
	for _, ch := range chunks {
		switch ch.Type {
		case decoder.SCTPChunkInitAck:
			if fromResponder && ch.Init != nil {
				pl.Side2VerificationTag = ch.Init.InitiateTag
				if c.State == connection.StateEstablishing {
					a.changeState(c, p, true, connection.StateEstablished)
				}
			}
		case decoder.SCTPChunkData:
			if ch.Data != nil {
				a.sctpTSNs(pl, fromResponder).Add(p.ts, ch.Data.TSN)
			}
		case decoder.SCTPChunkSack:
			if ch.Sack == nil {
				continue
			}
			if sent, ok := a.sctpTSNs(pl, !fromResponder).Ack(ch.Sack.CumulativeTSN); ok {
				a.newRTT(c, p, fromResponder, false, sent, p.ts, "SCTP SACK")
			}
		case decoder.SCTPChunkShutdown, decoder.SCTPChunkShutdownAck:
			if c.State < connection.StateClosing {
				a.changeState(c, p, fromResponder, connection.StateClosing)
			}
		case decoder.SCTPChunkShutdownComplete, decoder.SCTPChunkAbort:
			closed = true
		}
	}

	if created {
		a.newConnection(c, p, stats.ConnectionsSCTP)
	}
	a.pakstats(c, fromResponder, p)
	if closed {
		a.changeState(c, p, fromResponder, connection.StateClosed)
		c.MarkDeleted()
	}
	return c
}

// sctpTSNs returns the TSNs sent by the responder when fromResponder is set.
func (a *Analyzer) sctpTSNs(pl *connection.SCTP, fromResponder bool) *tracker.TSNTracker {
	if fromResponder {
		return pl.Side2TSNs
	}
	return pl.Side1TSNs
}
