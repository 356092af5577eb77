package analyzer

import (
	"errors"

	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/stats"
)

func (a *Analyzer) processTCP(p *ipPacket) *connection.Connection {
	a.stats.Inc(stats.ReceivedTCP)
	if p.transportLen() < decoder.TCPHeaderMinLen {
		a.stats.Inc(stats.NotEnoughPacketForTCPHdr)
		return nil
	}
	tcp, _, err := decoder.DecodeTCP(p.payload)
	if err != nil {
		if errors.Is(err, core.ErrInvalidTCPHeader) {
			a.stats.Inc(stats.InvalidTCPHdrSize)
		} else {
			a.stats.Inc(stats.NotEnoughPacketForTCPHdr)
		}
		return nil
	}
	payloadLen := uint32(max(p.transportLen()-tcp.HeaderLen, 0))
	src, dst := p.hdr.Src, p.hdr.Dst
	fin := tcp.Has(core.TCPFlagFIN)

	var (
		c             *connection.Connection
		fromResponder bool
		created       bool
	)
	switch {
	case tcp.Has(core.TCPFlagSYN) && !tcp.Has(core.TCPFlagACK):
		c = a.table.SearchTCP(src, dst, tcp.SrcPort, tcp.DstPort)
		if c == nil {
			if c, err = a.table.NewTCP(src, dst, tcp.SrcPort, tcp.DstPort, p.ts); err != nil {
				a.createFailed(err)
				return nil
			}
			created = true
		}
		a.pakstats(c, false, p)
		a.markSeqSent(c, false, tcp.Seq, 1, p, fin)

	case tcp.Has(core.TCPFlagSYN):
		c = a.table.SearchTCP(dst, src, tcp.DstPort, tcp.SrcPort)
		if c == nil {
			a.stats.Inc(stats.UnknownTCPConnection)
			return nil
		}
		if c.State == connection.StateEstablishing {
			a.changeState(c, p, true, connection.StateEstablished)
		}
		a.pakstats(c, true, p)
		a.markSeqSent(c, true, tcp.Seq, 1, p, fin)
		a.markAckReceived(c, true, tcp.Ack, p)

	case fin:
		if c, fromResponder = a.table.SearchTCPEither(src, dst, tcp.SrcPort, tcp.DstPort); c == nil {
			a.stats.Inc(stats.UnknownTCPConnection)
			return nil
		}
		if c.State <= connection.StateClosing {
			a.changeState(c, p, fromResponder, connection.StateClosing)
		}
		pl := c.Payload.(*connection.TCP)
		pl.SetFin(fromResponder)
		a.pakstats(c, fromResponder, p)
		a.markSeqSent(c, fromResponder, tcp.Seq, payloadLen, p, fin)
		if a.markAckReceived(c, fromResponder, tcp.Ack, p) {
			pl.SetFin(!fromResponder)
		}
		a.closeIfFinished(c, pl, fromResponder, p)

	case tcp.Has(core.TCPFlagRST):
		if c, fromResponder = a.table.SearchTCPEither(src, dst, tcp.SrcPort, tcp.DstPort); c == nil {
			a.stats.Inc(stats.UnknownTCPConnection)
			return nil
		}
		a.pakstats(c, fromResponder, p)
		a.markAckReceived(c, fromResponder, tcp.Ack, p)
		a.changeState(c, p, fromResponder, connection.StateClosed)
		c.MarkDeleted()

	default:
		if c, fromResponder = a.table.SearchTCPEither(src, dst, tcp.SrcPort, tcp.DstPort); c == nil {
			a.stats.Inc(stats.UnknownTCPConnection)
			return nil
		}
		pl := c.Payload.(*connection.TCP)
		a.markSeqSent(c, fromResponder, tcp.Seq, payloadLen, p, fin)
		if a.markAckReceived(c, fromResponder, tcp.Ack, p) {
			pl.SetFin(!fromResponder)
			a.closeIfFinished(c, pl, fromResponder, p)
		}
		a.pakstats(c, fromResponder, p)
	}

	if created {
		a.newConnection(c, p, stats.ConnectionsTCP)
	}
	return c
}

func (a *Analyzer) markSeqSent(c *connection.Connection, fromResponder bool, seq, length uint32, p *ipPacket, fin bool) {
	pl := c.Payload.(*connection.TCP)
	if fromResponder {
		pl.Side2Seqs.Add(p.ts, seq, length, fin)
	} else {
		pl.Side1Seqs.Add(p.ts, seq, length, fin)
	}
}

// markAckReceived matches ack against the data sent by the other side. An
// ack from the responder completes a right RTT, one from the initiator a
// left RTT. It reports whether the acknowledged data carried a FIN.
func (a *Analyzer) markAckReceived(c *connection.Connection, fromResponder bool, ack uint32, p *ipPacket) bool {
	pl := c.Payload.(*connection.TCP)
	seqs := pl.Side2Seqs
	if fromResponder {
		seqs = pl.Side1Seqs
	}
	sent, ackedFin, ok := seqs.Ack(ack)
	if !ok {
		return false
	}
	a.newRTT(c, p, fromResponder, false, sent, p.ts, "TCP ACK")
	return ackedFin
}

// closeIfFinished closes a closing connection once FINs from both sides
// are known.
func (a *Analyzer) closeIfFinished(c *connection.Connection, pl *connection.TCP, fromResponder bool, p *ipPacket) {
	if pl.FinFromSide1 && pl.FinFromSide2 && c.State == connection.StateClosing {
		a.changeState(c, p, fromResponder, connection.StateClosed)
		c.MarkDeleted()
	}
}
