package analyzer

import (
	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/stats"
	"firestige.xyz/flowscope/internal/tracker"
)

func (a *Analyzer) processDNS(u *udpPacket) *connection.Connection {
	dns, question, err := decoder.DecodeDNS(u.payload)
	if err != nil {
		a.stats.Inc(stats.NotEnoughPacketForDNSHdr)
		return nil
	}

	src, dst := u.ipPacket.hdr.Src, u.ipPacket.hdr.Dst
	c, fromResponder := a.table.SearchDNSEither(src, dst, u.hdr.SrcPort, u.hdr.DstPort)
	created := false
	if c == nil {
		if c, err = a.table.NewDNS(src, dst, u.hdr.SrcPort, u.hdr.DstPort, u.ts); err != nil {
			a.createFailed(err)
			return nil
		}
		created = true
	}
	pl := c.Payload.(*connection.DNS)

	if !dns.QR && dns.Opcode == decoder.DNSOpcodeQuery && dns.QDCount > 0 && len(question) > 0 {
		if name, err := decoder.DNSQueryName(question); err == nil {
			pl.LastQueriedName = name
		}
	}

	found := false
	if !dns.QR {
		sideMIDs(pl.Side1MIDs, pl.Side2MIDs, fromResponder).Add(u.ts, dns.ID)
	} else {
		found = a.ackMID(c, u.ipPacket, sideMIDs(pl.Side2MIDs, pl.Side1MIDs, fromResponder), fromResponder, dns.ID, "DNS response")
	}

	if created {
		a.newConnection(c, u.ipPacket, stats.ConnectionsDNS)
	}
	if fromResponder && found && c.State == connection.StateEstablishing {
		a.changeState(c, u.ipPacket, true, connection.StateEstablished)
		a.changeState(c, u.ipPacket, true, connection.StateClosed)
		c.MarkDeleted()
	}
	a.pakstats(c, fromResponder, u.ipPacket)
	return c
}

// sideMIDs returns side1 for initiator packets and side2 for responder
// packets.
func sideMIDs(side1, side2 *tracker.MIDTracker, fromResponder bool) *tracker.MIDTracker {
	if fromResponder {
		return side2
	}
	return side1
}

// ackMID matches a response message ID against the requests the other side
// sent and records the RTT on a hit.
func (a *Analyzer) ackMID(c *connection.Connection, p *ipPacket, mids *tracker.MIDTracker, fromResponder bool, mid uint16, why string) bool {
	sent, ok := mids.Ack(mid)
	if !ok {
		return false
	}
	a.newRTT(c, p, fromResponder, false, sent, p.ts, why)
	return true
}
