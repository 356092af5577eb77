package analyzer

import (
	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/stats"
)

// processICMP tracks echo exchanges. A request creates or extends the flow
// of its sender; a reply is matched with the addresses swapped and yields a
// right RTT. Replies nobody asked for are dropped.
func (a *Analyzer) processICMP(p *ipPacket, v6 bool) *connection.Connection {
	a.stats.Inc(stats.ReceivedICMP)
	if p.transportLen() < decoder.ICMPHeaderLen {
		a.stats.Inc(stats.InvalidICMPHdrSize)
		return nil
	}
	icmp, _, err := decoder.DecodeICMP(p.payload)
	if err != nil {
		a.stats.Inc(stats.NotEnoughPacketForICMPHdr)
		return nil
	}

	var requestType, replyType uint8 = decoder.ICMPEchoRequest, decoder.ICMPEchoReply
	if v6 {
		requestType, replyType = decoder.ICMPv6EchoRequest, decoder.ICMPv6EchoReply
	}
	if icmp.Type != requestType && icmp.Type != replyType {
		a.stats.Inc(stats.UnsupportedICMPType)
		return nil
	}
	if icmp.Code != 0 {
		a.stats.Inc(stats.InvalidICMPCode)
		return nil
	}
	a.stats.Inc(stats.ReceivedICMPEcho)

	reply := icmp.Type == replyType
	side1, side2 := p.hdr.Src, p.hdr.Dst
	if reply {
		side1, side2 = side2, side1
	}

	c := a.table.SearchICMP(side1, side2, requestType, icmp.ID)
	created := false
	if c == nil {
		if reply {
			return nil
		}
		if c, err = a.table.NewICMP(side1, side2, requestType, icmp.ID, p.ts); err != nil {
			a.createFailed(err)
			return nil
		}
		created = true
	}
	pl := c.Payload.(*connection.ICMP)
	pl.LatestSequence = icmp.Seq

	if reply {
		if c.State == connection.StateEstablishing {
			a.changeState(c, p, true, connection.StateEstablished)
		}
		if sent, ok := pl.Side1Echoes.Ack(icmp.Seq); ok {
			a.newRTT(c, p, true, false, sent, p.ts, "ICMP echo reply")
		}
	} else {
		pl.Side1Echoes.Add(p.ts, icmp.Seq)
	}

	if created {
		a.newConnection(c, p, stats.ConnectionsICMP)
	}
	a.pakstats(c, reply, p)
	return c
}
