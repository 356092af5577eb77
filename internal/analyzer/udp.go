package analyzer

import (
	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/stats"
)

const (
	portDNS        = 53
	portCoAP       = 5683
	portCoAPSecure = 5684
)

// udpPacket is a decoded UDP datagram within its IP packet.
type udpPacket struct {
	*ipPacket
	hdr     core.UDPHeader
	payload []byte // captured payload bytes
	size    int    // payload size from the headers
}

func (a *Analyzer) processUDP(p *ipPacket) *connection.Connection {
	a.stats.Inc(stats.ReceivedUDP)
	if p.transportLen() < decoder.UDPHeaderLen {
		a.stats.Inc(stats.NotEnoughPacketForUDPHdr)
		return nil
	}
	hdr, payload, err := decoder.DecodeUDP(p.payload)
	if err != nil {
		a.stats.Inc(stats.NotEnoughPacketForUDPHdr)
		return nil
	}
	u := &udpPacket{
		ipPacket: p,
		hdr:      hdr,
		payload:  payload,
		size:     max(int(hdr.Length), p.transportLen()) - decoder.UDPHeaderLen,
	}

	switch {
	case (hdr.SrcPort == portDNS || hdr.DstPort == portDNS) && u.size >= decoder.DNSHeaderLen:
		return a.processDNS(u)
	case hdr.SrcPort == portCoAP || hdr.DstPort == portCoAP:
		if u.size >= decoder.CoAPHeaderLen {
			return a.processCoAP(u)
		}
	case hdr.SrcPort == portCoAPSecure || hdr.DstPort == portCoAPSecure:
		if decoder.IsProbableTLS(payload, true) {
			return a.processDTLS(u)
		}
	}
	if decoder.IsProbableQUIC(payload, hdr.SrcPort, hdr.DstPort) {
		return a.processQUIC(u)
	}
	if c, _ := a.table.SearchQUIC5TupleEither(p.hdr.Src, p.hdr.Dst, hdr.SrcPort, hdr.DstPort); c != nil {
		return a.processQUIC(u)
	}
	return a.processPlainUDP(u)
}

// processPlainUDP tracks a datagram flow with no recognised application
// protocol. The first packet seen from the responder establishes it.
func (a *Analyzer) processPlainUDP(u *udpPacket) *connection.Connection {
	src, dst := u.ipPacket.hdr.Src, u.ipPacket.hdr.Dst
	c, fromResponder := a.table.SearchUDPEither(src, dst, u.hdr.SrcPort, u.hdr.DstPort)
	if c == nil {
		var err error
		if c, err = a.table.NewUDP(src, dst, u.hdr.SrcPort, u.hdr.DstPort, u.ts); err != nil {
			a.createFailed(err)
			return nil
		}
		a.newConnection(c, u.ipPacket, stats.ConnectionsUDP)
	}
	if fromResponder && c.State == connection.StateEstablishing {
		a.changeState(c, u.ipPacket, true, connection.StateEstablished)
	}
	a.pakstats(c, fromResponder, u.ipPacket)
	return c
}
