package analyzer

import (
	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/stats"
)

const coapVersion1 = 1

// processCoAP handles cleartext CoAP. Confirmable requests are remembered
// and acknowledgements carrying a response complete an RTT.
func (a *Analyzer) processCoAP(u *udpPacket) *connection.Connection {
	coap, _, err := decoder.DecodeCoAP(u.payload)
	if err != nil {
		a.stats.Inc(stats.NotEnoughPacketForCoAPHdr)
		return nil
	}
	if coap.Version != coapVersion1 {
		a.stats.Inc(stats.UnrecognisedCoAPVersion)
		return nil
	}
	request := coap.Type == decoder.CoAPConfirmable && coap.Class() == decoder.CoAPClassRequest
	response := coap.Type == decoder.CoAPAcknowledgement && coap.IsResponse()
	if !request && !response {
		a.stats.Inc(stats.UntrackableCoAPMessage)
		return nil
	}

	src, dst := u.ipPacket.hdr.Src, u.ipPacket.hdr.Dst
	c, fromResponder := a.table.SearchCoAPEither(src, dst, u.hdr.SrcPort, u.hdr.DstPort)
	created := false
	if c == nil {
		if c, err = a.table.NewCoAP(src, dst, u.hdr.SrcPort, u.hdr.DstPort, false, u.ts); err != nil {
			a.createFailed(err)
			return nil
		}
		created = true
	}
	pl := c.Payload.(*connection.CoAP)

	found := false
	if request {
		sideMIDs(pl.Side1MIDs, pl.Side2MIDs, fromResponder).Add(u.ts, coap.MID)
	} else {
		found = a.ackMID(c, u.ipPacket, sideMIDs(pl.Side2MIDs, pl.Side1MIDs, fromResponder), fromResponder, coap.MID, "COAP response")
	}

	if created {
		a.newConnection(c, u.ipPacket, stats.ConnectionsCoAP)
	}
	a.pakstats(c, fromResponder, u.ipPacket)
	if fromResponder && found && c.State == connection.StateEstablishing {
		a.changeState(c, u.ipPacket, true, connection.StateEstablished)
		a.changeState(c, u.ipPacket, true, connection.StateClosed)
		c.MarkDeleted()
	}
	return c
}

// processDTLS handles CoAP over DTLS. Only the handshake is visible: the
// first server hello answers the packet that created the connection.
func (a *Analyzer) processDTLS(u *udpPacket) *connection.Connection {
	rec, err := decoder.DecodeTLSRecord(u.payload, true)
	if err != nil {
		a.stats.Inc(stats.InvalidTLSPacket)
		return nil
	}

	src, dst := u.ipPacket.hdr.Src, u.ipPacket.hdr.Dst
	c, fromResponder := a.table.SearchCoAPEither(src, dst, u.hdr.SrcPort, u.hdr.DstPort)
	if c == nil {
		if c, err = a.table.NewCoAP(src, dst, u.hdr.SrcPort, u.hdr.DstPort, true, u.ts); err != nil {
			a.createFailed(err)
			return nil
		}
		a.newConnection(c, u.ipPacket, stats.ConnectionsCoAP)
	}
	pl := c.Payload.(*connection.CoAP)
	if rec.IsHandshake && rec.Version != 0 {
		pl.DTLSVersion = uint16(rec.Version)
	}

	initialResponse := fromResponder && rec.IsHandshake && rec.IsInitialHandshake && rec.IsResponse
	if initialResponse && c.Side2.Packets == 0 {
		a.newRTT(c, u.ipPacket, true, false, c.CreationTime, u.ts, "initial COAP DTLS response")
	}
	if initialResponse && c.State == connection.StateEstablishing {
		a.changeState(c, u.ipPacket, true, connection.StateEstablished)
	}
	a.pakstats(c, fromResponder, u.ipPacket)
	return c
}
