package analyzer

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/core/decoder"
	"firestige.xyz/flowscope/internal/stats"
)

type tcpSeg struct {
	src, dst     string
	sport, dport uint16
	seq, ack     uint32
	syn, ackFlag bool
	fin, rst     bool
}

func tcpFrame(t *testing.T, s tcpSeg) []byte {
	t.Helper()
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.sport),
		DstPort: layers.TCPPort(s.dport),
		Seq:     s.seq,
		Ack:     s.ack,
		SYN:     s.syn,
		ACK:     s.ackFlag,
		FIN:     s.fin,
		RST:     s.rst,
		Window:  65535,
	}
	return ipv4Frame(t, layers.IPProtocolTCP, s.src, s.dst, 0, tcp)
}

func TestTCPHandshakeAndClose(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	log := recordEvents(t, a, EventStateChange|EventNewLeftRTT|EventNewRightRTT)
	fwd := func(seq, ack uint32) tcpSeg {
		return tcpSeg{src: client, dst: server, sport: 40000, dport: 80, seq: seq, ack: ack, ackFlag: true}
	}
	rev := func(seq, ack uint32) tcpSeg {
		return tcpSeg{src: server, dst: client, sport: 80, dport: 40000, seq: seq, ack: ack, ackFlag: true}
	}

	syn := fwd(100, 0)
	syn.ackFlag = false
	syn.syn = true
	c := a.Process(rawPacket(t0, tcpFrame(t, syn)))
	require.NotNil(t, c)
	assert.Equal(t, connection.TypeTCP, c.Type())
	assert.Equal(t, connection.StateEstablishing, c.State)

	synAck := rev(500, 101)
	synAck.syn = true
	require.Same(t, c, a.Process(rawPacket(ms(10), tcpFrame(t, synAck))))
	assert.Equal(t, connection.StateEstablished, c.State)
	assert.Equal(t, uint32(10000), c.RightRTT.Last)

	require.Same(t, c, a.Process(rawPacket(ms(30), tcpFrame(t, fwd(101, 501)))))
	assert.Equal(t, uint32(20000), c.LeftRTT.Last)

	fin := fwd(101, 501)
	fin.fin = true
	a.Process(rawPacket(ms(40), tcpFrame(t, fin)))
	assert.Equal(t, connection.StateClosing, c.State)

	finAck := rev(501, 102)
	finAck.fin = true
	a.Process(rawPacket(ms(45), tcpFrame(t, finAck)))
	assert.Equal(t, connection.StateClosed, c.State)
	assert.True(t, c.Deleted)
	// The pure ACK at 30ms is the earliest segment ending at 101.
	assert.Equal(t, uint32(15000), c.RightRTT.Last)

	assert.Equal(t, 3, log.count(EventStateChange))
	assert.Equal(t, 2, log.count(EventNewRightRTT))
	assert.Equal(t, 1, log.count(EventNewLeftRTT))
	assert.Equal(t, uint64(1), a.Stats().Get(stats.ConnectionsTCP))
}

func TestTCPUnknownConnection(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	seg := tcpSeg{src: client, dst: server, sport: 40000, dport: 80, seq: 1, ack: 1, ackFlag: true}

	assert.Nil(t, a.Process(rawPacket(t0, tcpFrame(t, seg))))
	assert.Equal(t, uint64(1), a.Stats().Get(stats.UnknownTCPConnection))
	assert.Equal(t, 0, a.Table().Count())
}

func TestTCPReset(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	syn := tcpSeg{src: client, dst: server, sport: 40000, dport: 80, seq: 7, syn: true}
	c := a.Process(rawPacket(t0, tcpFrame(t, syn)))
	require.NotNil(t, c)

	rst := tcpSeg{src: server, dst: client, sport: 80, dport: 40000, ack: 8, ackFlag: true, rst: true}
	a.Process(rawPacket(ms(3), tcpFrame(t, rst)))
	assert.Equal(t, connection.StateClosed, c.State)
	assert.True(t, c.Deleted)
	assert.Equal(t, uint32(3000), c.RightRTT.Last)
}

func dnsPayload(t *testing.T, id uint16, response bool) []byte {
	t.Helper()
	dns := &layers.DNS{
		ID:     id,
		QR:     response,
		OpCode: layers.DNSOpCodeQuery,
		Questions: []layers.DNSQuestion{{
			Name:  []byte("example.com"),
			Type:  layers.DNSTypeA,
			Class: layers.DNSClassIN,
		}},
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, dns.SerializeTo(buf, gopacket.SerializeOptions{FixLengths: true}))
	return buf.Bytes()
}

func TestDNSQueryResponse(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	log := recordEvents(t, a, EventStateChange)

	c := a.Process(rawPacket(t0, udpFrame(t, client, server, 5353, 53, dnsPayload(t, 0x1234, false))))
	require.NotNil(t, c)
	assert.Equal(t, connection.TypeDNS, c.Type())
	pl := c.Payload.(*connection.DNS)
	assert.Contains(t, pl.LastQueriedName, "example.com")

	require.Same(t, c, a.Process(rawPacket(ms(7), udpFrame(t, server, client, 53, 5353, dnsPayload(t, 0x1234, true)))))
	assert.Equal(t, uint32(7000), c.RightRTT.Last)
	assert.Equal(t, connection.StateClosed, c.State)
	assert.True(t, c.Deleted)
	assert.Equal(t, 2, log.count(EventStateChange))
}

func TestDNSUnmatchedResponseKeepsConnectionOpen(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	c := a.Process(rawPacket(t0, udpFrame(t, client, server, 5353, 53, dnsPayload(t, 1, false))))
	require.NotNil(t, c)

	a.Process(rawPacket(ms(2), udpFrame(t, server, client, 53, 5353, dnsPayload(t, 2, true))))
	assert.Equal(t, connection.StateEstablishing, c.State)
	assert.False(t, c.RightRTT.HasMeasurement())
}

func icmpFrame(t *testing.T, src, dst string, typ uint8, id, seq uint16) []byte {
	t.Helper()
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(typ, 0), Id: id, Seq: seq}
	return ipv4Frame(t, layers.IPProtocolICMPv4, src, dst, 0, icmp, gopacket.Payload(make([]byte, 16)))
}

func TestICMPEcho(t *testing.T) {
	a := newTestAnalyzer(t, Options{})

	assert.Nil(t, a.Process(rawPacket(t0, icmpFrame(t, server, client, layers.ICMPv4TypeEchoReply, 9, 1))),
		"unsolicited replies create nothing")

	c := a.Process(rawPacket(t0, icmpFrame(t, client, server, layers.ICMPv4TypeEchoRequest, 7, 1)))
	require.NotNil(t, c)
	assert.Equal(t, connection.TypeICMP, c.Type())

	require.Same(t, c, a.Process(rawPacket(ms(3), icmpFrame(t, server, client, layers.ICMPv4TypeEchoReply, 7, 1))))
	assert.Equal(t, connection.StateEstablished, c.State)
	assert.Equal(t, uint32(3000), c.RightRTT.Last)
	assert.Equal(t, uint64(1), c.Side2.Packets)

	assert.Nil(t, a.Process(rawPacket(ms(4), icmpFrame(t, client, server, layers.ICMPv4TypeDestinationUnreachable, 7, 1))))
	assert.Equal(t, uint64(1), a.Stats().Get(stats.UnsupportedICMPType))
	assert.Equal(t, uint64(4), a.Stats().Get(stats.ReceivedICMP))
	assert.Equal(t, uint64(3), a.Stats().Get(stats.ReceivedICMPEcho))
}

func coapMessage(typ, code uint8, mid uint16) []byte {
	b := []byte{1<<6 | typ<<4, code, 0, 0}
	binary.BigEndian.PutUint16(b[2:], mid)
	return b
}

func TestCoAPRequestResponse(t *testing.T) {
	a := newTestAnalyzer(t, Options{})

	get := coapMessage(decoder.CoAPConfirmable, 0x01, 42)
	c := a.Process(rawPacket(t0, udpFrame(t, client, server, 40000, 5683, get)))
	require.NotNil(t, c)
	assert.Equal(t, connection.TypeCoAP, c.Type())

	content := coapMessage(decoder.CoAPAcknowledgement, 0x45, 42)
	require.Same(t, c, a.Process(rawPacket(ms(12), udpFrame(t, server, client, 5683, 40000, content))))
	assert.Equal(t, uint32(12000), c.RightRTT.Last)
	assert.Equal(t, connection.StateClosed, c.State)

	reset := coapMessage(decoder.CoAPReset, 0, 43)
	assert.Nil(t, a.Process(rawPacket(ms(13), udpFrame(t, client, server, 40001, 5683, reset))))
	assert.Equal(t, uint64(1), a.Stats().Get(stats.UntrackableCoAPMessage))

	v2 := coapMessage(decoder.CoAPConfirmable, 0x01, 44)
	v2[0] = 2<<6 | v2[0]&0x3f
	assert.Nil(t, a.Process(rawPacket(ms(14), udpFrame(t, client, server, 40002, 5683, v2))))
	assert.Equal(t, uint64(1), a.Stats().Get(stats.UnrecognisedCoAPVersion))
}

// dtlsHello builds a DTLS 1.2 handshake record holding a hello message of
// the given type.
func dtlsHello(msgType uint8) []byte {
	return []byte{
		decoder.TLSContentHandshake, 0xfe, 0xfd, // type, version
		0, 0, 0, 0, 0, 0, 0, 0, // epoch, sequence
		0, 14, // record length
		msgType, 0, 0, 2, // handshake type and length
		0, 0, 0, 0, 0, 0, 0, 0, 2, // message seq, fragment offset and length
		0xfe, 0xfd, // hello version
	}
}

func TestDTLSHandshake(t *testing.T) {
	a := newTestAnalyzer(t, Options{})

	c := a.Process(rawPacket(t0, udpFrame(t, client, server, 40000, 5684, dtlsHello(decoder.TLSHandshakeClientHello))))
	require.NotNil(t, c)
	pl := c.Payload.(*connection.CoAP)
	assert.True(t, pl.DTLS)

	a.Process(rawPacket(ms(8), udpFrame(t, server, client, 5684, 40000, dtlsHello(decoder.TLSHandshakeServerHello))))
	assert.Equal(t, connection.StateEstablished, c.State)
	assert.Equal(t, uint32(8000), c.RightRTT.Last)
	assert.Equal(t, uint16(0x0303), pl.DTLSVersion)
}

func sctpPacket(sport, dport uint16, tag uint32, chunks ...[]byte) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint16(b[0:], sport)
	binary.BigEndian.PutUint16(b[2:], dport)
	binary.BigEndian.PutUint32(b[4:], tag)
	for _, ch := range chunks {
		b = append(b, ch...)
	}
	return b
}

func sctpChunk(typ uint8, body []byte) []byte {
	ch := []byte{typ, 0, 0, 0}
	binary.BigEndian.PutUint16(ch[2:], uint16(4+len(body)))
	ch = append(ch, body...)
	for len(ch)%4 != 0 {
		ch = append(ch, 0)
	}
	return ch
}

func sctpInit(typ uint8, tag, tsn uint32) []byte {
	body := make([]byte, 16)
	binary.BigEndian.PutUint32(body[0:], tag)
	binary.BigEndian.PutUint32(body[4:], 65535)
	binary.BigEndian.PutUint16(body[8:], 1)
	binary.BigEndian.PutUint16(body[10:], 1)
	binary.BigEndian.PutUint32(body[12:], tsn)
	return sctpChunk(typ, body)
}

func sctpData(tsn uint32) []byte {
	body := make([]byte, 16)
	binary.BigEndian.PutUint32(body[0:], tsn)
	copy(body[12:], "data")
	return sctpChunk(decoder.SCTPChunkData, body)
}

func sctpSack(cumulative uint32) []byte {
	body := make([]byte, 12)
	binary.BigEndian.PutUint32(body[0:], cumulative)
	binary.BigEndian.PutUint32(body[4:], 65535)
	return sctpChunk(decoder.SCTPChunkSack, body)
}

func TestSCTPAssociation(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	send := func(ts time.Time, src, dst string, sport, dport uint16, chunks ...[]byte) *connection.Connection {
		frame := ipv4Frame(t, layers.IPProtocolSCTP, src, dst, 0, gopacket.Payload(sctpPacket(sport, dport, 0, chunks...)))
		return a.Process(rawPacket(ts, frame))
	}

	assert.Nil(t, send(t0, client, server, 3868, 3868, sctpData(1)), "DATA without an association")

	c := send(t0, client, server, 5000, 3868, sctpInit(decoder.SCTPChunkInit, 0xaabbccdd, 1))
	require.NotNil(t, c)
	assert.Equal(t, connection.TypeSCTP, c.Type())
	pl := c.Payload.(*connection.SCTP)
	assert.Equal(t, uint32(0xaabbccdd), pl.Side1VerificationTag)

	send(ms(4), server, client, 3868, 5000, sctpInit(decoder.SCTPChunkInitAck, 0x11223344, 1))
	assert.Equal(t, connection.StateEstablished, c.State)
	assert.Equal(t, uint32(0x11223344), pl.Side2VerificationTag)

	send(ms(10), client, server, 5000, 3868, sctpData(1))
	send(ms(16), server, client, 3868, 5000, sctpSack(1))
	assert.Equal(t, uint32(6000), c.RightRTT.Last)

	send(ms(20), client, server, 5000, 3868, sctpChunk(decoder.SCTPChunkAbort, nil))
	assert.Equal(t, connection.StateClosed, c.State)
	assert.True(t, c.Deleted)
	assert.Equal(t, uint64(1), a.Stats().Get(stats.ConnectionsSCTP))
}

// quicLong builds an RFC 9000 long header packet padded to a plausible size.
func quicLong(first byte, dcid, scid []byte) []byte {
	b := []byte{first, 0, 0, 0, 1, byte(len(dcid))}
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	return append(b, make([]byte, 32)...)
}

// quicShort builds a short header packet with the given spin bit.
func quicShort(spin bool, dcid []byte) []byte {
	first := byte(0x40)
	if spin {
		first |= 0x20
	}
	b := append([]byte{first}, dcid...)
	return append(b, make([]byte, 24)...)
}

func TestQUICHandshakeAndSpin(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	log := recordEvents(t, a, AllEvents)
	up := func(ts time.Time, payload []byte) *connection.Connection {
		return a.Process(rawPacket(ts, udpFrame(t, client, server, 50000, 443, payload)))
	}
	down := func(ts time.Time, payload []byte) *connection.Connection {
		return a.Process(rawPacket(ts, udpFrame(t, server, client, 443, 50000, payload)))
	}

	c := up(t0, quicLong(0xc0, []byte{0xa1, 0xa1}, nil))
	require.NotNil(t, c)
	assert.Equal(t, connection.TypeQUIC, c.Type())
	assert.Equal(t, connection.StateEstablishing, c.State)
	q := c.Payload.(*connection.QUIC)
	assert.Equal(t, decoder.QUICVersionRFC, q.Version)
	assert.Equal(t, decoder.QUICVersionRFC, q.OriginalVersion)

	require.Same(t, c, down(ms(25), quicLong(0xc0, nil, []byte{0xb2, 0xb2})))
	assert.Equal(t, connection.StateEstablished, c.State)
	assert.Equal(t, uint32(25000), q.InitialRightRTT)
	assert.Equal(t, uint32(25000), c.RightRTT.Last)
	assert.True(t, q.Peer2CID.Equal(core.MustQuicConnectionID(0xb2, 0xb2)))

	dcid := []byte{0xb2, 0xb2}
	up(ms(100), quicShort(false, dcid))
	down(ms(110), quicShort(false, nil))
	up(ms(200), quicShort(true, dcid))
	assert.Equal(t, 1, log.count(EventInitiatorSpinFlip))
	down(ms(210), quicShort(true, nil))
	assert.Equal(t, 1, log.count(EventResponderSpinFlip))
	assert.Equal(t, uint32(10000), c.RightRTT.Last)

	assert.Equal(t, 2, log.count(EventInitiatorSpinValue))
	assert.Equal(t, 2, log.count(EventResponderSpinValue))
	assert.Equal(t, 1, log.count(EventNewConnection))
	assert.Equal(t, uint64(6), a.Stats().Get(stats.ReceivedQUIC))
}

func TestQUICFoundByConnectionIDAfterMigration(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	c := a.Process(rawPacket(t0, udpFrame(t, client, server, 50000, 443, quicLong(0xc0, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8}))))
	require.NotNil(t, c)

	// The initiator moved to a new port; its long header still carries
	// the same pair of IDs.
	moved := a.Process(rawPacket(ms(50), udpFrame(t, client, server, 50001, 443, quicLong(0xe0, []byte{1, 2, 3, 4}, []byte{5, 6, 7, 8}))))
	assert.Same(t, c, moved)
	assert.Equal(t, uint64(2), c.Side1.Packets)
	assert.Equal(t, 1, a.Table().Count())
}

func TestQUICVersionNegotiationRTT(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	log := recordEvents(t, a, AllEvents)
	serverCID := []byte{0xa1, 0xa1, 0xa1, 0xa1}
	clientCID := []byte{0xc1, 0xc1, 0xc1, 0xc1}
	up := func(ts time.Time, payload []byte) *connection.Connection {
		return a.Process(rawPacket(ts, udpFrame(t, client, server, 50000, 443, payload)))
	}
	down := func(ts time.Time, payload []byte) *connection.Connection {
		return a.Process(rawPacket(ts, udpFrame(t, server, client, 443, 50000, payload)))
	}

	c := up(t0, quicLong(0xc0, serverCID, clientCID))
	require.NotNil(t, c)
	q := c.Payload.(*connection.QUIC)

	vn := quicLong(0x80, clientCID, serverCID)
	binary.BigEndian.PutUint32(vn[1:5], decoder.QUICVersionNegotiation)
	require.Same(t, c, down(ms(20), vn))
	assert.Equal(t, connection.StateEstablishing, c.State)
	assert.Equal(t, uint32(20000), q.InitialRightRTT)
	assert.Equal(t, uint32(20000), c.RightRTT.Last)
	assert.Equal(t, decoder.QUICVersionRFC, q.Version)
	assert.Equal(t, 0, log.count(EventStateChange))

	require.Same(t, c, up(ms(35), quicLong(0xc0, serverCID, clientCID)))
	assert.Equal(t, uint32(15000), q.InitialLeftRTT)
	assert.Equal(t, uint32(15000), c.LeftRTT.Last)
	assert.Equal(t, connection.StateEstablishing, c.State)

	require.Same(t, c, down(ms(60), quicLong(0xc0, clientCID, []byte{0xb2, 0xb2, 0xb2, 0xb2})))
	assert.Equal(t, connection.StateEstablished, c.State)
	assert.Equal(t, uint32(25000), q.InitialRightRTT)
	assert.Equal(t, decoder.QUICVersionRFC, q.Version)
	assert.Equal(t, decoder.QUICVersionRFC, q.OriginalVersion)
	assert.Equal(t, 1, log.count(EventNewConnection))
	assert.Equal(t, 1, a.Table().Count())
}

func TestQUICShortHeadersFoundByPartialIDAfterMigration(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	clientCID := []byte{0xc1, 0xc1, 0xc1, 0xc1}
	serverCID := []byte{0xb2, 0xb2, 0xb2, 0xb2}

	c := a.Process(rawPacket(t0, udpFrame(t, client, server, 50000, 443, quicLong(0xc0, []byte{0xa1, 0xa1}, clientCID))))
	require.NotNil(t, c)
	require.Same(t, c, a.Process(rawPacket(ms(20), udpFrame(t, server, client, 443, 50000, quicLong(0xc0, clientCID, serverCID)))))
	require.Equal(t, connection.StateEstablished, c.State)

	// The initiator moved to a new port. Short headers only carry the
	// destination ID, of unknown length.
	moved := a.Process(rawPacket(ms(100), udpFrame(t, client, server, 50001, 443, quicShort(false, serverCID))))
	assert.Same(t, c, moved)
	back := a.Process(rawPacket(ms(110), udpFrame(t, server, client, 443, 50001, quicShort(false, clientCID))))
	assert.Same(t, c, back)

	assert.Equal(t, uint64(2), c.Side1.Packets)
	assert.Equal(t, uint64(2), c.Side2.Packets)
	assert.Equal(t, 1, a.Table().Count())
}

func TestQUICFoundByDestinationIDWithNewSourceID(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	clientCID := []byte{0xc1, 0xc1, 0xc1, 0xc1}
	c := a.Process(rawPacket(t0, udpFrame(t, client, server, 50000, 443, quicLong(0xc0, []byte{0xa1, 0xa1}, clientCID))))
	require.NotNil(t, c)

	// A responder handshake packet on another 5-tuple, sourced from an ID
	// the table has not seen yet.
	h := a.Process(rawPacket(ms(30), udpFrame(t, server, client, 443, 50002, quicLong(0xe0, clientCID, []byte{0xd4, 0xd4}))))
	assert.Same(t, c, h)

	q := c.Payload.(*connection.QUIC)
	assert.True(t, q.Peer2CID.Equal(core.MustQuicConnectionID(0xd4, 0xd4)))
	assert.True(t, q.Peer1CID.Equal(core.MustQuicConnectionID(clientCID...)))
	assert.Equal(t, uint64(1), c.Side2.Packets)
	assert.Equal(t, 1, a.Table().Count())
}

func TestQUICRTLoss2ReflectionAnomalyIsCounted(t *testing.T) {
	a := newTestAnalyzer(t, Options{ExtraMeasurement: ExtraRTLoss2})
	c := a.Process(rawPacket(t0, udpFrame(t, client, server, 50000, 443, quicLong(0xc0, []byte{9}, nil))))
	require.NotNil(t, c)

	marked := func(ts time.Time, bits byte) {
		p := quicShort(false, nil)
		p[0] |= bits << 3
		a.Process(rawPacket(ts, udpFrame(t, client, server, 50000, 443, p)))
	}
	marked(ms(100), 1)
	for i := 0; i < 4; i++ {
		marked(ms(120+i), 2)
	}
	marked(ms(140), 1)
	// One packet generated, four reflected.
	marked(ms(160), 2)

	q := c.Payload.(*connection.QUIC)
	assert.Equal(t, uint64(1), q.FromPeer1.RTLoss2.Anomalies)
	assert.Equal(t, uint64(1), a.Stats().Get(stats.RTLossReflectionAnomaly))
	assert.Zero(t, q.FromPeer1.RTLoss2.Generated)
}

func TestQUICUnsupportedVersion(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	pkt := quicLong(0xc0, []byte{1}, nil)
	binary.BigEndian.PutUint32(pkt[1:5], decoder.QUICDraft(10))

	assert.Nil(t, a.Process(rawPacket(t0, udpFrame(t, client, server, 50000, 443, pkt))))
	assert.Equal(t, uint64(1), a.Stats().Get(stats.UnsupportedQUICVersion))
}

func TestQUICDelayBit(t *testing.T) {
	a := newTestAnalyzer(t, Options{ExtraMeasurement: ExtraDelayBit})
	c := a.Process(rawPacket(t0, udpFrame(t, client, server, 50000, 443, quicLong(0xc0, []byte{9}, nil))))
	require.NotNil(t, c)

	marked := func(ts time.Time, src, dst string, sport, dport uint16) {
		p := quicShort(false, nil)
		p[0] |= 0x10
		a.Process(rawPacket(ts, udpFrame(t, src, dst, sport, dport, p)))
	}
	marked(ms(100), client, server, 50000, 443)
	marked(ms(130), server, client, 443, 50000)
	assert.Equal(t, uint32(30000), c.RightRTT.Last)

	marked(ms(180), client, server, 50000, 443)
	assert.Equal(t, uint32(80000), c.Side1.FullRTT.Last)
	assert.Equal(t, uint32(50000), c.LeftRTT.Last)
}
