package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowscope/internal/core"
)

const (
	UDPHeaderLen    = 8
	TCPHeaderMinLen = 20
	ICMPHeaderLen   = 8
)

// DecodeUDP decodes a UDP header.
func DecodeUDP(data []byte) (core.UDPHeader, []byte, error) {
	if len(data) < UDPHeaderLen {
		return core.UDPHeader{}, nil, core.ErrPacketTooShort
	}
	h := core.UDPHeader{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Length:  binary.BigEndian.Uint16(data[4:6]),
	}
	return h, data[UDPHeaderLen:], nil
}

// DecodeTCP decodes a TCP header including options.
// A data offset below five words or beyond the captured bytes yields
// ErrInvalidTCPHeader.
func DecodeTCP(data []byte) (core.TCPHeader, []byte, error) {
	if len(data) < TCPHeaderMinLen {
		return core.TCPHeader{}, nil, core.ErrPacketTooShort
	}

	h := core.TCPHeader{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Seq:     binary.BigEndian.Uint32(data[4:8]),
		Ack:     binary.BigEndian.Uint32(data[8:12]),
		DataOff: data[12] >> 4,
		Flags:   data[13] & 0x3F,
		Window:  binary.BigEndian.Uint16(data[14:16]),
	}
	h.HeaderLen = int(h.DataOff) * 4
	if h.HeaderLen < TCPHeaderMinLen || len(data) < h.HeaderLen {
		return h, nil, core.ErrInvalidTCPHeader
	}
	return h, data[h.HeaderLen:], nil
}

// ICMP and ICMPv6 echo types.
const (
	ICMPEchoReply     = 0
	ICMPEchoRequest   = 8
	ICMPv6EchoRequest = 128
	ICMPv6EchoReply   = 129
)

// DecodeICMP decodes the common ICMP/ICMPv6 header with the echo identifier
// and sequence number fields.
func DecodeICMP(data []byte) (core.ICMPHeader, []byte, error) {
	if len(data) < ICMPHeaderLen {
		return core.ICMPHeader{}, nil, core.ErrPacketTooShort
	}
	h := core.ICMPHeader{
		Type: data[0],
		Code: data[1],
		ID:   binary.BigEndian.Uint16(data[4:6]),
		Seq:  binary.BigEndian.Uint16(data[6:8]),
	}
	return h, data[ICMPHeaderLen:], nil
}
