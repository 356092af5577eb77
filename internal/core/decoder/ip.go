package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowscope/internal/core"
)

const (
	IPv4HeaderMinLen   = 20
	IPv6HeaderLen      = 40
	IPv6FragmentHdrLen = 8
)

// DecodeIP dispatches on the version nibble.
func DecodeIP(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < 1 {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}
	switch data[0] >> 4 {
	case 4:
		return DecodeIPv4(data)
	case 6:
		return DecodeIPv6(data)
	default:
		return core.IPHeader{}, nil, core.ErrInvalidIPVersion
	}
}

// DecodeIPv4 decodes an IPv4 header. The payload is bounded by both the
// total length field and the captured bytes, so link-layer padding is
// dropped and truncated captures still yield the captured part.
func DecodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < IPv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}
	if data[0]>>4 != 4 {
		return core.IPHeader{}, nil, core.ErrInvalidIPVersion
	}

	headerLen := int(data[0]&0x0F) * 4
	if headerLen < IPv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrInvalidIPHeader
	}
	if len(data) < headerLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:   4,
		HeaderLen: headerLen,
		ECN:       data[1] & 0x03,
		TotalLen:  binary.BigEndian.Uint16(data[2:4]),
		TTL:       data[8],
		Protocol:  data[9],
	}
	if int(ip.TotalLen) < headerLen {
		return ip, nil, core.ErrInvalidIPLength
	}

	flagsOffset := binary.BigEndian.Uint16(data[6:8])
	ip.MoreFragments = flagsOffset&0x2000 != 0
	ip.FragmentOffset = flagsOffset & 0x1FFF

	ip.Src = core.AddressFrom4([4]byte(data[12:16]))
	ip.Dst = core.AddressFrom4([4]byte(data[16:20]))

	end := min(int(ip.TotalLen), len(data))
	return ip, data[headerLen:end], nil
}

// DecodeIPv6 decodes an IPv6 header and a directly following fragment
// header, if any. Other extension headers are left to the caller.
func DecodeIPv6(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < IPv6HeaderLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}
	if data[0]>>4 != 6 {
		return core.IPHeader{}, nil, core.ErrInvalidIPVersion
	}

	// Traffic class straddles the first two bytes
	tc := (data[0]&0x0F)<<4 | data[1]>>4
	payloadLen := binary.BigEndian.Uint16(data[4:6])

	ip := core.IPHeader{
		Version:   6,
		HeaderLen: IPv6HeaderLen,
		ECN:       tc & 0x03,
		TotalLen:  uint16(min(int(IPv6HeaderLen)+int(payloadLen), 0xffff)),
		Protocol:  data[6],
		TTL:       data[7],
		Src:       core.AddressFrom16([16]byte(data[8:24])),
		Dst:       core.AddressFrom16([16]byte(data[24:40])),
	}

	if ip.Protocol == core.ProtocolFrag {
		if len(data) < IPv6HeaderLen+IPv6FragmentHdrLen {
			return ip, nil, core.ErrPacketTooShort
		}
		frag := data[IPv6HeaderLen : IPv6HeaderLen+IPv6FragmentHdrLen]
		offsetFlags := binary.BigEndian.Uint16(frag[2:4])
		ip.Protocol = frag[0]
		ip.FragmentOffset = offsetFlags >> 3
		ip.MoreFragments = offsetFlags&0x1 != 0
		ip.HeaderLen += IPv6FragmentHdrLen
	}

	end := min(IPv6HeaderLen+int(payloadLen), len(data))
	if end < ip.HeaderLen {
		return ip, nil, core.ErrInvalidIPLength
	}
	return ip, data[ip.HeaderLen:end], nil
}
