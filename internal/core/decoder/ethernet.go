// Package decoder implements fixed-layout protocol header decoding.
//
// Every decoder takes the captured bytes starting at its header, checks the
// captured length, and returns the header with host-order integers plus the
// remaining payload. Decoders have no side effects.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowscope/internal/core"
)

const (
	// Ethernet constants
	EthernetHeaderLen = 14
	vlanHeaderLen     = 4
	maxVLANTags       = 4

	// EtherType values
	EtherTypeIPv4 = 0x0800
	EtherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8

	// NullHeaderLen is the BSD loopback encapsulation header.
	NullHeaderLen = 4
)

// DecodeEthernet decodes an Ethernet frame header, skipping up to four
// VLAN/QinQ tags. Returns the header and the remaining payload.
func DecodeEthernet(data []byte) (core.EthernetHeader, []byte, error) {
	if len(data) < EthernetHeaderLen {
		return core.EthernetHeader{}, nil, core.ErrPacketTooShort
	}

	eth := core.EthernetHeader{}
	copy(eth.DstMAC[:], data[0:6])
	copy(eth.SrcMAC[:], data[6:12])

	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := EthernetHeaderLen

	// Tags can be nested (QinQ)
	var vlans []uint16
	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(vlans) == maxVLANTags {
			return eth, nil, core.ErrUnsupportedProto
		}
		if len(data) < offset+vlanHeaderLen {
			return eth, nil, core.ErrPacketTooShort
		}
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		vlans = append(vlans, tci&0x0FFF)
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	eth.EtherType = etherType
	eth.VLANs = vlans
	return eth, data[offset:], nil
}

// DecodeNull decodes the 4-byte BSD null/loopback header. DLT_NULL stores
// the address family in host order and DLT_LOOP in network order; both are
// accepted.
func DecodeNull(data []byte) (family uint32, payload []byte, err error) {
	if len(data) < NullHeaderLen {
		return 0, nil, core.ErrPacketTooShort
	}
	family = binary.LittleEndian.Uint32(data[0:4])
	if family > 0xffff {
		family = binary.BigEndian.Uint32(data[0:4])
	}
	return family, data[NullHeaderLen:], nil
}
