// Package core defines core types with zero external dependencies.
package core

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16   // 0x0800=IPv4, 0x86DD=IPv6, after any VLAN tags
	VLANs     []uint16 // VLAN IDs in outer-to-inner order
}

// IP protocol numbers dispatched by the analyzer.
const (
	ProtocolICMP   uint8 = 1
	ProtocolTCP    uint8 = 6
	ProtocolUDP    uint8 = 17
	ProtocolFrag   uint8 = 44
	ProtocolICMPv6 uint8 = 58
	ProtocolSCTP   uint8 = 132
)

// IPHeader represents an IPv4 or IPv6 header.
type IPHeader struct {
	Version   uint8
	Src       Address
	Dst       Address
	Protocol  uint8 // next header after any skipped fragment header
	TTL       uint8
	HeaderLen int    // bytes up to the transport header
	TotalLen  uint16 // IPv4 total length or 40 + IPv6 payload length
	ECN       uint8  // low two bits of TOS / traffic class

	// Fragmentation
	FragmentOffset uint16
	MoreFragments  bool
}

// ECN codepoints.
const (
	ECNNotECT uint8 = 0
	ECNECT1   uint8 = 1
	ECNECT0   uint8 = 2
	ECNCE     uint8 = 3
)

// TCP flag bits.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
)

// TCPHeader represents a TCP header.
type TCPHeader struct {
	SrcPort   uint16
	DstPort   uint16
	Seq       uint32
	Ack       uint32
	DataOff   uint8 // header length in 32-bit words
	Flags     uint8
	Window    uint16
	HeaderLen int
}

func (h TCPHeader) Has(flag uint8) bool { return h.Flags&flag != 0 }

// UDPHeader represents a UDP header.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
}

// ICMPHeader represents the echo-style ICMP/ICMPv6 header.
type ICMPHeader struct {
	Type uint8
	Code uint8
	ID   uint16
	Seq  uint16
}
