package decoder

import (
	"encoding/binary"
	"strings"

	"firestige.xyz/flowscope/internal/core"
)

const (
	DNSHeaderLen   = 12
	DNSMaxNameLen  = 199
	DNSOpcodeQuery = 0
)

// DNSHeader is the fixed DNS message header.
type DNSHeader struct {
	ID      uint16
	QR      bool
	Opcode  uint8
	RCode   uint8
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// DecodeDNS decodes the DNS header.
func DecodeDNS(data []byte) (DNSHeader, []byte, error) {
	if len(data) < DNSHeaderLen {
		return DNSHeader{}, nil, core.ErrPacketTooShort
	}
	flags := binary.BigEndian.Uint16(data[2:4])
	h := DNSHeader{
		ID:      binary.BigEndian.Uint16(data[0:2]),
		QR:      flags&0x8000 != 0,
		Opcode:  uint8(flags>>11) & 0x0F,
		RCode:   uint8(flags) & 0x0F,
		QDCount: binary.BigEndian.Uint16(data[4:6]),
		ANCount: binary.BigEndian.Uint16(data[6:8]),
		NSCount: binary.BigEndian.Uint16(data[8:10]),
		ARCount: binary.BigEndian.Uint16(data[10:12]),
	}
	return h, data[DNSHeaderLen:], nil
}

// DNSQueryName reads the first question name from the bytes following the
// header. Labels are joined with dots and keep the trailing dot. Compression
// pointers end the name; names longer than DNSMaxNameLen are cut short.
func DNSQueryName(question []byte) (string, error) {
	if len(question) == 0 {
		return "", core.ErrInvalidDNSName
	}
	var b strings.Builder
	for {
		if len(question) == 0 {
			return "", core.ErrInvalidDNSName
		}
		labelLen := int(question[0])
		question = question[1:]
		if labelLen == 0 || labelLen&0xC0 != 0 {
			break
		}
		if labelLen > len(question) {
			return "", core.ErrInvalidDNSName
		}
		b.Write(question[:labelLen])
		b.WriteByte('.')
		question = question[labelLen:]
	}
	name := b.String()
	if len(name) > DNSMaxNameLen {
		name = name[:DNSMaxNameLen]
	}
	return name, nil
}
