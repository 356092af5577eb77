package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/flowscope/internal/core"
)

// QUIC version numbers.
const (
	QUICVersionNegotiation uint32 = 0x00000000
	QUICVersionRFC         uint32 = 0x00000001
	QUICVersionDraftBase   uint32 = 0xff000000
	QUICVersionQuant19     uint32 = 0x45474713
	QUICVersionQuant20     uint32 = 0x45474714
	QUICVersionHuitema     uint32 = 0x50435131
	QUICVersionMozilla     uint32 = 0xf123f0c5
	QUICVersionUnknown     uint32 = 0xffffffff

	quicVersionGoogle        uint32 = 0x51303030
	quicVersionGoogleMask    uint32 = 0xfff0f0f0
	quicVersionForceNegot    uint32 = 0x0a0a0a0a
	quicVersionForceNegotMsk uint32 = 0x0f0f0f0f
)

// QUICDraft returns the version number of an IETF draft.
func QUICDraft(n uint8) uint32 { return QUICVersionDraftBase | uint32(n) }

// QUIC header bits.
const (
	quicLongForm        = 0x80
	quicSpinBit         = 0x20
	quicSpinBitDraft16  = 0x04
	quicReservedBits    = 0x18
	quicTypeMask        = 0x30
	quicTypeMaskDraft16 = 0x7f
	quicLongHeaderLen   = 6 // first byte, version, first CID length byte

	// Well-known UDP ports carrying QUIC.
	QUICPortHTTP    = 80
	QUICPortHTTPS   = 443
	QUICPortTesting = 4433
)

// QUICMessageType classifies a packet for connection tracking.
type QUICMessageType uint8

const (
	QUICMessageData QUICMessageType = iota
	QUICMessageInitial
	QUICMessageVersionNegotiation
	QUICMessageRetry
	QUICMessageOther
)

func (t QUICMessageType) String() string {
	switch t {
	case QUICMessageData:
		return "data"
	case QUICMessageInitial:
		return "initial"
	case QUICMessageVersionNegotiation:
		return "version negotiation"
	case QUICMessageRetry:
		return "retry"
	case QUICMessageOther:
		return "other"
	default:
		return "invalid"
	}
}

// QUICHeader is what the analyzer needs from a QUIC packet.
type QUICHeader struct {
	FirstByte uint8
	LongForm  bool
	Version   uint32 // as sent; short headers carry none
	Type      QUICMessageType

	// DestCID is exact for long headers. For short headers its length is
	// unknown on the wire, so DestCID holds up to MaxCIDLen following bytes
	// and DestCIDLenKnown is false.
	DestCID         core.QuicConnectionID
	DestCIDLenKnown bool

	SourceCID        core.QuicConnectionID
	SourceCIDPresent bool
}

type quicLayout uint8

const (
	layoutUnsupported quicLayout = iota
	layoutUnrecognised
	layoutNegotiation
	layoutNibble   // one byte, two CID length nibbles
	layoutExplicit // a length byte before each CID
)

func googleVersion(v uint32) (uint32, bool) {
	if v&quicVersionGoogleMask != quicVersionGoogle || v>>24 != 'Q' {
		return 0, false
	}
	d100 := (v >> 16 & 0xff) ^ 0x30
	d10 := (v >> 8 & 0xff) ^ 0x30
	d1 := (v & 0xff) ^ 0x30
	if d100 > 9 || d10 > 9 || d1 > 9 {
		return 0, false
	}
	return 100*d100 + 10*d10 + d1, true
}

func isForceNegotiation(v uint32) bool {
	return v&quicVersionForceNegotMsk == quicVersionForceNegot
}

func classifyVersion(v uint32) quicLayout {
	switch {
	case v == QUICVersionNegotiation:
		return layoutNegotiation
	case v == QUICVersionRFC, isForceNegotiation(v):
		return layoutExplicit
	case v == QUICVersionHuitema, v == QUICVersionMozilla, v == QUICVersionQuant19, v == QUICVersionQuant20:
		return layoutNibble
	case v&0xffffff00 == QUICVersionDraftBase:
		switch draft := v & 0xff; {
		case draft <= 15:
			return layoutUnsupported
		case draft <= 21:
			return layoutNibble
		case draft <= 34:
			return layoutExplicit
		}
		return layoutUnrecognised
	}
	if g, ok := googleVersion(v); ok {
		switch {
		case g < 46:
			return layoutUnsupported
		case g < 50:
			return layoutNibble
		default:
			return layoutExplicit
		}
	}
	return layoutUnrecognised
}

// QUICVersionName returns a short display name for a version number.
func QUICVersionName(v uint32) string {
	switch {
	case v == QUICVersionRFC:
		return "RFC"
	case v == QUICVersionQuant19:
		return "v.qn19"
	case v == QUICVersionQuant20:
		return "v.qn20"
	case v == QUICVersionHuitema:
		return "v.huit"
	case v == QUICVersionMozilla:
		return "v.moz"
	case v&0xffffff00 == QUICVersionDraftBase:
		return fmt.Sprintf("v%02d", v&0xff)
	}
	if g, ok := googleVersion(v); ok {
		return fmt.Sprintf("g.%d", g)
	}
	return fmt.Sprintf("v.0x%08x", v)
}

// IsProbableQUIC reports whether a UDP payload should be handed to the QUIC
// analyzer: either a QUIC port is in use or the payload starts with a long
// header of a known version.
func IsProbableQUIC(payload []byte, srcPort, dstPort uint16) bool {
	if isQUICPort(srcPort) || isQUICPort(dstPort) {
		return true
	}
	if len(payload) < quicLongHeaderLen || payload[0]&quicLongForm == 0 {
		return false
	}
	switch classifyVersion(binary.BigEndian.Uint32(payload[1:5])) {
	case layoutNegotiation, layoutNibble, layoutExplicit:
		return true
	}
	return false
}

func isQUICPort(p uint16) bool {
	return p == QUICPortHTTP || p == QUICPortHTTPS || p == QUICPortTesting
}

// DecodeQUIC parses the invariant part of a QUIC header.
func DecodeQUIC(payload []byte) (QUICHeader, error) {
	if len(payload) < 1 {
		return QUICHeader{}, core.ErrPacketTooShort
	}
	h := QUICHeader{FirstByte: payload[0]}

	if payload[0]&quicLongForm == 0 {
		n := min(core.MaxCIDLen, len(payload)-1)
		h.Type = QUICMessageData
		h.DestCID.Len = uint8(n)
		copy(h.DestCID.ID[:], payload[1:1+n])
		return h, nil
	}

	h.LongForm = true
	if len(payload) < quicLongHeaderLen {
		return h, core.ErrPacketTooShort
	}
	h.Version = binary.BigEndian.Uint32(payload[1:5])

	layout := classifyVersion(h.Version)
	switch layout {
	case layoutUnsupported:
		return h, core.ErrUnsupportedQUICVersion
	case layoutUnrecognised:
		return h, core.ErrUnrecognisedQUICVersion
	}

	t, err := quicMessageType(h.FirstByte, h.Version)
	if err != nil {
		return h, err
	}
	h.Type = t

	var dst, src []byte
	if layout == layoutNibble {
		dst, src, err = nibbleCIDs(payload)
	} else {
		dst, src, err = explicitCIDs(payload)
	}
	if err != nil {
		return h, err
	}
	h.DestCID, _ = core.NewQuicConnectionID(dst)
	h.SourceCID, _ = core.NewQuicConnectionID(src)
	h.DestCIDLenKnown = true
	h.SourceCIDPresent = true
	return h, nil
}

func quicMessageType(first uint8, version uint32) (QUICMessageType, error) {
	if version == QUICVersionNegotiation {
		return QUICMessageVersionNegotiation, nil
	}
	if isForceNegotiation(version) {
		return QUICMessageInitial, nil
	}
	if version == QUICDraft(16) {
		switch first & quicTypeMaskDraft16 {
		case 0x7f:
			return QUICMessageInitial, nil
		case 0x7e:
			return QUICMessageRetry, nil
		case 0x7d, 0x7c:
			return QUICMessageOther, nil
		default:
			return QUICMessageOther, core.ErrNotQUIC
		}
	}
	switch first & quicTypeMask {
	case 0x00:
		return QUICMessageInitial, nil
	case 0x30:
		return QUICMessageRetry, nil
	default:
		// 0-RTT and Handshake
		return QUICMessageOther, nil
	}
}

func nibbleCIDs(payload []byte) (dst, src []byte, err error) {
	lengths := payload[5]
	dstLen := nibbleCIDLen(lengths >> 4)
	srcLen := nibbleCIDLen(lengths & 0x0f)
	end := quicLongHeaderLen + dstLen + srcLen
	if len(payload) < end {
		return nil, nil, core.ErrPacketTooShort
	}
	return payload[quicLongHeaderLen : quicLongHeaderLen+dstLen], payload[quicLongHeaderLen+dstLen : end], nil
}

func nibbleCIDLen(n uint8) int {
	if n == 0 {
		return 0
	}
	return int(n) + 3
}

func explicitCIDs(payload []byte) (dst, src []byte, err error) {
	dstLen := int(payload[5])
	if dstLen > core.MaxCIDLen {
		return nil, nil, core.ErrInvalidCIDLength
	}
	off := quicLongHeaderLen + dstLen
	if len(payload) < off+1 {
		return nil, nil, core.ErrPacketTooShort
	}
	srcLen := int(payload[off])
	if srcLen > core.MaxCIDLen {
		return nil, nil, core.ErrInvalidCIDLength
	}
	if len(payload) < off+1+srcLen {
		return nil, nil, core.ErrPacketTooShort
	}
	return payload[quicLongHeaderLen:off], payload[off+1 : off+1+srcLen], nil
}

// QUICSpinBit extracts the spin bit of a short header packet belonging to a
// connection of the given version. ok is false for long headers and for
// versions without a spin bit.
func QUICSpinBit(h QUICHeader, version uint32) (spin bool, ok bool) {
	if h.LongForm {
		return false, false
	}
	if version == QUICDraft(16) {
		return h.FirstByte&quicSpinBitDraft16 != 0, true
	}
	switch classifyVersion(version) {
	case layoutNibble, layoutExplicit:
		return h.FirstByte&quicSpinBit != 0, true
	}
	return false, false
}

// QUICReservedBits returns the two short-header bits used by the loss and
// delay measurement experiments: bit 1 is 0x10 and bit 0 is 0x08 of the
// first byte.
func QUICReservedBits(h QUICHeader) uint8 {
	if h.LongForm {
		return 0
	}
	return (h.FirstByte & quicReservedBits) >> 3
}

// DecodeQUICVarint decodes a variable-length integer and returns the value
// and the number of bytes consumed.
func DecodeQUICVarint(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, core.ErrInvalidVarint
	}
	n := 1 << (b[0] >> 6)
	if len(b) < n {
		return 0, 0, core.ErrInvalidVarint
	}
	v := uint64(b[0] & 0x3f)
	for i := 1; i < n; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, n, nil
}
