package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowscope/internal/core"
)

const CoAPHeaderLen = 4

// CoAP message types.
const (
	CoAPConfirmable     uint8 = 0
	CoAPNonConfirmable  uint8 = 1
	CoAPAcknowledgement uint8 = 2
	CoAPReset           uint8 = 3
)

// CoAP code classes.
const (
	CoAPClassRequest     uint8 = 0
	CoAPClassSuccess     uint8 = 2
	CoAPClassClientError uint8 = 4
	CoAPClassServerError uint8 = 5
)

// CoAPHeader is the fixed CoAP header (RFC 7252).
type CoAPHeader struct {
	Version  uint8
	Type     uint8
	TokenLen uint8
	Code     uint8
	MID      uint16
}

// Class returns the code class, the upper three bits of the code.
func (h CoAPHeader) Class() uint8 { return h.Code >> 5 }

// IsResponse reports whether the code class is a success or error response.
func (h CoAPHeader) IsResponse() bool {
	switch h.Class() {
	case CoAPClassSuccess, CoAPClassClientError, CoAPClassServerError:
		return true
	}
	return false
}

// DecodeCoAP decodes the CoAP header.
func DecodeCoAP(data []byte) (CoAPHeader, []byte, error) {
	if len(data) < CoAPHeaderLen {
		return CoAPHeader{}, nil, core.ErrPacketTooShort
	}
	h := CoAPHeader{
		Version:  data[0] >> 6,
		Type:     (data[0] >> 4) & 0x03,
		TokenLen: data[0] & 0x0F,
		Code:     data[1],
		MID:      binary.BigEndian.Uint16(data[2:4]),
	}
	return h, data[CoAPHeaderLen:], nil
}
