package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/flowscope/internal/core"
)

const (
	TLSRecordHeaderLen     = 5
	DTLSRecordHeaderLen    = 13
	tlsHandshakeHeaderLen  = 4
	dtlsHandshakeHeaderLen = 12
	tlsMaxRecordLen        = 16384
)

// TLS record content types.
const (
	TLSContentChangeCipherSpec uint8 = 20
	TLSContentAlert            uint8 = 21
	TLSContentHandshake        uint8 = 22
	TLSContentApplicationData  uint8 = 23
)

// TLS handshake message types.
const (
	TLSHandshakeClientHello        uint8 = 1
	TLSHandshakeServerHello        uint8 = 2
	TLSHandshakeHelloVerifyRequest uint8 = 3
)

var knownHandshakeTypes = map[uint8]bool{
	1: true, 2: true, 3: true, 4: true, 5: true, 8: true, 11: true,
	13: true, 15: true, 20: true, 24: true, 254: true,
}

// TLSVersion is a protocol version in TLS numbering (0x0303 = 1.2). DTLS
// versions are converted on decode.
type TLSVersion uint16

// IsValid reports whether v is at least 3.1 on the wire.
func (v TLSVersion) IsValid() bool { return v>>8 >= 3 && v&0xff >= 1 }

func (v TLSVersion) String() string {
	switch {
	case v == 0:
		return "no version"
	case v&0xff00 == 0x7f00:
		return fmt.Sprintf("1.3 draft %d", v&0xff)
	case !v.IsValid():
		return "unknown version"
	default:
		return fmt.Sprintf("%d.%d", v>>8-2, v&0xff-1)
	}
}

func dtlsToTLS(v uint16) TLSVersion { return TLSVersion(^v + 0x0201) }

// TLSRecordInfo summarises the first record of a TLS or DTLS datagram.
type TLSRecordInfo struct {
	ContentType uint8
	Length      uint16

	IsHandshake        bool
	IsInitialHandshake bool // ClientHello, ServerHello or HelloVerifyRequest
	IsResponse         bool
	Version            TLSVersion // from the hello message, zero otherwise
}

func readRecordVersion(data []byte, dtls bool) TLSVersion {
	raw := binary.BigEndian.Uint16(data[1:3])
	if dtls {
		return dtlsToTLS(raw)
	}
	return TLSVersion(raw)
}

// IsProbableTLS reports whether data starts with a plausible record header.
func IsProbableTLS(data []byte, dtls bool) bool {
	_, err := DecodeTLSRecord(data, dtls)
	return err == nil
}

// DecodeTLSRecord decodes the record header and, for handshake records, the
// first handshake message header. A record that is valid but carries no
// recognisable handshake is returned with IsHandshake false.
func DecodeTLSRecord(data []byte, dtls bool) (TLSRecordInfo, error) {
	hdrLen := TLSRecordHeaderLen
	if dtls {
		hdrLen = DTLSRecordHeaderLen
	}
	if len(data) < hdrLen {
		return TLSRecordInfo{}, core.ErrPacketTooShort
	}

	info := TLSRecordInfo{
		ContentType: data[0],
		Length:      binary.BigEndian.Uint16(data[hdrLen-2 : hdrLen]),
	}
	if info.ContentType < TLSContentChangeCipherSpec || info.ContentType > TLSContentApplicationData {
		return info, core.ErrInvalidTLSRecord
	}
	if !readRecordVersion(data, dtls).IsValid() {
		return info, core.ErrInvalidTLSRecord
	}
	if info.Length > tlsMaxRecordLen {
		return info, core.ErrInvalidTLSRecord
	}

	if info.ContentType == TLSContentHandshake {
		decodeHandshake(&info, data[hdrLen:], dtls)
	}
	return info, nil
}

func decodeHandshake(info *TLSRecordInfo, payload []byte, dtls bool) {
	hsHdrLen := tlsHandshakeHeaderLen
	if dtls {
		hsHdrLen = dtlsHandshakeHeaderLen
	}
	if len(payload) < hsHdrLen || int(info.Length) < hsHdrLen {
		return
	}
	msgType := payload[0]
	if !knownHandshakeTypes[msgType] {
		return
	}
	bodyLen := int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	if hsHdrLen+bodyLen > int(info.Length) {
		return
	}
	info.IsHandshake = true

	switch msgType {
	case TLSHandshakeClientHello, TLSHandshakeServerHello, TLSHandshakeHelloVerifyRequest:
		info.IsInitialHandshake = true
		info.IsResponse = msgType != TLSHandshakeClientHello
		if len(payload) >= hsHdrLen+2 {
			raw := binary.BigEndian.Uint16(payload[hsHdrLen : hsHdrLen+2])
			if dtls {
				info.Version = dtlsToTLS(raw)
			} else {
				info.Version = TLSVersion(raw)
			}
		}
	}
}
