package decoder

import (
	"encoding/binary"

	"firestige.xyz/flowscope/internal/core"
)

const (
	SCTPHeaderLen      = 12
	SCTPChunkHeaderLen = 4

	sctpInitMinLen = 20
	sctpDataMinLen = 16
	sctpSackMinLen = 16
)

// SCTP chunk types.
const (
	SCTPChunkData             uint8 = 0
	SCTPChunkInit             uint8 = 1
	SCTPChunkInitAck          uint8 = 2
	SCTPChunkSack             uint8 = 3
	SCTPChunkHeartbeat        uint8 = 4
	SCTPChunkHeartbeatAck     uint8 = 5
	SCTPChunkAbort            uint8 = 6
	SCTPChunkShutdown         uint8 = 7
	SCTPChunkShutdownAck      uint8 = 8
	SCTPChunkError            uint8 = 9
	SCTPChunkCookieEcho       uint8 = 10
	SCTPChunkCookieAck        uint8 = 11
	SCTPChunkShutdownComplete uint8 = 14
)

// SCTPHeader is the SCTP common header.
type SCTPHeader struct {
	SrcPort         uint16
	DstPort         uint16
	VerificationTag uint32
	Checksum        uint32
}

// SCTPInit carries the fixed fields of INIT and INIT-ACK.
type SCTPInit struct {
	InitiateTag     uint32
	ARwnd           uint32
	OutboundStreams uint16
	InboundStreams  uint16
	InitialTSN      uint32
}

// SCTPData carries the fixed fields of a DATA chunk.
type SCTPData struct {
	TSN      uint32
	StreamID uint16
	StreamSN uint16
	PPID     uint32
	Length   int // user data bytes
}

// SCTPSack carries the fixed fields of a SACK chunk.
type SCTPSack struct {
	CumulativeTSN uint32
	ARwnd         uint32
	GapBlocks     uint16
	DupTSNs       uint16
}

// SCTPChunk is one decoded chunk. Exactly one of the typed pointers is set for
// INIT/INIT-ACK, DATA and SACK; other chunk types carry only the header.
type SCTPChunk struct {
	Type   uint8
	Flags  uint8
	Length uint16

	Init *SCTPInit
	Data *SCTPData
	Sack *SCTPSack
}

// DecodeSCTP decodes the SCTP common header.
func DecodeSCTP(data []byte) (SCTPHeader, []byte, error) {
	if len(data) < SCTPHeaderLen {
		return SCTPHeader{}, nil, core.ErrPacketTooShort
	}
	h := SCTPHeader{
		SrcPort:         binary.BigEndian.Uint16(data[0:2]),
		DstPort:         binary.BigEndian.Uint16(data[2:4]),
		VerificationTag: binary.BigEndian.Uint32(data[4:8]),
		Checksum:        binary.BigEndian.Uint32(data[8:12]),
	}
	return h, data[SCTPHeaderLen:], nil
}

// DecodeSCTPChunks walks the chunks following the common header. Chunks are
// padded to four bytes. A known chunk type shorter than its fixed fields
// yields ErrSCTPChunkTooShort; unknown types are accepted undecoded.
func DecodeSCTPChunks(payload []byte) ([]SCTPChunk, error) {
	var chunks []SCTPChunk
	for len(payload) > 0 {
		if len(payload) < SCTPChunkHeaderLen {
			return chunks, core.ErrSCTPChunkTooShort
		}
		c := SCTPChunk{
			Type:   payload[0],
			Flags:  payload[1],
			Length: binary.BigEndian.Uint16(payload[2:4]),
		}
		if c.Length < SCTPChunkHeaderLen || int(c.Length) > len(payload) {
			return chunks, core.ErrSCTPChunkTooShort
		}
		body := payload[:c.Length]

		switch c.Type {
		case SCTPChunkInit, SCTPChunkInitAck:
			if len(body) < sctpInitMinLen {
				return chunks, core.ErrSCTPChunkTooShort
			}
			c.Init = &SCTPInit{
				InitiateTag:     binary.BigEndian.Uint32(body[4:8]),
				ARwnd:           binary.BigEndian.Uint32(body[8:12]),
				OutboundStreams: binary.BigEndian.Uint16(body[12:14]),
				InboundStreams:  binary.BigEndian.Uint16(body[14:16]),
				InitialTSN:      binary.BigEndian.Uint32(body[16:20]),
			}
		case SCTPChunkData:
			if len(body) < sctpDataMinLen {
				return chunks, core.ErrSCTPChunkTooShort
			}
			c.Data = &SCTPData{
				TSN:      binary.BigEndian.Uint32(body[4:8]),
				StreamID: binary.BigEndian.Uint16(body[8:10]),
				StreamSN: binary.BigEndian.Uint16(body[10:12]),
				PPID:     binary.BigEndian.Uint32(body[12:16]),
				Length:   len(body) - sctpDataMinLen,
			}
		case SCTPChunkSack:
			if len(body) < sctpSackMinLen {
				return chunks, core.ErrSCTPChunkTooShort
			}
			c.Sack = &SCTPSack{
				CumulativeTSN: binary.BigEndian.Uint32(body[4:8]),
				ARwnd:         binary.BigEndian.Uint32(body[8:12]),
				GapBlocks:     binary.BigEndian.Uint16(body[12:14]),
				DupTSNs:       binary.BigEndian.Uint16(body[14:16]),
			}
		}
		chunks = append(chunks, c)

		padded := (int(c.Length) + 3) &^ 3
		if padded >= len(payload) {
			break
		}
		payload = payload[padded:]
	}
	return chunks, nil
}
