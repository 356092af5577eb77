package decoder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowscope/internal/core"
)

func longHeader(first byte, version uint32, dcid, scid []byte) []byte {
	b := []byte{first, byte(version >> 24), byte(version >> 16), byte(version >> 8), byte(version)}
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	return append(b, 0x00, 0x00) // token length, packet length
}

func TestDecodeQUICInitialRFC(t *testing.T) {
	payload := longHeader(0xc3, QUICVersionRFC, []byte{0xa1, 0xa1}, []byte{0xb2, 0xb2, 0xb2})
	h, err := DecodeQUIC(payload)
	require.NoError(t, err)
	assert.True(t, h.LongForm)
	assert.Equal(t, QUICVersionRFC, h.Version)
	assert.Equal(t, QUICMessageInitial, h.Type)
	assert.True(t, h.DestCIDLenKnown)
	assert.True(t, h.SourceCIDPresent)
	assert.Equal(t, "a1a1", h.DestCID.String())
	assert.Equal(t, "b2b2b2", h.SourceCID.String())
}

func TestDecodeQUICLongHeaderTypes(t *testing.T) {
	cases := []struct {
		first byte
		want  QUICMessageType
	}{
		{0xc0, QUICMessageInitial},
		{0xd0, QUICMessageOther}, // 0-RTT
		{0xe0, QUICMessageOther}, // Handshake
		{0xf0, QUICMessageRetry},
	}
	for _, c := range cases {
		h, err := DecodeQUIC(longHeader(c.first, QUICVersionRFC, nil, nil))
		require.NoError(t, err)
		if h.Type != c.want {
			t.Errorf("first byte 0x%02x: expected %v, got %v", c.first, c.want, h.Type)
		}
	}
}

func TestDecodeQUICNibbleLayout(t *testing.T) {
	// Draft 17: lengths byte 0x10 -> dcid 4 bytes, scid empty
	payload := []byte{0xc0, 0xff, 0x00, 0x00, 0x11, 0x10, 1, 2, 3, 4, 0xee}
	h, err := DecodeQUIC(payload)
	require.NoError(t, err)
	assert.Equal(t, "01020304", h.DestCID.String())
	assert.Equal(t, "null", h.SourceCID.String())
	assert.Equal(t, QUICMessageInitial, h.Type)

	// Draft 16 uses the 7-bit type field
	payload = []byte{0xff, 0xff, 0x00, 0x00, 0x10, 0x00}
	h, err = DecodeQUIC(payload)
	require.NoError(t, err)
	assert.Equal(t, QUICMessageInitial, h.Type)

	payload[0] = 0x80
	_, err = DecodeQUIC(payload)
	assert.True(t, errors.Is(err, core.ErrNotQUIC))

	// Not enough bytes for the announced CIDs
	_, err = DecodeQUIC([]byte{0xc0, 0xff, 0x00, 0x00, 0x11, 0x11, 1, 2})
	assert.True(t, errors.Is(err, core.ErrPacketTooShort))
}

func TestDecodeQUICVersions(t *testing.T) {
	h, err := DecodeQUIC(longHeader(0x80, QUICVersionNegotiation, []byte{1}, []byte{2}))
	require.NoError(t, err)
	assert.Equal(t, QUICMessageVersionNegotiation, h.Type)

	h, err = DecodeQUIC(longHeader(0xc0, 0x1a2a3a4a, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, QUICMessageInitial, h.Type, "forced negotiation counts as initial")

	_, err = DecodeQUIC(longHeader(0xc0, QUICDraft(14), nil, nil))
	assert.True(t, errors.Is(err, core.ErrUnsupportedQUICVersion))

	_, err = DecodeQUIC(longHeader(0xc0, 0x12345678, nil, nil))
	assert.True(t, errors.Is(err, core.ErrUnrecognisedQUICVersion))

	_, err = DecodeQUIC(longHeader(0xc0, QUICDraft(29), make([]byte, 19), nil))
	assert.True(t, errors.Is(err, core.ErrInvalidCIDLength))

	_, err = DecodeQUIC([]byte{0xc0, 0, 0})
	assert.True(t, errors.Is(err, core.ErrPacketTooShort))

	_, err = DecodeQUIC(nil)
	assert.True(t, errors.Is(err, core.ErrPacketTooShort))
}

func TestDecodeQUICShortHeader(t *testing.T) {
	payload := make([]byte, 40)
	payload[0] = 0x40 | 0x20 | 0x10
	for i := 1; i < len(payload); i++ {
		payload[i] = byte(i)
	}
	h, err := DecodeQUIC(payload)
	require.NoError(t, err)
	assert.False(t, h.LongForm)
	assert.False(t, h.DestCIDLenKnown)
	assert.False(t, h.SourceCIDPresent)
	assert.Equal(t, uint8(core.MaxCIDLen), h.DestCID.Len)
	assert.Equal(t, QUICMessageData, h.Type)

	spin, ok := QUICSpinBit(h, QUICVersionRFC)
	assert.True(t, ok)
	assert.True(t, spin)
	assert.Equal(t, uint8(0x02), QUICReservedBits(h))

	spin, ok = QUICSpinBit(h, QUICDraft(16))
	assert.True(t, ok)
	assert.False(t, spin)

	_, ok = QUICSpinBit(h, QUICVersionNegotiation)
	assert.False(t, ok)

	// Truncated capture keeps what is visible
	h, err = DecodeQUIC([]byte{0x40, 0xa1, 0xa1})
	require.NoError(t, err)
	assert.Equal(t, "a1a1", h.DestCID.String())
}

func TestQUICSpinBitLongHeader(t *testing.T) {
	h, err := DecodeQUIC(longHeader(0xe0, QUICVersionRFC, nil, nil))
	require.NoError(t, err)
	_, ok := QUICSpinBit(h, QUICVersionRFC)
	assert.False(t, ok)
	assert.Zero(t, QUICReservedBits(h))
}

func TestQUICVersionName(t *testing.T) {
	assert.Equal(t, "RFC", QUICVersionName(QUICVersionRFC))
	assert.Equal(t, "v17", QUICVersionName(QUICDraft(17)))
	assert.Equal(t, "v.moz", QUICVersionName(QUICVersionMozilla))
	assert.Equal(t, "g.43", QUICVersionName(0x51303433))
	assert.Equal(t, "v.0x12345678", QUICVersionName(0x12345678))
}

func TestIsProbableQUIC(t *testing.T) {
	assert.True(t, IsProbableQUIC(nil, 51000, 443))
	assert.True(t, IsProbableQUIC(longHeader(0xc0, QUICVersionRFC, nil, nil), 51000, 9999))
	assert.False(t, IsProbableQUIC(longHeader(0xc0, 0x12345678, nil, nil), 51000, 9999))
	assert.False(t, IsProbableQUIC([]byte{0x40, 1, 2, 3, 4, 5, 6}, 51000, 9999))
}

func TestDecodeQUICVarint(t *testing.T) {
	cases := []struct {
		in   []byte
		want uint64
		n    int
	}{
		{[]byte{0x25}, 37, 1},
		{[]byte{0x7b, 0xbd}, 15293, 2},
		{[]byte{0x9d, 0x7f, 0x3e, 0x7d}, 494878333, 4},
		{[]byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}, 151288809941952652, 8},
	}
	for _, c := range cases {
		v, n, err := DecodeQUICVarint(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, v)
		assert.Equal(t, c.n, n)
	}
	_, _, err := DecodeQUICVarint([]byte{0x9d, 0x7f})
	assert.True(t, errors.Is(err, core.ErrInvalidVarint))
}
