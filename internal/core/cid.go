package core

import (
	"encoding/hex"
	"fmt"
)

// MaxCIDLen is the largest QUIC connection ID accepted by any supported version.
const MaxCIDLen = 18

// QuicConnectionID is a QUIC connection ID of 0 to MaxCIDLen bytes.
type QuicConnectionID struct {
	Len uint8
	ID  [MaxCIDLen]byte
}

// NewQuicConnectionID copies b into a connection ID.
func NewQuicConnectionID(b []byte) (QuicConnectionID, error) {
	var c QuicConnectionID
	if len(b) > MaxCIDLen {
		return c, fmt.Errorf("%w: %d bytes", ErrInvalidCIDLength, len(b))
	}
	c.Len = uint8(len(b))
	copy(c.ID[:], b)
	return c, nil
}

// MustQuicConnectionID is like NewQuicConnectionID but panics on error.
func MustQuicConnectionID(b ...byte) QuicConnectionID {
	c, err := NewQuicConnectionID(b)
	if err != nil {
		panic(err)
	}
	return c
}

// Bytes returns the significant bytes of c.
func (c QuicConnectionID) Bytes() []byte { return c.ID[:c.Len] }

func (c QuicConnectionID) IsEmpty() bool { return c.Len == 0 }

// Equal reports whether c and o have the same length and bytes.
func (c QuicConnectionID) Equal(o QuicConnectionID) bool {
	return c.Len == o.Len && string(c.Bytes()) == string(o.Bytes())
}

// PrefixMatch compares the leading min(observed.Len, c.Len) bytes. An empty
// overlap never matches.
func (c QuicConnectionID) PrefixMatch(observed QuicConnectionID) bool {
	n := min(observed.Len, c.Len)
	if n == 0 {
		return false
	}
	return string(c.ID[:n]) == string(observed.ID[:n])
}

// String formats the ID as lowercase hex, or "null" when empty.
func (c QuicConnectionID) String() string {
	if c.Len == 0 {
		return "null"
	}
	return hex.EncodeToString(c.Bytes())
}

func (c QuicConnectionID) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
