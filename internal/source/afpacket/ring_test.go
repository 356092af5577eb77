package afpacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingLayout(t *testing.T) {
	tests := []struct {
		name    string
		buffer  uint64
		snapLen int
	}{
		{"default", 64 << 20, 65535},
		{"small snap", 8 << 20, 128},
		{"tiny buffer", 1024, 1500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, block, blocks, err := ringLayout(tt.buffer, tt.snapLen, 4096)
			require.NoError(t, err)
			assert.Zero(t, frame%tpacketAlignment)
			assert.GreaterOrEqual(t, frame, tt.snapLen+tpacketHdrLen)
			assert.Zero(t, block%4096)
			assert.Zero(t, block%frame)
			assert.LessOrEqual(t, block, max(maxBlockSize, frame))
			assert.GreaterOrEqual(t, blocks, 1)
		})
	}
}

func TestRingLayoutSmallSnapUsesLCM(t *testing.T) {
	frame, block, blocks, err := ringLayout(1<<20, 128-tpacketHdrLen, 4096)
	require.NoError(t, err)
	assert.Equal(t, 128, frame)
	assert.Equal(t, 4096, block)
	assert.Equal(t, 256, blocks)
}

func TestRingLayoutRejects(t *testing.T) {
	_, _, _, err := ringLayout(0, 1500, 4096)
	assert.Error(t, err)
	_, _, _, err = ringLayout(1<<20, 0, 4096)
	assert.Error(t, err)
	_, _, _, err = ringLayout(1<<20, 1500, 1000)
	assert.Error(t, err)
}

func TestNewSourceRequiresInterface(t *testing.T) {
	_, err := NewSource(Config{SnapLen: 1500, BufferBytes: 1 << 20})
	assert.Error(t, err)

	s, err := NewSource(Config{Interface: "eth0", SnapLen: 1500, BufferBytes: 1 << 20})
	require.NoError(t, err)
	assert.Nil(t, s.handle)
	_, err = s.ReadPacket()
	assert.Error(t, err)
}

func TestRingLayoutLargeFrames(t *testing.T) {
	frame, block, _, err := ringLayout(64<<20, 65535, 4096)
	require.NoError(t, err)
	assert.Equal(t, 69632, frame)
	assert.Equal(t, 69632*60, block)
}
