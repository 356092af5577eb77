package afpacket

import "fmt"

const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN rounded
	maxBlockSize     = 4 << 20
)

// ringLayout splits a ring buffer budget into frames and blocks that satisfy
// the PACKET_MMAP alignment rules: frames aligned to TPACKET_ALIGNMENT,
// blocks a multiple of both the page size and the frame size, and no
// block larger than 4MB unless a single frame is.
func ringLayout(bufferBytes uint64, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferBytes == 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive")
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)
	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// Page-align the frame instead and pack as many as fit.
		frameSize = alignUp(frameSize, pageSize)
		blockSize = frameSize * max(1, maxBlockSize/frameSize)
	}

	numBlocks = int(bufferBytes / uint64(blockSize))
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, to int) int { return (n + to - 1) / to * to }

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
