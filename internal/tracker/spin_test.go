package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpinBaselineDoesNotFlip(t *testing.T) {
	init, resp := NewSpinTracker(), NewSpinTracker()
	obs := ObserveSpin(init, resp, at(0), true, false)
	assert.False(t, obs.Flipped)
	v, seen := init.LastSpin()
	assert.True(t, seen)
	assert.True(t, v)

	obs = ObserveSpin(init, resp, at(1), true, false)
	assert.False(t, obs.Flipped)
}

func TestSpinPairsAcrossDirections(t *testing.T) {
	init, resp := NewSpinTracker(), NewSpinTracker()

	ObserveSpin(init, resp, at(0), false, false)
	ObserveSpin(resp, init, at(5), false, true)

	obs := ObserveSpin(init, resp, at(10), true, false)
	assert.True(t, obs.Flipped)
	assert.True(t, obs.Spin0to1)
	assert.False(t, obs.Bidirectional, "nothing to pair with yet")
	assert.False(t, obs.Unidirectional)

	obs = ObserveSpin(resp, init, at(30), true, true)
	assert.True(t, obs.Flipped)
	assert.True(t, obs.Bidirectional)
	assert.Equal(t, at(10), obs.BidirectionalSent)

	obs = ObserveSpin(init, resp, at(50), false, false)
	assert.True(t, obs.Flipped)
	assert.False(t, obs.Spin0to1)
	assert.True(t, obs.Bidirectional)
	assert.Equal(t, at(30), obs.BidirectionalSent)
	assert.True(t, obs.Unidirectional)
	assert.Equal(t, at(10), obs.UnidirectionalSent)
}

func TestSpinFlipMatchedOnce(t *testing.T) {
	init, resp := NewSpinTracker(), NewSpinTracker()
	ObserveSpin(init, resp, at(0), false, false)
	ObserveSpin(resp, init, at(1), false, true)
	ObserveSpin(init, resp, at(10), true, false)

	obs := ObserveSpin(resp, init, at(20), true, true)
	assert.True(t, obs.Bidirectional)

	// Responder flips back before the initiator did: the 0->1 initiator flip
	// is already consumed and there is no 1->0 initiator flip.
	obs = ObserveSpin(resp, init, at(25), false, true)
	assert.False(t, obs.Bidirectional)
	assert.True(t, obs.Unidirectional)
	assert.Equal(t, at(20), obs.UnidirectionalSent)
}
