package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTLoss1Phases(t *testing.T) {
	tr := NewRTLoss1()
	ms := 0
	feed := func(loss, flip bool) bool {
		ms++
		return tr.Observe(at(ms), loss, flip)
	}

	for i := 0; i < 4; i++ {
		assert.False(t, feed(true, false))
	}
	assert.False(t, feed(false, true))
	assert.False(t, feed(false, true), "generation phase closes without a measurement")

	for i := 0; i < 3; i++ {
		feed(true, false)
	}
	feed(false, true)
	require.True(t, feed(false, true))

	rates := tr.Rates()
	assert.InDelta(t, 0.25, rates.Total, 1e-9)
	assert.InDelta(t, 0.25, rates.Average, 1e-9)
	assert.Equal(t, uint64(7), tr.Marked)
	assert.Equal(t, uint64(1), tr.Lost)
	assert.Equal(t, uint64(4), tr.Generated)
	assert.Equal(t, uint64(3), tr.Reflected)
}

func TestRTLoss2Phases(t *testing.T) {
	tr := NewRTLoss2()
	for i := 0; i < 5; i++ {
		assert.False(t, tr.Observe(at(i), 1))
	}
	for i := 0; i < 4; i++ {
		assert.False(t, tr.Observe(at(20+i), 2))
	}
	assert.False(t, tr.Observe(at(40), 1))
	require.True(t, tr.Observe(at(60), 2))

	rates := tr.Rates()
	assert.InDelta(t, 0.2, rates.Total, 1e-9)
	assert.InDelta(t, 0.2, rates.Average, 1e-9)
	assert.Equal(t, uint64(11), tr.Marked)
	assert.Equal(t, at(60), tr.LastReflectionTime)
}

func TestRTLoss2ReflectionAnomaly(t *testing.T) {
	tr := NewRTLoss2()
	tr.Observe(at(0), 1)
	for i := 0; i < 4; i++ {
		tr.Observe(at(20+i), 2)
	}
	tr.Observe(at(40), 1)
	assert.False(t, tr.Observe(at(60), 2))
	assert.Equal(t, uint64(1), tr.Anomalies)
	assert.Zero(t, tr.Generated)
	assert.Zero(t, tr.Lost)
}

func TestRTLoss2ReorderLock(t *testing.T) {
	tr := NewRTLoss2()
	tr.Observe(at(0), 1)
	tr.Observe(at(20), 2)
	// Within the lock window a stray generation marker does not end the
	// reflection phase.
	tr.Observe(at(25), 1)
	assert.True(t, tr.reflectionPhase)
	tr.Observe(at(40), 1)
	assert.False(t, tr.reflectionPhase)
}

func TestQRLossSquareBit(t *testing.T) {
	tr := NewQRLoss()
	updates := 0
	run := func(q bool, n int) {
		for i := 0; i < n; i++ {
			updates += tr.Observe(q, false)
		}
	}
	run(false, 64)
	run(true, 10)
	assert.Equal(t, 0, updates, "a full period is not a loss")

	run(true, 50)
	run(false, 10)
	assert.Equal(t, 1, updates)

	rates := tr.Rates()
	assert.InDelta(t, 4.0/128.0, rates.Total, 1e-9)
	assert.InDelta(t, 0.03125, rates.Average, 1e-9)
	assert.Zero(t, rates.RefTotal)
}

func TestQRLossReorderHolding(t *testing.T) {
	tr := NewQRLoss()
	for i := 0; i < 30; i++ {
		tr.Observe(false, false)
	}
	for i := 0; i < qrLossReorderThreshold-1; i++ {
		assert.Zero(t, tr.Observe(true, false))
	}
	assert.Equal(t, 1, tr.Observe(true, false))
}

func TestQLLoss(t *testing.T) {
	tr := NewQLLoss()
	closed := 0
	feed := func(q bool, n int, l bool) {
		for i := 0; i < n; i++ {
			if tr.Observe(q, l) {
				closed++
			}
		}
	}
	feed(false, 64, false)
	feed(true, 60, false)
	feed(false, 1, true)
	assert.Equal(t, 2, closed)
	assert.Equal(t, uint64(4), tr.QLost)
	assert.Equal(t, uint64(1), tr.LLost)

	q, l := tr.Rates(125)
	assert.InDelta(t, 4.0/125.0, q, 1e-9)
	assert.InDelta(t, 1.0/125.0, l, 1e-9)

	q, l = tr.Rates(0)
	assert.Zero(t, q)
	assert.Zero(t, l)
}

func TestLossHistoryAverage(t *testing.T) {
	h := newLossHistory()
	assert.Equal(t, 1.0, h.average())
	h.push(0.1)
	h.push(0.3)
	assert.InDelta(t, 0.2, h.average(), 1e-9)
}

func TestDelayBit(t *testing.T) {
	var up, down DelayBit

	obs := ObserveDelayBit(&up, &down, at(0), true)
	assert.False(t, obs.Unidirectional)
	assert.False(t, obs.Bidirectional)

	obs = ObserveDelayBit(&down, &up, at(40), true)
	assert.True(t, obs.Bidirectional)
	assert.Equal(t, at(0), obs.BidirectionalSent)

	obs = ObserveDelayBit(&up, &down, at(100), false)
	assert.False(t, obs.Bidirectional, "unmarked packets are ignored")

	obs = ObserveDelayBit(&up, &down, at(120), true)
	assert.True(t, obs.Unidirectional)
	assert.Equal(t, at(0), obs.UnidirectionalSent)
	assert.True(t, obs.Bidirectional)
	assert.Equal(t, at(40), obs.BidirectionalSent)

	obs = ObserveDelayBit(&up, &down, at(600), true)
	assert.False(t, obs.Unidirectional, "samples too far apart do not pair")
	assert.False(t, obs.Bidirectional)
}
