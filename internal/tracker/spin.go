package tracker

import "time"

const SpinTrackerSize = 10

const (
	spinOutstandingUnidir uint8 = 0x1
	spinOutstandingBidir  uint8 = 0x2
)

type spinFlip struct {
	received    time.Time
	outstanding uint8
	spin0to1    bool
}

// SpinTracker follows the spin bit sent in one direction of a QUIC
// connection.
type SpinTracker struct {
	flips    *EvictingRing[spinFlip]
	lastSpin bool
	seen     bool
}

func NewSpinTracker() *SpinTracker {
	return &SpinTracker{flips: NewEvictingRing[spinFlip](SpinTrackerSize)}
}

// LastSpin returns the most recently observed value and whether any was seen.
func (t *SpinTracker) LastSpin() (bool, bool) { return t.lastSpin, t.seen }

// SpinObservation is the outcome of feeding one spin bit value.
type SpinObservation struct {
	Spin     bool
	Flipped  bool
	Spin0to1 bool

	// Bidirectional is set when the flip pairs with a flip seen earlier in
	// the opposite direction; BidirectionalSent is that flip's time.
	Bidirectional     bool
	BidirectionalSent time.Time

	// Unidirectional is set when the flip pairs with the previous flip in
	// the same direction.
	Unidirectional     bool
	UnidirectionalSent time.Time
}

// ObserveSpin feeds a spin bit seen at ts into this, the tracker of the
// sending direction, and pairs flips against other, the tracker of the
// opposite direction.
//
// The responder reflects the initiator's bit, so a responder flip pairs
// with an initiator flip of the same edge, while an initiator flip pairs with
// a responder flip of the opposite edge.
func ObserveSpin(this, other *SpinTracker, ts time.Time, spin bool, fromResponder bool) SpinObservation {
	obs := SpinObservation{Spin: spin}
	if !this.seen {
		this.seen = true
		this.lastSpin = spin
		return obs
	}
	if spin == this.lastSpin {
		return obs
	}

	obs.Flipped = true
	obs.Spin0to1 = !this.lastSpin
	this.lastSpin = spin
	this.flips.Push(spinFlip{
		received:    ts,
		outstanding: spinOutstandingUnidir | spinOutstandingBidir,
		spin0to1:    obs.Spin0to1,
	})

	want := obs.Spin0to1
	if !fromResponder {
		want = !want
	}
	if sent, ok := other.ackBidirectional(want); ok {
		obs.Bidirectional = true
		obs.BidirectionalSent = sent
	}
	if sent, ok := this.ackUnidirectional(); ok {
		obs.Unidirectional = true
		obs.UnidirectionalSent = sent
	}
	return obs
}

// ackBidirectional finds the earliest flip still awaiting a bidirectional
// match with the given edge, consumes it and retires earlier flips.
func (t *SpinTracker) ackBidirectional(spin0to1 bool) (time.Time, bool) {
	best := -1
	var bestTime time.Time
	for i := 0; i < t.flips.Cap(); i++ {
		f, used := t.flips.Slot(i)
		if !used || f.outstanding&spinOutstandingBidir == 0 || f.spin0to1 != spin0to1 {
			continue
		}
		if best < 0 || f.received.Before(bestTime) {
			best, bestTime = i, f.received
		}
	}
	if best < 0 {
		return time.Time{}, false
	}
	for i := 0; i < t.flips.Cap(); i++ {
		f, used := t.flips.Slot(i)
		if used && (i == best || f.received.Before(bestTime)) {
			f.outstanding &^= spinOutstandingBidir
		}
	}
	return bestTime, true
}

// ackUnidirectional pairs the flip just stored with the one before it.
func (t *SpinTracker) ackUnidirectional() (time.Time, bool) {
	prev, used := t.flips.Slot(t.flips.Next() - 2)
	if !used || prev.outstanding&spinOutstandingUnidir == 0 {
		return time.Time{}, false
	}
	prev.outstanding &^= spinOutstandingUnidir
	return prev.received, true
}
