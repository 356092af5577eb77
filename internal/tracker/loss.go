package tracker

import "time"

const (
	LossRecentSize = 10
	lossMaxRate    = 1.0

	rtLoss2ReorderThreshold = 10 * time.Millisecond
	qrLossPeriod            = 64
	qrLoss3xPeriod          = 3 * qrLossPeriod
	qrLossReorderThreshold  = 10
	qlLossPeriod            = 64
)

// LossRates is the loss summary exposed on a connection for one direction.
type LossRates struct {
	Total   float64 `json:"total"`
	Average float64 `json:"average"`
}

// lossHistory keeps the last LossRecentSize per-phase loss rates. Slots that
// were never written hold lossMaxRate and are excluded from the average.
type lossHistory struct {
	rates [LossRecentSize]float64
	index int
}

func newLossHistory() lossHistory {
	var h lossHistory
	for i := range h.rates {
		h.rates[i] = lossMaxRate
	}
	return h
}

func (h *lossHistory) push(rate float64) {
	h.rates[h.index] = rate
	h.index = (h.index + 1) % LossRecentSize
}

// average skips degenerate samples at or above lossMaxRate.
func (h *lossHistory) average() float64 {
	var sum float64
	n := 0
	for _, r := range h.rates {
		if r < lossMaxRate {
			sum += r
			n++
		}
	}
	if n == 0 {
		return lossMaxRate
	}
	return sum / float64(n)
}

// RTLoss1 estimates round-trip loss from a single reflection bit whose
// counting phases alternate on spin bit edges.
type RTLoss1 struct {
	lastSpinPeriodEmpty bool
	reflectionPhase     bool
	current, previous   uint32

	Marked, Lost, Generated, Reflected uint64
	LastLossTime                       time.Time

	history lossHistory
	rates   LossRates
}

func NewRTLoss1() *RTLoss1 { return &RTLoss1{history: newLossHistory()} }

func (t *RTLoss1) Rates() LossRates { return t.rates }

// Observe feeds one packet. updated is true when a new per-phase rate was
// computed and the rates should be published.
func (t *RTLoss1) Observe(ts time.Time, lossBit, spinFlip bool) (updated bool) {
	if spinFlip {
		switch {
		case !t.lastSpinPeriodEmpty:
			t.lastSpinPeriodEmpty = true
		case t.current > 0:
			if t.reflectionPhase {
				if t.previous < t.current {
					// Reflected more than generated: count everything
					// previously generated as lost and restart the phases.
					t.Lost += uint64(t.previous)
					if t.Marked > 0 {
						t.rates.Total = float64(t.Lost) / float64(t.Marked)
					}
					t.reflectionPhase = false
				} else {
					losses := t.previous - t.current
					t.Lost += uint64(losses)
					t.Generated += uint64(t.previous)
					t.Reflected += uint64(t.current)
					t.history.push(float64(losses) / float64(t.previous))
					t.rates.Total = float64(t.Lost) / float64(t.Generated)
					t.rates.Average = t.history.average()
					updated = true
				}
			}
			t.previous = t.current
			t.current = 0
			t.reflectionPhase = !t.reflectionPhase
		}
	}
	if lossBit {
		t.Marked++
		t.current++
		t.LastLossTime = ts
		t.lastSpinPeriodEmpty = false
	}
	return updated
}

// RTLoss2 estimates round-trip loss from a two-bit square wave: value 1 marks
// generated packets and value 2 marks their reflection.
type RTLoss2 struct {
	reflectionPhase bool
	lockUntil       time.Time
	genCounter      uint32
	tmpGenCounter   uint32
	rflCounter      uint32

	Marked, Lost, Generated, Reflected uint64
	// Anomalies counts phases that reflected more packets than were
	// generated. Such phases are skipped.
	Anomalies          uint64
	LastReflectionTime time.Time

	history lossHistory
	rates   LossRates
}

func NewRTLoss2() *RTLoss2 {
	return &RTLoss2{history: newLossHistory()}
}

func (t *RTLoss2) Rates() LossRates { return t.rates }

func (t *RTLoss2) Observe(ts time.Time, bits uint8) (updated bool) {
	t.Marked++
	switch bits {
	case 1:
		if t.reflectionPhase && ts.After(t.lockUntil) {
			t.reflectionPhase = false
			t.genCounter = t.tmpGenCounter
			t.tmpGenCounter = 0
			t.lockUntil = ts.Add(rtLoss2ReorderThreshold)
		}
		t.tmpGenCounter++
	case 2:
		if !t.reflectionPhase && ts.After(t.lockUntil) {
			if t.rflCounter > t.genCounter {
				t.Anomalies++
			} else if t.genCounter > 0 {
				losses := t.genCounter - t.rflCounter
				t.Lost += uint64(losses)
				t.Generated += uint64(t.genCounter)
				t.Reflected += uint64(t.rflCounter)
				t.history.push(float64(losses) / float64(t.genCounter))
				t.rates.Total = float64(t.Lost) / float64(t.Generated)
				t.rates.Average = t.history.average()
				updated = true
			}
			t.reflectionPhase = true
			t.rflCounter = 0
			t.lockUntil = ts.Add(rtLoss2ReorderThreshold)
		}
		t.rflCounter++
		t.LastReflectionTime = ts
	}
	return updated
}

// QRLossRates holds the square-bit (upstream) and reflected-square-bit
// (round trip) loss estimates.
type QRLossRates struct {
	Total      float64 `json:"total"`
	Average    float64 `json:"average"`
	RefTotal   float64 `json:"ref_total"`
	RefAverage float64 `json:"ref_average"`
}

type squareCounter struct {
	current bool
	count   uint32
	holding uint32
	total   uint64
	lost    uint64
	history lossHistory
}

// observe returns whether a period closed with a non-zero loss.
func (s *squareCounter) observe(bit bool) bool {
	if bit == s.current {
		s.count++
		return false
	}
	s.holding++
	if s.holding != qrLossReorderThreshold {
		return false
	}

	s.total += uint64(s.count)
	var losses uint32
	if s.count <= qrLossPeriod {
		losses = qrLossPeriod - s.count
		s.history.push(float64(losses) / qrLossPeriod)
	} else {
		if s.count < qrLoss3xPeriod {
			losses = qrLoss3xPeriod - s.count
		}
		s.history.push(float64(losses) / qrLoss3xPeriod)
	}
	s.lost += uint64(losses)

	s.current = bit
	s.count = qrLossReorderThreshold
	s.holding = 0
	return losses != 0
}

func (s *squareCounter) totalRate() float64 {
	return float64(s.lost) / float64(s.total+s.lost)
}

// averagePrefix averages rates in slot order and stops at the first unset
// slot.
func (s *squareCounter) averagePrefix() float64 {
	var sum float64
	n := 0
	for _, r := range s.history.rates {
		if r >= lossMaxRate {
			break
		}
		sum += r
		n++
	}
	if n == 0 {
		return lossMaxRate
	}
	return sum / float64(n)
}

// QRLoss estimates loss from the square bit Q, which toggles every
// qrLossPeriod packets, and its reflection R.
type QRLoss struct {
	square      squareCounter
	refSquare   squareCounter
	refStarting bool
	rates       QRLossRates
}

func NewQRLoss() *QRLoss {
	return &QRLoss{
		square:      squareCounter{history: newLossHistory()},
		refSquare:   squareCounter{history: newLossHistory()},
		refStarting: true,
	}
}

func (t *QRLoss) Rates() QRLossRates { return t.rates }

// Observe returns how many loss measurements the packet produced (0 to 2).
func (t *QRLoss) Observe(q, r bool) (updates int) {
	if t.square.observe(q) {
		t.rates.Total = t.square.totalRate()
		t.rates.Average = t.square.averagePrefix()
		updates++
	}

	if t.refStarting {
		if !r {
			return updates
		}
		t.refStarting = false
		t.refSquare.current = true
	}
	if t.refSquare.observe(r) {
		t.rates.RefTotal = t.refSquare.totalRate()
		t.rates.RefAverage = t.refSquare.averagePrefix()
		updates++
	}
	return updates
}

// QLLoss estimates unidirectional loss from the square bit Q and counts loss
// events signalled with the L bit.
type QLLoss struct {
	qCurrent bool
	qCount   uint32
	qRank    uint32
	QLost    uint64
	LLost    uint64
}

func NewQLLoss() *QLLoss { return &QLLoss{} }

// Observe feeds one packet; squareClosed is true when a Q period ended and
// the square-bit loss estimate changed.
func (t *QLLoss) Observe(q, l bool) (squareClosed bool) {
	switch {
	case t.qCount == 0 && t.qRank == 0:
		t.qCurrent = q
		t.qCount++
	case q == t.qCurrent:
		t.qCount++
	default:
		if t.qCount < qlLossPeriod {
			t.QLost += uint64(qlLossPeriod - t.qCount)
		}
		t.qCurrent = q
		t.qCount = 1
		t.qRank++
		squareClosed = true
	}
	if l {
		t.LLost++
	}
	return squareClosed
}

// Rates divides the loss counters by the packets sent from this side.
func (t *QLLoss) Rates(packets uint64) (qLoss, lLoss float64) {
	if packets == 0 {
		return 0, 0
	}
	return float64(t.QLost) / float64(packets), float64(t.LLost) / float64(packets)
}

// DelayBitMaxGap bounds how far apart two delay samples may be to pair.
const DelayBitMaxGap = 225 * time.Millisecond

// DelayBit tracks the last delay-marked packet seen in one direction.
type DelayBit struct {
	LastSample time.Time
}

// DelayObservation is the outcome of one marked packet.
type DelayObservation struct {
	Unidirectional     bool
	UnidirectionalSent time.Time
	Bidirectional      bool
	BidirectionalSent  time.Time
}

// ObserveDelayBit pairs a marked packet at ts with the previous sample in the
// same direction (this) and with the latest sample in the other direction.
func ObserveDelayBit(this, other *DelayBit, ts time.Time, marked bool) DelayObservation {
	var obs DelayObservation
	if !marked || ts.IsZero() {
		return obs
	}
	if !this.LastSample.IsZero() && ts.Sub(this.LastSample) < DelayBitMaxGap {
		obs.Unidirectional = true
		obs.UnidirectionalSent = this.LastSample
	}
	if !other.LastSample.IsZero() && ts.Sub(other.LastSample) < DelayBitMaxGap {
		obs.Bidirectional = true
		obs.BidirectionalSent = other.LastSample
	}
	this.LastSample = ts
	return obs
}
