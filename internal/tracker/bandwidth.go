package tracker

import "time"

// Bandwidth counts bytes sent by one side, in total and per one-second period.
type Bandwidth struct {
	Bytes           uint64
	BytesThisPeriod uint64
	BytesLastPeriod uint64
	Periods         uint64

	periodStart time.Time
}

// Add accounts n bytes observed at ts.
func (b *Bandwidth) Add(ts time.Time, n uint64) {
	b.Bytes += n
	if b.periodStart.IsZero() {
		b.periodStart = ts
	}
	if ts.Sub(b.periodStart) < time.Second {
		b.BytesThisPeriod += n
	} else {
		b.BytesLastPeriod = b.BytesThisPeriod
		b.BytesThisPeriod = n
		b.periodStart = ts
		b.Periods++
	}
	if b.Periods == 0 {
		b.BytesLastPeriod = b.BytesThisPeriod
	}
}

// BitsPerSecond returns the rate of the last complete period.
func (b *Bandwidth) BitsPerSecond() uint64 { return b.BytesLastPeriod * 8 }
