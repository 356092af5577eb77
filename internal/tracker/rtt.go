package tracker

import (
	"fmt"
	"math"
	"slices"
	"time"
)

const (
	// RTTInfinite marks "no measurement".
	RTTInfinite uint32 = 0xffffffff
	// RTTMax is the largest representable measurement in microseconds.
	RTTMax uint32 = 0xfffffffe

	RTTRecentSize = 20
)

// RTTFilter drops the top and bottom Percent of samples before averaging.
type RTTFilter struct {
	Enabled bool
	Percent int
}

// RTT accumulates round-trip time samples in microseconds.
type RTT struct {
	Last      uint32
	MovingAvg uint32
	StdDev    uint32

	recent [RTTRecentSize]uint32
	index  int
}

// NewRTT returns an accumulator with no measurements.
func NewRTT() RTT {
	var r RTT
	r.Reset()
	return r
}

func (r *RTT) Reset() {
	r.Last = RTTInfinite
	r.MovingAvg = RTTInfinite
	r.StdDev = 0
	r.index = 0
	for i := range r.recent {
		r.recent[i] = RTTInfinite
	}
}

// HasMeasurement reports whether at least one sample was recorded.
func (r *RTT) HasMeasurement() bool { return r.Last != RTTInfinite }

// Add records a sample, clamped to RTTMax, and recomputes the moving average
// and deviation. Negative durations are recorded as zero.
func (r *RTT) Add(d time.Duration, filter RTTFilter) uint32 {
	us := max(d.Microseconds(), 0)
	v := RTTMax
	if us < int64(RTTMax) {
		v = uint32(us)
	}
	r.Last = v
	r.recent[r.index] = v
	r.index = (r.index + 1) % RTTRecentSize
	r.MovingAvg, r.StdDev = r.average(filter)
	return v
}

// Recent returns the recorded samples, oldest first.
func (r *RTT) Recent() []uint32 {
	out := make([]uint32, 0, RTTRecentSize)
	for i := 0; i < RTTRecentSize; i++ {
		if v := r.recent[(r.index+i)%RTTRecentSize]; v != RTTInfinite {
			out = append(out, v)
		}
	}
	return out
}

func (r *RTT) average(filter RTTFilter) (avg, dev uint32) {
	samples := r.Recent()
	if filter.Enabled && filter.Percent > 0 {
		slices.Sort(samples)
		cut := len(samples) * filter.Percent / 100
		if len(samples)-2*cut >= 3 {
			samples = samples[cut : len(samples)-cut]
		}
	}
	n := uint64(len(samples))
	if n == 0 {
		return RTTInfinite, 0
	}

	var sum uint64
	for _, v := range samples {
		sum += uint64(v)
	}
	mean := sum / n
	if mean > uint64(RTTMax) {
		mean = uint64(RTTMax)
	}

	if n > 1 {
		var devSum float64
		for _, v := range samples {
			diff := float64(v) - float64(mean)
			devSum += diff * diff
		}
		dev = uint32(math.Floor(math.Sqrt(devSum / float64(n-1))))
	}
	return uint32(mean), dev
}

// FormatRTT renders a microsecond value for humans.
func FormatRTT(us uint32) string {
	switch {
	case us == RTTInfinite:
		return "n/a"
	case us > 60*1000*1000:
		return fmt.Sprintf("%.1f min", float64(us)/(60*1000*1000))
	case us > 1000*1000:
		return fmt.Sprintf("%.1f s", float64(us)/(1000*1000))
	case us > 1000:
		return fmt.Sprintf("%.1f ms", float64(us)/1000)
	default:
		return fmt.Sprintf("%d us", us)
	}
}

func (r RTT) String() string { return FormatRTT(r.Last) }
