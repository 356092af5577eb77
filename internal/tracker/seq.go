package tracker

import "time"

// Ring sizes.
const (
	SeqTrackerSize = 50
	MIDTrackerSize = 40
	TSNTrackerSize = 50
)

type seqEntry struct {
	sent time.Time
	seq  uint32
	len  uint32
	fin  bool
}

// SeqTracker remembers TCP segments sent by one side until they are acked.
type SeqTracker struct {
	ring *EvictingRing[seqEntry]
}

func NewSeqTracker() *SeqTracker {
	return &SeqTracker{ring: NewEvictingRing[seqEntry](SeqTrackerSize)}
}

// Add records a segment starting at seq covering length bytes. SYN and FIN
// count as one byte each.
func (t *SeqTracker) Add(ts time.Time, seq, length uint32, fin bool) {
	t.ring.Push(seqEntry{sent: ts, seq: seq, len: length, fin: fin})
}

// Ack matches a cumulative acknowledgement number against the outstanding
// segments. A segment matches when its last byte or any byte it covers is the
// highest acked byte.
func (t *SeqTracker) Ack(ack uint32) (sent time.Time, ackedFin bool, ok bool) {
	highest := ack - 1
	e, ok := ackEarliest(t.ring,
		func(e *seqEntry) time.Time { return e.sent },
		func(e *seqEntry) bool {
			return e.seq == highest || (e.seq <= highest && highest < e.seq+e.len)
		})
	return e.sent, e.fin, ok
}

// Outstanding returns the number of segments awaiting an ack.
func (t *SeqTracker) Outstanding() int { return t.ring.Len() }

type midEntry struct {
	sent time.Time
	mid  uint16
}

// MIDTracker matches request/response message identifiers (DNS, CoAP, ICMP
// echo).
type MIDTracker struct {
	ring *EvictingRing[midEntry]
}

func NewMIDTracker() *MIDTracker {
	return &MIDTracker{ring: NewEvictingRing[midEntry](MIDTrackerSize)}
}

func (t *MIDTracker) Add(ts time.Time, mid uint16) {
	t.ring.Push(midEntry{sent: ts, mid: mid})
}

// Ack returns the send time of the earliest outstanding message with id mid.
func (t *MIDTracker) Ack(mid uint16) (time.Time, bool) {
	e, ok := ackEarliest(t.ring,
		func(e *midEntry) time.Time { return e.sent },
		func(e *midEntry) bool { return e.mid == mid })
	return e.sent, ok
}

func (t *MIDTracker) Outstanding() int { return t.ring.Len() }

type tsnEntry struct {
	sent time.Time
	tsn  uint32
}

// TSNTracker remembers SCTP DATA chunks until a SACK covers them.
type TSNTracker struct {
	ring *EvictingRing[tsnEntry]
}

func NewTSNTracker() *TSNTracker {
	return &TSNTracker{ring: NewEvictingRing[tsnEntry](TSNTrackerSize)}
}

func (t *TSNTracker) Add(ts time.Time, tsn uint32) {
	t.ring.Push(tsnEntry{sent: ts, tsn: tsn})
}

// Ack matches a cumulative TSN ack; every chunk with tsn <= cumulative is
// covered.
func (t *TSNTracker) Ack(cumulative uint32) (time.Time, bool) {
	e, ok := ackEarliest(t.ring,
		func(e *tsnEntry) time.Time { return e.sent },
		func(e *tsnEntry) bool { return e.tsn <= cumulative })
	return e.sent, ok
}

func (t *TSNTracker) Outstanding() int { return t.ring.Len() }
