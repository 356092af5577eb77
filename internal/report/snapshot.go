package report

import (
	"time"

	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/tracker"
)

// ConnectionSnapshot is the reported state of one connection at snapshot
// time. RTTs are microseconds, zero when nothing was measured.
type ConnectionSnapshot struct {
	ID        uint64    `json:"id"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	Addrs     [2]string `json:"addrs"`
	Session   string    `json:"session"`
	Created   time.Time `json:"created"`
	Manual    bool      `json:"manual,omitempty"`
	Packets1  uint64    `json:"packets1"`
	Packets2  uint64    `json:"packets2"`
	Bytes1    uint64    `json:"bytes1"`
	Bytes2    uint64    `json:"bytes2"`
	LeftRTT   uint32    `json:"left_rtt,omitempty"`
	RightRTT  uint32    `json:"right_rtt,omitempty"`
	AvgLeft   uint32    `json:"avg_left_rtt,omitempty"`
	AvgRight  uint32    `json:"avg_right_rtt,omitempty"`
	FullRTT1  uint32    `json:"full_rtt_initiator,omitempty"`
	FullRTT2  uint32    `json:"full_rtt_responder,omitempty"`
	CE1       uint64    `json:"ce1,omitempty"`
	CE2       uint64    `json:"ce2,omitempty"`
	Members   int       `json:"members,omitempty"`
	IdleMicro int64     `json:"idle_us"`
}

// Snapshot is the periodic report of the whole table.
type Snapshot struct {
	Time        time.Time            `json:"time"`
	Connections []ConnectionSnapshot `json:"connections"`
	Stats       map[string]uint64    `json:"stats,omitempty"`
}

// Find returns the connection with the given ID.
func (s *Snapshot) Find(id uint64) (ConnectionSnapshot, bool) {
	for _, c := range s.Connections {
		if c.ID == id {
			return c, true
		}
	}
	return ConnectionSnapshot{}, false
}

// CountByType tallies the snapshot's connections per type name.
func (s *Snapshot) CountByType() map[string]int {
	out := make(map[string]int)
	for _, c := range s.Connections {
		out[c.Type]++
	}
	return out
}

// TakeSnapshot walks the table as a periodic report. It must run on the
// goroutine that owns the table.
func TakeSnapshot(t *connection.Table, counters map[string]uint64, now time.Time) *Snapshot {
	s := &Snapshot{
		Time:        now,
		Connections: make([]ConnectionSnapshot, 0, t.Count()),
		Stats:       counters,
	}
	t.Report(func(c *connection.Connection) {
		s.Connections = append(s.Connections, snapshotOf(c, now))
	})
	return s
}

func snapshotOf(c *connection.Connection, now time.Time) ConnectionSnapshot {
	cs := ConnectionSnapshot{
		ID:        c.ID,
		Type:      c.Type().String(),
		State:     c.State.String(),
		Addrs:     Endpoints(c),
		Session:   c.SessionString(),
		Created:   c.CreationTime,
		Manual:    c.ManuallyCreated,
		Packets1:  c.Side1.Packets,
		Packets2:  c.Side2.Packets,
		Bytes1:    c.Side1.Bytes.Bytes,
		Bytes2:    c.Side2.Bytes.Bytes,
		LeftRTT:   measured(c.LeftRTT.Last),
		RightRTT:  measured(c.RightRTT.Last),
		AvgLeft:   measured(c.LeftRTT.MovingAvg),
		AvgRight:  measured(c.RightRTT.MovingAvg),
		FullRTT1:  measured(c.Side1.FullRTT.Last),
		FullRTT2:  measured(c.Side2.FullRTT.Last),
		CE1:       c.Side1.CE,
		CE2:       c.Side2.CE,
		IdleMicro: c.LastAction(now).Microseconds(),
	}
	if m := c.Members(); m != nil {
		cs.Members = m.Len()
	}
	return cs
}

func measured(v uint32) uint32 {
	if v == tracker.RTTInfinite {
		return 0
	}
	return v
}
