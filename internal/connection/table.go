package connection

import (
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/flowscope/internal/core"
)

// DefaultInitialSize is the starting slot capacity of a Table.
const DefaultInitialSize = 1000

// Options configures a Table.
type Options struct {
	InitialSize int
	// MaxConnections caps the number of live records; 0 means unbounded.
	MaxConnections int
	Timeouts       Timeouts
	Logger         *slog.Logger
}

// DeleteFunc is invoked for every record the sweep removes, before the
// record is unlinked.
type DeleteFunc func(c *Connection, reason string)

// Table owns every Connection. Slots left empty by deletion are reused
// before the table grows and are squeezed out by the periodic check.
type Table struct {
	slots    []*Connection
	capacity int
	byID     map[uint64]*Connection
	live     int
	nextID   uint64

	maxConnections int
	timeouts       Timeouts
	logger         *slog.Logger
	onDelete       DeleteFunc

	lastPeriodicCheck int64

	// PerformingPeriodicReport is set while a report walks the table; the
	// sweep does not run during that time.
	PerformingPeriodicReport bool
}

func NewTable(opts Options) *Table {
	if opts.InitialSize <= 0 {
		opts.InitialSize = DefaultInitialSize
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Table{
		slots:             make([]*Connection, 0, opts.InitialSize),
		capacity:          opts.InitialSize,
		byID:              make(map[uint64]*Connection),
		maxConnections:    opts.MaxConnections,
		timeouts:          opts.Timeouts,
		logger:            opts.Logger.With("component", "connection_table"),
		lastPeriodicCheck: -1,
	}
}

// OnDelete registers the callback fired by the sweep.
func (t *Table) OnDelete(fn DeleteFunc) { t.onDelete = fn }

// Len is the used boundary of the slot array, holes included.
func (t *Table) Len() int { return len(t.slots) }

// Capacity is the current size of the backing array.
func (t *Table) Capacity() int { return t.capacity }

// Count is the number of live records.
func (t *Table) Count() int { return t.live }

// At returns the record in slot i, nil for a hole.
func (t *Table) At(i int) *Connection { return t.slots[i] }

// Get looks a record up by ID.
func (t *Table) Get(id uint64) (*Connection, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// Range calls fn for every live record in slot order until fn returns false.
func (t *Table) Range(fn func(c *Connection) bool) {
	for _, c := range t.slots {
		if c != nil && !fn(c) {
			return
		}
	}
}

// Report runs fn over every record with PerformingPeriodicReport set.
func (t *Table) Report(fn func(c *Connection)) {
	t.PerformingPeriodicReport = true
	defer func() { t.PerformingPeriodicReport = false }()
	for _, c := range t.slots {
		if c != nil {
			fn(c)
		}
	}
}

// insert allocates an ID and stores a new record in the first free slot.
func (t *Table) insert(typ Type, now time.Time, manual bool, p Payload) (*Connection, error) {
	if t.maxConnections > 0 && t.live >= t.maxConnections {
		return nil, fmt.Errorf("%w: %d connections", core.ErrTableFull, t.live)
	}
	c := newConnection(t.nextID, typ, now, manual, p)
	t.nextID++

	placed := false
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = c
			placed = true
			break
		}
	}
	if !placed {
		if len(t.slots) == t.capacity {
			t.capacity *= 2
			grown := make([]*Connection, len(t.slots), t.capacity)
			copy(grown, t.slots)
			t.slots = grown
			t.logger.Debug("connection table grown", "capacity", t.capacity)
		}
		t.slots = append(t.slots, c)
	}
	t.byID[c.ID] = c
	t.live++
	return c, nil
}

// linkAggregates connects a new flow with every aggregate whose pattern
// covers its addresses, and a new aggregate with every matching flow.
func (t *Table) linkAggregates(c *Connection) {
	for _, other := range t.slots {
		if other == nil || other == c {
			continue
		}
		switch {
		case c.typ.IsAggregate() && !other.typ.IsAggregate():
			if matchesAggregateConnection(other, c) {
				link(other, c)
			}
		case !c.typ.IsAggregate() && other.typ.IsAggregate():
			if matchesAggregateConnection(c, other) {
				link(c, other)
			}
		}
	}
}

func link(member, agg *Connection) {
	member.Aggregates.Add(agg.ID)
	agg.Members().Add(member.ID)
}

// AggregatesOf resolves the aggregate IDs of c to records.
func (t *Table) AggregatesOf(c *Connection) []*Connection {
	out := make([]*Connection, 0, c.Aggregates.Len())
	for _, id := range c.Aggregates.ids {
		if agg, ok := t.byID[id]; ok {
			out = append(out, agg)
		}
	}
	return out
}

// MatchingAggregates returns the aggregates that cover a src/dst pair. It
// serves packets that did not produce a connection.
func (t *Table) MatchingAggregates(src, dst core.Address) []*Connection {
	var out []*Connection
	for _, c := range t.slots {
		if c != nil && c.typ.IsAggregate() && MatchesAggregate(c, src, dst) {
			out = append(out, c)
		}
	}
	return out
}

// IsClosed reports whether c is closed. An aggregate is closed when all of
// its members are.
func (t *Table) IsClosed(c *Connection) bool {
	if m := c.Members(); m != nil {
		return t.allMembers(m, t.IsClosed)
	}
	return c.State == StateClosed
}

// IsEstablishing reports whether c is still establishing. An aggregate is
// establishing when all of its members are.
func (t *Table) IsEstablishing(c *Connection) bool {
	if m := c.Members(); m != nil {
		return t.allMembers(m, t.IsEstablishing)
	}
	return c.State == StateEstablishing
}

func (t *Table) allMembers(m *IDSet, pred func(*Connection) bool) bool {
	for _, id := range m.ids {
		if member, ok := t.byID[id]; ok && !pred(member) {
			return false
		}
	}
	return true
}

// SweepResult counts what one periodic check removed.
type SweepResult struct {
	Ran             bool
	DeletedClosed   int
	DeletedInactive int
}

// PeriodicCheck sweeps timed out connections and compacts the table. It
// runs at most once per distinct second of now, and not at all while a
// periodic report is in progress.
func (t *Table) PeriodicCheck(now time.Time) SweepResult {
	var res SweepResult
	sec := now.Unix()
	if sec == t.lastPeriodicCheck || t.PerformingPeriodicReport {
		return res
	}
	t.lastPeriodicCheck = sec
	res.Ran = true

	for i, c := range t.slots {
		if c == nil || c.ManuallyCreated {
			continue
		}
		age := c.LastAction(now)
		switch {
		case c.Deleted || t.IsClosed(c):
			if age >= t.timeouts.Closed {
				t.remove(i, "cleanup of closed connection")
				res.DeletedClosed++
			}
		case t.IsEstablishing(c):
			if age >= t.timeouts.Establishing {
				t.remove(i, "cleanup of establishing connection")
				res.DeletedInactive++
			}
		default:
			if age >= t.timeouts.Inactive {
				t.remove(i, "removing an inactive connection")
				res.DeletedInactive++
			}
		}
	}
	t.compact()
	return res
}

// remove deletes the record in slot i and unlinks it from its aggregates or
// members.
func (t *Table) remove(i int, reason string) {
	c := t.slots[i]
	t.logger.Debug("deleting connection", "id", c.ID, "type", c.typ.String(), "reason", reason)
	if t.onDelete != nil {
		t.onDelete(c, reason)
	}
	t.slots[i] = nil
	delete(t.byID, c.ID)
	t.live--

	for _, id := range c.Aggregates.ids {
		if agg, ok := t.byID[id]; ok {
			agg.Members().Remove(c.ID)
		}
	}
	if m := c.Members(); m != nil {
		for _, id := range m.ids {
			if member, ok := t.byID[id]; ok {
				member.Aggregates.Remove(c.ID)
			}
		}
	}
	releaseTrackers(c.Payload)
	*c = Connection{ID: c.ID, typ: c.typ, Deleted: true, Payload: c.Payload}
}

// releaseTrackers drops the per-type trackers of a deleted record. The
// payload stays so that readers holding the record can still type-assert
// it and read its addresses, ports and IDs.
func releaseTrackers(p Payload) {
	switch p := p.(type) {
	case *TCP:
		p.Side1Seqs, p.Side2Seqs = nil, nil
	case *DNS:
		p.Side1MIDs, p.Side2MIDs = nil, nil
	case *CoAP:
		p.Side1MIDs, p.Side2MIDs = nil, nil
	case *SCTP:
		p.Side1TSNs, p.Side2TSNs = nil, nil
	case *QUIC:
		p.FromPeer1, p.FromPeer2 = QUICDirection{}, QUICDirection{}
	case *ICMP:
		p.Side1Echoes = nil
	}
}

// compact shifts live records down over holes so that no nil slot remains
// below Len.
func (t *Table) compact() {
	shift := 0
	for i, c := range t.slots {
		if c == nil {
			shift++
		} else if shift > 0 {
			t.slots[i-shift] = c
			t.slots[i] = nil
		}
	}
	if shift > 0 {
		clear(t.slots[len(t.slots)-shift:])
		t.slots = t.slots[:len(t.slots)-shift]
		t.logger.Debug("connection table compacted", "freed", shift)
	}
}
