package report

import "sync/atomic"

// Store keeps the latest snapshot for readers outside the analyzer
// goroutine.
type Store struct {
	latest atomic.Pointer[Snapshot]
}

func NewStore() *Store { return &Store{} }

// Set replaces the latest snapshot.
func (s *Store) Set(snap *Snapshot) { s.latest.Store(snap) }

// Latest returns the most recent snapshot, nil before the first report.
func (s *Store) Latest() *Snapshot { return s.latest.Load() }
