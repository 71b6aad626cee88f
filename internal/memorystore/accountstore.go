package memorystore

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"acctmonitor/internal/account"
)

// Entry is everything known about one monitored account. Snapshot and
// Positions always come from the same poll.
type Entry struct {
	Snapshot  account.Snapshot   `json:"account"`
	Positions []account.Position `json:"positions"`

	Trades        []account.Trade `json:"-"`
	TradesUpdated *time.Time      `json:"-"`

	// LastError is set while the most recent fetch failed. The snapshot keeps
	// the last good values.
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"-"`

	polled bool
}

// Polled reports whether at least one fetch for the account succeeded.
func (e Entry) Polled() bool { return e.polled }

func (e *Entry) clone() Entry {
	out := *e
	out.Positions = slices.Clone(e.Positions)
	out.Trades = slices.Clone(e.Trades)
	return out
}

// Member is a monitored account together with the generation it was added
// in. A write carrying a stale generation is dropped, so a fetch started
// before Untrack cannot resurrect the account even if it is re-added.
type Member struct {
	ID  account.ID
	Gen uint64
}

type slot struct {
	gen   uint64
	entry *Entry
}

// Store is the AccountState store. It owns the monitored set and the latest
// data per account. Stored entries are replaced, never modified in place.
type Store struct {
	mu      sync.RWMutex
	slots   map[account.ID]*slot
	nextGen uint64
	limit   int
}

// NewStore creates a store holding at most limit accounts; limit <= 0 means
// unbounded.
func NewStore(limit int) *Store {
	return &Store{
		slots: make(map[account.ID]*slot),
		limit: limit,
	}
}

// Track adds id to the monitored set. It reports false if id was already
// monitored.
func (s *Store) Track(id account.ID) (bool, error) {
	if !id.Valid() {
		return false, &account.ValidationError{Field: "login_id", Reason: "must be a positive integer"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slots[id]; ok {
		return false, nil
	}
	if s.limit > 0 && len(s.slots) >= s.limit {
		return false, account.ErrAccountLimit
	}
	s.nextGen++
	s.slots[id] = &slot{gen: s.nextGen, entry: &Entry{}}
	return true, nil
}

// Untrack removes id and all of its data. Unknown ids are ignored.
func (s *Store) Untrack(id account.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slots[id]; !ok {
		return false
	}
	delete(s.slots, id)
	return true
}

// IsTracked reports whether id is in the monitored set.
func (s *Store) IsTracked(id account.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.slots[id]
	return ok
}

// Len returns the size of the monitored set.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Members returns the monitored set ordered by id.
func (s *Store) Members() []Member {
	s.mu.RLock()
	out := make([]Member, 0, len(s.slots))
	for id, sl := range s.slots {
		out = append(out, Member{ID: id, Gen: sl.gen})
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Member) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Upsert replaces the snapshot and position list of m as one unit and clears
// any recorded failure. It returns false, writing nothing, when m is no
// longer monitored under the same generation.
func (s *Store) Upsert(m Member, snap account.Snapshot, positions []account.Position) bool {
	positions = slices.Clone(positions)
	return s.swap(m, func(e *Entry) {
		e.Snapshot = snap
		e.Positions = positions
		e.LastError = ""
		e.LastErrorAt = time.Time{}
		e.polled = true
	})
}

// SetTrades stores a refreshed trade history for m.
func (s *Store) SetTrades(m Member, trades []account.Trade, at time.Time) bool {
	trades = slices.Clone(trades)
	return s.swap(m, func(e *Entry) {
		e.Trades = trades
		e.TradesUpdated = &at
	})
}

// MarkFailed records a fetch failure for m, keeping its last good data.
func (s *Store) MarkFailed(m Member, err error, at time.Time) bool {
	return s.swap(m, func(e *Entry) {
		e.LastError = err.Error()
		e.LastErrorAt = at
	})
}

func (s *Store) swap(m Member, mutate func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[m.ID]
	if !ok || sl.gen != m.Gen {
		return false
	}
	next := sl.entry.clone()
	mutate(&next)
	sl.entry = &next
	return true
}

// Member returns the current membership of id.
func (s *Store) Member(id account.ID) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slots[id]
	if !ok {
		return Member{}, false
	}
	return Member{ID: id, Gen: sl.gen}, true
}

// Get returns the data of id. It reports false when id is not monitored or
// has never been polled successfully.
func (s *Store) Get(id account.ID) (Entry, bool) {
	s.mu.RLock()
	sl, ok := s.slots[id]
	var e *Entry
	if ok {
		e = sl.entry
	}
	s.mu.RUnlock()

	if e == nil || !e.polled {
		return Entry{}, false
	}
	return e.clone(), true
}

// ListAll returns every polled account as of a single instant.
func (s *Store) ListAll() map[account.ID]Entry {
	s.mu.RLock()
	refs := make(map[account.ID]*Entry, len(s.slots))
	for id, sl := range s.slots {
		if sl.entry.polled {
			refs[id] = sl.entry
		}
	}
	s.mu.RUnlock()

	// Entries are immutable, so copying outside the lock is still a
	// consistent view.
	out := make(map[account.ID]Entry, len(refs))
	for id, e := range refs {
		out[id] = e.clone()
	}
	return out
}

// FailedCount returns how many monitored accounts are currently failing.
func (s *Store) FailedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sl := range s.slots {
		if sl.entry.LastError != "" {
			n++
		}
	}
	return n
}
