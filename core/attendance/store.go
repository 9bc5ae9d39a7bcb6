package attendance

import (
	"sync"
	"time"
)

// Entry is one recognized student within a session.
type Entry struct {
	StudentID int       `json:"student_id"`
	FullName  string    `json:"full_name"`
	At        time.Time `json:"at"`
}

// Store accumulates recognitions for one capture session, deduplicated by
// student ID. Entries keep first-recognized-first order and are never
// updated or removed until Clear. Safe for concurrent use: the capture
// loop writes while UI handlers read.
type Store struct {
	mu      sync.RWMutex
	seen    map[int]bool
	entries []Entry
}

func NewStore() *Store {
	return &Store{seen: make(map[int]bool)}
}

// Record inserts the recognition if its student is new to this session and
// reports whether it did. Recording the same student any number of times
// has the same effect as recording it once. NoMatch results never insert.
func (s *Store) Record(rec Recognition) bool {
	if rec.Outcome != Matched {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[rec.StudentID] {
		return false
	}
	s.seen[rec.StudentID] = true
	s.entries = append(s.entries, Entry{
		StudentID: rec.StudentID,
		FullName:  rec.FullName,
		At:        time.Now().UTC(),
	})
	return true
}

// List returns the entries in insertion order.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear resets the store for a new session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = make(map[int]bool)
	s.entries = nil
}
