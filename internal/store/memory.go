package store

import (
	"fmt"
	"sync"

	"github.com/KilimcininKorOglu/cruise/internal/raft"
)

// MemoryStore is an in-memory store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*raft.Entry
	hard    raft.HardState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Commit appends committed entries. Entries at or below the last stored
// index are skipped.
func (s *MemoryStore) Commit(entries []*raft.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		last := s.lastIndex()
		if e.Index <= last {
			continue
		}
		if last != 0 && e.Index != last+1 {
			return fmt.Errorf("%w: commit of index %d after %d", raft.ErrLogCorrupted, e.Index, last)
		}
		s.entries = append(s.entries, cloneEntry(e))
	}
	return nil
}

// LastCommitted returns the index and term of the last stored entry.
func (s *MemoryStore) LastCommitted() (uint64, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return 0, 0, nil
	}
	last := s.entries[len(s.entries)-1]
	return last.Index, last.Term, nil
}

// LoadHardState returns the saved hard state.
func (s *MemoryStore) LoadHardState() (raft.HardState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hard, nil
}

// SaveHardState replaces the saved hard state.
func (s *MemoryStore) SaveHardState(hs raft.HardState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hard = hs
	return nil
}

// Entries returns a copy of every stored entry.
func (s *MemoryStore) Entries() []*raft.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*raft.Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = cloneEntry(e)
	}
	return out
}

// Replay calls fn for every stored entry in order.
func (s *MemoryStore) Replay(fn func(*raft.Entry) error) error {
	for _, e := range s.Entries() {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) lastIndex() uint64 {
	if len(s.entries) == 0 {
		return 0
	}
	return s.entries[len(s.entries)-1].Index
}

func cloneEntry(e *raft.Entry) *raft.Entry {
	c := *e
	if e.Value != nil {
		c.Value = append([]byte(nil), e.Value...)
	}
	return &c
}
