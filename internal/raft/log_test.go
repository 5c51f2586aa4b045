package raft

import (
	"bytes"
	"errors"
	"testing"
)

func TestEntrySerialization(t *testing.T) {
	entry := &Entry{
		Index: 10,
		Term:  5,
		Type:  EntryCommand,
		Value: []byte("test value"),
	}

	restored, err := DeserializeEntry(entry.Serialize())
	if err != nil {
		t.Fatalf("DeserializeEntry failed: %v", err)
	}

	if restored.Index != entry.Index {
		t.Errorf("Index mismatch: got %d, want %d", restored.Index, entry.Index)
	}
	if restored.Term != entry.Term {
		t.Errorf("Term mismatch: got %d, want %d", restored.Term, entry.Term)
	}
	if restored.Type != entry.Type {
		t.Errorf("Type mismatch: got %s, want %s", restored.Type, entry.Type)
	}
	if !bytes.Equal(restored.Value, entry.Value) {
		t.Errorf("Value mismatch: got %q, want %q", restored.Value, entry.Value)
	}
}

func TestDeserializeEntryCorrupted(t *testing.T) {
	if _, err := DeserializeEntry([]byte{1, 2, 3}); !errors.Is(err, ErrLogCorrupted) {
		t.Errorf("Expected ErrLogCorrupted, got %v", err)
	}

	data := make([]byte, entryHeaderSize)
	data[17] = 0xFF // Value length far beyond the buffer
	data[18] = 0xFF
	if _, err := DeserializeEntry(data); !errors.Is(err, ErrLogCorrupted) {
		t.Errorf("Expected ErrLogCorrupted, got %v", err)
	}
}

// buildLog returns a log holding one entry per term in terms, starting at index 1.
func buildLog(terms ...uint64) *Log {
	l := NewLog()
	for _, term := range terms {
		l.Append(l.NewEntry(term, []byte{byte(term)}))
	}
	return l
}

type recordingStore struct {
	batches [][]*Entry
	err     error
}

func (s *recordingStore) Commit(entries []*Entry) error {
	s.batches = append(s.batches, entries)
	return s.err
}

func TestLogEmpty(t *testing.T) {
	l := NewLog()

	if l.LastIndex() != 0 || l.LastTerm() != 0 {
		t.Errorf("Empty log last: got (%d, %d), want (0, 0)", l.LastIndex(), l.LastTerm())
	}
	if _, ok := l.Get(0); ok {
		t.Error("Get(0) should be absent")
	}
	if term, ok := l.Term(0); !ok || term != 0 {
		t.Errorf("Term(0): got (%d, %v), want (0, true)", term, ok)
	}
	if got := l.EntriesInRange(1, 10); len(got) != 0 {
		t.Errorf("EntriesInRange on empty log: got %d entries", len(got))
	}
	if last := l.Last(); last.Index != 0 || last.Term != 0 {
		t.Errorf("Last on empty log: got (%d, %d)", last.Index, last.Term)
	}
}

func TestLogNewEntryAndAppend(t *testing.T) {
	l := NewLog()

	for i := uint64(1); i <= 3; i++ {
		entry := l.NewEntry(1, []byte("v"))
		if entry.Index != i {
			t.Fatalf("NewEntry index: got %d, want %d", entry.Index, i)
		}
		if !l.Append(entry) {
			t.Fatalf("Append %d failed", i)
		}
	}

	if l.LastIndex() != 3 {
		t.Errorf("LastIndex: got %d, want 3", l.LastIndex())
	}
	if l.Size() != 3 {
		t.Errorf("Size: got %d, want 3", l.Size())
	}
	entry, ok := l.Get(2)
	if !ok || entry.Index != 2 {
		t.Errorf("Get(2): got %v, %v", entry, ok)
	}
}

func TestLogAppendGap(t *testing.T) {
	l := buildLog(1, 1)

	if l.Append(&Entry{Index: 5, Term: 1}) {
		t.Error("Append with a gap should fail")
	}
	if l.LastIndex() != 2 {
		t.Errorf("LastIndex after refused append: got %d, want 2", l.LastIndex())
	}
}

func TestLogAppendIdempotent(t *testing.T) {
	l := buildLog(1, 1, 1)
	entry, _ := l.Get(2)

	if !l.Append(&Entry{Index: 2, Term: entry.Term, Value: []byte("other")}) {
		t.Fatal("Append of an existing entry should succeed")
	}
	if l.LastIndex() != 3 {
		t.Errorf("Identical append must not truncate: LastIndex %d, want 3", l.LastIndex())
	}
}

func TestLogAppendConflictTruncates(t *testing.T) {
	// Follower has index 5 from term 1; the leader sends index 5 from term 2.
	l := buildLog(1, 1, 1, 1, 1, 1)

	if !l.Append(&Entry{Index: 5, Term: 2, Value: []byte("leader")}) {
		t.Fatal("Append failed")
	}

	if l.LastIndex() != 5 {
		t.Errorf("LastIndex: got %d, want 5", l.LastIndex())
	}
	entry, ok := l.Get(5)
	if !ok || entry.Term != 2 || string(entry.Value) != "leader" {
		t.Errorf("Entry 5: got %+v, want term 2 from leader", entry)
	}
	if _, ok := l.Get(6); ok {
		t.Error("Entry 6 should have been truncated")
	}
}

func TestLogAppendNeverTouchesCommitted(t *testing.T) {
	l := buildLog(1, 1, 1)
	l.Commit(2)

	l.Append(&Entry{Index: 2, Term: 9})

	entry, _ := l.Get(2)
	if entry.Term != 1 {
		t.Errorf("Committed entry changed: term %d, want 1", entry.Term)
	}
	if l.LastIndex() != 3 {
		t.Errorf("LastIndex: got %d, want 3", l.LastIndex())
	}
}

func TestLogEntriesInRange(t *testing.T) {
	l := buildLog(1, 1, 2, 2, 3)

	tests := []struct {
		name     string
		from, to uint64
		want     []uint64
	}{
		{"middle", 2, 4, []uint64{2, 3}},
		{"to end", 4, 100, []uint64{4, 5}},
		{"from zero", 0, 2, []uint64{1}},
		{"past end", 6, 10, nil},
		{"empty range", 3, 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.EntriesInRange(tt.from, tt.to)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i, e := range got {
				if e.Index != tt.want[i] {
					t.Errorf("entry %d: got index %d, want %d", i, e.Index, tt.want[i])
				}
			}
		})
	}
}

func TestLogCommitDeliversInOrder(t *testing.T) {
	l := buildLog(1, 1, 2, 2)
	l.Append(&Entry{Index: 5, Term: 2, Type: EntryNoop})
	store := &recordingStore{}
	l.SetStore(store)

	var applied []uint64
	l.SetApplier(func(e *Entry) {
		applied = append(applied, e.Index)
	})

	l.Commit(2)
	l.Commit(1) // below commit index
	l.Commit(5)
	l.Commit(5) // already committed

	want := []uint64{1, 2, 3, 4}
	if len(applied) != len(want) {
		t.Fatalf("applied %v, want %v", applied, want)
	}
	for i := range want {
		if applied[i] != want[i] {
			t.Errorf("applied[%d]: got %d, want %d", i, applied[i], want[i])
		}
	}

	if len(store.batches) != 2 {
		t.Fatalf("store batches: got %d, want 2", len(store.batches))
	}
	if len(store.batches[1]) != 3 || store.batches[1][2].Type != EntryNoop {
		t.Errorf("second batch should hold entries 3..5 including the noop")
	}
	if l.CommitIndex() != 5 {
		t.Errorf("CommitIndex: got %d, want 5", l.CommitIndex())
	}
}

func TestLogCommitClampsToLastIndex(t *testing.T) {
	l := buildLog(1, 1)

	l.Commit(10)

	if l.CommitIndex() != 2 {
		t.Errorf("CommitIndex: got %d, want 2", l.CommitIndex())
	}
}

func TestLogCommitStoreErrorStillCommits(t *testing.T) {
	l := buildLog(1)
	l.SetStore(&recordingStore{err: errors.New("disk full")})

	l.Commit(1)

	if l.CommitIndex() != 1 {
		t.Errorf("CommitIndex: got %d, want 1", l.CommitIndex())
	}
}

func TestLogPrune(t *testing.T) {
	l := buildLog(1, 1, 2, 2, 3)
	l.Commit(4)

	l.Prune(5) // uncommitted, refused
	if l.StartIndex() != 0 {
		t.Fatalf("Prune above commit index changed base to %d", l.StartIndex())
	}

	l.Prune(3)

	if l.StartIndex() != 3 {
		t.Errorf("StartIndex: got %d, want 3", l.StartIndex())
	}
	if term, ok := l.Term(3); !ok || term != 2 {
		t.Errorf("Term(3) after prune: got (%d, %v), want (2, true)", term, ok)
	}
	if _, ok := l.Get(3); ok {
		t.Error("Get(3) should be absent after prune")
	}
	if l.Size() != 2 || l.LastIndex() != 5 {
		t.Errorf("after prune: size %d last %d, want 2 and 5", l.Size(), l.LastIndex())
	}

	next := l.NewEntry(3, nil)
	if next.Index != 6 {
		t.Errorf("NewEntry after prune: got index %d, want 6", next.Index)
	}
	if got := l.EntriesInRange(1, 10); len(got) != 2 || got[0].Index != 4 {
		t.Errorf("EntriesInRange after prune: got %d entries", len(got))
	}
}

func TestLogPruneEverything(t *testing.T) {
	l := buildLog(1, 2)
	l.Commit(2)
	l.Prune(2)

	if l.Size() != 0 {
		t.Errorf("Size: got %d, want 0", l.Size())
	}
	if l.LastIndex() != 2 || l.LastTerm() != 2 {
		t.Errorf("Last: got (%d, %d), want (2, 2)", l.LastIndex(), l.LastTerm())
	}
	if !l.Append(&Entry{Index: 3, Term: 2}) {
		t.Error("Append after full prune failed")
	}
}

func TestLogReset(t *testing.T) {
	l := buildLog(1, 1)
	l.Reset(40, 7)

	if l.StartIndex() != 40 || l.CommitIndex() != 40 {
		t.Errorf("Reset: start %d commit %d, want 40 and 40", l.StartIndex(), l.CommitIndex())
	}
	if !l.Contains(40, 7) {
		t.Error("base should be contained after Reset")
	}
	if l.NewEntry(7, nil).Index != 41 {
		t.Error("NewEntry after Reset should continue from the base")
	}
}
