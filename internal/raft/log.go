package raft

import (
	"encoding/binary"
)

// EntryType distinguishes client commands from internal entries.
type EntryType uint8

// Log entry types.
const (
	EntryCommand EntryType = iota // Client value, delivered to the state machine
	EntryNoop                     // Appended by a new leader to commit its term
)

// String returns the name of the entry type.
func (t EntryType) String() string {
	switch t {
	case EntryCommand:
		return "command"
	case EntryNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// Entry represents a single entry in the replicated log.
type Entry struct {
	Index uint64    // Log index (1-based)
	Term  uint64    // Term when entry was created
	Type  EntryType // EntryCommand or EntryNoop
	Value []byte    // Opaque client value
}

// entryHeaderSize is the fixed part of an encoded entry.
const entryHeaderSize = 8 + 8 + 1 + 4

// Serialize encodes the entry to bytes.
// Format: [Index:8][Term:8][Type:1][ValueLen:4][Value:N]
func (e *Entry) Serialize() []byte {
	buf := make([]byte, entryHeaderSize+len(e.Value))

	binary.LittleEndian.PutUint64(buf[0:8], e.Index)
	binary.LittleEndian.PutUint64(buf[8:16], e.Term)
	buf[16] = byte(e.Type)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(e.Value)))
	copy(buf[21:], e.Value)

	return buf
}

// DeserializeEntry decodes an entry from bytes.
func DeserializeEntry(data []byte) (*Entry, error) {
	if len(data) < entryHeaderSize {
		return nil, ErrLogCorrupted
	}

	valueLen := binary.LittleEndian.Uint32(data[17:21])
	if uint64(len(data)) < entryHeaderSize+uint64(valueLen) {
		return nil, ErrLogCorrupted
	}

	var value []byte
	if valueLen > 0 {
		value = make([]byte, valueLen)
		copy(value, data[21:21+valueLen])
	}

	return &Entry{
		Index: binary.LittleEndian.Uint64(data[0:8]),
		Term:  binary.LittleEndian.Uint64(data[8:16]),
		Type:  EntryType(data[16]),
		Value: value,
	}, nil
}

// Store persists committed entries. It receives every newly committed,
// contiguous range exactly once, in log order.
type Store interface {
	Commit(entries []*Entry) error
}

// Log is the ordered sequence of entries held by a node.
//
// Entries occupy the indices (startIndex, startIndex+len(entries)]. The base
// (startIndex, startTerm) describes the last entry removed by Prune. Log is not
// safe for concurrent use; the owning node serializes access.
type Log struct {
	entries     []*Entry
	startIndex  uint64
	startTerm   uint64
	commitIndex uint64

	store  Store
	apply  func(*Entry)
	logger Logger
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{logger: &defaultLogger{}}
}

// SetStore sets the durable store that receives committed entries.
func (l *Log) SetStore(store Store) {
	l.store = store
}

// SetApplier sets the state machine callback for committed command entries.
func (l *Log) SetApplier(fn func(*Entry)) {
	l.apply = fn
}

// SetLogger sets the logger used to report invariant violations.
func (l *Log) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Reset discards all entries and sets the base to index and term. The commit
// index moves to the base. Used to resume from a durable store.
func (l *Log) Reset(index, term uint64) {
	l.entries = nil
	l.startIndex = index
	l.startTerm = term
	l.commitIndex = index
}

// StartIndex returns the index of the last pruned entry.
func (l *Log) StartIndex() uint64 {
	return l.startIndex
}

// CommitIndex returns the highest committed index.
func (l *Log) CommitIndex() uint64 {
	return l.commitIndex
}

// Size returns the number of entries held in memory.
func (l *Log) Size() int {
	return len(l.entries)
}

// LastIndex returns the index of the last entry, or the base when empty.
func (l *Log) LastIndex() uint64 {
	return l.startIndex + uint64(len(l.entries))
}

// LastTerm returns the term of the last entry, or the base term when empty.
func (l *Log) LastTerm() uint64 {
	if len(l.entries) == 0 {
		return l.startTerm
	}
	return l.entries[len(l.entries)-1].Term
}

// Last returns the last entry. An empty log returns a synthetic entry
// describing the base.
func (l *Log) Last() *Entry {
	if len(l.entries) == 0 {
		return &Entry{Index: l.startIndex, Term: l.startTerm, Type: EntryNoop}
	}
	return l.entries[len(l.entries)-1]
}

// Get returns the entry at the given index.
func (l *Log) Get(index uint64) (*Entry, bool) {
	if index <= l.startIndex || index > l.LastIndex() {
		return nil, false
	}
	return l.entries[index-l.startIndex-1], true
}

// Term returns the term of the entry at index. The base index is answered
// from the base term.
func (l *Log) Term(index uint64) (uint64, bool) {
	if index == l.startIndex {
		return l.startTerm, true
	}
	entry, ok := l.Get(index)
	if !ok {
		return 0, false
	}
	return entry.Term, true
}

// Contains reports whether the log holds an entry with this index and term.
func (l *Log) Contains(index, term uint64) bool {
	t, ok := l.Term(index)
	return ok && t == term
}

// EntriesInRange returns the entries in [from, to), clamped to what the log holds.
func (l *Log) EntriesInRange(from, to uint64) []*Entry {
	if from <= l.startIndex {
		from = l.startIndex + 1
	}
	if last := l.LastIndex(); to > last+1 {
		to = last + 1
	}
	if from >= to {
		return nil
	}

	out := make([]*Entry, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, l.entries[i-l.startIndex-1])
	}
	return out
}

// NewEntry allocates the next command entry for term.
func (l *Log) NewEntry(term uint64, value []byte) *Entry {
	return &Entry{
		Index: l.LastIndex() + 1,
		Term:  term,
		Type:  EntryCommand,
		Value: value,
	}
}

// Append writes entry to the log. An existing entry at the same index with a
// different term is discarded together with every later entry. Entries at or
// below the commit index are never modified. Append returns false only when
// the entry would leave a gap.
func (l *Log) Append(entry *Entry) bool {
	if entry.Index <= l.commitIndex || entry.Index <= l.startIndex {
		return true
	}

	if existing, ok := l.Get(entry.Index); ok {
		if existing.Term == entry.Term {
			return true
		}
		l.logger.Debug("truncating conflicting entries",
			"index", entry.Index, "existingTerm", existing.Term, "term", entry.Term)
		l.truncateFrom(entry.Index)
	}

	if entry.Index != l.LastIndex()+1 {
		l.logger.Error("refusing non-contiguous append",
			"index", entry.Index, "lastIndex", l.LastIndex())
		return false
	}

	l.entries = append(l.entries, entry)
	return true
}

// truncateFrom removes the entry at index and every later entry.
func (l *Log) truncateFrom(index uint64) {
	if index <= l.startIndex {
		l.entries = l.entries[:0]
		return
	}
	if pos := index - l.startIndex - 1; pos < uint64(len(l.entries)) {
		l.entries = l.entries[:pos]
	}
}

// Commit marks every entry up to index as committed. Newly committed entries
// go to the store as one contiguous range, then command values are delivered
// to the applier in log order. Indices at or below the current commit index
// are ignored.
func (l *Log) Commit(index uint64) {
	if index <= l.commitIndex {
		return
	}
	if last := l.LastIndex(); index > last {
		l.logger.Warn("commit beyond last index clamped", "index", index, "lastIndex", last)
		index = last
		if index <= l.commitIndex {
			return
		}
	}

	committed := l.EntriesInRange(l.commitIndex+1, index+1)
	if l.store != nil && len(committed) > 0 {
		if err := l.store.Commit(committed); err != nil {
			l.logger.Error("store commit failed", "from", committed[0].Index, "to", index, "error", err)
		}
	}

	l.commitIndex = index

	if l.apply == nil {
		return
	}
	for _, entry := range committed {
		if entry.Type == EntryCommand {
			l.apply(entry)
		}
	}
}

// Prune drops every entry at or before index, keeping later ones. Only
// committed entries can be pruned.
func (l *Log) Prune(index uint64) {
	if index <= l.startIndex {
		return
	}
	if index > l.commitIndex {
		l.logger.Error("refusing to prune uncommitted entries", "index", index, "commitIndex", l.commitIndex)
		return
	}

	pos := index - l.startIndex
	last := l.entries[pos-1]
	remaining := make([]*Entry, len(l.entries)-int(pos))
	copy(remaining, l.entries[pos:])

	l.entries = remaining
	l.startIndex = last.Index
	l.startTerm = last.Term
}
