package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/KilimcininKorOglu/cruise/internal/raft"
)

// File names inside the data directory.
const (
	LogFileName       = "log.dat"
	HardStateFileName = "term.dat"
)

// recordHeaderSize is the [length:4][crc:4] prefix of every log record.
const recordHeaderSize = 8

// maxRecordSize bounds a single record so a corrupt length cannot force a
// huge allocation during recovery.
const maxRecordSize = 64 * 1024 * 1024

// logFile is the subset of *os.File the store writes through.
type logFile interface {
	io.ReaderAt
	io.Writer
	io.Seeker
	Truncate(size int64) error
	Sync() error
	Stat() (os.FileInfo, error)
	Close() error
}

// Store errors.
var (
	ErrStoreClosed = errors.New("store: closed")
)

// FileStore persists committed entries and hard state under a directory.
//
// log.dat is append-only. Each record is [length:4][crc32:4][entry], where
// entry is raft.Entry's binary encoding. A torn or corrupt tail left by a
// crash is truncated on open.
//
// term.dat holds [term:8][votedForLen:2][votedFor] and is replaced atomically
// through a temporary file and rename.
type FileStore struct {
	mu        sync.Mutex
	dir       string
	file      logFile
	size      int64 // end of the last valid record
	lastIndex uint64
	lastTerm  uint64
	closed    bool
}

// OpenFileStore opens or creates a file store in dir.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	s := &FileStore{dir: dir, file: file}
	if err := s.recover(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// recover scans log.dat, remembers the last entry and truncates anything
// after the last valid record.
func (s *FileStore) recover() error {
	var offset int64
	err := s.scan(func(e *raft.Entry, next int64) error {
		s.lastIndex = e.Index
		s.lastTerm = e.Term
		offset = next
		return nil
	})
	if err != nil {
		return err
	}

	s.size = offset
	return s.rewind()
}

// rewind drops anything written past the last valid record.
func (s *FileStore) rewind() error {
	if err := s.file.Truncate(s.size); err != nil {
		return err
	}
	_, err := s.file.Seek(s.size, io.SeekStart)
	return err
}

// scan reads records from the start of the log until the end or the first
// invalid record. fn receives each entry and the offset just past it.
func (s *FileStore) scan(fn func(e *raft.Entry, next int64) error) error {
	info, err := s.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	var offset int64
	header := make([]byte, recordHeaderSize)
	for offset+recordHeaderSize <= size {
		if _, err := s.file.ReadAt(header, offset); err != nil {
			return err
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		sum := binary.LittleEndian.Uint32(header[4:8])
		if length == 0 || length > maxRecordSize || offset+recordHeaderSize+int64(length) > size {
			break
		}

		data := make([]byte, length)
		if _, err := s.file.ReadAt(data, offset+recordHeaderSize); err != nil {
			return err
		}
		if crc32.ChecksumIEEE(data) != sum {
			break
		}
		entry, err := raft.DeserializeEntry(data)
		if err != nil {
			break
		}

		offset += recordHeaderSize + int64(length)
		if err := fn(entry, offset); err != nil {
			return err
		}
	}
	return nil
}

// Commit appends committed entries and syncs the file. Entries at or below
// the last stored index are skipped. A batch that fails to write or sync is
// removed from the file again.
func (s *FileStore) Commit(entries []*raft.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var buf []byte
	lastIndex, lastTerm := s.lastIndex, s.lastTerm
	for _, e := range entries {
		if e.Index <= lastIndex {
			continue
		}
		if lastIndex != 0 && e.Index != lastIndex+1 {
			return fmt.Errorf("%w: commit of index %d after %d", raft.ErrLogCorrupted, e.Index, lastIndex)
		}

		data := e.Serialize()
		var header [recordHeaderSize]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(data)))
		binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(data))
		buf = append(buf, header[:]...)
		buf = append(buf, data...)

		lastIndex, lastTerm = e.Index, e.Term
	}
	if len(buf) == 0 {
		return nil
	}

	if _, err := s.file.Write(buf); err != nil {
		return s.abort(err)
	}
	if err := s.file.Sync(); err != nil {
		return s.abort(err)
	}

	s.size += int64(len(buf))
	s.lastIndex, s.lastTerm = lastIndex, lastTerm
	return nil
}

// abort rewinds the file after a failed batch and returns err.
func (s *FileStore) abort(err error) error {
	if rerr := s.rewind(); rerr != nil {
		return fmt.Errorf("%w (rewind failed: %v)", err, rerr)
	}
	return err
}

// LastCommitted returns the index and term of the last stored entry.
func (s *FileStore) LastCommitted() (uint64, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndex, s.lastTerm, nil
}

// Replay calls fn for every stored entry in order.
func (s *FileStore) Replay(fn func(*raft.Entry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.scan(func(e *raft.Entry, _ int64) error {
		return fn(e)
	})
}

// LoadHardState reads term.dat. A missing file yields the zero state.
func (s *FileStore) LoadHardState() (raft.HardState, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, HardStateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return raft.HardState{}, nil
		}
		return raft.HardState{}, err
	}
	return decodeHardState(data)
}

// SaveHardState replaces term.dat.
func (s *FileStore) SaveHardState(hs raft.HardState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return writeFileAtomic(filepath.Join(s.dir, HardStateFileName), encodeHardState(hs))
}

// Close closes the log file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

func encodeHardState(hs raft.HardState) []byte {
	buf := make([]byte, 10+len(hs.VotedFor))
	binary.LittleEndian.PutUint64(buf[0:8], hs.Term)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(hs.VotedFor)))
	copy(buf[10:], hs.VotedFor)
	return buf
}

func decodeHardState(data []byte) (raft.HardState, error) {
	if len(data) < 10 {
		return raft.HardState{}, fmt.Errorf("%w: hard state too short", raft.ErrLogCorrupted)
	}
	n := int(binary.LittleEndian.Uint16(data[8:10]))
	if len(data) < 10+n {
		return raft.HardState{}, fmt.Errorf("%w: hard state truncated", raft.ErrLogCorrupted)
	}
	return raft.HardState{
		Term:     binary.LittleEndian.Uint64(data[0:8]),
		VotedFor: string(data[10 : 10+n]),
	}, nil
}

// writeFileAtomic writes data to a temporary file in the same directory,
// syncs it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
