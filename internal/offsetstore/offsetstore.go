// Package offsetstore persists the byte offset tail2kafka has read up to for
// each tailed file, keyed by inode, so a restart resumes instead of
// re-sending or skipping data. The table is a fixed-width binary file mapped
// into memory with github.com/edsrzf/mmap-go, ported from
// original_source/src/fileoff.cc's FileOff class.
package offsetstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"
)

// recordSize is the width of one on-disk record: an 8-byte inode followed by
// an 8-byte offset, both little-endian.
const recordSize = 16

// Record is one (inode, offset) pair.
type Record struct {
	Inode  uint64
	Offset int64
}

// Store is a memory-mapped table of Records, one per currently-tailed file.
// The table is rebuilt (Reinit) whenever the set of tailed files changes —
// rotation, new spec, process restart with a changed config — and updated
// in place (SetOff) on every flush during normal operation.
type Store struct {
	mu   sync.Mutex
	log  *zap.Logger
	path string

	file *os.File
	mm   mmap.MMap

	// index maps inode to its record's byte offset within mm.
	index map[uint64]int
}

// Open returns a Store for path without reading or mapping the file; use
// LoadExisting to read prior records. Call Reinit once the full set of
// tailed inodes is known to size and map the table for writing.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{path: path, log: log, index: make(map[uint64]int)}
	return s, nil
}

// LoadExisting reads path's on-disk records without mapping the file, for
// seeding Reinit with each file's last known offset. A missing file is not
// an error: it simply yields no records.
func LoadExisting(path string) (map[uint64]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[uint64]int64{}, nil
		}
		return nil, fmt.Errorf("offsetstore: open %s: %w", path, err)
	}
	defer f.Close()

	out := make(map[uint64]int64)
	buf := make([]byte, recordSize)
	for {
		_, err := io.ReadFull(f, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("offsetstore: read %s: %w", path, err)
		}
		inode := binary.LittleEndian.Uint64(buf[0:8])
		off := int64(binary.LittleEndian.Uint64(buf[8:16]))
		if inode == 0 && off == 0 {
			break
		}
		out[inode] = off
	}
	return out, nil
}

// Reinit (re)creates the backing file sized for len(records), maps it, and
// writes each record at its index. Any record previously present at an
// inode no longer in records is dropped, matching the original's behaviour
// of rebuilding the table from the live LuaCtx set on every reload.
func (s *Store) Reinit(records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unmapLocked(); err != nil {
		return err
	}

	length := recordSize * len(records)
	if length == 0 {
		length = recordSize
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("offsetstore: open %s: %w", s.path, err)
	}
	if err := f.Truncate(int64(length)); err != nil {
		f.Close()
		return fmt.Errorf("offsetstore: truncate %s: %w", s.path, err)
	}

	mm, err := mmap.MapRegion(f, length, mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return fmt.Errorf("offsetstore: mmap %s: %w", s.path, err)
	}

	s.file = f
	s.mm = mm
	s.index = make(map[uint64]int, len(records))

	for i, rec := range records {
		pos := i * recordSize
		binary.LittleEndian.PutUint64(s.mm[pos:pos+8], rec.Inode)
		binary.LittleEndian.PutUint64(s.mm[pos+8:pos+16], uint64(rec.Offset))
		s.index[rec.Inode] = pos
	}

	s.log.Info("offsetstore reinitialized", zap.String("path", s.path), zap.Int("records", len(records)))
	return nil
}

// GetOff returns the stored offset for inode, and false if inode is not in
// the table.
func (s *Store) GetOff(inode uint64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[inode]
	if !ok {
		return -1, false
	}
	return int64(binary.LittleEndian.Uint64(s.mm[pos+8 : pos+16])), true
}

// SetOff updates inode's stored offset in place. It reports false if inode
// is not present in the table (Reinit must be called first to add it).
func (s *Store) SetOff(inode uint64, off int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[inode]
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint64(s.mm[pos+8:pos+16], uint64(off))
	return true
}

// Flush forces the mapped table's dirty pages to disk.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mm == nil {
		return nil
	}
	return s.mm.Flush()
}

// Close unmaps and closes the table file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unmapLocked()
}

func (s *Store) unmapLocked() error {
	if s.mm != nil {
		if err := s.mm.Unmap(); err != nil {
			return fmt.Errorf("offsetstore: unmap %s: %w", s.path, err)
		}
		s.mm = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("offsetstore: close %s: %w", s.path, err)
		}
		s.file = nil
	}
	return nil
}
