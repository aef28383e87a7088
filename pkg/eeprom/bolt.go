package eeprom

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	cellsBucket = "eeprom"
	pageSize    = 16
)

var (
	dbRetryAttempts = 3
	dbRetryDelay    = 100 * time.Millisecond
)

// BoltStore persists the image in a bbolt database, one key per 16 byte
// page. The whole image is cached in memory so reads never touch the file.
type BoltStore struct {
	db     *bbolt.DB
	mu     sync.RWMutex
	cells  []byte
	writes uint64
}

// OpenBolt opens or creates the database at path. Pages missing from the
// file read as erased cells.
func OpenBolt(path string, size int) (*BoltStore, error) {
	options := &bbolt.Options{Timeout: 1 * time.Second}

	var (
		db  *bbolt.DB
		err error
	)
	for i := 0; i < dbRetryAttempts; i++ {
		db, err = bbolt.Open(path, 0600, options)
		if err == nil {
			break
		}
		time.Sleep(dbRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("eeprom: failed to open %s after %d attempts: %w", path, dbRetryAttempts, err)
	}

	s := &BoltStore{db: db, cells: make([]byte, size)}
	for i := range s.cells {
		s.cells[i] = Blank
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(cellsBucket))
		if err != nil {
			return fmt.Errorf("failed to create %s bucket: %w", cellsBucket, err)
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 4 {
				return fmt.Errorf("malformed page key %x", k)
			}
			off := int(binary.BigEndian.Uint32(k)) * pageSize
			if off >= size {
				return nil
			}
			copy(s.cells[off:min(off+pageSize, size)], v)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("eeprom: failed to load %s: %w", path, err)
	}
	return s, nil
}

func (s *BoltStore) Size() int { return len(s.cells) }

func (s *BoltStore) Byte(addr int) (byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := checkRange(len(s.cells), addr, 1); err != nil {
		return 0, err
	}
	return s.cells[addr], nil
}

func (s *BoltStore) Block(addr, n int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := checkRange(len(s.cells), addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s.cells[addr:addr+n])
	return out, nil
}

func (s *BoltStore) Update(addr int, b byte) error {
	return s.UpdateBlock(addr, []byte{b})
}

// UpdateBlock writes the pages holding changed cells in one transaction.
// Nothing is written when p matches the stored bytes.
func (s *BoltStore) UpdateBlock(addr int, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkRange(len(s.cells), addr, len(p)); err != nil {
		return err
	}

	next := make([]byte, len(s.cells))
	copy(next, s.cells)

	dirty := make(map[int]bool)
	var changed uint64
	for i, b := range p {
		if next[addr+i] != b {
			next[addr+i] = b
			dirty[(addr+i)/pageSize] = true
			changed++
		}
	}
	if changed == 0 {
		return nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(cellsBucket))
		for page := range dirty {
			var key [4]byte
			binary.BigEndian.PutUint32(key[:], uint32(page))
			off := page * pageSize
			if err := bucket.Put(key[:], next[off:min(off+pageSize, len(next))]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("eeprom: failed to write %d bytes at %#x: %w", len(p), addr, err)
	}

	s.cells = next
	s.writes += changed
	return nil
}

func (s *BoltStore) Writes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
