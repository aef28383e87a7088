// Package eeprom models the card's non-volatile memory: a small byte
// addressable store whose writes are skipped when the cell already holds
// the requested value.
package eeprom

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultSize is the size of the card image in bytes.
const DefaultSize = 256

// Blank is the value of an erased cell.
const Blank byte = 0xFF

var ErrOutOfRange = errors.New("eeprom: address out of range")

// Store is the read/update contract the card relies on. Update and
// UpdateBlock must not touch cells that already hold the new value.
type Store interface {
	Size() int
	Byte(addr int) (byte, error)
	Block(addr, n int) ([]byte, error)
	Update(addr int, b byte) error
	UpdateBlock(addr int, p []byte) error
	// Writes reports the number of cells physically written since open.
	Writes() uint64
	Close() error
}

func checkRange(size, addr, n int) error {
	if addr < 0 || n < 0 || addr+n > size {
		return fmt.Errorf("%w: [%#x, %#x) of %d", ErrOutOfRange, addr, addr+n, size)
	}
	return nil
}

// Memory is a volatile Store, used by tests and by the offline tools.
type Memory struct {
	mu     sync.RWMutex
	cells  []byte
	writes uint64
}

// NewMemory returns an erased store of the given size.
func NewMemory(size int) *Memory {
	cells := make([]byte, size)
	for i := range cells {
		cells[i] = Blank
	}
	return &Memory{cells: cells}
}

func (m *Memory) Size() int { return len(m.cells) }

func (m *Memory) Byte(addr int) (byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := checkRange(len(m.cells), addr, 1); err != nil {
		return 0, err
	}
	return m.cells[addr], nil
}

func (m *Memory) Block(addr, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := checkRange(len(m.cells), addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.cells[addr:addr+n])
	return out, nil
}

func (m *Memory) Update(addr int, b byte) error {
	return m.UpdateBlock(addr, []byte{b})
}

func (m *Memory) UpdateBlock(addr int, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(len(m.cells), addr, len(p)); err != nil {
		return err
	}
	for i, b := range p {
		if m.cells[addr+i] != b {
			m.cells[addr+i] = b
			m.writes++
		}
	}
	return nil
}

func (m *Memory) Writes() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *Memory) Close() error { return nil }
