// Package ringbuf provides the card's response buffer: a fixed 16 slot FIFO
// of 9-bit host words that the decoder drains one word per poll.
package ringbuf

import (
	"errors"
	"fmt"
)

const (
	// Capacity is the number of slots in the buffer.
	Capacity = 16

	// FrameBit marks the first and last word of a response burst.
	FrameBit uint16 = 0x100
)

var ErrFull = errors.New("ringbuf: capacity exceeded")

// Buffer is a bounded circular queue. The zero value is empty and ready to use.
// It is not safe for concurrent use; each card session owns one.
type Buffer struct {
	slots [Capacity]uint16
	head  int
	n     int
}

// Len returns the number of buffered words.
func (b *Buffer) Len() int { return b.n }

// Reset drops all buffered words and rewinds the cursor.
func (b *Buffer) Reset() {
	b.head = 0
	b.n = 0
}

// Push appends w. It fails with ErrFull instead of overwriting the oldest slot.
func (b *Buffer) Push(w uint16) error {
	if b.n == Capacity {
		return ErrFull
	}
	b.slots[(b.head+b.n)%Capacity] = w
	b.n++
	return nil
}

// Pop removes and returns the oldest word. ok is false when the buffer is empty.
func (b *Buffer) Pop() (w uint16, ok bool) {
	if b.n == 0 {
		return 0, false
	}
	w = b.slots[b.head]
	b.head = (b.head + 1) % Capacity
	b.n--
	return w, true
}

// Load resets the buffer and queues words verbatim.
func (b *Buffer) Load(words ...uint16) error {
	b.Reset()
	if len(words) > Capacity {
		return fmt.Errorf("%w: %d words", ErrFull, len(words))
	}
	for _, w := range words {
		b.slots[b.n] = w
		b.n++
	}
	return nil
}

// Burst resets the buffer and queues data as one response, setting FrameBit
// on the first and last word.
func (b *Buffer) Burst(data []byte) error {
	words := make([]uint16, len(data))
	for i, d := range data {
		words[i] = uint16(d)
	}
	if len(words) > 0 {
		words[0] |= FrameBit
		words[len(words)-1] |= FrameBit
	}
	return b.Load(words...)
}

// Snapshot returns the buffered words in FIFO order without consuming them.
func (b *Buffer) Snapshot() []uint16 {
	out := make([]uint16, b.n)
	for i := range out {
		out[i] = b.slots[(b.head+i)%Capacity]
	}
	return out
}
