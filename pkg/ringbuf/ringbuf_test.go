package ringbuf

import (
	"errors"
	"testing"
)

func drain(b *Buffer) []uint16 {
	var out []uint16
	for {
		w, ok := b.Pop()
		if !ok {
			return out
		}
		out = append(out, w)
	}
}

func TestFIFOOrder(t *testing.T) {
	var b Buffer
	for n := 0; n <= Capacity; n++ {
		b.Reset()
		for i := 0; i < n; i++ {
			if err := b.Push(uint16(i + 0x10)); err != nil {
				t.Fatalf("n=%d push %d: %v", n, i, err)
			}
		}
		got := drain(&b)
		if len(got) != n {
			t.Fatalf("n=%d: drained %d words", n, len(got))
		}
		for i, w := range got {
			if w != uint16(i+0x10) {
				t.Errorf("n=%d: word %d = %#x, want %#x", n, i, w, i+0x10)
			}
		}
	}
}

func TestWraparound(t *testing.T) {
	var b Buffer
	// Move the cursor near the end of the slot array.
	for i := 0; i < 12; i++ {
		_ = b.Push(0)
		b.Pop()
	}
	for i := 0; i < Capacity; i++ {
		if err := b.Push(uint16(i)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	for i, w := range drain(&b) {
		if w != uint16(i) {
			t.Fatalf("word %d = %d after wrap", i, w)
		}
	}
}

func TestPopEmpty(t *testing.T) {
	var b Buffer
	for i := 0; i < 3; i++ {
		if _, ok := b.Pop(); ok {
			t.Fatal("pop on empty buffer returned a word")
		}
	}
	if b.Len() != 0 {
		t.Fatalf("Len = %d", b.Len())
	}
}

func TestOverflowDetected(t *testing.T) {
	var b Buffer
	for i := 0; i < Capacity; i++ {
		_ = b.Push(uint16(i))
	}
	if err := b.Push(0xAA); !errors.Is(err, ErrFull) {
		t.Fatalf("Push on full buffer: err = %v, want ErrFull", err)
	}
	got := drain(&b)
	if got[0] != 0 || got[Capacity-1] != Capacity-1 {
		t.Fatalf("overflow corrupted slots: %v", got)
	}

	if err := b.Load(make([]uint16, Capacity+1)...); !errors.Is(err, ErrFull) {
		t.Fatalf("Load of %d words: err = %v", Capacity+1, err)
	}
}

func TestBurstFraming(t *testing.T) {
	var b Buffer
	_ = b.Push(0x1FF)
	if err := b.Burst([]byte{0x02, 1, 2, 3, 0x00}); err != nil {
		t.Fatal(err)
	}
	want := []uint16{0x102, 1, 2, 3, 0x100}
	got := b.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("Snapshot = %#x, want %#x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("word %d = %#x, want %#x", i, got[i], want[i])
		}
	}
	if b.Len() != len(want) {
		t.Errorf("Snapshot consumed words")
	}
}

func TestBurstSingleByte(t *testing.T) {
	var b Buffer
	_ = b.Burst([]byte{0x0A})
	if w, _ := b.Pop(); w != 0x10A {
		t.Fatalf("single word burst = %#x, want 0x10a", w)
	}
}
