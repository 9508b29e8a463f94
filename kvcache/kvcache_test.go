package kvcache

import "testing"

func TestSeqLenAfterDecode(t *testing.T) {
	c := NewContiguousKV(128, 4, 64, 0)
	if c.SeqLen() != 0 {
		t.Fatalf("fresh cache: SeqLen() = %d, want 0", c.SeqLen())
	}

	c.AdvanceCursor(8)
	c.AdvanceCursor(1)

	if got, want := c.SeqLen(), int32(9); got != want {
		t.Fatalf("SeqLen() after prefill+decode = %d, want %d", got, want)
	}
}

func TestSlidingWindowBound(t *testing.T) {
	c := NewSlidingWindowKV(32, 4, 4, 64, 0)
	if got, want := c.Capacity(), 36; got != want {
		t.Fatalf("Capacity() = %d, want %d (window + headroom)", got, want)
	}

	c.AdvanceCursor(100)
	if got, want := c.ValidLength(), c.Capacity(); got != want {
		t.Fatalf("ValidLength() after wraparound = %d, want %d", got, want)
	}

	if got, want := c.Window(), int32(32); got != want {
		t.Fatalf("Window() = %d, want %d", got, want)
	}
}

func TestResetRewindsCursor(t *testing.T) {
	c := NewContiguousKV(16, 2, 8, 0)
	c.AdvanceCursor(5)
	c.Reset()
	if c.SeqLen() != 0 {
		t.Fatalf("SeqLen() after Reset() = %d, want 0", c.SeqLen())
	}
}
