package ptyengine

import (
	"bytes"
	"testing"
)

func TestRingReadAfterReturnsNewData(t *testing.T) {
	r := newRing(1024)
	c := r.NewCursor()

	r.Write([]byte("hello"))
	data, seq, wait := r.ReadAfter(c)
	if wait != nil {
		t.Fatal("expected data, not a wait channel")
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q, want hello", data)
	}
	if seq != 0 {
		t.Fatalf("seq = %d, want 0", seq)
	}

	_, _, wait = r.ReadAfter(c)
	if wait == nil {
		t.Fatal("expected a wait channel once caught up")
	}
}

func TestRingTrimsAtSafeCut(t *testing.T) {
	r := newRing(16)
	r.Write([]byte("0123456789\r\nabcdefghij"))
	// Excess is 6 bytes; the first safe cut at or after offset 6 is just
	// past the "\r\n", at offset 12.
	if string(r.buf) != "abcdefghij" || r.trimmed != 12 {
		t.Fatalf("buf = %q, trimmed = %d; want cut after \\r\\n at 12", r.buf, r.trimmed)
	}
	if !bytes.Contains(r.buf, []byte("abcdefghij")) {
		t.Fatalf("expected recent data retained, got %q", r.buf)
	}
}

func TestRingTailClampsToRetained(t *testing.T) {
	r := newRing(8)
	for i := 0; i < 5; i++ {
		r.Write([]byte("01234567\r\n"))
	}
	c := r.Tail(0)
	if c.seq < r.trimmed {
		t.Fatalf("tail cursor seq %d below trimmed %d", c.seq, r.trimmed)
	}
}
