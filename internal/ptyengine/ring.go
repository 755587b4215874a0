package ptyengine

import (
	"bytes"
	"sync"
)

// defaultRingSize is the bounded per-session output ring size (~1 MiB).
const defaultRingSize = 1 << 20

// Safe cut points used when trimming the ring so a reattaching reader
// never resumes mid-escape-sequence.
var (
	syncUpdateEnd = []byte("\x1b[?2026l")
	eraseLine     = []byte("\x1b[2K\x1b[G")
)

// cursor tracks one subscriber's read position in a ring, expressed as
// an absolute sequence number (never reused, even after trim).
type cursor struct {
	seq int64
}

// ring is an append-only, bounded buffer of PTY output. Readers consume
// via cursor-based reads so every retained byte is delivered in order
// exactly once; when the buffer is full it trims from the front at a
// safe escape-sequence boundary rather than mid-sequence, and bytes
// trimmed before a reader reached them are skipped for that reader.
type ring struct {
	mu      sync.Mutex
	buf     []byte
	trimmed int64 // absolute seq of buf[0]
	written int64 // absolute seq just past the last written byte
	notify  chan struct{}
	maxSize int
}

func newRing(maxSize int) *ring {
	if maxSize <= 0 {
		maxSize = defaultRingSize
	}
	return &ring{
		buf:     make([]byte, 0, 4096),
		notify:  make(chan struct{}),
		maxSize: maxSize,
	}
}

// Write appends data, trimming from the front at a safe cut point when
// the ring exceeds maxSize. Never blocks — PTY reads must never suspend
// the scheduler.
func (r *ring) Write(data []byte) {
	r.mu.Lock()
	r.buf = append(r.buf, data...)
	r.written += int64(len(data))

	if len(r.buf) > r.maxSize {
		excess := len(r.buf) - r.maxSize
		cut := findSafeCut(r.buf, excess)
		r.buf = append(r.buf[:0], r.buf[cut:]...)
		r.trimmed += int64(cut)
	}

	ch := r.notify
	r.notify = make(chan struct{})
	r.mu.Unlock()
	close(ch)
}

// NewCursor returns a cursor positioned at the current write head, so a
// fresh subscriber only sees output written after it attached.
func (r *ring) NewCursor() *cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &cursor{seq: r.trimmed + int64(len(r.buf))}
}

// Tail returns a cursor positioned at absolute sequence fromSeq, clamped
// to the retained range [oldest retained byte, write head], for pty.tail
// requests.
func (r *ring) Tail(fromSeq int64) *cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fromSeq < r.trimmed {
		fromSeq = r.trimmed
	}
	head := r.trimmed + int64(len(r.buf))
	if fromSeq > head {
		fromSeq = head
	}
	return &cursor{seq: fromSeq}
}

// ReadAfter returns any bytes written after c's position and advances
// c, or returns a channel to wait on when there is nothing new yet.
func (r *ring) ReadAfter(c *cursor) (data []byte, seq int64, wait <-chan struct{}) {
	r.mu.Lock()
	rel := c.seq - r.trimmed
	if rel < 0 {
		rel = 0
	}
	if int(rel) >= len(r.buf) {
		w := r.notify
		r.mu.Unlock()
		return nil, c.seq, w
	}
	out := make([]byte, len(r.buf)-int(rel))
	copy(out, r.buf[int(rel):])
	startSeq := r.trimmed + rel
	c.seq = r.trimmed + int64(len(r.buf))
	r.mu.Unlock()
	return out, startSeq, nil
}

func findSafeCut(buf []byte, minOffset int) int {
	searchEnd := minOffset + 64*1024
	if searchEnd > len(buf) {
		searchEnd = len(buf)
	}
	window := buf[minOffset:searchEnd]

	if idx := bytes.Index(window, syncUpdateEnd); idx >= 0 {
		return minOffset + idx + len(syncUpdateEnd)
	}
	if idx := bytes.Index(window, eraseLine); idx >= 0 {
		return minOffset + idx
	}
	if idx := bytes.Index(window, []byte("\r\n")); idx >= 0 {
		return minOffset + idx + 2
	}
	return minOffset
}
