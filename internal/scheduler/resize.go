package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultResizeMinInterval is the minimum spacing between two PTY
// resize commits for the same session.
const DefaultResizeMinInterval = 33 * time.Millisecond

// DefaultSettleDuration is how long after a commit the coalescer keeps
// watching for one more trailing update before it stops adjusting the
// deadline.
const DefaultSettleDuration = 75 * time.Millisecond

// CommitFunc applies a resize to the live PTY for sessionID.
type CommitFunc func(sessionID string, cols, rows int)

type size struct{ cols, rows int }

type resizeState struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	desired     size
	hasPending  bool
	minTimer    *time.Timer
	settleTimer *time.Timer
	settleUntil time.Time
}

// ResizeCoalescer accepts "desired size" events at arbitrary rate per
// session and commits at most one resize per MinInterval, always using
// the most recently desired size.
type ResizeCoalescer struct {
	mu           sync.Mutex
	sessions     map[string]*resizeState
	minInterval  time.Duration
	settleWindow time.Duration
	commit       CommitFunc
}

func NewResizeCoalescer(commit CommitFunc) *ResizeCoalescer {
	return &ResizeCoalescer{
		sessions:     make(map[string]*resizeState),
		minInterval:  DefaultResizeMinInterval,
		settleWindow: DefaultSettleDuration,
		commit:       commit,
	}
}

func (c *ResizeCoalescer) stateFor(sessionID string) *resizeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sessions[sessionID]
	if !ok {
		st = &resizeState{limiter: rate.NewLimiter(rate.Every(c.minInterval), 1)}
		c.sessions[sessionID] = st
	}
	return st
}

// Desired submits a new target size for sessionID. immediate bypasses
// throttling only when isActiveLive is true (the target is the active,
// live conversation); otherwise the request is queued behind the
// throttle like any other.
func (c *ResizeCoalescer) Desired(sessionID string, cols, rows int, immediate, isActiveLive bool) {
	st := c.stateFor(sessionID)
	st.mu.Lock()

	if immediate && isActiveLive {
		c.stopLocked(st)
		st.mu.Unlock()
		c.commit(sessionID, cols, rows)
		return
	}

	st.desired = size{cols, rows}
	st.hasPending = true

	if st.limiter.Allow() {
		d := st.desired
		st.hasPending = false
		st.mu.Unlock()
		c.commit(sessionID, d.cols, d.rows)
		c.armSettle(sessionID, st)
		return
	}

	c.extendSettle(sessionID, st)

	if st.minTimer == nil {
		st.minTimer = time.AfterFunc(c.minInterval, func() {
			c.fireMinTimer(sessionID, st)
		})
	}
	st.mu.Unlock()
}

func (c *ResizeCoalescer) fireMinTimer(sessionID string, st *resizeState) {
	st.mu.Lock()
	st.minTimer = nil
	if !st.hasPending {
		st.mu.Unlock()
		return
	}
	st.limiter.Allow() // consume a token so the next burst waits a full interval
	d := st.desired
	st.hasPending = false
	st.mu.Unlock()

	c.commit(sessionID, d.cols, d.rows)
	c.armSettle(sessionID, st)
}

func (c *ResizeCoalescer) armSettle(sessionID string, st *resizeState) {
	st.mu.Lock()
	st.settleUntil = time.Now().Add(c.settleWindow)
	deadline := st.settleUntil
	if st.settleTimer != nil {
		st.settleTimer.Stop()
	}
	st.settleTimer = time.AfterFunc(time.Until(deadline), func() {
		st.mu.Lock()
		st.settleTimer = nil
		st.mu.Unlock()
	})
	st.mu.Unlock()
}

// extendSettle reschedules an in-flight settle timer so it fires no
// sooner than max(remaining, minInterval) from now, per a new desired
// size arriving mid-settle.
func (c *ResizeCoalescer) extendSettle(sessionID string, st *resizeState) {
	if st.settleTimer == nil {
		return
	}
	remaining := time.Until(st.settleUntil)
	wait := remaining
	if c.minInterval > wait {
		wait = c.minInterval
	}
	st.settleUntil = time.Now().Add(wait)
	st.settleTimer.Stop()
	deadline := st.settleUntil
	st.settleTimer = time.AfterFunc(time.Until(deadline), func() {
		st.mu.Lock()
		st.settleTimer = nil
		st.mu.Unlock()
	})
}

func (c *ResizeCoalescer) stopLocked(st *resizeState) {
	if st.minTimer != nil {
		st.minTimer.Stop()
		st.minTimer = nil
	}
	if st.settleTimer != nil {
		st.settleTimer.Stop()
		st.settleTimer = nil
	}
	st.hasPending = false
}

// ClearResizeTimer disables any pending throttle-window commit for
// sessionID without committing it.
func (c *ResizeCoalescer) ClearResizeTimer(sessionID string) {
	st := c.stateFor(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.minTimer != nil {
		st.minTimer.Stop()
		st.minTimer = nil
	}
	st.hasPending = false
}

// ClearPtyResizeTimer disables any pending settle-window callback for
// sessionID.
func (c *ResizeCoalescer) ClearPtyResizeTimer(sessionID string) {
	st := c.stateFor(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.settleTimer != nil {
		st.settleTimer.Stop()
		st.settleTimer = nil
	}
}

// ClampDivider clamps a divider position to [1, cols-1].
func ClampDivider(pos, cols int) int {
	if pos < 1 {
		return 1
	}
	if cols > 1 && pos > cols-1 {
		return cols - 1
	}
	return pos
}

// DividerWriter persists divider-position overrides, debounced so a
// drag gesture doesn't generate one disk write per pixel of movement.
type DividerWriter struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	pending  map[string]int
	persist  func(key string, pos int)
}

func NewDividerWriter(delay time.Duration, persist func(key string, pos int)) *DividerWriter {
	return &DividerWriter{delay: delay, pending: make(map[string]int), persist: persist}
}

// Set records a clamped divider position for key and schedules a
// debounced flush.
func (w *DividerWriter) Set(key string, pos, cols int) {
	clamped := ClampDivider(pos, cols)
	w.mu.Lock()
	w.pending[key] = clamped
	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.flush)
	}
	w.mu.Unlock()
}

func (w *DividerWriter) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]int)
	w.timer = nil
	w.mu.Unlock()

	for key, pos := range pending {
		w.persist(key, pos)
	}
}
