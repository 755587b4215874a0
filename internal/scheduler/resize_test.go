package scheduler

import (
	"sync"
	"testing"
	"time"
)

func TestResizeBurstWithinIntervalCommitsOnce(t *testing.T) {
	var mu sync.Mutex
	var commits []size

	c := NewResizeCoalescer(func(sessionID string, cols, rows int) {
		mu.Lock()
		commits = append(commits, size{cols, rows})
		mu.Unlock()
	})
	c.minInterval = 50 * time.Millisecond
	c.settleWindow = 20 * time.Millisecond

	for i := 0; i < 10; i++ {
		c.Desired("s1", 80+i, 24, false, false)
	}

	mu.Lock()
	n := len(commits)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("commits = %d, want 1 (leading-edge commit of first burst)", n)
	}

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(commits) != 2 {
		t.Fatalf("commits = %d, want 2 (throttled commit of latest size)", len(commits))
	}
	last := commits[len(commits)-1]
	if last.cols != 89 {
		t.Fatalf("last committed cols = %d, want 89 (most recent desired)", last.cols)
	}
}

func TestResizeImmediateBypassesThrottleWhenActiveLive(t *testing.T) {
	var mu sync.Mutex
	var commits []size
	c := NewResizeCoalescer(func(sessionID string, cols, rows int) {
		mu.Lock()
		commits = append(commits, size{cols, rows})
		mu.Unlock()
	})

	c.Desired("s1", 80, 24, true, true)
	c.Desired("s1", 81, 25, true, true)

	mu.Lock()
	defer mu.Unlock()
	if len(commits) != 2 {
		t.Fatalf("commits = %d, want 2 (immediate+active bypasses throttle)", len(commits))
	}
}

func TestResizeImmediateIgnoredWhenNotActiveLive(t *testing.T) {
	var mu sync.Mutex
	var commits []size
	c := NewResizeCoalescer(func(sessionID string, cols, rows int) {
		mu.Lock()
		commits = append(commits, size{cols, rows})
		mu.Unlock()
	})
	c.minInterval = 50 * time.Millisecond

	c.Desired("s1", 80, 24, true, false)

	mu.Lock()
	n := len(commits)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("commits = %d, want 1 (falls through to normal leading-edge throttle path)", n)
	}
}

func TestClampDivider(t *testing.T) {
	cases := []struct {
		pos, cols, want int
	}{
		{0, 100, 1},
		{-5, 100, 1},
		{50, 100, 50},
		{99, 100, 99},
		{150, 100, 99},
	}
	for _, c := range cases {
		if got := ClampDivider(c.pos, c.cols); got != c.want {
			t.Errorf("ClampDivider(%d, %d) = %d, want %d", c.pos, c.cols, got, c.want)
		}
	}
}

func TestDividerWriterDebouncesFlush(t *testing.T) {
	var mu sync.Mutex
	writes := map[string]int{}
	w := NewDividerWriter(20*time.Millisecond, func(key string, pos int) {
		mu.Lock()
		writes[key]++
		mu.Unlock()
	})

	w.Set("pane1", 10, 100)
	w.Set("pane1", 20, 100)
	w.Set("pane1", 30, 100)

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if writes["pane1"] != 1 {
		t.Fatalf("writes[pane1] = %d, want 1 (debounced to a single flush)", writes["pane1"])
	}
}

func TestClearResizeAndPtyTimers(t *testing.T) {
	var mu sync.Mutex
	var commits int
	c := NewResizeCoalescer(func(sessionID string, cols, rows int) {
		mu.Lock()
		commits++
		mu.Unlock()
	})
	c.minInterval = 30 * time.Millisecond

	c.Desired("s1", 80, 24, false, false) // leading-edge commit consumes the token
	c.Desired("s1", 90, 24, false, false) // queued behind throttle
	c.ClearResizeTimer("s1")
	c.ClearPtyResizeTimer("s1")

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if commits != 1 {
		t.Fatalf("commits = %d, want 1 (cleared timer must not fire)", commits)
	}
}
