// Package wslock serializes gateway lifecycle operations for a single
// workspace behind an advisory exclusive file lock, so a multi-step
// discover/adopt/start sequence can wait briefly for a concurrent
// operation to finish rather than racing it.
package wslock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockBusy is returned when the lock cannot be acquired within the
// configured timeout.
var ErrLockBusy = errors.New("wslock: lock busy")

// DefaultTimeout is how long WithLock waits for a contended lock before
// giving up with ErrLockBusy.
const DefaultTimeout = 5 * time.Second

const pollInterval = 25 * time.Millisecond

// Lock guards one workspace's lifecycle operations.
type Lock struct {
	path    string
	timeout time.Duration
}

// New returns a Lock for the file at path. Parent directories are
// created on first acquisition, not here.
func New(path string) *Lock {
	return &Lock{path: path, timeout: DefaultTimeout}
}

// WithTimeout returns a copy of l using the given acquisition timeout.
func (l *Lock) WithTimeout(d time.Duration) *Lock {
	return &Lock{path: l.path, timeout: d}
}

// WithLock acquires the exclusive lock, runs fn, and releases the lock
// on every exit path (including panics propagating through fn). Retries
// briefly on contention; returns ErrLockBusy if the timeout elapses
// before acquisition.
func (l *Lock) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("wslock: mkdir: %w", err)
	}

	fl := flock.New(l.path)
	defer fl.Close()

	deadline := time.Now().Add(l.timeout)
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("wslock: try lock: %w", err)
		}
		if locked {
			break
		}
		if time.Now().After(deadline) {
			return ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	defer fl.Unlock()

	return fn(ctx)
}
