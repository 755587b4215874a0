// Package ptyengine owns PTY lifecycle for conversations: spawn, write,
// resize, detach, and reap, with a bounded per-session output ring that
// subscribers drain at their own pace.
package ptyengine

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
)

var (
	ErrAlreadyLive     = errors.New("ptyengine: session already live")
	ErrSpawnFailed     = errors.New("ptyengine: spawn failed")
	ErrSessionNotFound = errors.New("ptyengine: session not found")
	ErrBackpressure    = errors.New("ptyengine: write buffer full")
)

// writeBufferLimitBytes bounds how much unwritten input may queue
// before callers start seeing Backpressure.
const writeBufferLimitBytes = 1 << 20

// DefaultGraceDuration is how long kill waits after SIGTERM before
// escalating to SIGKILL.
const DefaultGraceDuration = 4 * time.Second

// deniedEnvPrefixes strips the gateway's own profiling/tracing markers
// from a spawned child's environment so a nested harness invocation
// never inherits the outer one's instrumentation state.
var deniedEnvPrefixes = []string{"HARNESS_PROFILE_", "HARNESS_TRACE_"}

// EnvelopeKind identifies the shape of an Envelope's payload.
type EnvelopeKind string

const (
	EnvelopeOutput EnvelopeKind = "pty.output"
	EnvelopeExit   EnvelopeKind = "pty.exit"
)

// Envelope is one unit of PTY activity fanned out to subscribers.
type Envelope struct {
	Kind       EnvelopeKind
	SessionID  string
	Data       []byte
	Seq        int64
	ExitStatus int
	ExitSignal string
}

// Subscriber receives Envelopes for one session until Detach is called
// or the session exits.
type Subscriber struct {
	ch        chan Envelope
	sessionID string
}

// Chan is the channel a caller ranges over to receive output/exit
// envelopes. Closed when the session is reaped and fully drained.
func (s *Subscriber) Chan() <-chan Envelope { return s.ch }

type session struct {
	id   string
	pid  int
	ptmx *os.File
	cmd  *exec.Cmd

	ring *ring

	mu          sync.Mutex
	subs        map[*Subscriber]struct{}
	exited      bool
	exitStatus  int
	exitSignal  string
	done        chan struct{}
	queuedBytes int64
	writeCh     chan []byte
}

// Engine tracks at most one live PTY per conversation.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func New() *Engine {
	return &Engine{sessions: make(map[string]*session)}
}

// Start spawns argv in a new PTY of the given size for sessionID. Fails
// ErrAlreadyLive if a PTY is already tracked for this id.
func (e *Engine) Start(sessionID, cwd string, argv []string, cols, rows int) error {
	e.mu.Lock()
	if _, ok := e.sessions[sessionID]; ok {
		e.mu.Unlock()
		return ErrAlreadyLive
	}
	e.mu.Unlock()

	if len(argv) == 0 {
		return fmt.Errorf("%w: empty argv", ErrSpawnFailed)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = filteredEnv(os.Environ())

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	sess := &session{
		id:      sessionID,
		pid:     cmd.Process.Pid,
		ptmx:    ptmx,
		cmd:     cmd,
		ring:    newRing(defaultRingSize),
		subs:    make(map[*Subscriber]struct{}),
		done:    make(chan struct{}),
		writeCh: make(chan []byte, 256),
	}

	e.mu.Lock()
	e.sessions[sessionID] = sess
	e.mu.Unlock()

	go e.pumpOutput(sess)
	go e.pumpWrites(sess)
	go e.reap(sess)

	return nil
}

// filteredEnv returns the parent environment minus any key matching a
// denied prefix.
func filteredEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		denied := false
		for _, prefix := range deniedEnvPrefixes {
			if strings.HasPrefix(kv, prefix) {
				denied = true
				break
			}
		}
		if !denied {
			out = append(out, kv)
		}
	}
	return out
}

func (e *Engine) get(sessionID string) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Write enqueues bytes for the PTY. Non-blocking: once
// writeBufferLimitBytes worth of input is queued, further writes return
// ErrBackpressure until the queue drains.
func (e *Engine) Write(sessionID string, data []byte) error {
	sess, err := e.get(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	if sess.exited {
		sess.mu.Unlock()
		return ErrSessionNotFound
	}
	if atomic.LoadInt64(&sess.queuedBytes)+int64(len(data)) > writeBufferLimitBytes {
		sess.mu.Unlock()
		return ErrBackpressure
	}
	sess.mu.Unlock()

	atomic.AddInt64(&sess.queuedBytes, int64(len(data)))
	select {
	case sess.writeCh <- data:
		return nil
	default:
		atomic.AddInt64(&sess.queuedBytes, -int64(len(data)))
		return ErrBackpressure
	}
}

func (e *Engine) pumpWrites(sess *session) {
	for data := range sess.writeCh {
		atomic.AddInt64(&sess.queuedBytes, -int64(len(data)))
		if _, err := sess.ptmx.Write(data); err != nil {
			return
		}
	}
}

// Resize changes the PTY window size.
func (e *Engine) Resize(sessionID string, cols, rows int) error {
	sess, err := e.get(sessionID)
	if err != nil {
		return err
	}
	return pty.Setsize(sess.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Subscribe registers a new output subscriber for sessionID, starting
// at the current write head (no replay) unless fromSeq is non-nil, in
// which case it starts from the ring's retained tail at that sequence.
func (e *Engine) Subscribe(sessionID string, fromSeq *int64) (*Subscriber, error) {
	sess, err := e.get(sessionID)
	if err != nil {
		return nil, err
	}
	var c *cursor
	if fromSeq != nil {
		c = sess.ring.Tail(*fromSeq)
	} else {
		c = sess.ring.NewCursor()
	}

	sub := &Subscriber{ch: make(chan Envelope, 64), sessionID: sessionID}
	sess.mu.Lock()
	sess.subs[sub] = struct{}{}
	sess.mu.Unlock()

	go e.pumpSubscriber(sess, sub, c)
	return sub, nil
}

// Detach removes sub from its session's subscriber set. The PTY itself
// keeps running.
func (e *Engine) Detach(sub *Subscriber) {
	sess, err := e.get(sub.sessionID)
	if err != nil {
		return
	}
	sess.mu.Lock()
	delete(sess.subs, sub)
	sess.mu.Unlock()
}

func (e *Engine) pumpSubscriber(sess *session, sub *Subscriber, c *cursor) {
	for {
		data, seq, wait := sess.ring.ReadAfter(c)
		if data != nil {
			select {
			case sub.ch <- Envelope{Kind: EnvelopeOutput, SessionID: sess.id, Data: data, Seq: seq}:
			default:
				e.Detach(sub)
				close(sub.ch)
				return
			}
			continue
		}
		select {
		case <-wait:
		case <-sess.done:
			if data, seq, _ := sess.ring.ReadAfter(c); data != nil {
				select {
				case sub.ch <- Envelope{Kind: EnvelopeOutput, SessionID: sess.id, Data: data, Seq: seq}:
				default:
				}
			}
			sess.mu.Lock()
			status, sig := sess.exitStatus, sess.exitSignal
			_, stillSubscribed := sess.subs[sub]
			sess.mu.Unlock()
			if stillSubscribed {
				select {
				case sub.ch <- Envelope{Kind: EnvelopeExit, SessionID: sess.id, ExitStatus: status, ExitSignal: sig}:
				default:
				}
			}
			close(sub.ch)
			return
		}
	}
}

func (e *Engine) pumpOutput(sess *session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			sess.ring.Write(data)
		}
		if err != nil {
			return
		}
	}
}

func (e *Engine) reap(sess *session) {
	err := sess.cmd.Wait()
	exitStatus, exitSignal := exitInfo(err)

	sess.mu.Lock()
	sess.exited = true
	sess.exitStatus = exitStatus
	sess.exitSignal = exitSignal
	sess.mu.Unlock()
	close(sess.done)
	sess.ptmx.Close()
}

func exitInfo(err error) (status int, signal string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -1, ws.Signal().String()
		}
		return exitErr.ExitCode(), ""
	}
	return -1, ""
}

// Kill sends SIGTERM, waits up to grace, then escalates to SIGKILL.
func (e *Engine) Kill(sessionID string, grace time.Duration) error {
	sess, err := e.get(sessionID)
	if err != nil {
		return err
	}
	if grace <= 0 {
		grace = DefaultGraceDuration
	}
	if sess.cmd.Process == nil {
		return nil
	}
	if err := sess.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return nil
	}
	select {
	case <-sess.done:
		return nil
	case <-time.After(grace):
		return sess.cmd.Process.Signal(syscall.SIGKILL)
	}
}

// Remove drops sessionID's bookkeeping once the conversation is
// archived; the ring and any remaining subscribers are released.
func (e *Engine) Remove(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// IsLive reports whether sessionID has a tracked, unexited PTY.
func (e *Engine) IsLive(sessionID string) bool {
	sess, err := e.get(sessionID)
	if err != nil {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return !sess.exited
}
