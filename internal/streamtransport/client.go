package streamtransport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaypane/harness/internal/streamproto"
)

// ErrTransportClosed is returned to every in-flight and future request
// once Close has torn down the connection.
var ErrTransportClosed = errors.New("streamtransport: transport closed")

// ErrServerError wraps a Response.Error returned by the gateway, so
// callers can inspect Kind without string matching.
type ErrServerError struct {
	Kind    string
	Message string
}

func (e *ErrServerError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

// Client is the CLI- and mux-facing half of the stream transport: one
// TCP connection, a pending-request table keyed by command id, and a
// fan-out of server-pushed envelopes to subscribed handlers.
type Client struct {
	nc net.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan streamproto.Response
	handlers []func(streamproto.Envelope)
	closed   bool
	closeErr error
	done     chan struct{}
}

// Dial connects to addr, performs the auth handshake when token is
// non-empty, and starts the read loop. The caller owns the returned
// Client and must Close it.
func Dial(ctx context.Context, addr, token string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("streamtransport: dial %s: %w", addr, err)
	}
	c := &Client{
		nc:      nc,
		pending: make(map[string]chan streamproto.Response),
		done:    make(chan struct{}),
	}
	if token != "" {
		if werr := streamproto.WriteFrame(nc, streamproto.NewAuthFrame(token)); werr != nil {
			nc.Close()
			return nil, fmt.Errorf("streamtransport: send auth: %w", werr)
		}
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	r := bufio.NewReader(c.nc)
	for {
		kind, raw, err := streamproto.ReadFrame(r)
		if err != nil {
			c.teardown(err)
			return
		}
		switch kind {
		case streamproto.KindResponse:
			var resp streamproto.Response
			if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ok {
				ch <- resp
				close(ch)
			}
		case streamproto.KindEnvelope:
			var env streamproto.Envelope
			if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
				continue
			}
			c.mu.Lock()
			handlers := append([]func(streamproto.Envelope){}, c.handlers...)
			c.mu.Unlock()
			for _, h := range handlers {
				h(env)
			}
		}
	}
}

// OnEnvelope subscribes handler to every envelope the server pushes.
// Handlers are invoked from the client's single read goroutine, in
// subscription order; a slow handler delays delivery to the rest.
func (c *Client) OnEnvelope(handler func(streamproto.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// SendCommand submits a command and blocks until the matching response
// arrives, ctx is done, or the transport closes. A server-side error is
// returned as *ErrServerError.
func (c *Client) SendCommand(ctx context.Context, typ streamproto.CommandType, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	cmd, err := streamproto.NewCommand(id, typ, params)
	if err != nil {
		return nil, fmt.Errorf("streamtransport: encode params: %w", err)
	}

	ch := make(chan streamproto.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrTransportClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	werr := streamproto.WriteFrame(c.nc, cmd)
	c.writeMu.Unlock()
	if werr != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("streamtransport: write command: %w", werr)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			if resp.ID == "" && resp.Error.Kind == streamproto.ErrKindTransportClosed {
				// Synthesized by teardown, not sent by the server.
				return nil, c.closeErrLocked()
			}
			return nil, &ErrServerError{Kind: resp.Error.Kind, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closeErrLocked()
	}
}

func (c *Client) closeErrLocked() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrTransportClosed
}

func (c *Client) teardown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- streamproto.NewErrorResponse("", streamproto.ErrKindTransportClosed, ErrTransportClosed.Error())
		close(ch)
	}
	close(c.done)
}

// Close ends the connection; every in-flight SendCommand fails with
// ErrTransportClosed.
func (c *Client) Close() error {
	c.teardown(ErrTransportClosed)
	return c.nc.Close()
}

// DialProbe is a short-timeout convenience for the gateway supervisor's
// reachability probe: dial, issue session.list, and report whether the
// gateway answered, without raising on any failure.
type ProbeResult struct {
	Connected       bool
	SessionCount    int
	LiveSessionCount int
	Error           string
}

func DialProbe(ctx context.Context, addr, token string, timeout time.Duration) ProbeResult {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := Dial(dctx, addr, token)
	if err != nil {
		return ProbeResult{Error: err.Error()}
	}
	defer c.Close()

	cctx, cancel2 := context.WithTimeout(ctx, timeout)
	defer cancel2()
	raw, err := c.SendCommand(cctx, streamproto.CommandSessionList, streamproto.SessionListParams{})
	if err != nil {
		return ProbeResult{Error: err.Error()}
	}

	var body struct {
		Sessions []struct {
			Status string `json:"status"`
		} `json:"sessions"`
	}
	if jsonErr := json.Unmarshal(raw, &body); jsonErr != nil {
		return ProbeResult{Connected: true, Error: jsonErr.Error()}
	}
	live := 0
	for _, s := range body.Sessions {
		if s.Status != "exited" && s.Status != "completed" {
			live++
		}
	}
	return ProbeResult{Connected: true, SessionCount: len(body.Sessions), LiveSessionCount: live}
}
