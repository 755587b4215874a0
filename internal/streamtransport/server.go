// Package streamtransport implements the gateway's client-facing
// server: accept connections, demand auth when configured, decode
// length-prefixed command frames, dispatch them, and deliver responses
// and push envelopes back over a bounded, drop-on-backpressure queue.
package streamtransport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaypane/harness/internal/streamproto"
)

// DefaultAuthTimeout is how long a connection has to send its auth
// frame before it is dropped.
const DefaultAuthTimeout = 3 * time.Second

// Dispatcher handles one decoded command and returns either a result
// to marshal into Response.Result or an error. Returning a
// *streamproto.CommandError controls the error's Kind; any other error
// is reported as ErrKindInternal.
type Dispatcher interface {
	Handle(ctx context.Context, conn *Conn, cmd streamproto.Command) (any, error)
}

// Server accepts connections implementing the stream transport
// contract and dispatches commands to a Dispatcher.
type Server struct {
	Dispatcher        Dispatcher
	AuthToken         string // empty disables the auth handshake
	AuthTimeout       time.Duration
	OutboundQueueSize int
	CommandTimeout    time.Duration

	mu      sync.Mutex
	conns   map[*Conn]struct{}
	idSeq   atomic.Int64
	closing bool
}

func NewServer(d Dispatcher, authToken string) *Server {
	return &Server{
		Dispatcher: d,
		AuthToken:  authToken,
		conns:      make(map[*Conn]struct{}),
	}
}

// Serve accepts connections from ln until ctx is cancelled or Accept
// fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("streamtransport: accept: %w", err)
		}
		go s.handleConn(ctx, nc)
	}
}

func (s *Server) nextID() string {
	return fmt.Sprintf("conn-%d", s.idSeq.Add(1))
}

func (s *Server) register(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	c := newConn(s.nextID(), nc, s.OutboundQueueSize)
	go c.writerLoop()
	s.register(c)
	defer func() {
		s.unregister(c)
		c.Close()
	}()

	r := reader(nc)

	if s.AuthToken != "" {
		if err := s.authenticate(r, c); err != nil {
			return
		}
	}

	cmdTimeout := s.CommandTimeout
	if cmdTimeout <= 0 {
		cmdTimeout = 10 * time.Second
	}

	for {
		kind, raw, err := streamproto.ReadFrame(r)
		if err != nil {
			return
		}
		if kind != streamproto.KindCommand {
			continue
		}
		var cmd streamproto.Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		go s.dispatch(ctx, cmdTimeout, c, cmd)
	}
}

func (s *Server) authenticate(r *bufio.Reader, c *Conn) error {
	timeout := s.AuthTimeout
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}

	type result struct {
		token string
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		kind, raw, err := streamproto.ReadFrame(r)
		if err != nil {
			resCh <- result{err: err}
			return
		}
		if kind != streamproto.KindAuth {
			resCh <- result{err: errAuthRequired}
			return
		}
		var af streamproto.AuthFrame
		if err := json.Unmarshal(raw, &af); err != nil {
			resCh <- result{err: err}
			return
		}
		resCh <- result{token: af.Token}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return res.err
		}
		if res.token != s.AuthToken {
			return errAuthInvalid
		}
		return nil
	case <-time.After(timeout):
		return errAuthRequired
	}
}

func (s *Server) dispatch(ctx context.Context, timeout time.Duration, c *Conn, cmd streamproto.Command) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.Dispatcher.Handle(cctx, c, cmd)
	if err != nil {
		var cmdErr *streamproto.CommandError
		if errors.As(err, &cmdErr) {
			c.SendResponse(streamproto.NewErrorResponse(cmd.ID, cmdErr.Kind, cmdErr.Message))
			return
		}
		c.SendResponse(streamproto.NewErrorResponse(cmd.ID, streamproto.ErrKindInternal, err.Error()))
		return
	}
	resp, merr := streamproto.NewResultResponse(cmd.ID, result)
	if merr != nil {
		log.Printf("streamtransport: encode result for %s: %v", cmd.ID, merr)
		c.SendResponse(streamproto.NewErrorResponse(cmd.ID, streamproto.ErrKindInternal, merr.Error()))
		return
	}
	c.SendResponse(resp)
}

// Broadcast pushes an envelope to every currently connected client,
// dropping (per-connection) any whose outbound queue is full.
func (s *Server) Broadcast(kind streamproto.EnvelopeKind, data any) {
	s.mu.Lock()
	targets := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.SendEnvelope(kind, data)
	}
}

// Shutdown broadcasts gateway.shutdown and closes every connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	targets := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.SendEnvelope(streamproto.EnvelopeGatewayShutdown, struct{}{})
		c.Close()
	}
}
