package streamtransport

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/relaypane/harness/internal/streamproto"
)

// DefaultOutboundQueueSize bounds how many encoded frames a connection
// may have in flight before it is dropped for backpressure.
const DefaultOutboundQueueSize = 256

// Conn wraps one accepted connection with a bounded outbound queue. A
// producer that falls behind gets the whole connection torn down
// rather than blocking whoever is trying to send it data.
type Conn struct {
	ID string

	nc       net.Conn
	outbound chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newConn(id string, nc net.Conn, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultOutboundQueueSize
	}
	return &Conn{
		ID:       id,
		nc:       nc,
		outbound: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

// writerLoop drains c.outbound to the socket until the connection is
// closed or a write fails.
func (c *Conn) writerLoop() {
	for data := range c.outbound {
		if _, err := c.nc.Write(data); err != nil {
			c.Close()
			return
		}
	}
}

// enqueue encodes v as a length-prefixed frame and offers it to the
// outbound queue without blocking. A full queue closes the connection
// (streamproto.ErrKindBackpressure) instead of stalling the producer.
func (c *Conn) enqueue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame := framePrefix(data)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	select {
	case c.outbound <- frame:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		c.Close()
		return errBackpressure
	}
}

// SendResponse delivers resp to this connection.
func (c *Conn) SendResponse(resp streamproto.Response) error {
	return c.enqueue(resp)
}

// SendEnvelope encodes and delivers a push event unrelated to any
// pending command.
func (c *Conn) SendEnvelope(kind streamproto.EnvelopeKind, data any) error {
	env, err := streamproto.NewEnvelope(kind, data)
	if err != nil {
		return err
	}
	return c.enqueue(env)
}

// Close tears down the connection and stops its writer loop. Safe to
// call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.outbound)
	c.mu.Unlock()
	c.nc.Close()
	close(c.done)
}

// Done is closed once the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

func reader(nc net.Conn) *bufio.Reader {
	return bufio.NewReader(nc)
}
