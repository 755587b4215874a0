// Package streamproto defines the wire format for the gateway's stream
// transport: 4-byte big-endian length-prefixed UTF-8 JSON frames, and
// the tagged command/response/envelope/auth vocabulary carried inside
// them.
package streamproto

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ProtocolVersion is the only value accepted in a frame's v field.
const ProtocolVersion = 1

// MaxFrameSize bounds a single decoded frame, guarding against a
// corrupt or hostile length prefix driving an unbounded allocation.
const MaxFrameSize = 16 * 1024 * 1024

// Kind discriminates the four frame shapes that share the wire.
type Kind string

const (
	KindCommand  Kind = "command"
	KindResponse Kind = "response"
	KindEnvelope Kind = "envelope"
	KindAuth     Kind = "auth"
)

// Frame is the outer envelope every message on the wire carries.
type Frame struct {
	V    int             `json:"v"`
	Kind Kind            `json:"kind"`
	Raw  json.RawMessage `json:"-"`
}

// rawFrame decodes only a frame's v and kind fields; ReadFrame returns
// the original body bytes alongside the kind, so the caller decodes the
// concrete payload from them without loss.
type rawFrame struct {
	V    int  `json:"v"`
	Kind Kind `json:"kind"`
}

// WriteFrame encodes v as JSON and writes it to w as one length-prefixed
// frame. v must already carry v:1 and its kind field; callers normally
// construct one of Command, Response, Envelope, or AuthFrame and pass
// it directly.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("streamproto: encode: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("streamproto: frame too large: %d bytes", len(data))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("streamproto: write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("streamproto: write body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and returns its
// decoded kind plus the raw JSON body, so the caller can dispatch to
// the concrete type for that kind.
func ReadFrame(r *bufio.Reader) (Kind, json.RawMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return "", nil, fmt.Errorf("streamproto: frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", nil, fmt.Errorf("streamproto: read body: %w", err)
	}
	var rf rawFrame
	if err := json.Unmarshal(body, &rf); err != nil {
		return "", nil, fmt.Errorf("streamproto: decode frame header: %w", err)
	}
	if rf.V != ProtocolVersion {
		return "", nil, fmt.Errorf("streamproto: unsupported version %d", rf.V)
	}
	return rf.Kind, json.RawMessage(body), nil
}
