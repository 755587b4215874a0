package streamtransport

import (
	"encoding/binary"
	"errors"
)

var (
	errClosed       = errors.New("streamtransport: connection closed")
	errBackpressure = errors.New("streamtransport: outbound queue full")
	errAuthRequired = errors.New("streamtransport: auth required")
	errAuthInvalid  = errors.New("streamtransport: auth invalid")
)

// framePrefix prepends the 4-byte big-endian length streamproto expects.
func framePrefix(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}
