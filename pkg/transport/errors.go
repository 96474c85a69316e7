package transport

import (
	"errors"
	"fmt"

	"github.com/objlink/objlink-go/pkg/payload"
)

// Socket errors.
var (
	// ErrHandshake matches any *HandshakeError.
	ErrHandshake = errors.New("handshake failed")

	// ErrPeerClosed means the stream ended before the peer's public key arrived.
	ErrPeerClosed = errors.New("peer closed during handshake")

	// ErrIO matches any *IOError.
	ErrIO = errors.New("stream i/o failed")

	ErrAlreadyRunning = errors.New("socket already running")
	ErrClosed         = errors.New("socket closed")
)

// Payload pipeline errors, re-exported for callers of WriteObject and
// Exception listeners.
var (
	ErrEncode = payload.ErrEncode
	ErrDecode = payload.ErrDecode
)

// HandshakeError reports a failed key agreement step.
type HandshakeError struct {
	// Step is one of "generate", "send", "receive", "install".
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrHandshake) true.
func (e *HandshakeError) Is(target error) bool { return target == ErrHandshake }

// IOError reports a failed read or write on the underlying stream.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrIO) true.
func (e *IOError) Is(target error) bool { return target == ErrIO }
