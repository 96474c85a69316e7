// Package transport provides the objlink secure object transport.
//
// A Socket wraps an already-connected byte stream and carries typed
// application objects over it:
//
//	┌────────────────────────────────────┐
//	│  application objects (Listener)    │
//	├────────────────────────────────────┤
//	│  serialize (pkg/wire)              │
//	├────────────────────────────────────┤
//	│  deflate, best compression         │
//	├────────────────────────────────────┤
//	│  AEAD with agreed key              │
//	├────────────────────────────────────┤
//	│  length-prefix framing (4B, BE)    │
//	├────────────────────────────────────┤
//	│  stream (TCP, pipe, ...)           │
//	└────────────────────────────────────┘
//
// # Handshake
//
// The first frame each side sends is its raw ECDH public key. Both sides
// send and receive concurrently, so neither depends on the other going
// first. Every later frame is encrypt(compress(serialize(object))).
//
// # Goroutines
//
// Run is the reader: it blocks on the stream and delivers objects to
// listeners in arrival order. After the handshake one writer goroutine
// drains the write queue in submission order. WriteObject encodes on the
// caller's goroutine and only enqueues.
//
// # Termination
//
// EOF, framing errors, decode errors, stream errors and explicit Close all
// end in the same Close path: the writer stops (pending frames are
// dropped), the stream is closed and Closed fires exactly once. There are
// no timeouts; a silent peer blocks the reader until the stream is closed.
package transport
