package transport

import (
	"errors"
	"io"

	"github.com/objlink/objlink-go/pkg/keyexchange"
	"github.com/objlink/objlink-go/pkg/log"
)

// Handshake steps reported in HandshakeError.Step.
const (
	StepGenerate = "generate"
	StepSend     = "send"
	StepReceive  = "receive"
	StepInstall  = "install"
)

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// curveNamer is implemented by agreements that can name their curve, such
// as *keyexchange.Exchange.
type curveNamer interface {
	CurveName() string
}

// Handshake runs the key agreement over rw: generate a key pair, send the
// public key as one frame while reading the peer's, then install it.
//
// The send runs on its own goroutine so that two peers over an unbuffered
// stream such as net.Pipe do not wait on each other. If the read fails
// first, Handshake returns without waiting for the send; the caller is
// expected to close the stream, which releases it.
//
// onKey, if not nil, is called with each public key as it is sent or
// received.
func Handshake(rw FrameReadWriter, agr keyexchange.Agreement, onKey func(dir log.Direction, pub []byte)) error {
	pub, err := agr.GenerateLocalKeyPair()
	if err != nil {
		return &HandshakeError{Step: StepGenerate, Err: err}
	}

	sent := make(chan error, 1)
	go func() {
		sent <- rw.WriteFrame(pub)
	}()

	remote, err := rw.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrPeerClosed
		}
		return &HandshakeError{Step: StepReceive, Err: err}
	}
	if onKey != nil {
		onKey(log.DirectionIn, remote)
	}

	if err := <-sent; err != nil {
		return &HandshakeError{Step: StepSend, Err: err}
	}
	if onKey != nil {
		onKey(log.DirectionOut, pub)
	}

	if err := agr.SetRemotePublicKey(remote); err != nil {
		return &HandshakeError{Step: StepInstall, Err: err}
	}
	return nil
}

func curveOf(agr keyexchange.Agreement) string {
	if n, ok := agr.(curveNamer); ok {
		return n.CurveName()
	}
	return ""
}
