package transport

import (
	"context"
	"net"

	"github.com/objlink/objlink-go/pkg/payload"
)

// ObjectSocket is one end of an object transport.
// Implemented by Socket.
type ObjectSocket interface {
	// Run performs the handshake and reads until the connection ends.
	Run() error

	// WriteObject queues an object for sending.
	WriteObject(obj any) error

	// Close terminates the connection. Idempotent.
	Close() error

	// AddListener registers a listener.
	AddListener(l Listener)

	// RemoveListener unregisters a listener.
	RemoveListener(l Listener)
}

// TransportServer accepts object sockets.
// Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes all connections and stops accepting.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of active connections.
	ConnectionCount() int
}

// Compile-time interface satisfaction checks.
var (
	_ ObjectSocket    = (*Socket)(nil)
	_ TransportServer = (*Server)(nil)
	_ FrameReadWriter = (*Framer)(nil)
	_ FrameSink       = (*FrameWriter)(nil)
	_ Encoder         = (*payload.Codec)(nil)
	_ Listener        = (*ListenerFuncs)(nil)
	_ IDGenerator     = (*SequentialIDs)(nil)
)
