package transport

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objlink/objlink-go/pkg/keyexchange"
	"github.com/objlink/objlink-go/pkg/log"
	"github.com/objlink/objlink-go/pkg/payload"
)

// State is the lifecycle state of a Socket.
type State int32

const (
	// StateNew indicates Run has not been called.
	StateNew State = iota

	// StateHandshaking indicates key agreement in progress.
	StateHandshaking

	// StateConnected indicates the handshake completed and objects flow.
	StateConnected

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// LogValue renders the state by name in slog output.
func (s State) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Socket carries objects over one already-connected stream.
//
// A Socket is single-use. Run drives the handshake and then the read loop
// on the calling goroutine; WriteObject may be called from any goroutine.
// Every kind of termination ends in Close, which fires Closed exactly once.
type Socket struct {
	cfg    SocketConfig
	id     string
	stream io.ReadWriteCloser
	addr   net.Addr
	remote string

	framer    *Framer
	agreement keyexchange.Agreement
	codec     *payload.Codec
	queue     *WriteQueue
	listeners ListenerSet
	plog      log.Logger

	state   atomic.Int32
	running atomic.Bool
	closing atomic.Bool
	done    chan struct{}

	// notifyMu orders Connected before Closed. While connecting is set,
	// close leaves the Closed notification to the Run goroutine.
	notifyMu       sync.Mutex
	connecting     bool
	closedDeferred bool
}

// NewSocket wraps stream. Zero fields of cfg take their defaults. The
// socket does nothing until Run is called.
func NewSocket(stream io.ReadWriteCloser, cfg SocketConfig) *Socket {
	cfg = cfg.withDefaults()

	s := &Socket{
		cfg:       cfg,
		id:        cfg.IDGenerator.Next(),
		stream:    stream,
		agreement: cfg.NewAgreement(),
		plog:      log.OrNoop(cfg.ProtocolLogger),
		done:      make(chan struct{}),
	}
	if conn, ok := stream.(interface{ RemoteAddr() net.Addr }); ok {
		s.addr = conn.RemoteAddr()
		if s.addr != nil {
			s.remote = s.addr.String()
		}
	}

	s.framer = NewFramerWithMaxSize(stream, cfg.MaxFrameSize)
	if cfg.ProtocolLogger != nil {
		s.framer.SetLogger(cfg.ProtocolLogger, s.id, s.remote)
	}

	s.codec = payload.NewCodec(cfg.Serializer, s.agreement, cfg.codecConfig(s.id))
	s.queue = NewWriteQueue(s.codec, s.framer.FrameWriter, nil, s.writeFailed)
	s.queue.SetLogger(cfg.Logger)
	s.queue.SetMaxFrameSize(cfg.MaxFrameSize)

	return s
}

// ID returns the connection identity.
func (s *Socket) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	return State(s.state.Load())
}

// RemoteAddr returns the peer address, or nil when the stream is not a
// network connection.
func (s *Socket) RemoteAddr() net.Addr {
	return s.addr
}

// Done is closed after the Closed notification has been delivered.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Pending returns the number of queued outbound frames.
func (s *Socket) Pending() int {
	return s.queue.Pending()
}

// AddListener registers l. Safe to call from a listener callback.
func (s *Socket) AddListener(l Listener) {
	s.listeners.Add(l)
}

// RemoveListener unregisters l. Safe to call from a listener callback.
func (s *Socket) RemoveListener(l Listener) {
	s.listeners.Remove(l)
}

// Run performs the handshake and then reads objects until the stream ends
// or fails. It always leaves the socket closed.
//
// Run returns nil after a clean end of stream or a local Close. A handshake
// failure returns a *HandshakeError without Connected ever firing. Framing,
// decode and stream errors are reported to Exception listeners and
// returned.
func (s *Socket) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if !s.transition(StateNew, StateHandshaking, "run") {
		return ErrClosed
	}

	if err := Handshake(s.framer, s.agreement, s.logHandshake); err != nil {
		return s.fail(err)
	}

	if !s.transition(StateHandshaking, StateConnected, "handshake complete") {
		return nil
	}
	s.debugLog("connected", "conn_id", s.id, "remote", s.remote)

	s.queue.Start()
	if !s.notifyConnected() {
		return nil
	}

	return s.readLoop()
}

// notifyConnected fires Connected unless the socket is already closing and
// reports whether the read loop should start.
func (s *Socket) notifyConnected() bool {
	s.notifyMu.Lock()
	if s.closing.Load() {
		s.notifyMu.Unlock()
		return false
	}
	s.connecting = true
	s.notifyMu.Unlock()

	s.listeners.Each(func(l Listener) { l.Connected(s) })

	s.notifyMu.Lock()
	s.connecting = false
	deferred := s.closedDeferred
	s.notifyMu.Unlock()

	if deferred {
		s.notifyClosed()
		return false
	}
	return true
}

func (s *Socket) notifyClosed() {
	s.listeners.Each(func(l Listener) { l.Closed(s) })
	close(s.done)
}

func (s *Socket) readLoop() error {
	for {
		data, err := s.framer.ReadFrame()
		if err != nil {
			if err == io.EOF {
				_ = s.close("peer closed")
				return nil
			}
			return s.fail(err)
		}

		obj, err := s.codec.Decode(data)
		if err != nil {
			return s.fail(err)
		}

		s.listeners.Each(func(l Listener) { l.ReceivedObject(s, obj) })
	}
}

// WriteObject encodes obj and queues it for the writer goroutine. It
// returns an error matching ErrEncode if encoding fails, in which case
// nothing is sent and the socket stays open. After Close it does nothing.
func (s *Socket) WriteObject(obj any) error {
	return s.queue.WriteObject(obj)
}

// Close stops the writer, dropping frames not yet written, closes the
// stream and fires Closed. Only the first call does anything; later calls
// return nil. If Connected listeners are still running, Closed fires on
// the Run goroutine once they return; wait on Done to observe it.
func (s *Socket) Close() error {
	return s.close("closed locally")
}

// SuspendWrites is Close without a result.
func (s *Socket) SuspendWrites() {
	_ = s.close("writes suspended")
}

func (s *Socket) close(reason string) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	old := State(s.state.Swap(int32(StateClosed)))
	s.queue.Suspend()

	err := s.stream.Close()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
		err = nil
	}

	s.logState(old, StateClosed, reason)
	s.debugLog("closed", "conn_id", s.id, "reason", reason)

	s.notifyMu.Lock()
	if s.connecting {
		s.closedDeferred = true
		s.notifyMu.Unlock()
	} else {
		s.notifyMu.Unlock()
		s.notifyClosed()
	}

	if err != nil {
		return &IOError{Op: "close stream", Err: err}
	}
	return nil
}

// fail reports err and closes the socket. Errors observed after the socket
// was closed are consequences of the close and are dropped.
func (s *Socket) fail(err error) error {
	if s.closing.Load() {
		return nil
	}

	s.debugLog("connection failed", "conn_id", s.id, "error", err)
	s.event(log.Event{
		Layer:    layerOf(err),
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layerOf(err),
			Message: err.Error(),
			Context: s.State().String(),
			Fatal:   true,
		},
	})
	s.listeners.Each(func(l Listener) { l.Exception(s, err) })
	_ = s.close(err.Error())
	return err
}

func (s *Socket) writeFailed(err error) {
	_ = s.fail(err)
}

// transition moves from one state to another, failing if the socket has
// moved on in the meantime.
func (s *Socket) transition(from, to State, reason string) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.logState(from, to, reason)
	return true
}

func (s *Socket) logState(from, to State, reason string) {
	s.event(log.Event{
		Layer:    log.LayerTransport,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

func (s *Socket) logHandshake(dir log.Direction, pub []byte) {
	s.event(log.Event{
		Direction: dir,
		Layer:     log.LayerCrypto,
		Category:  log.CategoryHandshake,
		Handshake: &log.HandshakeEvent{
			Curve:     curveOf(s.agreement),
			PublicKey: append([]byte(nil), pub...),
		},
	})
}

// event stamps e with the socket's identity and logs it.
func (s *Socket) event(e log.Event) {
	if s.cfg.ProtocolLogger == nil {
		return
	}
	e.Timestamp = time.Now()
	e.ConnectionID = s.id
	e.LocalRole = s.cfg.Role
	e.RemoteAddr = s.remote
	s.plog.Log(e)
}

func (s *Socket) debugLog(msg string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug(msg, args...)
	}
}

// layerOf maps an error to the protocol log layer that produced it.
func layerOf(err error) log.Layer {
	switch {
	case errors.Is(err, ErrHandshake):
		return log.LayerCrypto
	case errors.Is(err, ErrDecode), errors.Is(err, ErrEncode):
		return log.LayerCodec
	default:
		return log.LayerTransport
	}
}
