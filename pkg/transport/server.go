package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/objlink/objlink-go/pkg/log"
)

// DefaultAddress is the listen address used when ServerConfig.Address is
// empty.
const DefaultAddress = ":7420"

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on (e.g., ":7420" or "127.0.0.1:7420").
	Address string

	// Socket configures every accepted socket. Role is forced to
	// log.RoleAcceptor.
	Socket SocketConfig

	// Logger for operational output (optional).
	Logger *slog.Logger

	// OnSocket is called for each accepted socket before Run starts, so
	// listeners added here see Connected.
	OnSocket func(s *Socket)

	// OnError is called when accepting fails or a socket ends with an
	// error.
	OnError func(s *Socket, err error)
}

// Server accepts TCP connections and runs one Socket per connection.
type Server struct {
	config   ServerConfig
	listener net.Listener

	sockets   map[*Socket]struct{}
	socketsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server. It does not listen until Start.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	config.Socket.Role = log.RoleAcceptor
	return &Server{
		config:  config,
		sockets: make(map[*Socket]struct{}),
	}
}

// Start listens on the configured address and begins accepting.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if err := s.Serve(ctx, ln); err != nil {
		ln.Close()
		return err
	}
	return nil
}

// Serve accepts on an existing listener. The server takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = ln
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	// Stop when the parent context ends.
	go func() {
		<-s.ctx.Done()
		s.Stop()
	}()

	s.debugLog("server listening", "address", ln.Addr().String())
	return nil
}

// Stop closes the listener and every open socket, then waits for their
// goroutines.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	s.listener.Close()

	s.socketsMu.RLock()
	open := make([]*Socket, 0, len(s.sockets))
	for sock := range s.sockets {
		open = append(open, sock)
	}
	s.socketsMu.RUnlock()

	for _, sock := range open {
		sock.Close()
	}

	s.wg.Wait()
	s.debugLog("server stopped")
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of sockets that have not yet closed.
func (s *Server) ConnectionCount() int {
	s.socketsMu.RLock()
	defer s.socketsMu.RUnlock()
	return len(s.sockets)
}

// Sockets returns a snapshot of the open sockets.
func (s *Server) Sockets() []*Socket {
	s.socketsMu.RLock()
	defer s.socketsMu.RUnlock()
	out := make([]*Socket, 0, len(s.sockets))
	for sock := range s.sockets {
		out = append(out, sock)
	}
	return out
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	sock := NewSocket(conn, s.config.Socket)

	s.socketsMu.Lock()
	if !s.running.Load() {
		s.socketsMu.Unlock()
		conn.Close()
		return
	}
	s.sockets[sock] = struct{}{}
	s.socketsMu.Unlock()

	defer func() {
		s.socketsMu.Lock()
		delete(s.sockets, sock)
		s.socketsMu.Unlock()
	}()

	if s.config.OnSocket != nil {
		s.config.OnSocket(sock)
	}

	s.debugLog("accepted connection", "conn_id", sock.ID(), "remote", conn.RemoteAddr().String())
	if err := sock.Run(); err != nil {
		s.debugLog("connection ended with error", "conn_id", sock.ID(), "error", err)
		if s.config.OnError != nil {
			s.config.OnError(sock, err)
		}
	}
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
