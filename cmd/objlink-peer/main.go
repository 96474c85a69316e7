// Command objlink-peer is a reference objlink endpoint.
//
// It either listens for connections and echoes chat messages back, or dials
// a listener and sends chat messages typed at the interactive prompt.
//
// Usage:
//
//	objlink-peer [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-mode string          listen or dial (default "listen")
//	-address string       Address to listen on or dial (default ":7420")
//	-curve string         Key agreement curve: x25519, p256, p384
//	-cipher string        Payload cipher: xchacha20-poly1305, aes-256-gcm
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  Write CBOR protocol events to this file
//	-name string          Name shown on sent messages (default hostname)
//	-echo                 Echo received messages back (listen mode, default true)
//	-message string       Send this message once connected (dial mode)
//	-interactive          Enable interactive command mode
//
// Flags given on the command line override the configuration file.
//
// Examples:
//
//	# Start a listener
//	objlink-peer -mode listen -address :7420
//
//	# Chat with it
//	objlink-peer -mode dial -address localhost:7420 -interactive
//
//	# Record the session for objlink-log
//	objlink-peer -mode dial -address localhost:7420 -protocol-log session.olog -message hello
//
// Interactive Commands:
//
//	send <text>  - Send a chat message
//	status       - Show connections
//	quit         - Exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/objlink/objlink-go/cmd/objlink-peer/interactive"
	"github.com/objlink/objlink-go/internal/chat"
	"github.com/objlink/objlink-go/pkg/config"
	olog "github.com/objlink/objlink-go/pkg/log"
	"github.com/objlink/objlink-go/pkg/transport"
)

// Flags holds command-line settings.
type Flags struct {
	ConfigFile  string
	Mode        string
	Address     string
	Curve       string
	Cipher      string
	LogLevel    string
	ProtocolLog string
	Name        string
	Echo        bool
	Message     string
	Interactive bool
}

var flags Flags

func init() {
	def := config.Default()
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.Mode, "mode", def.Mode, "listen or dial")
	flag.StringVar(&flags.Address, "address", def.Address, "Address to listen on or dial")
	flag.StringVar(&flags.Curve, "curve", def.Curve, "Key agreement curve: x25519, p256, p384")
	flag.StringVar(&flags.Cipher, "cipher", def.Cipher, "Payload cipher: xchacha20-poly1305, aes-256-gcm")
	flag.StringVar(&flags.LogLevel, "log-level", def.LogLevel, "Log level: debug, info, warn, error")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write CBOR protocol events to this file")
	flag.StringVar(&flags.Name, "name", "", "Name shown on sent messages (default hostname)")
	flag.BoolVar(&flags.Echo, "echo", true, "Echo received messages back (listen mode)")
	flag.StringVar(&flags.Message, "message", "", "Send this message once connected (dial mode)")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	setupLogging(cfg.LogLevel)

	name := flags.Name
	if name == "" {
		if name, err = os.Hostname(); err != nil {
			name = "objlink"
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &peer{mode: cfg.Mode}

	var out io.Writer = os.Stderr
	var ic *interactive.Console
	if flags.Interactive {
		if ic, err = interactive.New(p, name); err != nil {
			log.Fatalf("Failed to create interactive console: %v", err)
		}
		out = ic.Stdout()
		log.SetOutput(out)
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	sc := cfg.SocketConfig()
	sc.Serializer = chat.NewSerializer()
	sc.Logger = logger

	protoLog, closeProtoLog, err := protocolLogger(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open protocol log: %v", err)
	}
	defer closeProtoLog()
	sc.ProtocolLogger = protoLog

	log.Println("objlink peer")
	log.Println("============")
	log.Printf("Mode:    %s", cfg.Mode)
	log.Printf("Address: %s", cfg.Address)
	log.Printf("Curve:   %s / %s", cfg.Curve, cfg.Cipher)

	printer := chat.Printer(out)

	switch cfg.Mode {
	case config.ModeListen:
		p.server = transport.NewServer(transport.ServerConfig{
			Address: cfg.Address,
			Socket:  sc,
			Logger:  logger,
			OnSocket: func(s *transport.Socket) {
				s.AddListener(printer)
				if flags.Echo {
					s.AddListener(chat.Echo(name))
				}
			},
			OnError: reportServerError,
		})
		if err := p.server.Start(ctx); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
		log.Printf("Listening on %s", p.server.Addr())

	case config.ModeDial:
		dialCtx, dialCancel := context.WithTimeout(ctx, cfg.DialTimeout())
		socket, err := transport.DialRetry(dialCtx, cfg.Address, sc, cfg.RetryPolicy(logger))
		dialCancel()
		if err != nil {
			log.Fatalf("Failed to connect: %v", err)
		}
		p.socket = socket

		socket.AddListener(printer)
		if flags.Message != "" {
			author := &chat.Author{Name: name}
			socket.AddListener(&transport.ListenerFuncs{
				OnConnected: func(s *transport.Socket) {
					_ = s.WriteObject(author.Compose(flags.Message))
				},
			})
		}

		go func() {
			if err := socket.Run(); err != nil {
				log.Printf("Connection failed: %v", err)
			}
			cancel()
		}()
	}

	if ic != nil {
		go ic.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	cancel()
	if err := p.close(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// loadConfig reads -config if given and applies flags set on the command line.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flags.ConfigFile != "" {
		loaded, err := config.Load(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = flags.Mode
		case "address":
			cfg.Address = flags.Address
		case "curve":
			cfg.Curve = flags.Curve
		case "cipher":
			cfg.Cipher = flags.Cipher
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "protocol-log":
			cfg.ProtocolLog = flags.ProtocolLog
		}
	})

	return cfg, cfg.Validate()
}

// protocolLogger builds the protocol event sink: the configured file, plus
// the operational log at debug level.
func protocolLogger(cfg *config.Config, logger *slog.Logger) (olog.Logger, func(), error) {
	var sinks []olog.Logger
	closeFn := func() {}

	if cfg.ProtocolLog != "" {
		fl, err := olog.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Protocol log: %s", cfg.ProtocolLog)
		sinks = append(sinks, fl)
		closeFn = func() {
			if n := fl.Errors(); n > 0 {
				log.Printf("Protocol log dropped %d events", n)
			}
			_ = fl.Close()
		}
	}
	if cfg.SlogLevel() <= slog.LevelDebug {
		sinks = append(sinks, olog.NewSlogAdapter(logger))
	}

	switch len(sinks) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return sinks[0], closeFn, nil
	default:
		return olog.NewMultiLogger(sinks...), closeFn, nil
	}
}

// reportServerError logs a server failure. s is nil when accepting failed.
func reportServerError(s *transport.Socket, err error) {
	if s == nil {
		log.Printf("Server error: %v", err)
		return
	}
	log.Printf("Connection %s ended: %v", s.ID(), err)
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "warn", "error":
		log.SetFlags(log.Ltime)
	}
}

// peer is the running endpoint: a server in listen mode, one socket in
// dial mode. It implements interactive.Peer.
type peer struct {
	mode   string
	server *transport.Server
	socket *transport.Socket
}

func (p *peer) sockets() []*transport.Socket {
	switch {
	case p.server != nil:
		return p.server.Sockets()
	case p.socket != nil:
		return []*transport.Socket{p.socket}
	}
	return nil
}

// Broadcast implements interactive.Peer.
func (p *peer) Broadcast(obj any) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, s := range p.sockets() {
		if s.State() != transport.StateConnected {
			continue
		}
		if err := s.WriteObject(obj); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.ID(), err))
			continue
		}
		sent++
	}
	if sent == 0 && len(errs) == 0 {
		return 0, interactive.ErrNoPeers
	}
	return sent, errors.Join(errs...)
}

// Status implements interactive.Peer.
func (p *peer) Status() []string {
	lines := []string{"Mode: " + p.mode}
	if p.server != nil {
		if addr := p.server.Addr(); addr != nil {
			lines = append(lines, "Listening on "+addr.String())
		}
	}
	for _, s := range p.sockets() {
		remote := "unknown"
		if a := s.RemoteAddr(); a != nil {
			remote = a.String()
		}
		lines = append(lines, fmt.Sprintf("  %s  %s  %s  pending=%d", s.ID(), remote, s.State(), s.Pending()))
	}
	return lines
}

func (p *peer) close() error {
	if p.server != nil {
		return p.server.Stop()
	}
	if p.socket != nil {
		return p.socket.Close()
	}
	return nil
}
