// Package config loads objlink peer configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/objlink/objlink-go/pkg/keyexchange"
	"github.com/objlink/objlink-go/pkg/transport"
	"gopkg.in/yaml.v3"
)

// Modes.
const (
	ModeListen = "listen"
	ModeDial   = "dial"
)

// ErrInvalid matches every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config describes one objlink peer.
type Config struct {
	// Mode is "listen" or "dial".
	Mode string `yaml:"mode"`

	// Address to listen on or dial.
	Address string `yaml:"address"`

	// Curve and Cipher select the key agreement. Both peers must match.
	Curve  string `yaml:"curve"`
	Cipher string `yaml:"cipher"`

	// Info is the key derivation label. Both peers must match.
	Info string `yaml:"info"`

	MaxFrameSize     uint32 `yaml:"max_frame_size"`
	CompressionLevel int    `yaml:"compression_level"`

	// AllowUncompressed accepts inbound payloads that do not inflate.
	AllowUncompressed bool `yaml:"allow_uncompressed"`

	// ConnectTimeout bounds dialing (e.g. "10s"). Zero means
	// transport.DefaultConnectTimeout.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// DialAttempts caps connection attempts in dial mode. Zero retries
	// until interrupted.
	DialAttempts int `yaml:"dial_attempts"`

	// ProtocolLog is a file path for the CBOR protocol log. Empty disables it.
	ProtocolLog string `yaml:"protocol_log"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Mode:              ModeListen,
		Address:           transport.DefaultAddress,
		Curve:             keyexchange.CurveX25519,
		Cipher:            keyexchange.CipherXChaCha20Poly1305,
		Info:              keyexchange.DefaultInfo,
		MaxFrameSize:      transport.DefaultMaxFrameSize,
		CompressionLevel:  flate.BestCompression,
		AllowUncompressed: true,
		ConnectTimeout:    transport.DefaultConnectTimeout,
		DialAttempts:      transport.DefaultRetryPolicy().MaxAttempts,
		LogLevel:          "info",
	}
}

// LoadError reports a configuration file that could not be used.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Parse reads YAML over the defaults and validates the result. Keys left
// out of data keep their default values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: "validation failed", Cause: err}
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeListen, ModeDial:
	default:
		errs = append(errs, fmt.Errorf("%w: mode %q (want listen or dial)", ErrInvalid, c.Mode))
	}
	if c.Mode == ModeDial && c.Address == "" {
		errs = append(errs, fmt.Errorf("%w: dial mode needs an address", ErrInvalid))
	}
	if !slices.Contains(keyexchange.SupportedCurves(), c.Curve) {
		errs = append(errs, fmt.Errorf("%w: curve %q (supported: %s)", ErrInvalid, c.Curve,
			strings.Join(keyexchange.SupportedCurves(), ", ")))
	}
	if !slices.Contains(keyexchange.SupportedCiphers(), c.Cipher) {
		errs = append(errs, fmt.Errorf("%w: cipher %q (supported: %s)", ErrInvalid, c.Cipher,
			strings.Join(keyexchange.SupportedCiphers(), ", ")))
	}
	if c.MaxFrameSize == 0 {
		errs = append(errs, fmt.Errorf("%w: max_frame_size must be positive", ErrInvalid))
	}
	if c.CompressionLevel < flate.HuffmanOnly || c.CompressionLevel > flate.BestCompression {
		errs = append(errs, fmt.Errorf("%w: compression_level %d out of range", ErrInvalid, c.CompressionLevel))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: negative connect_timeout", ErrInvalid))
	}
	if c.DialAttempts < 0 {
		errs = append(errs, fmt.Errorf("%w: negative dial_attempts", ErrInvalid))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel converts a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log_level %q", ErrInvalid, s)
	}
	return level, nil
}

// DialTimeout returns ConnectTimeout, or transport.DefaultConnectTimeout
// when it is zero.
func (c *Config) DialTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return transport.DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

// SocketConfig converts the peer configuration into socket settings.
// Serializer and loggers are left for the caller to set.
func (c *Config) SocketConfig() transport.SocketConfig {
	sc := transport.DefaultSocketConfig()
	sc.NewAgreement = keyexchange.NewFactory(keyexchange.Config{
		Curve:  c.Curve,
		Cipher: c.Cipher,
		Info:   c.Info,
	})
	sc.MaxFrameSize = c.MaxFrameSize
	sc.CompressionLevel = c.CompressionLevel
	sc.RequireCompressed = !c.AllowUncompressed
	return sc
}

// RetryPolicy returns the dial retry policy. logger may be nil.
func (c *Config) RetryPolicy(logger *slog.Logger) transport.RetryPolicy {
	p := transport.DefaultRetryPolicy()
	p.MaxAttempts = c.DialAttempts
	p.Logger = logger
	return p
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
