package transport

import (
	"log/slog"

	"github.com/klauspost/compress/flate"
	"github.com/objlink/objlink-go/pkg/keyexchange"
	"github.com/objlink/objlink-go/pkg/log"
	"github.com/objlink/objlink-go/pkg/payload"
	"github.com/objlink/objlink-go/pkg/wire"
)

// SocketConfig configures a Socket.
type SocketConfig struct {
	// MaxFrameSize bounds frames in both directions (default: 16 MiB).
	MaxFrameSize uint32

	// IDGenerator assigns the connection identity (default: UUIDs).
	IDGenerator IDGenerator

	// NewAgreement returns a fresh key agreement per socket
	// (default: X25519 with XChaCha20-Poly1305).
	NewAgreement func() keyexchange.Agreement

	// Serializer converts objects to bytes. Both peers must agree on it
	// (default: wire.NewCBORSerializer()).
	Serializer wire.Serializer

	// CompressionLevel is the deflate level (default: best compression).
	CompressionLevel int

	// RequireCompressed rejects inbound payloads that do not inflate
	// instead of deserializing them as-is.
	RequireCompressed bool

	// MaxInflatedSize bounds inbound decompression (default: 64 MiB).
	MaxInflatedSize int64

	// Role tags protocol log events with the local side.
	Role log.Role

	// Logger receives operational debug output. Nil disables it.
	Logger *slog.Logger

	// ProtocolLogger receives protocol events. Nil disables it.
	ProtocolLogger log.Logger
}

// DefaultSocketConfig returns the default socket configuration.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		MaxFrameSize:     DefaultMaxFrameSize,
		IDGenerator:      UUIDs,
		NewAgreement:     keyexchange.NewFactory(keyexchange.DefaultConfig()),
		Serializer:       wire.NewCBORSerializer(),
		CompressionLevel: flate.BestCompression,
		MaxInflatedSize:  payload.DefaultMaxInflatedSize,
	}
}

// withDefaults fills zero fields from DefaultSocketConfig.
func (c SocketConfig) withDefaults() SocketConfig {
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.IDGenerator == nil {
		c.IDGenerator = UUIDs
	}
	if c.NewAgreement == nil {
		c.NewAgreement = keyexchange.NewFactory(keyexchange.DefaultConfig())
	}
	if c.Serializer == nil {
		c.Serializer = wire.NewCBORSerializer()
	}
	if c.CompressionLevel == 0 {
		c.CompressionLevel = flate.BestCompression
	}
	if c.MaxInflatedSize <= 0 {
		c.MaxInflatedSize = payload.DefaultMaxInflatedSize
	}
	return c
}

func (c SocketConfig) codecConfig(connID string) payload.Config {
	return payload.Config{
		Level:             c.CompressionLevel,
		RequireCompressed: c.RequireCompressed,
		MaxInflatedSize:   c.MaxInflatedSize,
		Logger:            c.Logger,
		ProtocolLogger:    c.ProtocolLogger,
		ConnectionID:      connID,
	}
}
