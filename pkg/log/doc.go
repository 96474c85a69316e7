// Package log provides structured protocol logging for objlink connections.
//
// Protocol logging is separate from operational logging (slog). It records a
// machine-readable trace of what happened on each connection: frames sent
// and received, handshake steps, payload pipeline decisions, state changes
// and errors.
//
// # Basic Usage
//
//	// Console output during development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary trace file
//	fl, _ := log.NewFileLogger("/var/log/objlink/peer.olog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Layers
//
//   - Transport: raw frames (FrameEvent) and connection state changes
//   - Crypto: handshake public-key exchange (HandshakeEvent)
//   - Codec: payload pipeline results (PayloadEvent)
//
// # File Format
//
// Trace files are a plain concatenation of CBOR-encoded events (.olog).
// The objlink-log command views, filters, exports and summarizes them.
package log
