package payload

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/objlink/objlink-go/pkg/keyexchange"
	"github.com/objlink/objlink-go/pkg/log"
	"github.com/objlink/objlink-go/pkg/wire"
)

// Pipeline errors. EncodeError and DecodeError match these with errors.Is.
var (
	ErrEncode = errors.New("payload encode failed")
	ErrDecode = errors.New("payload decode failed")
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageSerialize   Stage = "serialize"
	StageCompress    Stage = "compress"
	StageEncrypt     Stage = "encrypt"
	StageDecrypt     Stage = "decrypt"
	StageDecompress  Stage = "decompress"
	StageDeserialize Stage = "deserialize"

	// StageFrame is reported by the transport when an encoded payload does
	// not fit in a frame.
	StageFrame Stage = "frame"
)

// EncodeError reports an outbound failure. The object was not sent.
type EncodeError struct {
	Stage Stage
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("payload encode: %s: %v", e.Stage, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrEncode) true.
func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

// DecodeError reports an inbound failure. It is fatal to the connection.
type DecodeError struct {
	Stage Stage
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("payload decode: %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) true.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// typeNamer is implemented by serializers that can name an object's type,
// such as wire.CBORSerializer. Used for protocol logging only.
type typeNamer interface {
	TypeName(obj any) (string, bool)
}

// Config tunes a Codec.
type Config struct {
	// Level is the deflate level. Zero means flate.BestCompression.
	Level int

	// RequireCompressed turns inbound inflate failures into DecodeErrors
	// instead of passing the raw bytes on.
	RequireCompressed bool

	// MaxInflatedSize bounds inbound decompression (default 64 MiB).
	MaxInflatedSize int64

	// Logger receives operational debug output. Nil disables it.
	Logger *slog.Logger

	// ProtocolLogger receives PayloadEvents. Nil disables it.
	ProtocolLogger log.Logger

	// ConnectionID tags protocol log events.
	ConnectionID string
}

// Codec is the bidirectional payload pipeline for one connection.
// Encode and Decode may run concurrently.
type Codec struct {
	serializer wire.Serializer
	cipher     keyexchange.Cipher
	cfg        Config
	plog       log.Logger
}

// NewCodec builds a pipeline over serializer and cipher.
func NewCodec(serializer wire.Serializer, cipher keyexchange.Cipher, cfg Config) *Codec {
	if cfg.Level == 0 {
		cfg.Level = flate.BestCompression
	}
	if cfg.MaxInflatedSize <= 0 {
		cfg.MaxInflatedSize = DefaultMaxInflatedSize
	}
	return &Codec{
		serializer: serializer,
		cipher:     cipher,
		cfg:        cfg,
		plog:       log.OrNoop(cfg.ProtocolLogger),
	}
}

// Encode turns obj into a secure payload: encrypt(compress(serialize(obj))).
func (c *Codec) Encode(obj any) ([]byte, error) {
	serialized, err := c.serializer.Serialize(obj)
	if err != nil {
		return nil, &EncodeError{Stage: StageSerialize, Err: err}
	}

	compressed, err := Compress(serialized, c.cfg.Level)
	if err != nil {
		return nil, &EncodeError{Stage: StageCompress, Err: err}
	}

	sealed, err := c.cipher.Encrypt(compressed)
	if err != nil {
		return nil, &EncodeError{Stage: StageEncrypt, Err: err}
	}

	c.logPayload(log.DirectionOut, obj, len(serialized), len(sealed), false)
	return sealed, nil
}

// Decode reverses Encode. Only the inflate step may fail without error.
func (c *Codec) Decode(data []byte) (any, error) {
	plain, err := c.cipher.Decrypt(data)
	if err != nil {
		return nil, &DecodeError{Stage: StageDecrypt, Err: err}
	}

	serialized, err := Decompress(plain, c.cfg.MaxInflatedSize)
	uncompressed := false
	if err != nil {
		if c.cfg.RequireCompressed {
			return nil, &DecodeError{Stage: StageDecompress, Err: err}
		}
		c.debugLog("inflate failed, using payload as-is", "conn_id", c.cfg.ConnectionID, "size", len(plain), "error", err)
		c.plog.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.cfg.ConnectionID,
			Direction:    log.DirectionIn,
			Layer:        log.LayerCodec,
			Category:     log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerCodec,
				Message: err.Error(),
				Context: string(StageDecompress),
			},
		})
		serialized = plain
		uncompressed = true
	}

	obj, err := c.serializer.Deserialize(serialized)
	if err != nil {
		return nil, &DecodeError{Stage: StageDeserialize, Err: err}
	}

	c.logPayload(log.DirectionIn, obj, len(serialized), len(data), uncompressed)
	return obj, nil
}

func (c *Codec) logPayload(dir log.Direction, obj any, serializedSize, wireSize int, uncompressed bool) {
	if _, noop := c.plog.(log.NoopLogger); noop {
		return
	}
	var typeName string
	if n, ok := c.serializer.(typeNamer); ok {
		typeName, _ = n.TypeName(obj)
	}
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.cfg.ConnectionID,
		Direction:    dir,
		Layer:        log.LayerCodec,
		Category:     log.CategoryPayload,
		Payload: &log.PayloadEvent{
			ObjectType:     typeName,
			SerializedSize: serializedSize,
			WireSize:       wireSize,
			Uncompressed:   uncompressed,
		},
	})
}

func (c *Codec) debugLog(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(msg, args...)
	}
}
