package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/objlink/objlink-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the big-endian length header.
	LengthPrefixSize = 4

	// DefaultMaxFrameSize is the default payload limit (16 MiB).
	DefaultMaxFrameSize = 16 << 20

	// MaxLogFrameDataSize caps the payload bytes copied into protocol log events.
	MaxLogFrameDataSize = 256
)

// Framing errors.
var (
	// ErrFrameTruncated means the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")

	// ErrMessageTooLarge means a frame exceeds the configured maximum.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty means a zero-length frame was written or read.
	ErrMessageEmpty = errors.New("message is empty")
)

// frameLog carries the optional protocol logger of a reader or writer.
type frameLog struct {
	logger log.Logger
	connID string
	remote string
}

func (fl *frameLog) record(data []byte, dir log.Direction) {
	if fl.logger == nil {
		return
	}
	shown := data
	truncated := false
	if len(shown) > MaxLogFrameDataSize {
		shown = shown[:MaxLogFrameDataSize]
		truncated = true
	}
	fl.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: fl.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryFrame,
		RemoteAddr:   fl.remote,
		Frame: &log.FrameEvent{
			Size:      LengthPrefixSize + len(data),
			Data:      append([]byte(nil), shown...),
			Truncated: truncated,
		},
	})
}

// FrameWriter writes length-prefixed frames. It is not safe for concurrent
// use; the socket only writes from one goroutine at a time.
type FrameWriter struct {
	w            io.Writer
	maxFrameSize uint32
	frameLog
}

// NewFrameWriter creates a writer with DefaultMaxFrameSize.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxFrameSize)
}

// NewFrameWriterWithMaxSize creates a writer with a custom limit.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{w: w, maxFrameSize: maxSize}
}

// SetLogger enables protocol logging of written frames.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.logger = logger
	fw.connID = connID
}

// WriteFrame writes the header and payload with a single Write call.
// There is no partial-write recovery; a short write is an error.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint64(len(data)) > uint64(fw.maxFrameSize) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxFrameSize)
	}

	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)

	if _, err := fw.w.Write(buf); err != nil {
		return &IOError{Op: "write frame", Err: err}
	}

	fw.record(data, log.DirectionOut)
	return nil
}

// FrameReader reads length-prefixed frames.
type FrameReader struct {
	r            io.Reader
	maxFrameSize uint32
	lengthBuf    [LengthPrefixSize]byte
	frameLog
}

// NewFrameReader creates a reader with DefaultMaxFrameSize.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxFrameSize)
}

// NewFrameReaderWithMaxSize creates a reader with a custom limit.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{r: r, maxFrameSize: maxSize}
}

// SetLogger enables protocol logging of read frames.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// ReadFrame returns the next payload.
//
// It returns io.EOF only when the stream ends before the first byte of a
// new frame. A stream ending anywhere inside a frame returns
// ErrFrameTruncated. Other stream failures are *IOError.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		switch {
		case err == io.EOF:
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: in length prefix", ErrFrameTruncated)
		default:
			return nil, &IOError{Op: "read length prefix", Err: err}
		}
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > fr.maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxFrameSize)
	}

	payload := make([]byte, length)
	if n, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got %d of %d payload bytes", ErrFrameTruncated, n, length)
		}
		return nil, &IOError{Op: "read payload", Err: err}
	}

	fr.record(payload, log.DirectionIn)
	return payload, nil
}

// Framer combines a FrameReader and a FrameWriter over one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a framer with DefaultMaxFrameSize.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxFrameSize)
}

// NewFramerWithMaxSize creates a framer with a custom limit.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger enables protocol logging in both directions. remote tags
// events with the peer address and may be empty.
func (f *Framer) SetLogger(logger log.Logger, connID, remote string) {
	f.FrameReader.SetLogger(logger, connID)
	f.FrameWriter.SetLogger(logger, connID)
	f.FrameReader.remote = remote
	f.FrameWriter.remote = remote
}

// FrameSize returns the on-wire size of a payload of the given length.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
