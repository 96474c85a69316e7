package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/objlink/objlink-go/pkg/log"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "small message",
			payload: []byte("hello"),
		},
		{
			name:    "medium message",
			payload: bytes.Repeat([]byte("x"), 1000),
		},
		{
			name:    "large message",
			payload: bytes.Repeat([]byte("y"), 1<<20),
		},
		{
			name:    "single byte",
			payload: []byte{0x42},
		},
		{
			name:    "binary data",
			payload: []byte{0x00, 0xFF, 0x7F, 0x80},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			writer := NewFrameWriter(buf)
			if err := writer.WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}

			expectedSize := FrameSize(len(tt.payload))
			if buf.Len() != expectedSize {
				t.Errorf("frame size = %d, want %d", buf.Len(), expectedSize)
			}

			reader := NewFrameReader(buf)
			got, err := reader.ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestFrameHeaderIsBigEndian(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := NewFrameWriter(buf).WriteFrame(make([]byte, 0x0102)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if got := buf.Bytes()[:LengthPrefixSize]; !bytes.Equal(got, []byte{0, 0, 1, 2}) {
		t.Errorf("header = %x, want 00000102", got)
	}
}

func TestFrameWriterEmptyMessage(t *testing.T) {
	buf := new(bytes.Buffer)
	err := NewFrameWriter(buf).WriteFrame([]byte{})
	if !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %d bytes for a rejected frame", buf.Len())
	}
}

func TestFrameWriterTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriterWithMaxSize(buf, 100)

	err := writer.WriteFrame(make([]byte, 101))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)
	header := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint32(header, 1000)
	buf.Write(header)

	_, err := NewFrameReaderWithMaxSize(buf, 100).ReadFrame()
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderEmptyFrame(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	_, err := NewFrameReader(buf).ReadFrame()
	if !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
}

func TestFrameReaderCleanEOF(t *testing.T) {
	_, err := NewFrameReader(new(bytes.Buffer)).ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestFrameReaderTruncatedHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0})
	_, err := NewFrameReader(buf).ReadFrame()
	if !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("expected ErrFrameTruncated, got %v", err)
	}
	if err == io.EOF {
		t.Error("truncated header reported as clean EOF")
	}
}

func TestFrameReaderTruncatedPayload(t *testing.T) {
	// Header declares 100 bytes, only 40 arrive.
	buf := new(bytes.Buffer)
	header := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint32(header, 100)
	buf.Write(header)
	buf.Write(bytes.Repeat([]byte{0xAB}, 40))

	got, err := NewFrameReader(buf).ReadFrame()
	if !errors.Is(err, ErrFrameTruncated) {
		t.Fatalf("expected ErrFrameTruncated, got %v", err)
	}
	if got != nil {
		t.Errorf("got %d bytes from a truncated frame", len(got))
	}
}

func TestFrameReaderHeaderOnly(t *testing.T) {
	buf := new(bytes.Buffer)
	header := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint32(header, 8)
	buf.Write(header)

	_, err := NewFrameReader(buf).ReadFrame()
	if !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("expected ErrFrameTruncated, got %v", err)
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestFrameIOErrors(t *testing.T) {
	boom := errors.New("boom")

	_, err := NewFrameReader(failingReader{boom}).ReadFrame()
	if !errors.Is(err, ErrIO) || !errors.Is(err, boom) {
		t.Errorf("read: expected ErrIO wrapping boom, got %v", err)
	}

	err = NewFrameWriter(failingWriter{boom}).WriteFrame([]byte("x"))
	if !errors.Is(err, ErrIO) || !errors.Is(err, boom) {
		t.Errorf("write: expected ErrIO wrapping boom, got %v", err)
	}
}

func TestMultipleFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	framer := NewFramer(buf)

	messages := [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	}
	for _, msg := range messages {
		if err := framer.WriteFrame(msg); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	for i, want := range messages {
		got, err := framer.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: got %q, want %q", i, got, want)
		}
	}

	if _, err := framer.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

func TestFramerProtocolLogging(t *testing.T) {
	var mu sync.Mutex
	var events []log.Event
	logger := log.LoggerFunc(func(e log.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	buf := new(bytes.Buffer)
	framer := NewFramer(buf)
	framer.SetLogger(logger, "conn-1", "10.0.0.1:7420")

	big := bytes.Repeat([]byte{1}, MaxLogFrameDataSize+10)
	if err := framer.WriteFrame(big); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := framer.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	out, in := events[0], events[1]
	if out.Direction != log.DirectionOut || in.Direction != log.DirectionIn {
		t.Errorf("directions = %v, %v", out.Direction, in.Direction)
	}
	for _, e := range events {
		if e.Category != log.CategoryFrame || e.Frame == nil {
			t.Fatalf("unexpected event %+v", e)
		}
		if e.ConnectionID != "conn-1" || e.RemoteAddr != "10.0.0.1:7420" {
			t.Errorf("event not tagged: %q %q", e.ConnectionID, e.RemoteAddr)
		}
		if e.Frame.Size != FrameSize(len(big)) {
			t.Errorf("frame size = %d, want %d", e.Frame.Size, FrameSize(len(big)))
		}
		if !e.Frame.Truncated || len(e.Frame.Data) != MaxLogFrameDataSize {
			t.Errorf("expected truncated data of %d bytes, got %d (truncated=%v)",
				MaxLogFrameDataSize, len(e.Frame.Data), e.Frame.Truncated)
		}
	}
}
