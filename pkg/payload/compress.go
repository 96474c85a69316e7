package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// DefaultMaxInflatedSize bounds Decompress output.
const DefaultMaxInflatedSize = 64 << 20

// ErrInflatedTooLarge is returned when a payload inflates beyond the limit.
var ErrInflatedTooLarge = errors.New("inflated payload too large")

// Compress deflates data at the given level (flate.BestCompression in the
// pipeline).
func Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress inflates a complete raw deflate stream. It fails if the stream
// is corrupt, truncated, followed by trailing bytes, or inflates to more
// than limit bytes (limit <= 0 means DefaultMaxInflatedSize).
func Decompress(data []byte, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxInflatedSize
	}

	src := bytes.NewReader(data)
	r := flate.NewReader(src)
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrInflatedTooLarge, limit)
	}
	if src.Len() != 0 {
		return nil, fmt.Errorf("flate: %d trailing bytes after end of stream", src.Len())
	}
	return out, nil
}
