package transport

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/objlink/objlink-go/pkg/payload"
)

// Encoder turns an object into a frame payload.
// Implemented by *payload.Codec.
type Encoder interface {
	Encode(obj any) ([]byte, error)
}

// FrameSink writes one frame to the stream.
// Implemented by *FrameWriter and *Framer.
type FrameSink interface {
	WriteFrame(data []byte) error
}

// WriteQueue serializes all outbound frames through one writer goroutine.
//
// WriteObject encodes on the caller's goroutine and appends the result to
// a FIFO. The writer pops frames in submission order and writes them to the
// sink. Suspend drops everything still pending and stops the writer for
// good; there is no restart.
type WriteQueue struct {
	enc     Encoder
	sink    FrameSink
	closer  io.Closer
	onError func(error)
	logger  *slog.Logger

	// maxFrameSize rejects oversized payloads at submit time. Zero
	// disables the check.
	maxFrameSize uint32

	// submitMu spans encode and enqueue so that frames enter the FIFO in
	// the order WriteObject was called.
	submitMu sync.Mutex

	mu      sync.Mutex
	pending [][]byte
	stopped bool

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	started atomic.Bool
	exited  chan struct{}
}

// NewWriteQueue creates a stopped-until-Start queue. closer, if not nil, is
// closed after a write error. onError, if not nil, receives that error
// first.
func NewWriteQueue(enc Encoder, sink FrameSink, closer io.Closer, onError func(error)) *WriteQueue {
	return &WriteQueue{
		enc:     enc,
		sink:    sink,
		closer:  closer,
		onError: onError,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// SetLogger sets the operational logger. Nil disables logging.
func (q *WriteQueue) SetLogger(logger *slog.Logger) {
	q.logger = logger
}

// SetMaxFrameSize makes WriteObject reject payloads the sink would refuse,
// so that an oversized object fails locally instead of failing the writer.
func (q *WriteQueue) SetMaxFrameSize(size uint32) {
	q.maxFrameSize = size
}

// Start launches the writer goroutine. Calls after the first, or after
// Suspend, do nothing.
func (q *WriteQueue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	go q.run()
}

// WriteObject encodes obj and queues the frame. After Suspend it does
// nothing and returns nil. An encode failure, including a payload that is
// empty or larger than the frame limit, is returned to the caller and
// nothing is queued.
func (q *WriteQueue) WriteObject(obj any) error {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	if q.Stopped() {
		return nil
	}

	data, err := q.enc.Encode(obj)
	if err != nil {
		return err
	}
	if err := q.checkSize(len(data)); err != nil {
		return err
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.pending = append(q.pending, data)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *WriteQueue) checkSize(n int) error {
	switch {
	case n == 0:
		return &payload.EncodeError{Stage: payload.StageFrame, Err: ErrMessageEmpty}
	case q.maxFrameSize > 0 && uint64(n) > uint64(q.maxFrameSize):
		return &payload.EncodeError{
			Stage: payload.StageFrame,
			Err:   fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, q.maxFrameSize),
		}
	}
	return nil
}

// Suspend stops the queue. Pending frames are discarded, not flushed.
// Safe to call any number of times from any goroutine.
func (q *WriteQueue) Suspend() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		dropped := len(q.pending)
		q.stopped = true
		q.pending = nil
		q.mu.Unlock()

		close(q.done)
		if q.started.CompareAndSwap(false, true) {
			close(q.exited)
		}
		q.debugLog("write queue suspended", "dropped", dropped)
	})
}

// Pending returns the number of queued frames not yet handed to the sink.
func (q *WriteQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stopped reports whether the queue has been suspended.
func (q *WriteQueue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Done is closed once the writer goroutine has exited, or on Suspend if it
// never started.
func (q *WriteQueue) Done() <-chan struct{} {
	return q.exited
}

func (q *WriteQueue) run() {
	defer close(q.exited)

	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		for {
			data, ok := q.pop()
			if !ok {
				break
			}
			if err := q.sink.WriteFrame(data); err != nil {
				q.fail(err)
				return
			}
		}
	}
}

// pop removes the oldest frame. It reports false when the queue is empty
// or stopped.
func (q *WriteQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || len(q.pending) == 0 {
		return nil, false
	}
	data := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return data, true
}

func (q *WriteQueue) fail(err error) {
	// A write racing with Suspend fails because the stream was closed
	// underneath it; that is not an error worth reporting.
	if q.Stopped() {
		return
	}
	q.debugLog("write failed, stopping writer", "error", err)
	q.Suspend()
	if q.onError != nil {
		q.onError(err)
	}
	if q.closer != nil {
		_ = q.closer.Close()
	}
}

func (q *WriteQueue) debugLog(msg string, args ...any) {
	if q.logger != nil {
		q.logger.Debug(msg, args...)
	}
}
