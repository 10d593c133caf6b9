package relay

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"sessiond/internal/protocol"
)

// Stream is the consumer-facing lazy sequence of chunks for one streaming
// prompt. It is single pass: once it reports done, an error, or is closed,
// a new prompt is needed to read again.
type Stream struct {
	end     *ConsumerEnd
	failure func(string) error
	onClose func()

	text     string
	err      error
	finished bool

	closed    atomic.Bool
	closeOnce sync.Once
}

// StreamOption customises a Stream.
type StreamOption func(*Stream)

// WithFailure maps an error message received from the worker to the error
// returned by Err.
func WithFailure(fn func(msg string) error) StreamOption {
	return func(s *Stream) { s.failure = fn }
}

// OnClose registers fn to run exactly once when the stream is released.
func OnClose(fn func()) StreamOption {
	return func(s *Stream) { s.onClose = fn }
}

// NewStream wraps a consumer end.
func NewStream(end *ConsumerEnd, opts ...StreamOption) *Stream {
	s := &Stream{end: end, failure: func(msg string) error { return errors.New(msg) }}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID identifies the underlying relay.
func (s *Stream) ID() string { return s.end.ID() }

// Next advances to the next chunk. It returns false once the stream has
// completed, failed or been closed; check Err afterwards.
func (s *Stream) Next() bool {
	if s.finished || s.closed.Load() {
		return false
	}
	m, err := s.end.Recv()
	if err != nil {
		switch {
		case errors.Is(err, io.EOF) && s.closed.Load():
			err = nil
		case errors.Is(err, io.EOF):
			err = ErrRelayClosed
		}
		s.finish(err)
		return false
	}
	switch m.Type {
	case protocol.RelayChunk:
		s.text = m.Chunk
		return true
	case protocol.RelayDone:
		s.finish(nil)
	case protocol.RelayError:
		s.finish(s.failure(m.Error))
	}
	return false
}

func (s *Stream) finish(err error) {
	s.finished = true
	s.text = ""
	s.err = err
	_ = s.Close()
}

// Text returns the chunk read by the last successful Next.
func (s *Stream) Text() string { return s.text }

// Err returns the error that ended the stream, or nil on clean completion.
func (s *Stream) Err() error { return s.err }

// Close releases the relay. Closing before done tells the worker to stop
// generating; it does not affect the session or other streams. Close may be
// called from a goroutine other than the reader.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.end.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}

// Chunks adapts the stream to a range-over-func sequence. A terminal error is
// yielded once as the final element. Breaking out of the loop closes the stream.
func (s *Stream) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Text(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield("", err)
		}
	}
}

// Collect reads the stream to completion and returns the concatenated text.
func (s *Stream) Collect() (string, error) {
	var out []byte
	for chunk, err := range s.Chunks() {
		if err != nil {
			return string(out), err
		}
		out = append(out, chunk...)
	}
	return string(out), nil
}

// Sink receives relay messages on another transport.
type Sink interface {
	Send(ctx context.Context, m protocol.RelayMessage) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, m protocol.RelayMessage) error

func (f SinkFunc) Send(ctx context.Context, m protocol.RelayMessage) error { return f(ctx, m) }

// Pipe forwards the stream to sink until it completes, fails, or ctx is done.
// The terminal done or error message is forwarded as well. The stream is
// always closed on return.
func Pipe(ctx context.Context, s *Stream, sink Sink) error {
	defer s.Close()
	stop := context.AfterFunc(ctx, func() { _ = s.end.Abort(ctx.Err()) })
	defer stop()

	for s.Next() {
		if err := sink.Send(ctx, protocol.Chunk(s.Text())); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if serr := sink.Send(ctx, protocol.Failure(err.Error())); serr != nil {
			return serr
		}
		return err
	}
	return sink.Send(ctx, protocol.Finished())
}
