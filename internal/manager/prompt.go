package manager

import (
	"context"
	"errors"
	"time"

	"sessiond/internal/metrics"
	"sessiond/internal/protocol"
	"sessiond/internal/relay"
	"sessiond/internal/supervisor"
	"sessiond/pkg/types"
)

// Prompt sends input to the loaded model and waits for the complete reply.
// Only one unary prompt may be outstanding; a concurrent call is rejected
// with ErrPromptInFlight. On timeout or cancellation the request is not
// retracted: the session stays usable and the late reply is discarded.
func (m *Manager) Prompt(ctx context.Context, input string, opts *types.PromptOptions) (string, error) {
	var po types.PromptOptions
	if opts != nil {
		po = *opts
	}
	if err := po.Validate(); err != nil {
		return "", invalidOptionsError{err: err}
	}
	s, err := m.readySession()
	if err != nil {
		return "", err
	}
	if !m.promptMu.TryLock() {
		return "", ErrPromptInFlight
	}
	defer m.promptMu.Unlock()
	m.promptInFlight.Store(true)
	defer m.promptInFlight.Store(false)

	timeout := po.Timeout()
	if timeout == 0 {
		timeout = m.PromptTimeout()
	}
	start := time.Now()
	text, err := m.prompt(ctx, s, input, po, timeout)
	metrics.UnaryPrompt(promptOutcome(err), time.Since(start))
	if err != nil {
		m.log.Debug().Err(err).Dur("elapsed", time.Since(start)).Msg("prompt failed")
	}
	return text, err
}

func (m *Manager) prompt(ctx context.Context, s *session, input string, po types.PromptOptions, timeout time.Duration) (string, error) {
	env, err := protocol.New(protocol.SendPrompt, protocol.SendPromptPayload{Input: input, Options: po})
	if err != nil {
		return "", err
	}
	if err := s.w.Send(env); err != nil {
		if errors.Is(err, protocol.ErrMessageTooLarge) {
			return "", invalidOptionsError{err: err}
		}
		return "", workerExited(err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		reply, err := m.await(ctx, s, timer.C, ErrPromptTimeout, "prompt")
		if err != nil {
			if errors.Is(err, ErrPromptTimeout) || ctx.Err() != nil {
				s.stale++
			}
			return "", err
		}
		if s.stale > 0 && (reply.Type == protocol.Done || reply.Type == protocol.Error) {
			s.stale--
			metrics.StaleReplyDiscarded()
			m.log.Debug().Str("type", string(reply.Type)).Msg("discarding late reply")
			continue
		}
		switch reply.Type {
		case protocol.Done:
			return reply.Text(), nil
		case protocol.Error:
			return "", &EngineError{Message: reply.Text()}
		case protocol.Stopped:
			return "", ErrWorkerExited
		default:
			return "", &ProtocolViolationError{Op: "prompt", Got: reply.Type}
		}
	}
}

// await returns the next message from the worker, racing it against the
// deadline, the worker's exit and ctx.
func (m *Manager) await(ctx context.Context, s *session, deadline <-chan time.Time, timeoutErr error, op string) (protocol.Envelope, error) {
	inbox := s.w.Inbox()
	select {
	case msg, ok := <-inbox:
		return m.inboxResult(msg, ok, op)
	case <-s.w.Done():
		// A reply sent just before exit may still be queued.
		select {
		case msg, ok := <-inbox:
			return m.inboxResult(msg, ok, op)
		default:
			return protocol.Envelope{}, ErrWorkerExited
		}
	case <-deadline:
		return protocol.Envelope{}, timeoutErr
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func (m *Manager) inboxResult(msg supervisor.Message, ok bool, op string) (protocol.Envelope, error) {
	if !ok {
		return protocol.Envelope{}, ErrWorkerExited
	}
	if msg.Err != nil {
		return protocol.Envelope{}, &ProtocolViolationError{Op: op, Got: msg.Type, Err: msg.Err}
	}
	return msg.Envelope, nil
}

// PromptStreaming starts a streaming prompt and returns the lazy chunk
// sequence. Any number of streams may be open at once; there is no timeout,
// but cancelling ctx ends the stream. Closing the stream early stops
// generation without affecting the session.
func (m *Manager) PromptStreaming(ctx context.Context, input string, opts *types.PromptOptions) (*relay.Stream, error) {
	var po types.PromptOptions
	if opts != nil {
		po = *opts
	}
	if err := po.Validate(); err != nil {
		return nil, invalidOptionsError{err: err}
	}
	s, err := m.readySession()
	if err != nil {
		return nil, err
	}

	c, w, err := relay.Open()
	if err != nil {
		return nil, err
	}
	env, err := protocol.New(protocol.SendPrompt, protocol.SendPromptPayload{Input: input, Stream: true, Options: po})
	if err == nil {
		err = s.w.Send(env, w.File())
	}
	// The worker holds its own copy now; ours must go so the relay sees EOF
	// if the worker dies.
	_ = w.Close()
	if err != nil {
		_ = c.Close()
		if errors.Is(err, protocol.ErrMessageTooLarge) {
			return nil, invalidOptionsError{err: err}
		}
		return nil, workerExited(err)
	}

	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		_ = c.Close()
		return nil, ErrWorkerExited
	}
	s.streams[c] = struct{}{}
	m.mu.Unlock()
	metrics.StreamOpened()

	stop := context.AfterFunc(ctx, func() { _ = c.Abort(ctx.Err()) })
	stream := relay.NewStream(c,
		relay.WithFailure(func(msg string) error { return &EngineError{Message: msg} }),
		relay.OnClose(func() {
			stop()
			m.mu.Lock()
			delete(s.streams, c)
			m.mu.Unlock()
			metrics.StreamClosed()
		}),
	)
	m.log.Debug().Str("relay", c.ID()).Msg("stream opened")
	return stream, nil
}

func promptOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPromptTimeout):
		return "timeout"
	case IsWorkerExited(err):
		return "exited"
	case IsEngineError(err):
		return "engine_error"
	case IsProtocolViolation(err):
		return "protocol_violation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
