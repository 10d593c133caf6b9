package manager

import (
	"sessiond/internal/relay"
	"sessiond/internal/supervisor"
	"sessiond/pkg/types"
)

// State represents the lifecycle state of the session.
type State string

const (
	StateNone     State = "none"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateStopping State = "stopping"
)

// session is one worker process and the options it was loaded with.
type session struct {
	w    *supervisor.Worker
	opts types.CreateOptions

	// stale counts unary replies owed to callers that stopped waiting.
	// Guarded by Manager.promptMu.
	stale int

	// streams are the open relays; guarded by Manager.mu.
	streams map[*relay.ConsumerEnd]struct{}
}

func newSession(w *supervisor.Worker, opts types.CreateOptions) *session {
	return &session{w: w, opts: opts, streams: make(map[*relay.ConsumerEnd]struct{})}
}

// takeStreams detaches the open relays. Caller holds Manager.mu.
func (s *session) takeStreams() []*relay.ConsumerEnd {
	out := make([]*relay.ConsumerEnd, 0, len(s.streams))
	for c := range s.streams {
		out = append(out, c)
	}
	s.streams = make(map[*relay.ConsumerEnd]struct{})
	return out
}
