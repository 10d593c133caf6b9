package manager

import (
	"context"
	"errors"
	"strings"
	"time"

	"sessiond/internal/metrics"
	"sessiond/internal/protocol"
	"sessiond/pkg/types"
)

// Create ensures a model session configured by opts is ready. If the current
// session was loaded with equal options it is reused and no process is
// started; otherwise the current worker is destroyed first and a new one is
// spawned and asked to load the model. A nil opts means default options.
func (m *Manager) Create(ctx context.Context, opts *types.CreateOptions) error {
	o, err := m.resolve(opts)
	if err != nil {
		return err
	}
	if !m.lifecycle.TryLock() {
		return ErrTransitionInProgress
	}
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	cur, state := m.sess, m.state
	m.mu.RUnlock()
	if cur != nil && state == StateReady && cur.opts.Equal(o) {
		m.log.Debug().Str("model", o.ModelPath).Int("pid", cur.w.PID()).Msg("reusing worker")
		m.publish("session_reuse", o.ModelPath, map[string]any{"pid": cur.w.PID()})
		return nil
	}
	if cur != nil {
		m.destroyLocked(ctx)
	}
	return m.load(ctx, o)
}

// resolve applies the default model, maps an alias to its path and validates.
// The result carries the path only.
func (m *Manager) resolve(opts *types.CreateOptions) (types.CreateOptions, error) {
	var o types.CreateOptions
	if opts != nil {
		o = opts.Clone()
	}
	if strings.TrimSpace(o.ModelPath) == "" && strings.TrimSpace(o.ModelAlias) == "" {
		o.ModelAlias = m.defaultModel
	}
	if o.ModelAlias != "" && o.ModelPath == "" {
		mdl, ok := m.getModelByID(o.ModelAlias)
		if !ok {
			return o, ErrModelNotFound(o.ModelAlias)
		}
		o.ModelPath = mdl.Path
	}
	if err := o.Validate(); err != nil {
		return o, invalidOptionsError{err: err}
	}
	// Sessions are keyed by path; an alias and its path are the same model.
	o.ModelAlias = ""
	return o, nil
}

func (m *Manager) load(ctx context.Context, o types.CreateOptions) error {
	log := m.log.With().Str("model", o.ModelPath).Logger()
	m.mu.Lock()
	m.state = StateLoading
	m.lastErr = ""
	m.mu.Unlock()
	m.publish("load_start", o.ModelPath, nil)

	w, err := m.spawner.Spawn()
	if err != nil {
		log.Error().Err(err).Msg("spawn failed")
		m.fail(nil, err)
		metrics.ModelLoad("spawn_error")
		return err
	}
	s := newSession(w, o)
	m.mu.Lock()
	m.sess = s
	m.spawns++
	m.mu.Unlock()
	go m.watch(s)

	start := time.Now()
	env, err := protocol.New(protocol.LoadModel, o)
	if err == nil {
		err = w.Send(env)
	}
	if err != nil {
		err = workerExited(err)
		m.abandon(s, err)
		metrics.ModelLoad("exited")
		return err
	}

	timer := time.NewTimer(m.loadTimeout)
	defer timer.Stop()
	reply, err := m.await(ctx, s, timer.C, ErrLoadTimeout, "load")
	if err == nil {
		switch reply.Type {
		case protocol.ModelLoaded:
		case protocol.Error:
			err = &EngineError{Message: reply.Text()}
		default:
			err = &ProtocolViolationError{Op: "load", Got: reply.Type}
		}
	}
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("load failed")
		m.abandon(s, err)
		metrics.ModelLoad(loadOutcome(err))
		return err
	}

	m.mu.Lock()
	if m.sess != s {
		// The worker died between its reply and now; the watcher already cleared it.
		m.mu.Unlock()
		metrics.ModelLoad("exited")
		return ErrWorkerExited
	}
	m.state = StateReady
	m.mu.Unlock()
	metrics.ModelLoad("ok")
	log.Info().Int("pid", w.PID()).Dur("elapsed", time.Since(start)).Msg("model loaded")
	m.publish("load_ready", o.ModelPath, map[string]any{"pid": w.PID()})
	return nil
}

// abandon kills a worker whose load failed and clears the session.
func (m *Manager) abandon(s *session, cause error) {
	s.w.Kill()
	m.reap(s)
	m.fail(s, cause)
}

// fail records cause and drops s (or any session when s is nil) to none.
func (m *Manager) fail(s *session, cause error) {
	m.mu.Lock()
	if s == nil || m.sess == s {
		m.sess = nil
		m.state = StateNone
	}
	m.lastErr = cause.Error()
	m.mu.Unlock()
	m.publish("load_failed", "", map[string]any{"error": cause.Error()})
}

// reap waits for a killed worker to be collected.
func (m *Manager) reap(s *session) {
	select {
	case <-s.w.Done():
	case <-time.After(5 * time.Second):
		m.log.Error().Int("pid", s.w.PID()).Msg("worker not reaped after kill")
	}
}

func loadOutcome(err error) string {
	switch {
	case errors.Is(err, ErrLoadTimeout):
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
