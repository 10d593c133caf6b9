package manager

import (
	"context"
	"time"

	"sessiond/internal/protocol"
	"sessiond/internal/relay"
)

// Destroy tears down the session: it asks the worker to stop, waits up to the
// stop grace period for it to exit and kills it otherwise. It always leaves
// the manager with no session and never reports an error; failures along the
// way are logged. A create that is still loading is aborted.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.RLock()
	var loading *session
	if m.state == StateLoading && m.sess != nil {
		loading = m.sess
	}
	m.mu.RUnlock()
	if loading != nil {
		m.log.Info().Int("pid", loading.w.PID()).Msg("destroy aborts pending load")
		loading.w.Kill()
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.destroyLocked(ctx)
	return nil
}

// destroyLocked runs with the lifecycle lock held.
func (m *Manager) destroyLocked(ctx context.Context) {
	m.mu.Lock()
	s := m.sess
	if s == nil {
		m.state = StateNone
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	m.mu.Unlock()

	model := s.opts.ModelPath
	log := m.log.With().Str("model", model).Int("pid", s.w.PID()).Logger()
	m.publish("destroy_start", model, map[string]any{"pid": s.w.PID()})
	start := time.Now()

	if err := s.w.Send(protocol.Envelope{Type: protocol.Stop}); err != nil && !s.w.Exited() {
		log.Warn().Err(err).Msg("send stop")
	}

	forced := false
	grace := time.NewTimer(m.stopGrace)
	defer grace.Stop()
	select {
	case <-s.w.Done():
	case <-grace.C:
		forced = true
	case <-ctx.Done():
		forced = true
	}
	if forced {
		log.Warn().Dur("grace", m.stopGrace).Msg("worker did not stop in time; killing")
		s.w.Kill()
		m.reap(s)
	}

	m.mu.Lock()
	if m.sess == s {
		m.sess = nil
	}
	m.state = StateNone
	var orphans []*relay.ConsumerEnd
	if forced {
		orphans = s.takeStreams()
	}
	m.mu.Unlock()
	for _, c := range orphans {
		_ = c.Abort(ErrWorkerExited)
	}

	log.Info().Bool("forced", forced).Dur("elapsed", time.Since(start)).Msg("session destroyed")
	m.publish("destroy_done", model, map[string]any{"forced": forced})
}

// watch clears the session when its worker exits on its own.
func (m *Manager) watch(s *session) {
	<-s.w.Done()

	m.mu.Lock()
	if m.sess != s || m.state != StateReady {
		// Destroy or a failed load owns the cleanup.
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.state = StateNone
	killed := s.w.Killed()
	if !killed {
		m.crashes++
	}
	exitErr := s.w.ExitErr()
	if exitErr != nil {
		m.lastErr = "worker exited: " + exitErr.Error()
	} else {
		m.lastErr = "worker exited"
	}
	orphans := s.takeStreams()
	m.mu.Unlock()

	for _, c := range orphans {
		_ = c.Abort(ErrWorkerExited)
	}
	m.log.Error().Err(exitErr).Int("pid", s.w.PID()).Int("open_streams", len(orphans)).Msg("worker exited unexpectedly")
	m.publish("worker_crash", s.opts.ModelPath, map[string]any{"pid": s.w.PID(), "killed": killed})
}
