package manager

import (
	"time"

	"sessiond/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		State:          string(m.state),
		PromptInFlight: m.promptInFlight.Load(),
		LastError:      m.lastErr,
		SpawnsTotal:    m.spawns,
		CrashesTotal:   m.crashes,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if s := m.sess; s != nil {
		resp.WorkerPID = s.w.PID()
		resp.OpenStreams = len(s.streams)
		if m.state == StateReady {
			active := s.opts.Clone()
			resp.Active = &active
		}
	}
	return resp
}
