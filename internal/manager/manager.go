package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sessiond/internal/registry"
	"sessiond/internal/supervisor"
	"sessiond/pkg/types"
)

// Spawner starts worker processes; *supervisor.Supervisor implements it.
type Spawner interface {
	Spawn() (*supervisor.Worker, error)
}

type Manager struct {
	spawner      Spawner
	registry     []types.Model
	defaultModel string
	loadTimeout  time.Duration
	stopGrace    time.Duration
	promptNanos  atomic.Int64
	publisher    EventPublisher
	log          zerolog.Logger
	startTime    time.Time

	// lifecycle serializes create and destroy.
	lifecycle sync.Mutex
	// promptMu admits one unary prompt at a time.
	promptMu       sync.Mutex
	promptInFlight atomic.Bool

	mu      sync.RWMutex
	state   State
	sess    *session
	lastErr string
	spawns  uint64
	crashes uint64
}

// New builds a Manager with default timeouts.
func New(sp Spawner, reg []types.Model, defaultModel string) *Manager {
	return NewWithConfig(ManagerConfig{Spawner: sp, Registry: reg, DefaultModel: defaultModel})
}

// SetEventPublisher installs a publisher; nil restores the no-op default.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

// SetPromptTimeout changes the default unary prompt timeout for prompts issued
// from now on. Zero or negative restores the default.
func (m *Manager) SetPromptTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultPromptTimeout
	}
	m.promptNanos.Store(int64(d))
}

// PromptTimeout returns the default unary prompt timeout.
func (m *Manager) PromptTimeout() time.Duration { return time.Duration(m.promptNanos.Load()) }

// Ready reports whether a model is loaded and accepting prompts.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.sess != nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// return a shallow copy to avoid external mutation
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// SetRegistry replaces the alias registry, e.g. after a models directory rescan.
func (m *Manager) SetRegistry(reg []types.Model) {
	m.mu.Lock()
	m.registry = append([]types.Model(nil), reg...)
	m.mu.Unlock()
}

func (m *Manager) getModelByID(id string) (types.Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return registry.Lookup(m.registry, id)
}

// readySession returns the current session if prompts may be sent to it.
func (m *Manager) readySession() (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady || m.sess == nil {
		return nil, ErrNotReady
	}
	return m.sess, nil
}

// Close tears the session down; used at shutdown.
func (m *Manager) Close() error {
	return m.Destroy(context.Background())
}
