package manager

import (
	"time"

	"github.com/rs/zerolog"

	"sessiond/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultLoadTimeout   = 60 * time.Second
	defaultPromptTimeout = 20 * time.Second
	defaultStopGrace     = 3 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Spawner starts worker processes. Required.
	Spawner Spawner
	// Registry maps model aliases to paths.
	Registry []types.Model
	// DefaultModel is the alias used when create is called without a model.
	DefaultModel string

	LoadTimeout   time.Duration
	PromptTimeout time.Duration
	StopGrace     time.Duration

	Logger    *zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		spawner:      cfg.Spawner,
		registry:     append([]types.Model(nil), cfg.Registry...),
		defaultModel: cfg.DefaultModel,
		loadTimeout:  cfg.LoadTimeout,
		stopGrace:    cfg.StopGrace,
		publisher:    cfg.Publisher,
		state:        StateNone,
		startTime:    time.Now(),
	}
	if m.loadTimeout <= 0 {
		m.loadTimeout = defaultLoadTimeout
	}
	if m.stopGrace <= 0 {
		m.stopGrace = defaultStopGrace
	}
	m.SetPromptTimeout(cfg.PromptTimeout)
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	} else {
		m.log = zerolog.Nop()
	}
	return m
}
