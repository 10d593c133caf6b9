// Package engine is the boundary between the worker and the inference
// runtime. The worker only sees Engine and Model; concrete runtimes register
// themselves by name.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"

	"sessiond/pkg/types"
)

// Engine loads models.
type Engine interface {
	Load(ctx context.Context, opts types.CreateOptions) (Model, error)
}

// Model is a loaded model bound to one session configuration.
type Model interface {
	// Prompt runs a prompt to completion.
	Prompt(ctx context.Context, input string, opts types.PromptOptions) (string, error)
	// PromptStreaming yields chunks as they are produced. A non-nil error
	// ends the sequence. Cancelling ctx stops generation.
	PromptStreaming(ctx context.Context, input string, opts types.PromptOptions) iter.Seq2[string, error]
	// Destroy releases the model. The model must not be used afterwards.
	Destroy() error
}

// Factory builds an Engine.
type Factory func() (Engine, error)

// dependencyUnavailableError signals a runtime that is not compiled in or
// cannot be initialised on this host.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes an engine available by name. It panics on duplicates.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic("engine: Register called twice for " + name)
	}
	factories[name] = f
}

// New builds the named engine.
func New(name string) (Engine, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (available: %v)", name, Names())
	}
	return f()
}

// Names lists registered engines in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
