//go:build !llama

package llama

import (
	"context"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

// Name is the registry name of this engine.
const Name = "llama"

var llamaBuilt = false

func init() {
	engine.Register(Name, func() (engine.Engine, error) { return Engine{}, nil })
}

// Engine is registered even without the build tag so that selecting it
// produces a clear load error instead of an unknown-engine failure.
type Engine struct{}

func (Engine) Load(ctx context.Context, _ types.CreateOptions) (engine.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, engine.ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
