//go:build llama

// Package llama runs GGUF models in-process through go-llama.cpp. It is only
// compiled with the 'llama' build tag; default builds get a stub that fails
// every load.
package llama

import (
	"context"
	"errors"
	"iter"
	"runtime"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

// Name is the registry name of this engine.
const Name = "llama"

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

func init() {
	engine.Register(Name, func() (engine.Engine, error) { return Engine{}, nil })
}

type Engine struct{}

func (Engine) Load(ctx context.Context, opts types.CreateOptions) (engine.Model, error) {
	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, err := llama.New(opts.ModelPath, llama.SetContext(zn(opts.ContextSize, 2048)))
	if err != nil {
		return nil, err
	}
	return &model{llm: l, opts: opts.Clone()}, nil
}

// model owns one loaded llama context. Predictions are serialized because the
// token callback is per model.
type model struct {
	mu   sync.Mutex
	llm  *llama.LLama
	opts types.CreateOptions
}

func (m *model) predict(ctx context.Context, input string, po types.PromptOptions, onToken func(string) bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.llm == nil {
		return "", errors.New("llama model not initialized")
	}
	m.llm.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil {
			return false
		}
		if onToken == nil {
			return true
		}
		return onToken(tok)
	})
	defer m.llm.SetTokenCallback(nil)

	text, err := m.llm.Predict(buildPrompt(m.opts, input, po), predictOptions(m.opts)...)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return text, err
}

func (m *model) Prompt(ctx context.Context, input string, opts types.PromptOptions) (string, error) {
	return m.predict(ctx, input, opts, nil)
}

func (m *model) PromptStreaming(ctx context.Context, input string, opts types.PromptOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		tokens := make(chan string, 64)
		errc := make(chan error, 1)
		go func() {
			_, err := m.predict(ctx, input, opts, func(tok string) bool {
				select {
				case tokens <- tok:
					return true
				case <-ctx.Done():
					return false
				}
			})
			close(tokens)
			errc <- err
		}()

		for tok := range tokens {
			if !yield(tok, nil) {
				cancel()
				for range tokens {
				}
				<-errc
				return
			}
		}
		if err := <-errc; err != nil {
			yield("", err)
		}
	}
}

func (m *model) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.llm != nil {
		m.llm.Free()
		m.llm = nil
	}
	return nil
}

// buildPrompt lays out the session context as plain text ahead of the input.
func buildPrompt(opts types.CreateOptions, input string, po types.PromptOptions) string {
	var b strings.Builder
	if opts.SystemPrompt != "" {
		b.WriteString(opts.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, msg := range opts.InitialPrompts {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	if len(po.ResponseJSONSchema) > 0 {
		b.WriteString("Respond only with JSON matching this schema: ")
		b.Write(po.ResponseJSONSchema)
		b.WriteString("\n")
	}
	b.WriteString(input)
	return b.String()
}

func predictOptions(opts types.CreateOptions) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetThreads(zn(opts.Threads, runtime.NumCPU())),
		llama.SetTopK(zn(opts.TopK, llama.DefaultOptions.TopK)),
		llama.SetTopP(zf(float32(opts.TopP), llama.DefaultOptions.TopP)),
		llama.SetTemperature(zf(float32(opts.Temperature), llama.DefaultOptions.Temperature)),
	}
	if opts.Seed != 0 {
		po = append(po, llama.SetSeed(opts.Seed))
	}
	return po
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
