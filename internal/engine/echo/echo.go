// Package echo provides a deterministic engine that answers every prompt with
// its own input. It needs no model files and is used for development and
// tests. Leading words starting with '@' are directives:
//
//	@delay=<duration>       wait before answering (or before loading)
//	@chunkdelay=<duration>  wait between streamed chunks
//	@fail[=message]         fail the prompt (or the load)
//	@failmid[=message]      stream the first chunk, then fail
//	@crash                  exit the process with status 3
//
// A fail or failmid message runs to the end of the input unless it is a Go
// quoted string ("..."), in which case parsing continues after it.
//
// Directives in CreateOptions.ModelPath apply to Load; directives in the
// prompt input apply to that prompt. Streaming yields one chunk per
// whitespace-separated word.
package echo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

// Name is the registry name of this engine.
const Name = "echo"

func init() {
	engine.Register(Name, func() (engine.Engine, error) { return Engine{}, nil })
}

// Engine is the echo engine.
type Engine struct{}

type directives struct {
	delay      time.Duration
	chunkDelay time.Duration
	fail       string
	failMid    string
	crash      bool
}

func parse(s string) (directives, string) {
	var d directives
	rest := strings.TrimSpace(s)
	for strings.HasPrefix(rest, "@") {
		word, tail, _ := strings.Cut(rest, " ")
		key, val, hasVal := strings.Cut(strings.TrimPrefix(word, "@"), "=")
		switch key {
		case "delay":
			d.delay, _ = time.ParseDuration(val)
		case "chunkdelay":
			d.chunkDelay, _ = time.ParseDuration(val)
		case "fail", "failmid":
			msg := "echo: failure requested"
			if key == "failmid" {
				msg = "echo: failure requested mid-stream"
			}
			if hasVal {
				msg, tail = message(strings.TrimPrefix(strings.TrimPrefix(rest, "@"+key), "="))
			}
			if key == "fail" {
				d.fail = msg
			} else {
				d.failMid = msg
			}
		case "crash":
			d.crash = true
		default:
			return d, rest
		}
		rest = strings.TrimSpace(tail)
	}
	return d, rest
}

// message reads a directive value: a quoted value ends at its closing quote,
// anything else runs to the end of s.
func message(s string) (msg, tail string) {
	if q, err := strconv.QuotedPrefix(s); err == nil {
		msg, _ = strconv.Unquote(q)
		return msg, s[len(q):]
	}
	return s, ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (Engine) Load(ctx context.Context, opts types.CreateOptions) (engine.Model, error) {
	d, _ := parse(opts.ModelPath)
	if d.crash {
		os.Exit(3)
	}
	if err := sleep(ctx, d.delay); err != nil {
		return nil, err
	}
	if d.fail != "" {
		return nil, errors.New(d.fail)
	}
	return &model{opts: opts.Clone()}, nil
}

type model struct {
	opts      types.CreateOptions
	destroyed atomic.Bool
}

var errDestroyed = errors.New("echo: model destroyed")

// reply is the structured answer given when a response schema is requested.
type reply struct {
	Text string `json:"text"`
}

var replySchema, _ = types.ResponseSchemaFor(&reply{})

func (m *model) answer(input string, opts types.PromptOptions) (string, error) {
	if len(opts.ResponseJSONSchema) == 0 {
		return input, nil
	}
	if err := types.CheckResponseSchema(replySchema, opts.ResponseJSONSchema); err != nil {
		return "", fmt.Errorf("echo: %w", err)
	}
	b, err := json.Marshal(reply{Text: input})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m *model) Prompt(ctx context.Context, input string, opts types.PromptOptions) (string, error) {
	if m.destroyed.Load() {
		return "", errDestroyed
	}
	d, text := parse(input)
	if d.crash {
		os.Exit(3)
	}
	if err := sleep(ctx, d.delay); err != nil {
		return "", err
	}
	if d.fail != "" {
		return "", errors.New(d.fail)
	}
	if d.failMid != "" {
		return "", errors.New(d.failMid)
	}
	return m.answer(text, opts)
}

func (m *model) PromptStreaming(ctx context.Context, input string, opts types.PromptOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if m.destroyed.Load() {
			yield("", errDestroyed)
			return
		}
		d, text := parse(input)
		if d.crash {
			os.Exit(3)
		}
		if err := sleep(ctx, d.delay); err != nil {
			yield("", err)
			return
		}
		if d.fail != "" {
			yield("", errors.New(d.fail))
			return
		}
		out, err := m.answer(text, opts)
		if err != nil {
			yield("", err)
			return
		}
		for i, word := range strings.Fields(out) {
			if i > 0 {
				if err := sleep(ctx, d.chunkDelay); err != nil {
					yield("", err)
					return
				}
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(word, nil) {
				return
			}
			if d.failMid != "" {
				yield("", errors.New(d.failMid))
				return
			}
		}
	}
}

func (m *model) Destroy() error {
	m.destroyed.Store(true)
	return nil
}
