package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChatRole names the author of a conversation turn.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of an initial conversation.
type ChatMessage struct {
	// example: user
	Role ChatRole `json:"role" example:"user"`
	// example: Hello there.
	Content string `json:"content" example:"Hello there."`
}

// CreateOptions configures a model session. Two option values that are Equal
// describe the same loaded model, so the worker process can be reused.
type CreateOptions struct {
	// Absolute path to the model file. Either ModelPath or ModelAlias is required.
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	ModelPath string `json:"modelPath,omitempty" yaml:"model_path" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// Registry id of the model; resolved to ModelPath by the controller.
	// example: tinyllama.gguf
	ModelAlias string `json:"modelAlias,omitempty" yaml:"model_alias" example:"tinyllama.gguf"`
	// example: You are a terse assistant.
	SystemPrompt   string        `json:"systemPrompt,omitempty" yaml:"system_prompt" example:"You are a terse assistant."`
	InitialPrompts []ChatMessage `json:"initialPrompts,omitempty" yaml:"initial_prompts"`
	// example: 40
	TopK int `json:"topK,omitempty" yaml:"top_k" example:"40"`
	// example: 0.9
	TopP float64 `json:"topP,omitempty" yaml:"top_p" example:"0.9"`
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature" example:"0.7"`
	// Context window in tokens; 0 lets the engine choose.
	// example: 2048
	ContextSize int `json:"contextSize,omitempty" yaml:"context_size" example:"2048"`
	// example: 4
	Threads int `json:"threads,omitempty" yaml:"threads" example:"4"`
	// example: 42
	Seed int `json:"seed,omitempty" yaml:"seed" example:"42"`
}

// Validate checks option values the way the consumer boundary always has:
// a model must be named and sampling parameters must be in range.
func (o CreateOptions) Validate() error {
	if strings.TrimSpace(o.ModelPath) == "" && strings.TrimSpace(o.ModelAlias) == "" {
		return errors.New("modelPath or modelAlias is required")
	}
	if o.TopK < 0 {
		return errors.New("topK must be a positive number")
	}
	if o.Temperature < 0 {
		return errors.New("temperature must be a non-negative number")
	}
	if o.TopP < 0 || o.TopP > 1 {
		return errors.New("topP must be within [0, 1]")
	}
	if o.ContextSize < 0 || o.Threads < 0 {
		return errors.New("contextSize and threads must be non-negative")
	}
	for i, m := range o.InitialPrompts {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("initialPrompts[%d]: unknown role %q", i, m.Role)
		}
	}
	return nil
}

// Equal reports whether o and other are structurally the same configuration.
// A nil and an empty InitialPrompts slice compare equal. ModelAlias is compared
// as given; the session manager clears it once the alias is resolved to a path.
func (o CreateOptions) Equal(other CreateOptions) bool {
	if o.ModelPath != other.ModelPath ||
		o.ModelAlias != other.ModelAlias ||
		o.SystemPrompt != other.SystemPrompt ||
		o.TopK != other.TopK ||
		o.TopP != other.TopP ||
		o.Temperature != other.Temperature ||
		o.ContextSize != other.ContextSize ||
		o.Threads != other.Threads ||
		o.Seed != other.Seed {
		return false
	}
	if len(o.InitialPrompts) != len(other.InitialPrompts) {
		return false
	}
	for i := range o.InitialPrompts {
		if o.InitialPrompts[i] != other.InitialPrompts[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether no option is set.
func (o CreateOptions) IsZero() bool { return o.Equal(CreateOptions{}) }

// Clone returns a deep copy so stored options cannot be mutated by the caller.
func (o CreateOptions) Clone() CreateOptions {
	if o.InitialPrompts != nil {
		o.InitialPrompts = append([]ChatMessage(nil), o.InitialPrompts...)
	}
	return o
}

// PromptOptions configures a single prompt.
type PromptOptions struct {
	// JSON schema the response must follow. Must be a JSON object when set.
	ResponseJSONSchema json.RawMessage `json:"responseJSONSchema,omitempty" swaggertype:"object"`
	// Per-call timeout override in milliseconds for unary prompts; 0 uses the server default.
	// example: 5000
	TimeoutMS int64 `json:"timeoutMs,omitempty" example:"5000"`
}

// Timeout returns the per-call override, or zero.
func (o PromptOptions) Timeout() time.Duration {
	if o.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(o.TimeoutMS) * time.Millisecond
}

// Validate checks that the response schema, if any, is a JSON object.
func (o PromptOptions) Validate() error {
	if o.TimeoutMS < 0 {
		return errors.New("timeoutMs must be non-negative")
	}
	if len(o.ResponseJSONSchema) == 0 {
		return nil
	}
	trimmed := bytes.TrimSpace(o.ResponseJSONSchema)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return errors.New("responseJSONSchema must be an object")
	}
	return nil
}
