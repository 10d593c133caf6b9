package types

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ResponseSchemaFor reflects a JSON schema from the Go value v, suitable for
// PromptOptions.ResponseJSONSchema. Definitions are inlined so the worker
// receives a single self-contained object.
func ResponseSchemaFor(v any) (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(v)
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return b, nil
}

// CheckResponseSchema reports whether replies described by the schema have
// can satisfy the requested schema want: every property want requires must be
// declared by have, with the same type where both name one.
func CheckResponseSchema(have, want json.RawMessage) error {
	var h, w jsonschema.Schema
	if err := json.Unmarshal(have, &h); err != nil {
		return fmt.Errorf("decode response schema: %w", err)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		return fmt.Errorf("decode requested schema: %w", err)
	}
	if w.Type != "" && h.Type != "" && w.Type != h.Type {
		return fmt.Errorf("response is %s, requested %s", h.Type, w.Type)
	}
	for _, name := range w.Required {
		var hp *jsonschema.Schema
		if h.Properties != nil {
			hp, _ = h.Properties.Get(name)
		}
		if hp == nil {
			return fmt.Errorf("response has no property %q", name)
		}
		if w.Properties == nil {
			continue
		}
		if wp, ok := w.Properties.Get(name); ok && wp != nil && wp.Type != "" && hp.Type != "" && wp.Type != hp.Type {
			return fmt.Errorf("property %q is %s, requested %s", name, hp.Type, wp.Type)
		}
	}
	return nil
}
