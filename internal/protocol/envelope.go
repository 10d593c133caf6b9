package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"sessiond/pkg/types"
)

// Type tags an Envelope.
type Type string

const (
	LoadModel   Type = "LOAD_MODEL"
	ModelLoaded Type = "MODEL_LOADED"
	SendPrompt  Type = "SEND_PROMPT"
	StreamChunk Type = "STREAM_CHUNK"
	Done        Type = "DONE"
	Error       Type = "ERROR"
	Stop        Type = "STOP"
	Stopped     Type = "STOPPED"
)

// MaxMessageSize bounds a single encoded envelope or relay message.
const MaxMessageSize = 1 << 20

// ErrUnknownType is wrapped by decode errors for unrecognised envelope tags.
var ErrUnknownType = errors.New("unknown envelope type")

// ErrMalformed is wrapped by decode errors for records that are not valid JSON.
var ErrMalformed = errors.New("malformed message")

// ErrMessageTooLarge is returned when an encoded message exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// StoppedMessage is the payload of STOPPED.
const StoppedMessage = "model session reset"

// Valid reports whether t is one of the protocol's envelope types.
func (t Type) Valid() bool {
	switch t {
	case LoadModel, ModelLoaded, SendPrompt, StreamChunk, Done, Error, Stop, Stopped:
		return true
	}
	return false
}

// Envelope is a single cross-process message.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SendPromptPayload is the data of a SEND_PROMPT envelope.
type SendPromptPayload struct {
	Input   string              `json:"input"`
	Stream  bool                `json:"stream"`
	Options types.PromptOptions `json:"options"`
}

// New builds an envelope, encoding payload as its data. A nil payload
// produces an envelope without data.
func New(t Type, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env.Data = b
	return env, nil
}

// Errorf builds an ERROR envelope carrying a plain-text description.
func Errorf(format string, a ...any) Envelope {
	env, _ := New(Error, fmt.Sprintf(format, a...))
	return env
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: decode data: %w", e.Type, err)
	}
	return nil
}

// Text returns the data as a string. DONE, STREAM_CHUNK, ERROR and STOPPED
// carry strings; anything else is returned in its raw JSON form.
func (e Envelope) Text() string {
	if len(e.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}

// Marshal encodes an envelope into a single record.
func Marshal(e Envelope) ([]byte, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrMessageTooLarge, e.Type, len(b))
	}
	return b, nil
}

// Unmarshal decodes a single record into an envelope.
func Unmarshal(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !e.Type.Valid() {
		return e, fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return e, nil
}
