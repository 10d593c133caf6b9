package protocol

import (
	"encoding/json"
	"fmt"
)

// MaxRelayMessageSize bounds one encoded relay message. Relays carry short
// chunks, so their records are capped well below MaxMessageSize.
const MaxRelayMessageSize = 64 << 10

// RelayType tags a RelayMessage.
type RelayType string

const (
	RelayChunk RelayType = "chunk"
	RelayDone  RelayType = "done"
	RelayError RelayType = "error"
)

// RelayMessage is the unit carried on a streaming relay.
type RelayMessage struct {
	Type  RelayType `json:"type"`
	Chunk string    `json:"chunk,omitempty"`
	Error string    `json:"error,omitempty"`
}

func Chunk(text string) RelayMessage { return RelayMessage{Type: RelayChunk, Chunk: text} }

func Finished() RelayMessage { return RelayMessage{Type: RelayDone} }

func Failure(msg string) RelayMessage { return RelayMessage{Type: RelayError, Error: msg} }

// MarshalRelay encodes a relay message into a single record.
func MarshalRelay(m RelayMessage) ([]byte, error) {
	switch m.Type {
	case RelayChunk, RelayDone, RelayError:
	default:
		return nil, fmt.Errorf("unknown relay message type %q", m.Type)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxRelayMessageSize {
		return nil, fmt.Errorf("%w: relay %s is %d bytes", ErrMessageTooLarge, m.Type, len(b))
	}
	return b, nil
}

// UnmarshalRelay decodes a relay record.
func UnmarshalRelay(b []byte) (RelayMessage, error) {
	var m RelayMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return RelayMessage{}, fmt.Errorf("%w: relay: %v", ErrMalformed, err)
	}
	switch m.Type {
	case RelayChunk, RelayDone, RelayError:
		return m, nil
	}
	return m, fmt.Errorf("unknown relay message type %q", m.Type)
}
