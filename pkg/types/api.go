package types

// PromptRequest is the body of POST /v1/session/prompt and the first
// message of a streaming WebSocket exchange.
type PromptRequest struct {
	// Prompt text. An empty input is forwarded as-is.
	// example: Write a haiku about the ocean.
	Input   string         `json:"input" example:"Write a haiku about the ocean."`
	Options *PromptOptions `json:"options,omitempty"`
}

// PromptResponse is returned by POST /v1/session/prompt.
type PromptResponse struct {
	// example: Waves fold into foam.
	Text string `json:"text" example:"Waves fold into foam."`
}

// StreamLine is one NDJSON line of POST /v1/session/prompt/stream. Exactly
// one of the fields is set per line.
type StreamLine struct {
	Chunk string `json:"chunk,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: session not ready
	Error string `json:"error" example:"session not ready"`
	// example: 409
	Code int `json:"code" example:"409"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Session state: none, loading, ready or stopping.
	// example: ready
	State string `json:"state" example:"ready"`
	// Options of the loaded model, when ready.
	Active *CreateOptions `json:"active,omitempty"`
	// Process ID of the worker, when one is running.
	// example: 12345
	WorkerPID int `json:"worker_pid,omitempty" example:"12345"`
	// Number of streaming relays currently open.
	// example: 1
	OpenStreams int `json:"open_streams" example:"1"`
	// Whether a unary prompt is awaiting its reply.
	PromptInFlight bool `json:"prompt_in_flight"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// example: 3
	SpawnsTotal uint64 `json:"spawns_total" example:"3"`
	// example: 0
	CrashesTotal uint64 `json:"crashes_total" example:"0"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
