package manager

import (
	"errors"
	"fmt"
	"net/http"

	"sessiond/internal/engine"
	"sessiond/internal/protocol"
	"sessiond/internal/supervisor"
)

var (
	// ErrNotReady is returned by prompts issued while no model is loaded.
	ErrNotReady = errors.New("session not ready")
	// ErrLoadTimeout is returned when the worker does not confirm a load in time.
	ErrLoadTimeout = errors.New("timed out waiting for model load")
	// ErrPromptTimeout is returned when a unary prompt gets no reply in time.
	// The session remains usable.
	ErrPromptTimeout = errors.New("timed out waiting for prompt reply")
	// ErrWorkerExited is returned when the worker went away mid-operation.
	ErrWorkerExited = errors.New("worker exited")
)

// tooBusyError signals a rejected overlapping operation for 429 mapping.
type tooBusyError struct{ what string }

func (e tooBusyError) Error() string { return "too busy: " + e.what }

var (
	// ErrTransitionInProgress rejects a create that overlaps another create or destroy.
	ErrTransitionInProgress error = tooBusyError{what: "session transition in progress"}
	// ErrPromptInFlight rejects a unary prompt while another awaits its reply.
	ErrPromptInFlight error = tooBusyError{what: "prompt already in flight"}
)

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error for an alias that is not in the registry.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var nf modelNotFoundError
	return errors.As(err, &nf)
}

// invalidOptionsError wraps a validation failure of caller-supplied options.
type invalidOptionsError struct{ err error }

func (e invalidOptionsError) Error() string   { return "invalid options: " + e.err.Error() }
func (e invalidOptionsError) Unwrap() error   { return e.err }
func (e invalidOptionsError) StatusCode() int { return http.StatusBadRequest }

// IsInvalidOptions reports whether err came from option validation.
func IsInvalidOptions(err error) bool {
	var ie invalidOptionsError
	return errors.As(err, &ie)
}

// EngineError carries a failure reported by the worker's engine.
type EngineError struct{ Message string }

func (e *EngineError) Error() string { return e.Message }

// IsEngineError reports whether err originated in the engine.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}

// ProtocolViolationError reports a reply that does not fit the operation.
type ProtocolViolationError struct {
	Op  string
	Got protocol.Type
	Err error
}

func (e *ProtocolViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol violation during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("protocol violation during %s: unexpected %s", e.Op, e.Got)
}

func (e *ProtocolViolationError) Unwrap() error { return e.Err }

// IsProtocolViolation reports whether err is a ProtocolViolationError.
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolationError
	return errors.As(err, &pv)
}

func IsNotReady(err error) bool { return errors.Is(err, ErrNotReady) }

// IsTimeout reports load and prompt timeouts.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrLoadTimeout) || errors.Is(err, ErrPromptTimeout)
}

func IsWorkerExited(err error) bool { return errors.Is(err, ErrWorkerExited) }

// IsSpawnError reports whether the worker could not be started.
func IsSpawnError(err error) bool { return supervisor.IsSpawnError(err) }

// IsDependencyUnavailable reports whether a runtime dependency is missing.
func IsDependencyUnavailable(err error) bool { return engine.IsDependencyUnavailable(err) }

func workerExited(err error) error {
	if err == nil || errors.Is(err, ErrWorkerExited) {
		return ErrWorkerExited
	}
	return fmt.Errorf("%w: %v", ErrWorkerExited, err)
}
