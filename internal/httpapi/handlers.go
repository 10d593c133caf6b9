package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"sessiond/internal/relay"
	"sessiond/pkg/types"
)

type handlers struct {
	svc Service
}

// decodeJSON enforces the JSON content type and body limit. An empty body
// decodes to the zero value when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" || !allowEmpty {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return false
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return true
	}
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// @Summary      Create or reuse the model session
// @Description  Loads a model in a fresh worker, or reuses the current worker when the options are unchanged.
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body      types.CreateOptions  false  "Session options; empty uses the default model"
// @Success      200   {object}  types.StatusResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      404   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Failure      502   {object}  types.ErrorResponse
// @Failure      504   {object}  types.ErrorResponse
// @Router       /v1/session [post]
func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	var opts *types.CreateOptions
	var body types.CreateOptions
	if !decodeJSON(w, r, &body, true) {
		return
	}
	if !body.IsZero() {
		opts = &body
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	start := time.Now()
	if err := h.svc.Create(ctx, opts); err != nil {
		h.fail(w, r, "create", start, err)
		return
	}
	logEnd(r, "create", http.StatusOK, start, nil)
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// @Summary      Destroy the model session
// @Tags         session
// @Success      204
// @Router       /v1/session [delete]
func (h *handlers) destroy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	_ = h.svc.Destroy(r.Context())
	logEnd(r, "destroy", http.StatusNoContent, start, nil)
	w.WriteHeader(http.StatusNoContent)
}

// @Summary      Prompt the model
// @Description  Sends one prompt and waits for the complete reply.
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body      types.PromptRequest  true  "Prompt"
// @Success      200   {object}  types.PromptResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Failure      502   {object}  types.ErrorResponse
// @Failure      503   {object}  types.ErrorResponse
// @Failure      504   {object}  types.ErrorResponse
// @Router       /v1/session/prompt [post]
func (h *handlers) prompt(w http.ResponseWriter, r *http.Request) {
	var req types.PromptRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	start := time.Now()
	text, err := h.svc.Prompt(ctx, req.Input, req.Options)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.fail(w, r, "prompt", start, err)
		return
	}
	logEnd(r, "prompt", http.StatusOK, start, nil)
	writeJSON(w, http.StatusOK, types.PromptResponse{Text: text})
}

// @Summary      Prompt the model and stream the reply
// @Description  Streams NDJSON lines: {"chunk":...} for each piece, then {"done":true} or {"error":...}.
// @Tags         session
// @Accept       json
// @Produce      application/x-ndjson
// @Param        body  body      types.PromptRequest  true  "Prompt"
// @Success      200   {object}  types.StreamLine
// @Failure      409   {object}  types.ErrorResponse
// @Router       /v1/session/prompt/stream [post]
func (h *handlers) promptStream(w http.ResponseWriter, r *http.Request) {
	var req types.PromptRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	start := time.Now()
	stream, err := h.svc.PromptStreaming(ctx, req.Input, req.Options)
	if err != nil {
		h.fail(w, r, "prompt_stream", start, err)
		return
	}
	logStart(r, "prompt_stream", stream.ID())

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	sink := newNDJSONSink(w, requestLogLevel(r) >= LevelDebug)
	if sink.flush != nil {
		sink.flush()
	}
	err = relay.Pipe(ctx, stream, sink)
	logEnd(r, "prompt_stream", http.StatusOK, start, err)
}

// @Summary      List models
// @Tags         ops
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: h.svc.ListModels()})
}

// @Summary      Session status
// @Tags         ops
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, op string, start time.Time, err error) {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(op)
	}
	logEnd(r, op, status, start, err)
	writeJSONError(w, status, err.Error())
}

func requestID(r *http.Request) string { return middleware.GetReqID(r.Context()) }
