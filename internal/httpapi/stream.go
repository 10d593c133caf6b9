package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"sessiond/internal/protocol"
	"sessiond/internal/relay"
	"sessiond/pkg/types"
)

// ndjsonSink writes relay messages as NDJSON lines and flushes after each.
type ndjsonSink struct {
	enc   *json.Encoder
	flush func()
	log   *lineLogger
}

func newNDJSONSink(w http.ResponseWriter, debug bool) *ndjsonSink {
	s := &ndjsonSink{enc: json.NewEncoder(w)}
	if debug {
		s.log = &lineLogger{prefix: "stream>"}
	}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

func (s *ndjsonSink) Send(_ context.Context, m protocol.RelayMessage) error {
	line := streamLine(m)
	if err := s.enc.Encode(line); err != nil {
		return err
	}
	if s.log != nil {
		b, _ := json.Marshal(line)
		s.log.line(string(b))
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

func streamLine(m protocol.RelayMessage) types.StreamLine {
	switch m.Type {
	case protocol.RelayDone:
		return types.StreamLine{Done: true}
	case protocol.RelayError:
		return types.StreamLine{Error: m.Error}
	}
	return types.StreamLine{Chunk: m.Chunk}
}

// wsReadLimit bounds the first client message (the prompt request).
const wsReadLimit = 1 << 20

// wsWriteTimeout bounds each frame written to a slow client.
const wsWriteTimeout = 10 * time.Second

type wsSink struct{ conn *websocket.Conn }

func (s wsSink) Send(ctx context.Context, m protocol.RelayMessage) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, m)
}

// @Summary      Stream a prompt over WebSocket
// @Description  The client sends one types.PromptRequest; the server answers with relay messages
// @Description  ({"type":"chunk"|"done"|"error"}) and closes. Closing early cancels generation.
// @Tags         session
// @Router       /v1/session/stream [get]
func (h *handlers) streamWS(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: corsAllowedOrigins,
	})
	if err != nil {
		logEnd(r, "stream_ws", http.StatusBadRequest, start, err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	var req types.PromptRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		_ = conn.Close(websocket.StatusUnsupportedData, "expected a prompt request")
		logEnd(r, "stream_ws", http.StatusBadRequest, start, err)
		return
	}
	// From here on a close or any message from the client cancels the stream.
	ctx = conn.CloseRead(ctx)

	stream, err := h.svc.PromptStreaming(ctx, req.Input, req.Options)
	if err != nil {
		_ = wsjson.Write(ctx, conn, protocol.Failure(err.Error()))
		_ = conn.Close(websocket.StatusNormalClosure, "")
		logEnd(r, "stream_ws", statusFor(err), start, err)
		return
	}
	logStart(r, "stream_ws", stream.ID())
	err = relay.Pipe(ctx, stream, wsSink{conn: conn})
	if ctx.Err() == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	logEnd(r, "stream_ws", http.StatusSwitchingProtocols, start, err)
}
