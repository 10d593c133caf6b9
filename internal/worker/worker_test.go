package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessiond/internal/engine"
	"sessiond/internal/engine/echo"
	"sessiond/internal/protocol"
	"sessiond/internal/relay"
	"sessiond/pkg/types"
)

type harness struct {
	t    *testing.T
	ctl  *protocol.Conn
	done chan error
}

// startServer runs Serve against an in-process socketpair with the echo engine.
func startServer(t *testing.T) *harness {
	t.Helper()
	a, b, err := protocol.SocketPair("test")
	require.NoError(t, err)
	ctl, err := protocol.NewConn(a)
	require.NoError(t, err)
	wconn, err := protocol.NewConn(b)
	require.NoError(t, err)
	_ = a.Close()
	_ = b.Close()

	eng, err := engine.New(echo.Name)
	require.NoError(t, err)

	h := &harness{t: t, ctl: ctl, done: make(chan error, 1)}
	go func() {
		h.done <- Serve(context.Background(), wconn, eng, zerolog.Nop())
		_ = wconn.Close()
	}()
	t.Cleanup(func() { _ = ctl.Close() })
	return h
}

func (h *harness) send(typ protocol.Type, payload any) {
	h.t.Helper()
	env, err := protocol.New(typ, payload)
	require.NoError(h.t, err)
	require.NoError(h.t, h.ctl.Send(env))
}

func (h *harness) recv() protocol.Envelope {
	h.t.Helper()
	type result struct {
		env protocol.Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, _, err := h.ctl.Recv()
		ch <- result{env, err}
	}()
	select {
	case r := <-ch:
		require.NoError(h.t, r.err)
		return r.env
	case <-time.After(5 * time.Second):
		h.t.Fatal("no reply from worker")
	}
	return protocol.Envelope{}
}

func (h *harness) load(path string) {
	h.t.Helper()
	h.send(protocol.LoadModel, types.CreateOptions{ModelPath: path})
	env := h.recv()
	require.Equal(h.t, protocol.ModelLoaded, env.Type, env.Text())
}

func (h *harness) stream(input string) *relay.Stream {
	h.t.Helper()
	c, w, err := relay.Open()
	require.NoError(h.t, err)
	env, err := protocol.New(protocol.SendPrompt, protocol.SendPromptPayload{Input: input, Stream: true})
	require.NoError(h.t, err)
	require.NoError(h.t, h.ctl.Send(env, w.File()))
	require.NoError(h.t, w.Close())
	return relay.NewStream(c)
}

func TestPromptBeforeLoad(t *testing.T) {
	h := startServer(t)
	h.send(protocol.SendPrompt, protocol.SendPromptPayload{Input: "hi"})
	env := h.recv()
	assert.Equal(t, protocol.Error, env.Type)
	assert.Equal(t, "language model not loaded", env.Text())
}

func TestLoadAndPrompt(t *testing.T) {
	h := startServer(t)
	h.load("/models/a.gguf")

	h.send(protocol.SendPrompt, protocol.SendPromptPayload{Input: "hello"})
	env := h.recv()
	assert.Equal(t, protocol.Done, env.Type)
	assert.Equal(t, "hello", env.Text())
}

func TestLoadFailureIsTextual(t *testing.T) {
	h := startServer(t)
	h.send(protocol.LoadModel, types.CreateOptions{ModelPath: "@fail=cannot open model"})
	env := h.recv()
	assert.Equal(t, protocol.Error, env.Type)
	assert.Equal(t, "cannot open model", env.Text())
}

func TestUnaryRepliesKeepArrivalOrder(t *testing.T) {
	h := startServer(t)
	h.load("/models/a.gguf")

	h.send(protocol.SendPrompt, protocol.SendPromptPayload{Input: "@delay=50ms first"})
	h.send(protocol.SendPrompt, protocol.SendPromptPayload{Input: "second"})
	assert.Equal(t, "first", h.recv().Text())
	assert.Equal(t, "second", h.recv().Text())
}

func TestStreamingOverRelay(t *testing.T) {
	h := startServer(t)
	h.load("/models/a.gguf")

	var got []string
	for chunk, err := range h.stream("a b").Chunks() {
		require.NoError(t, err)
		got = append(got, chunk)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestStreamingFailureMidway(t *testing.T) {
	h := startServer(t)
	h.load("/models/a.gguf")

	text, err := h.stream(`@failmid="broke" x y`).Collect()
	assert.Equal(t, "x", text)
	assert.EqualError(t, err, "broke")
}

func TestStreamingOversizedChunkFails(t *testing.T) {
	h := startServer(t)
	h.load("/models/a.gguf")

	text, err := h.stream("ok " + strings.Repeat("x", protocol.MaxRelayMessageSize)).Collect()
	assert.Equal(t, "ok", text)
	assert.ErrorContains(t, err, protocol.ErrMessageTooLarge.Error())
}

func TestStreamingBeforeLoad(t *testing.T) {
	h := startServer(t)
	_, err := h.stream("x").Collect()
	assert.EqualError(t, err, "language model not loaded")
}

func TestConcurrentStreamsAndUnary(t *testing.T) {
	h := startServer(t)
	h.load("/models/a.gguf")

	s1 := h.stream("@chunkdelay=20ms one two three")
	s2 := h.stream("@chunkdelay=20ms four five")

	h.send(protocol.SendPrompt, protocol.SendPromptPayload{Input: "unary"})
	assert.Equal(t, "unary", h.recv().Text())

	t1, err := s1.Collect()
	require.NoError(t, err)
	t2, err := s2.Collect()
	require.NoError(t, err)
	assert.Equal(t, "onetwothree", t1)
	assert.Equal(t, "fourfive", t2)
}

func TestStopCancelsStreamsAndReplies(t *testing.T) {
	h := startServer(t)
	h.load("/models/a.gguf")

	s := h.stream("@chunkdelay=1s a b c")
	require.True(t, s.Next())
	assert.Equal(t, "a", s.Text())

	h.send(protocol.Stop, nil)
	env := h.recv()
	assert.Equal(t, protocol.Stopped, env.Type)
	assert.Equal(t, protocol.StoppedMessage, env.Text())

	for s.Next() {
	}
	assert.EqualError(t, s.Err(), protocol.StoppedMessage)

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after STOP")
	}
}

func TestConsumerCloseCancelsGeneration(t *testing.T) {
	h := startServer(t)
	h.load("/models/a.gguf")

	s := h.stream("@chunkdelay=50ms " + "w w w w w w w w w w w w w w w w w w w w")
	require.True(t, s.Next())
	require.NoError(t, s.Close())

	// The worker keeps serving after an abandoned stream.
	h.send(protocol.SendPrompt, protocol.SendPromptPayload{Input: "still here"})
	assert.Equal(t, "still here", h.recv().Text())
}

func TestUnsupportedMessages(t *testing.T) {
	h := startServer(t)
	require.NoError(t, h.ctl.WriteRecord([]byte(`{"type":"HELLO"}`)))
	assert.Equal(t, protocol.Error, h.recv().Type)

	require.NoError(t, h.ctl.WriteRecord([]byte(`garbage`)))
	assert.Equal(t, protocol.Error, h.recv().Type)

	h.send(protocol.ModelLoaded, nil)
	assert.Equal(t, protocol.Error, h.recv().Type)

	h.send(protocol.SendPrompt, protocol.SendPromptPayload{Input: "x", Stream: true})
	env := h.recv()
	assert.Equal(t, protocol.Error, env.Type)
	assert.Contains(t, env.Text(), "without relay")
}

func TestControlChannelEOFEndsServe(t *testing.T) {
	h := startServer(t)
	h.load("/models/a.gguf")
	require.NoError(t, h.ctl.Close())
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return on EOF")
	}
}
