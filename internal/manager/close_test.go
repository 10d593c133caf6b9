package manager

import (
	"errors"
	"testing"

	"sessiond/internal/relay"
)

func TestStreamingYieldsChunksThenDone(t *testing.T) {
	m := newTestManager(t, "echo", ManagerConfig{})
	ctx := testCtx(t)
	if err := m.Create(ctx, opts("/models/a.gguf")); err != nil {
		t.Fatalf("create: %v", err)
	}
	s, err := m.PromptStreaming(ctx, "a b", nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var got []string
	for chunk, err := range s.Chunks() {
		if err != nil {
			t.Fatalf("chunk error: %v", err)
		}
		got = append(got, chunk)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected chunks %q", got)
	}
	waitFor(t, "stream released", func() bool { return m.Status().OpenStreams == 0 })
}

func TestStreamingFailureIsEngineError(t *testing.T) {
	m := newTestManager(t, "echo", ManagerConfig{})
	ctx := testCtx(t)
	if err := m.Create(ctx, opts("/models/a.gguf")); err != nil {
		t.Fatalf("create: %v", err)
	}
	s, err := m.PromptStreaming(ctx, `@failmid="halfway" x y`, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, err := s.Collect()
	if text != "x" || !IsEngineError(err) || err.Error() != "halfway" {
		t.Fatalf("got %q %v", text, err)
	}
}

func TestEarlyStreamCloseKeepsSession(t *testing.T) {
	m := newTestManager(t, "echo", ManagerConfig{})
	ctx := testCtx(t)
	if err := m.Create(ctx, opts("/models/a.gguf")); err != nil {
		t.Fatalf("create: %v", err)
	}
	s1, err := m.PromptStreaming(ctx, "@chunkdelay=50ms one two three four five six", nil)
	if err != nil {
		t.Fatalf("stream 1: %v", err)
	}
	s2, err := m.PromptStreaming(ctx, "seven eight", nil)
	if err != nil {
		t.Fatalf("stream 2: %v", err)
	}
	if m.Status().OpenStreams != 2 {
		t.Fatalf("expected two open streams, got %d", m.Status().OpenStreams)
	}
	if !s1.Next() {
		t.Fatalf("expected a chunk: %v", s1.Err())
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	text, err := s2.Collect()
	if err != nil || text != "seveneight" {
		t.Fatalf("other stream affected: %q %v", text, err)
	}
	out, err := m.Prompt(ctx, "still alive", nil)
	if err != nil || out != "still alive" {
		t.Fatalf("session affected by early close: %q %v", out, err)
	}
}

func TestCrashEndsOpenStreams(t *testing.T) {
	m := newTestManager(t, "echo", ManagerConfig{})
	ctx := testCtx(t)
	if err := m.Create(ctx, opts("/models/a.gguf")); err != nil {
		t.Fatalf("create: %v", err)
	}
	s, err := m.PromptStreaming(ctx, "@chunkdelay=5s a b", nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !s.Next() {
		t.Fatalf("expected first chunk: %v", s.Err())
	}
	if _, err := m.Prompt(ctx, "@crash", nil); !IsWorkerExited(err) {
		t.Fatalf("expected crash, got %v", err)
	}
	for s.Next() {
	}
	if !IsWorkerExited(s.Err()) && !errors.Is(s.Err(), relay.ErrRelayClosed) {
		t.Fatalf("expected stream to fail with worker exit, got %v", s.Err())
	}
}
