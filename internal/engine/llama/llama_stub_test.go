//go:build !llama

package llama

import (
	"context"
	"testing"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

func TestStubFailsFast(t *testing.T) {
	if llamaBuilt {
		t.Fatal("stub compiled with llamaBuilt=true")
	}
	eng, err := engine.New(Name)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = eng.Load(context.Background(), types.CreateOptions{ModelPath: "/models/x.gguf"})
	if !engine.IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}
