package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nmodels_dir: /tmp\ndefault_model: m1\nworker_engine: echo\nprompt_timeout: 5s\nstop_grace: 250ms\nworker_args: [--quiet]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp" || cfg.DefaultModel != "m1" || cfg.WorkerEngine != "echo" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.PromptTimeout.Std() != 5*time.Second || cfg.StopGrace.Std() != 250*time.Millisecond {
		t.Fatalf("unexpected durations: %v %v", cfg.PromptTimeout, cfg.StopGrace)
	}
	if len(cfg.WorkerArgs) != 1 || cfg.WorkerArgs[0] != "--quiet" {
		t.Fatalf("unexpected worker args: %v", cfg.WorkerArgs)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","default_model":"m2","load_timeout":"2m","cors_enabled":true,"cors_allowed_origins":["*"]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.DefaultModel != "m2" || cfg.LoadTimeout.Std() != 2*time.Minute {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.CORSEnabled || len(cfg.CORSAllowedOrigins) != 1 {
		t.Fatalf("unexpected cors: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodels_dir=\"/x\"\ndefault_model=\"m3\"\nmax_body_bytes=2048\nprompt_timeout=\"750ms\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.ModelsDir != "/x" || cfg.DefaultModel != "m3" || cfg.MaxBodyBytes != 2048 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.PromptTimeout.Std() != 750*time.Millisecond {
		t.Fatalf("unexpected prompt timeout %v", cfg.PromptTimeout)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	p = writeTempFile(t, d, "dur.yaml", "stop_grace: soon\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestMergePrecedence(t *testing.T) {
	file := Config{Addr: ":1", PromptTimeout: Duration(time.Second), WorkerArgs: []string{"a"}}
	env := Config{Addr: ":2"}
	cfg := Merge(Merge(Defaults(), file), env)
	if cfg.Addr != ":2" {
		t.Fatalf("env should win over file, got %q", cfg.Addr)
	}
	if cfg.PromptTimeout.Std() != time.Second {
		t.Fatalf("file should win over defaults, got %v", cfg.PromptTimeout)
	}
	if cfg.StopGrace.Std() != 3*time.Second || cfg.LoadTimeout.Std() != time.Minute {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	file.WorkerArgs[0] = "mutated"
	if cfg.WorkerArgs[0] != "a" {
		t.Fatalf("merge must copy slices")
	}
}

func TestFromEnv(t *testing.T) {
	vars := map[string]string{
		"SESSIOND_ADDR":                 ":6060",
		"SESSIOND_PROMPT_TIMEOUT":       "3s",
		"SESSIOND_CORS_ENABLED":         "true",
		"SESSIOND_CORS_ALLOWED_METHODS": " GET , POST ,,",
		"SESSIOND_MAX_BODY_BYTES":       "10",
		"SESSIOND_DEFAULT_MODEL":        "   ",
	}
	lookup := func(k string) (string, bool) { v, ok := vars[k]; return v, ok }
	cfg, err := FromEnv(lookup)
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != ":6060" || cfg.PromptTimeout.Std() != 3*time.Second || !cfg.CORSEnabled || cfg.MaxBodyBytes != 10 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.CORSAllowedMethods) != 2 || cfg.CORSAllowedMethods[1] != "POST" {
		t.Fatalf("unexpected methods: %v", cfg.CORSAllowedMethods)
	}
	if cfg.DefaultModel != "" {
		t.Fatalf("blank variables are unset, got %q", cfg.DefaultModel)
	}

	vars["SESSIOND_STOP_GRACE"] = "forever"
	if _, err := FromEnv(lookup); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := SplitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestWatchReloads(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "prompt_timeout: 1s\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	err := Watch(ctx, p, func(c Config, err error) {
		if err == nil {
			got <- c
		}
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	writeTempFile(t, d, "other.yaml", "prompt_timeout: 9s\n")
	writeTempFile(t, d, "cfg.yaml", "prompt_timeout: 2s\n")
	select {
	case c := <-got:
		if c.PromptTimeout.Std() != 2*time.Second {
			t.Fatalf("reloaded wrong value: %v", c.PromptTimeout)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload observed")
	}
}
