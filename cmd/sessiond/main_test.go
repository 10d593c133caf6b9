package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessiond/internal/config"
)

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "worker", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "sessiond "+version), out.String())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	_, err = newLogger(&buf, "loud", "json")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)

	log, err = newLogger(&buf, "", "console")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessiond.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: :1111\nprompt_timeout: 7s\nstop_grace: 1s\nworker_engine: echo\n"), 0o644))

	env := map[string]string{"SESSIOND_ADDR": ":2222", "SESSIOND_STOP_GRACE": "2s"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	flags := serveFlags{stopGrace: 4 * time.Second}

	l, err := loadLayers(path, lookup, flags.toConfig())
	require.NoError(t, err)
	cfg := l.effective()
	assert.Equal(t, ":2222", cfg.Addr, "env beats file")
	assert.Equal(t, 7*time.Second, cfg.PromptTimeout.Std(), "file beats defaults")
	assert.Equal(t, 4*time.Second, cfg.StopGrace.Std(), "flags beat env")
	assert.Equal(t, "echo", cfg.WorkerEngine)
	assert.Equal(t, 60*time.Second, cfg.LoadTimeout.Std(), "defaults fill the rest")

	// A reloaded file changes only what no higher layer pins.
	l.file = config.Config{PromptTimeout: config.Duration(time.Second), Addr: ":3333"}
	cfg = l.effective()
	assert.Equal(t, time.Second, cfg.PromptTimeout.Std())
	assert.Equal(t, ":2222", cfg.Addr)
}

func TestServeFlagsToConfig(t *testing.T) {
	f := serveFlags{cors: "true", origins: "http://a, http://b", workerArgs: "--quiet"}
	c := f.toConfig()
	assert.True(t, c.CORSEnabled)
	assert.Equal(t, []string{"http://a", "http://b"}, c.CORSAllowedOrigins)
	assert.Equal(t, []string{"--quiet"}, c.WorkerArgs)
	assert.Zero(t, c.PromptTimeout)
}

func TestWorkerCommand(t *testing.T) {
	cfg := config.Defaults()
	cfg.WorkerEngine = "echo"
	cfg.WorkerArgs = []string{"--extra"}
	wc, err := workerCommand(cfg)
	require.NoError(t, err)
	exe, _ := os.Executable()
	assert.Equal(t, filepath.Base(exe), filepath.Base(wc.Bin))
	assert.Equal(t, []string{"worker", "--engine", "echo", "--log-level", "info", "--extra"}, wc.Args)

	cfg.WorkerBin = filepath.Join(t.TempDir(), "missing")
	_, err = workerCommand(cfg)
	assert.Error(t, err)
}

func TestLoadLayersBadFile(t *testing.T) {
	_, err := loadLayers(filepath.Join(t.TempDir(), "nope.yaml"), func(string) (string, bool) { return "", false }, config.Config{})
	assert.Error(t, err)
}
