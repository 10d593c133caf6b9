package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	return home
}

func TestExpandHome(t *testing.T) {
	home := fakeHome(t)
	for in, want := range map[string]string{
		"":                "",
		"/srv/models":     "/srv/models",
		"~":               home,
		"~/models/a.gguf": filepath.Join(home, "models", "a.gguf"),
	} {
		got, err := ExpandHome(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestResolve(t *testing.T) {
	home := fakeHome(t)
	wd, err := os.Getwd()
	require.NoError(t, err)

	got, err := Resolve("models")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "models"), got)

	got, err = Resolve("~/models/../llm")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "llm"), got)
}

func TestPathExistsAndIsExecutable(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain")
	exe := filepath.Join(dir, "sessiond")
	require.NoError(t, os.WriteFile(plain, nil, 0o644))
	require.NoError(t, os.WriteFile(exe, nil, 0o755))

	assert.True(t, PathExists(plain))
	assert.True(t, PathExists(dir))
	assert.False(t, PathExists(filepath.Join(dir, "missing")))

	assert.False(t, IsExecutable(plain))
	assert.False(t, IsExecutable(dir), "directories are not worker binaries")
	assert.False(t, IsExecutable(filepath.Join(dir, "missing")))
	if runtime.GOOS != "windows" {
		assert.True(t, IsExecutable(exe))
	}
}
