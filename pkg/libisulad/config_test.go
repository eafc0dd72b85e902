package libisulad

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeConfigLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtimes.toml")
	doc := `
[runtimes.runc]
path = "/usr/bin/runc"
runtime-args = ["--systemd-cgroup"]

[runtimes.kata-runtime]
path = "/usr/bin/kata-runtime"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	cfg := NewRuntimeConfig()
	require.NoError(t, cfg.LoadFile(path))

	entry, ok := cfg.Lookup("runc")
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/runc", entry.Path)
	assert.Equal(t, []string{"--systemd-cgroup"}, entry.Args)

	_, ok = cfg.Lookup("runsc")
	assert.False(t, ok)
}

func TestRuntimeConfigLoadFileMissing(t *testing.T) {
	cfg := NewRuntimeConfig()
	err := cfg.LoadFile(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Error(t, err)
}

func TestRuntimeConfigSetOverwrites(t *testing.T) {
	cfg := NewRuntimeConfig()
	cfg.Set("runc", RuntimeEntry{Path: "/a"})
	cfg.Set("runc", RuntimeEntry{Path: "/b"})

	entry, ok := cfg.Lookup("runc")
	require.True(t, ok)
	assert.Equal(t, "/b", entry.Path)
}
