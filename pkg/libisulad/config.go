package libisulad

import (
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// RuntimeEntry is one row of the configuration collaborator's runtime
// table: a name mapped to its binary path and static argument prefix.
type RuntimeEntry struct {
	Path string   `toml:"path"`
	Args []string `toml:"runtime-args"`
}

// RuntimeConfigProvider is the read side of the configuration collaborator
// the resolver depends on: a mapping from runtime name to {binary path,
// extra args}. Implementations must be safe for concurrent Lookup calls;
// the resolver holds no lock of its own across the call.
type RuntimeConfigProvider interface {
	// Lookup returns the configured entry for name and true, or the zero
	// value and false if name has no configured override.
	Lookup(name string) (RuntimeEntry, bool)
}

// RuntimeConfig is a concrete, reloadable RuntimeConfigProvider backed by a
// TOML document, following podman's own config.Config convention of a
// single RWMutex-guarded snapshot that readers never hold across syscalls.
type RuntimeConfig struct {
	mu       sync.RWMutex
	runtimes map[string]RuntimeEntry
}

// NewRuntimeConfig returns an empty, ready-to-use RuntimeConfig. Callers
// load configuration into it with Load or LoadFile.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{runtimes: map[string]RuntimeEntry{}}
}

type runtimeConfigFile struct {
	Runtimes map[string]RuntimeEntry `toml:"runtimes"`
}

// LoadFile replaces the current snapshot with the table found at path. It
// takes the write lock only for the duration of the swap, never across the
// file read.
func (c *RuntimeConfig) LoadFile(path string) error {
	var doc runtimeConfigFile
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return errors.Wrapf(err, "decoding runtime config %s", path)
	}
	c.mu.Lock()
	c.runtimes = doc.Runtimes
	c.mu.Unlock()
	return nil
}

// Set installs a single configured entry, mainly for daemon reload paths
// and tests that don't want a TOML fixture on disk.
func (c *RuntimeConfig) Set(name string, entry RuntimeEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runtimes == nil {
		c.runtimes = map[string]RuntimeEntry{}
	}
	c.runtimes[name] = entry
}

// Lookup implements RuntimeConfigProvider.
func (c *RuntimeConfig) Lookup(name string) (RuntimeEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.runtimes[name]
	return entry, ok
}
