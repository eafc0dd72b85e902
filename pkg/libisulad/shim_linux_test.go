package libisulad

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShimAliveFalseWhenPidFileMissing(t *testing.T) {
	assert.False(t, ShimAlive(t.TempDir()))
}

func TestShimAliveTrueForSelf(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(shimPidPath(dir), []byte(strconv.Itoa(os.Getpid())), 0600))
	assert.True(t, ShimAlive(dir))
}

func TestShimAliveFalseForImpossiblePid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(shimPidPath(dir), []byte(strconv.Itoa(1<<30)), 0600))
	assert.False(t, ShimAlive(dir))
}

func TestShimKillForceSilentWhenNoPidFile(t *testing.T) {
	// Must not panic or block on a missing shim-pid file.
	ShimKillForce(t.TempDir())
}

func TestGetContainerInitPIDFailsFastWhenShimNotAlive(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := GetContainerInitPID(ctx, dir)
	assert.ErrorIs(t, err, ErrShimDead)
}

func TestGetContainerInitPIDSucceedsOncePidFileAppears(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(shimPidPath(dir), []byte(strconv.Itoa(os.Getpid())), 0600))
	require.NoError(t, os.WriteFile(pidPath(dir), []byte("4242"), 0600))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pid, err := GetContainerInitPID(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestReadIntFileTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid")
	require.NoError(t, os.WriteFile(path, []byte("  123\n"), 0600))
	n, err := readIntFile(path)
	require.NoError(t, err)
	assert.Equal(t, 123, n)
}

func TestReadIntFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number"), 0600))
	_, err := readIntFile(path)
	assert.Error(t, err)
}
