package libisulad

import (
	"strings"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildProcessStateProjectsSpecFields(t *testing.T) {
	spec := specs.Process{
		Args:     []string{"/bin/sh", "-c", "sleep 1"},
		Env:      []string{"PATH=/usr/bin"},
		Cwd:      "/",
		Terminal: true,
		User:     specs.User{UID: 1000, GID: 1000},
		Rlimits: []specs.POSIXRlimit{
			{Type: "RLIMIT_NOFILE", Hard: 1024, Soft: 1024},
		},
		Capabilities: &specs.LinuxCapabilities{
			Bounding:    []string{"CAP_CHOWN", "CAP_KILL"},
			Effective:   []string{"CAP_CHOWN"},
			Permitted:   []string{"CAP_CHOWN", "CAP_SETUID"},
			Inheritable: nil,
			Ambient:     nil,
		},
	}
	stdio := StdioPaths{Stdin: "/w/stdin", Stdout: "/w/stdout", Stderr: "/w/stderr"}

	ps := BuildProcessState(spec, nil, stdio, "/w/exit_fifo", true, "", false, nil)

	assert.Equal(t, spec.Args, ps.Args)
	assert.Equal(t, "1000:1000", ps.User)
	assert.True(t, ps.Terminal)
	assert.True(t, ps.OpenStdin)
	assert.Equal(t, "/w/stdin", ps.StdinFIFO)
	assert.Equal(t, "/w/exit_fifo", ps.ExitFIFO)
	require.Len(t, ps.Rlimits, 1)
	assert.Equal(t, uint64(1024), ps.Rlimits[0].Hard)
	assert.ElementsMatch(t, []string{"CAP_CHOWN", "CAP_KILL", "CAP_SETUID"}, ps.Capabilities)
	assert.False(t, ps.Exec)
}

func TestFormatUserPrefersUsername(t *testing.T) {
	assert.Equal(t, "app", formatUser(specs.User{Username: "app", UID: 500}))
	assert.Equal(t, "0:0", formatUser(specs.User{UID: 0, GID: 0, Username: ""}))
	assert.Equal(t, "", formatUser(specs.User{}))
}

func TestApplyLogAnnotationsIgnoresMalformedValuesSilently(t *testing.T) {
	ps := &ProcessState{}
	applyLogAnnotations(ps, map[string]string{
		annotationLogFile:   "/var/log/container.log",
		annotationLogRotate: "not-a-number",
		annotationLogSize:   "not-a-size",
	})

	assert.Equal(t, "/var/log/container.log", ps.LogPath)
	assert.Zero(t, ps.LogMaxFiles)
	assert.Zero(t, ps.LogMaxSizeBytes)
}

func TestApplyLogAnnotationsAcceptsValidValues(t *testing.T) {
	ps := &ProcessState{}
	applyLogAnnotations(ps, map[string]string{
		annotationLogRotate: "7",
		annotationLogSize:   "10m",
	})

	assert.Equal(t, 7, ps.LogMaxFiles)
	assert.Equal(t, int64(10<<20), ps.LogMaxSizeBytes)
}

func TestParseByteSizeSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"1k", 1 << 10},
		{"1K", 1 << 10},
		{"2m", 2 << 20},
		{"1g", 1 << 30},
	}
	for _, c := range cases {
		got, err := parseByteSize(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseByteSizeRejectsNonPositiveAndEmpty(t *testing.T) {
	_, err := parseByteSize("")
	assert.Error(t, err)

	_, err = parseByteSize("0")
	assert.Error(t, err)

	_, err = parseByteSize("-5")
	assert.Error(t, err)

	_, err = parseByteSize("not-a-number")
	assert.Error(t, err)
}

func TestWriteReadProcessStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	spec := specs.Process{Args: []string{"/bin/true"}, Cwd: "/"}
	ps := BuildProcessState(spec, nil, StdioPaths{}, "/w/exit_fifo", false, "", false, nil)

	require.NoError(t, WriteProcessState(dir, ps))

	got, err := ReadProcessState(dir)
	require.NoError(t, err)
	assert.Equal(t, ps.Args, got.Args)
	assert.Equal(t, ps.ExitFIFO, got.ExitFIFO)
	assert.Equal(t, ps.Cwd, got.Cwd)
}

func TestWriteProcessStatePathTooLong(t *testing.T) {
	dir := "/" + strings.Repeat("a", maxPathLen)
	err := WriteProcessState(dir, ProcessState{})
	assert.ErrorIs(t, err, ErrPathTooLong)
}

func TestCheckPathLen(t *testing.T) {
	assert.NoError(t, checkPathLen("/short/path"))
	assert.ErrorIs(t, checkPathLen("/"+strings.Repeat("a", maxPathLen)), ErrPathTooLong)
}

func TestWorkDirAndExecDir(t *testing.T) {
	assert.Equal(t, "/root/abc", workDir("/root", "abc"))
	assert.Equal(t, "/root/abc/exec/def", execDir("/root", "abc", "def"))
}
