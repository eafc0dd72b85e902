package libisulad

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChildPreflightErrorMessage(t *testing.T) {
	err := &ChildPreflightError{Text: "exec isulad-shim: no such file or directory"}
	assert.Contains(t, err.Error(), "no such file or directory")
}

func TestRuntimeCallFailedErrorUnwrapAndMessage(t *testing.T) {
	base := errors.New("exit status 1")
	err := &RuntimeCallFailedError{Subcommand: "kill", Stderr: "container c1 does not exist", Err: base}

	assert.Contains(t, err.Error(), "kill")
	assert.Contains(t, err.Error(), "does not exist")
	assert.Equal(t, base, errors.Unwrap(err))
}

func TestRuntimeCallFailedErrorMessageWithoutStderr(t *testing.T) {
	base := errors.New("exit status 1")
	err := &RuntimeCallFailedError{Subcommand: "start", Err: base}
	assert.NotContains(t, err.Error(), ":  ")
}

func TestIsRuntimeCallFailed(t *testing.T) {
	err := &RuntimeCallFailedError{Subcommand: "state", Err: errors.New("boom")}
	assert.True(t, IsRuntimeCallFailed(err))
	assert.True(t, IsRuntimeCallFailed(errors.Join(errors.New("wrapper"), err)))
	assert.False(t, IsRuntimeCallFailed(errors.New("unrelated")))
}
