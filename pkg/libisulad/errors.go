package libisulad

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Matched with errors.Is; wrapped with
// github.com/pkg/errors.Wrapf for caller-visible context, following
// libpod/errors.go's convention of one sentinel per closed error kind.
var (
	// ErrConfigMissing indicates no binary could be resolved for a
	// runtime name, either from configuration or the hard-coded
	// defaults.
	ErrConfigMissing = errors.New("no runtime binary configured for this name")

	// ErrBadArgument indicates a caller-supplied value failed validation
	// (for example an overflowing nano_cpus conversion).
	ErrBadArgument = errors.New("bad argument")

	// ErrPathTooLong indicates a work-directory-relative path exceeded
	// the platform path length limit before any file was touched.
	ErrPathTooLong = errors.New("path exceeds platform limit")

	// ErrSerializationFailed indicates a process descriptor or resources
	// document could not be marshaled to JSON.
	ErrSerializationFailed = errors.New("failed to serialize descriptor")

	// ErrWriteFailed indicates a descriptor was serialized but could not
	// be written to its work-directory file.
	ErrWriteFailed = errors.New("failed to write descriptor")

	// ErrForkFailed indicates the create-time double fork could not
	// start its first stage.
	ErrForkFailed = errors.New("failed to fork shim supervisor")

	// ErrExecFailed indicates a child process failed to exec its target
	// binary.
	ErrExecFailed = errors.New("failed to exec")

	// ErrTimeout indicates a bounded wait (shim create, init-PID
	// discovery) expired.
	ErrTimeout = errors.New("timed out")

	// ErrWaitFailed indicates waitpid on a forked process returned an
	// error other than timeout.
	ErrWaitFailed = errors.New("wait failed")

	// ErrShimDead indicates shim_alive returned false, short-circuiting
	// an operation that requires a live shim.
	ErrShimDead = errors.New("shim is not alive")

	// ErrParseFailed indicates the runtime binary's stdout could not be
	// parsed as the expected JSON document.
	ErrParseFailed = errors.New("failed to parse runtime output")

	// ErrNotAlive is kill's specific failure for signaling a dead
	// process with a signal other than SIGKILL or the configured stop
	// signal.
	ErrNotAlive = errors.New("target process is not alive")

	// ErrNotImplemented marks the operations this core deliberately
	// leaves without semantics: restart, attach, listpids, resize.
	ErrNotImplemented = errors.New("operation not implemented")

	// ErrArgvTooLong indicates the runtime invoker's fixed-capacity argv
	// buffer would overflow.
	ErrArgvTooLong = errors.New("argument vector exceeds maximum length")
)

// ChildPreflightError carries diagnostic text a forked child wrote to the
// preflight pipe before failing to reach exec. Any nonempty read from the
// pipe short-circuits the caller's wait on the double fork.
type ChildPreflightError struct {
	Text string
}

func (e *ChildPreflightError) Error() string {
	return fmt.Sprintf("child preflight failure: %s", e.Text)
}

// RuntimeCallFailedError carries the OCI runtime binary's stderr verbatim,
// attached to the caller-visible error.
type RuntimeCallFailedError struct {
	Subcommand string
	Stderr     string
	Err        error
}

func (e *RuntimeCallFailedError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("runtime %s failed: %v", e.Subcommand, e.Err)
	}
	return fmt.Sprintf("runtime %s failed: %v: %s", e.Subcommand, e.Err, e.Stderr)
}

func (e *RuntimeCallFailedError) Unwrap() error {
	return e.Err
}

// IsRuntimeCallFailed reports whether err is (or wraps) a
// RuntimeCallFailedError, mirroring the closed-sum's RuntimeCallFailed(stderr)
// kind.
func IsRuntimeCallFailed(err error) bool {
	var target *RuntimeCallFailedError
	return errors.As(err, &target)
}
