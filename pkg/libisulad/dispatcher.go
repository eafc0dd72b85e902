package libisulad

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Retry policy constants for Dispatcher.CleanResource's best-effort kill
// and delete passes.
const (
	killRetryAttempts   = 10
	killRetryInterval   = 500 * time.Millisecond
	deleteRetryAttempts = 10
	deleteRetryInterval = 100 * time.Millisecond
)

// execIDBytes is half the length of the 64-hex-nibble random exec id: 32
// random bytes hex-encode to exactly 64 nibbles.
const execIDBytes = 32

// Dispatcher is the public lifecycle operation set. Each operation
// composes the resolver, process builder, invoker, and shim supervisor
// under its own retry/timeout policy.
type Dispatcher struct {
	StateRoot  string
	Resolver   *Resolver
	ShimBinary string
	// StopSignal is the daemon-configured stop signal Kill compares
	// against: a kill of an already-dead process is a no-op only when the
	// requested signal is this one or SIGKILL.
	StopSignal syscall.Signal
}

// NewDispatcher builds a Dispatcher rooted at stateRoot.
func NewDispatcher(stateRoot string, resolver *Resolver, stopSignal syscall.Signal) *Dispatcher {
	return &Dispatcher{StateRoot: stateRoot, Resolver: resolver, StopSignal: stopSignal}
}

func (d *Dispatcher) workDir(id string) string { return workDir(d.StateRoot, id) }

func (d *Dispatcher) invokerFor(runtimeName string) (*Invoker, error) {
	descriptor, err := d.Resolver.Resolve(runtimeName)
	if err != nil {
		return nil, err
	}
	return NewInvoker(descriptor), nil
}

// withDiagnostics attaches scraped diagnostic log lines to err's message
// when err is non-nil and the work directory still exists.
func withDiagnostics(err error, dir string) error {
	if err == nil {
		return err
	}
	if diag := ScrapeErrorLines(dir); diag != "" {
		return errors.Wrapf(err, "diagnostics: %s", diag)
	}
	return err
}

// Create builds process.json, resolves the runtime, and performs the
// create-time double fork. Any failure after the runtime is resolved
// triggers a best-effort `runtime delete --force` before the error is
// surfaced.
func (d *Dispatcher) Create(ctx context.Context, id string, params CreateParams) error {
	dir := d.workDir(id)
	if err := checkPathLen(filepath.Join(dir, processJSONName)); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(ErrWriteFailed, "creating work dir %s: %v", dir, err)
	}

	inv, err := d.invokerFor(params.Runtime)
	if err != nil {
		return err
	}

	ps := BuildProcessState(params.Process, params.Annotations, params.Stdio, params.ExitFIFO, params.OpenStdin, "", false, nil)
	if err := WriteProcessState(dir, ps); err != nil {
		_ = inv.CallSimple(ctx, dir, "delete", []string{"--force"}, id, nil)
		return err
	}

	_, err = ShimCreate(ctx, ShimCreateParams{
		ID:            id,
		WorkDir:       dir,
		Bundle:        params.Bundle,
		RuntimeBinary: inv.descriptor.Path,
		ShimBinary:    d.ShimBinary,
		Foreground:    false,
		Timeout:       -1,
	})
	if err != nil {
		_ = inv.CallSimple(ctx, dir, "delete", []string{"--force"}, id, nil)
		return withDiagnostics(err, dir)
	}
	return nil
}

// Start starts a previously created container's init process and returns
// the (pid, start_time) pair the caller must record for later liveness
// checks.
func (d *Dispatcher) Start(ctx context.Context, id string, runtimeName string) (ExitInfo, error) {
	dir := d.workDir(id)
	if !ShimAlive(dir) {
		return ExitInfo{}, ErrShimDead
	}

	pid, err := GetContainerInitPID(ctx, dir)
	if err != nil {
		ShimKillForce(dir)
		return ExitInfo{}, withDiagnostics(err, dir)
	}
	shimPID, err := readShimPidFile(dir)
	if err != nil {
		ShimKillForce(dir)
		return ExitInfo{}, withDiagnostics(err, dir)
	}

	startTime, _ := ProcessStartTime(pid)
	shimStartTime, _ := ProcessStartTime(shimPID)

	inv, err := d.invokerFor(runtimeName)
	if err != nil {
		ShimKillForce(dir)
		return ExitInfo{}, err
	}
	if err := inv.CallSimple(ctx, dir, "start", nil, id, nil); err != nil {
		ShimKillForce(dir)
		return ExitInfo{}, withDiagnostics(err, dir)
	}

	return ExitInfo{PID: pid, StartTime: startTime, ShimPID: shimPID, ShimStartTime: shimStartTime}, nil
}

// Kill signals pid with signal, but never calls the runtime binary:
// liveness is judged purely from the recorded (pid, start_time) pair, so a
// reused PID is never mistaken for the original process.
func (d *Dispatcher) Kill(pid int, startTime time.Time, signal syscall.Signal) error {
	if !isProcessAlive(pid, startTime) {
		if signal == d.StopSignal || signal == syscall.SIGKILL {
			return nil
		}
		return ErrNotAlive
	}
	return unix.Kill(pid, signal)
}

// runtimeCallKillAndCheck treats a kill failure as success once the shim
// itself is confirmed dead.
func runtimeCallKillAndCheck(ctx context.Context, inv *Invoker, dir, id string) error {
	err := inv.CallSimple(ctx, dir, "kill", nil, id, KillOutputCheck)
	if err == nil {
		return nil
	}
	if !ShimAlive(dir) {
		return nil
	}
	return err
}

// CleanResource forces the shim dead if it is still alive, then retries
// killing and deleting the container's runtime state before removing its
// work directory.
func (d *Dispatcher) CleanResource(ctx context.Context, id string, runtimeName string) error {
	dir := d.workDir(id)

	if ShimAlive(dir) {
		ShimKillForce(dir)
	}

	if inv, err := d.invokerFor(runtimeName); err == nil {
		retryWithWarnings(ctx, "kill", killRetryAttempts, killRetryInterval, func(ctx context.Context) error {
			return runtimeCallKillAndCheck(ctx, inv, dir, id)
		})
		retryWithWarnings(ctx, "delete", deleteRetryAttempts, deleteRetryInterval, func(ctx context.Context) error {
			return inv.CallSimple(ctx, dir, "delete", []string{"--force"}, id, nil)
		})
	}

	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "removing work dir %s", dir)
	}
	return nil
}

// retryWithWarnings runs fn up to attempts times, sleeping interval
// between tries. Failures are never returned: once attempts run out the
// last error is logged as a single warning, and a cancelled ctx ends the
// loop without logging. Callers treat retry exhaustion as best-effort.
func retryWithWarnings(ctx context.Context, label string, attempts int, interval time.Duration, fn func(context.Context) error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := fn(ctx); err == nil {
			return
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
	if lastErr != nil {
		logrus.WithError(lastErr).Warnf("%s retries exhausted", label)
	}
}

// Rm idempotently removes a container's work directory.
func (d *Dispatcher) Rm(id string) error {
	dir := d.workDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "removing %s", dir)
	}
	return nil
}

// Status queries the runtime for a container's current state, failing
// fast if the shim is already dead.
func (d *Dispatcher) Status(ctx context.Context, id string, runtimeName string) (ContainerState, error) {
	dir := d.workDir(id)
	if !ShimAlive(dir) {
		return ContainerState{}, ErrShimDead
	}
	inv, err := d.invokerFor(runtimeName)
	if err != nil {
		return ContainerState{}, err
	}
	return inv.CallState(ctx, dir, id)
}

// Stats queries the runtime for a container's resource usage, failing
// fast if the shim is already dead.
func (d *Dispatcher) Stats(ctx context.Context, id string, runtimeName string) (ContainerStats, error) {
	dir := d.workDir(id)
	if !ShimAlive(dir) {
		return ContainerStats{}, ErrShimDead
	}
	inv, err := d.invokerFor(runtimeName)
	if err != nil {
		return ContainerStats{}, err
	}
	return inv.CallEventsStats(ctx, dir, id)
}

// Pause suspends a container's processes via the runtime.
func (d *Dispatcher) Pause(ctx context.Context, id string, runtimeName string) error {
	inv, err := d.invokerFor(runtimeName)
	if err != nil {
		return err
	}
	return inv.CallSimple(ctx, d.workDir(id), "pause", nil, id, nil)
}

// Resume unfreezes a previously paused container via the runtime.
func (d *Dispatcher) Resume(ctx context.Context, id string, runtimeName string) error {
	inv, err := d.invokerFor(runtimeName)
	if err != nil {
		return err
	}
	return inv.CallSimple(ctx, d.workDir(id), "resume", nil, id, nil)
}

// Update projects hc into resources.json under a scratch update/ subdir,
// invokes `update --resources` against it, and removes the subdir
// regardless of outcome.
func (d *Dispatcher) Update(ctx context.Context, id string, runtimeName string, hc HostConfig) error {
	doc, err := BuildResourcesDocument(hc)
	if err != nil {
		return err
	}

	updateDir := filepath.Join(d.workDir(id), "update")
	if err := os.MkdirAll(updateDir, 0700); err != nil {
		return errors.Wrapf(ErrWriteFailed, "creating update dir: %v", err)
	}
	defer os.RemoveAll(updateDir)

	path := filepath.Join(updateDir, "resources.json")
	if err := checkPathLen(path); err != nil {
		return err
	}
	data, err := marshalResources(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrapf(ErrWriteFailed, "%s: %v", path, err)
	}

	inv, err := d.invokerFor(runtimeName)
	if err != nil {
		return err
	}
	return inv.CallSimple(ctx, d.workDir(id), "update", []string{"--resources", path}, id, ShowStderr)
}

// ExecParams.IDSuffix, when nonempty, becomes the exec id verbatim;
// otherwise a fresh random one is generated.
func newExecID(suffix string) (string, error) {
	if suffix != "" {
		return suffix, nil
	}
	buf := make([]byte, execIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrapf(err, "generating exec id")
	}
	return hex.EncodeToString(buf), nil
}

// ExecResult is what Dispatcher.Exec returns once the exec session's shim
// has exited.
type ExecResult struct {
	ExitCode int
}

// Exec runs a new process inside an existing container's namespaces via a
// dedicated exec-session shim, returning its exit code once it finishes.
func (d *Dispatcher) Exec(ctx context.Context, id string, params ExecParams) (ExecResult, error) {
	execID, err := newExecID(params.IDSuffix)
	if err != nil {
		return ExecResult{}, err
	}

	dir := execDir(d.StateRoot, id, execID)
	if err := checkPathLen(filepath.Join(dir, processJSONName)); err != nil {
		return ExecResult{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return ExecResult{}, errors.Wrapf(ErrWriteFailed, "creating exec dir %s: %v", dir, err)
	}
	defer os.RemoveAll(dir)

	if err := CreateFIFO(resizeFIFOPath(dir), 0600); err != nil {
		return ExecResult{}, err
	}

	inv, err := d.invokerFor(params.Runtime)
	if err != nil {
		return ExecResult{}, err
	}

	ps := BuildProcessState(params.Process, params.Annotations, params.Stdio, "", params.Stdio.AnyAttached(), resizeFIFOPath(dir), true, nil)
	if err := WriteProcessState(dir, ps); err != nil {
		return ExecResult{}, err
	}

	foreground := fgExec(params.Stdio)
	result, err := ShimCreate(ctx, ShimCreateParams{
		ID:            id,
		WorkDir:       dir,
		Bundle:        d.workDir(id),
		RuntimeBinary: inv.descriptor.Path,
		ShimBinary:    d.ShimBinary,
		Foreground:    foreground,
		Timeout:       params.Timeout,
	})
	if err != nil {
		return ExecResult{}, withDiagnostics(err, dir)
	}

	if _, err := readPidFile(dir); err != nil {
		return ExecResult{}, withDiagnostics(errors.Wrapf(ErrWaitFailed, "exec shim exited without a container pid: %v", err), dir)
	}

	return ExecResult{ExitCode: exitCodeFromWaitState(result.ExitState)}, nil
}

// fgExec reports whether an exec session needs its shim run in the
// foreground: true whenever any stdio stream is attached to a FIFO.
func fgExec(stdio StdioPaths) bool {
	return stdio.AnyAttached()
}

// exitCodeFromWaitState maps a terminated process's wait status to a shell
// exit code: the exit status verbatim on a normal exit, 128+signal on
// termination by signal. A nil state means the caller only waited on P1 of
// a detached double fork (ShimCreateParams.Foreground == false), which the
// runtime's own shim_create treats as success once P1 exits cleanly, so it
// maps to 0 rather than -1.
func exitCodeFromWaitState(state *os.ProcessState) int {
	if state == nil {
		return 0
	}
	status, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return -1
	}
	switch {
	case status.Exited():
		return status.ExitStatus()
	case status.Signaled():
		return 128 + int(status.Signal())
	default:
		return -1
	}
}

// ExecResize writes the new terminal size to the exec session's resize
// FIFO, then delivers SIGWINCH to the exec's container process.
func (d *Dispatcher) ExecResize(ctx context.Context, id, execID string, containerPID int, w, h uint16) error {
	dir := execDir(d.StateRoot, id, execID)
	if err := WriteResize(ctx, resizeFIFOPath(dir), w, h); err != nil {
		return err
	}
	return unix.Kill(containerPID, syscall.SIGWINCH)
}

// Restart, Attach, ListPids, and Resize are deliberately unimplemented:
// nothing above this adapter core drives them today.
func (d *Dispatcher) Restart(context.Context, string) error {
	return ErrNotImplemented
}

func (d *Dispatcher) Attach(context.Context, string) error {
	return ErrNotImplemented
}

func (d *Dispatcher) ListPids(context.Context, string) error {
	return ErrNotImplemented
}

func (d *Dispatcher) Resize(context.Context, string) error {
	return ErrNotImplemented
}
