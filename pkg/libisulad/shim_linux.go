package libisulad

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultShimBinary is the isulad-shim executable name resolved from PATH
// when the caller does not supply an explicit path.
const DefaultShimBinary = "isulad-shim"

// getContainerInitTimeout bounds how long GetContainerInitPID polls for
// the container's init PID to appear before giving up.
const getContainerInitTimeout = 120 * time.Second
const getContainerInitPoll = 100 * time.Millisecond

// killWaitRetries/killWaitInterval bound the brief reap retry after a
// SIGKILL sent on timeout.
const killWaitRetries = 5
const killWaitInterval = 100 * time.Millisecond

// ShimCreateParams are the inputs to the create-time double fork.
type ShimCreateParams struct {
	ID            string
	WorkDir       string
	Bundle        string
	RuntimeBinary string
	ShimBinary    string
	Foreground    bool
	// Timeout bounds the wait on the forked process. Timeout <= 0 means
	// wait indefinitely, subject to the defensive fallback documented in
	// DESIGN.md's Open Questions.
	Timeout time.Duration
}

// ShimCreateResult is what a successful (or diagnosably failed) shim
// create returns.
type ShimCreateResult struct {
	ShimPID int
	// ExitState is populated only when Foreground was set: the caller
	// waited on the shim process directly and this is its terminal wait
	// status, used by Dispatcher.Exec to compute an exit code.
	ExitState *os.ProcessState
}

// ShimCreate performs the create-time double fork: fork P1, which (unless
// Foreground) forks P2 -- the isulad-shim process itself -- writes P2's
// PID to shim-pid, and exits; the caller waits on P1 with the given
// timeout and treats any preflight-pipe bytes as a hard failure.
func ShimCreate(ctx context.Context, params ShimCreateParams) (ShimCreateResult, error) {
	shimBinary := params.ShimBinary
	if shimBinary == "" {
		shimBinary = DefaultShimBinary
	}

	if params.Foreground {
		return shimCreateForeground(ctx, params, shimBinary)
	}
	return shimCreateBackground(ctx, params, shimBinary)
}

// shimCreateForeground execs the shim directly (P1 is the shim, skipping
// the second fork) so the caller can wait on it and collect its exit
// status -- the path Dispatcher.Exec needs for attached I/O.
func shimCreateForeground(ctx context.Context, params ShimCreateParams, shimBinary string) (ShimCreateResult, error) {
	argv := []string{params.ID, params.Bundle, params.RuntimeBinary, "info", "2m0s"}
	cmd := exec.CommandContext(ctx, shimBinary, argv...)
	cmd.Dir = params.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := cmd.Start(); err != nil {
		return ShimCreateResult{}, errors.Wrapf(ErrForkFailed, "%v", err)
	}
	if err := os.WriteFile(shimPidPath(params.WorkDir), []byte(strconv.Itoa(cmd.Process.Pid)), 0600); err != nil {
		_ = cmd.Process.Kill()
		return ShimCreateResult{}, errors.Wrapf(ErrWriteFailed, "shim-pid: %v", err)
	}

	waitErr := waitWithTimeout(cmd, params.Timeout)
	result := ShimCreateResult{ShimPID: cmd.Process.Pid, ExitState: cmd.ProcessState}
	if waitErr != nil {
		return result, waitErr
	}
	return result, nil
}

// shimCreateBackground implements the full double-fork topology through
// the reexec'd P1 helper. See reexec_linux.go and DESIGN.md's Open
// Questions for why this replaces a raw fork().
func shimCreateBackground(ctx context.Context, params ShimCreateParams, shimBinary string) (ShimCreateResult, error) {
	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		return ShimCreateResult{}, errors.Wrapf(ErrForkFailed, "preflight pipe: %v", err)
	}
	defer pipeR.Close()

	cmd := reexecShimParentCommand(params.WorkDir, shimBinary, params.ID, params.Bundle, params.RuntimeBinary, pipeW)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := cmd.Start(); err != nil {
		pipeW.Close()
		return ShimCreateResult{}, errors.Wrapf(ErrForkFailed, "%v", err)
	}
	// Our copy of the write end must close so EOF on the read end
	// reflects only P1's lifetime, not ours.
	pipeW.Close()

	preflight, _ := io.ReadAll(pipeR)

	waitErr := waitWithTimeout(cmd, params.Timeout)

	// Defensive fallback: retained even though it is redundant, since it
	// only fires after the wait on P1 has already returned.
	if params.Timeout <= 0 && waitErr != nil {
		_ = cmd.Process.Kill()
	}

	if len(preflight) > 0 {
		return ShimCreateResult{}, &ChildPreflightError{Text: string(preflight)}
	}
	if waitErr != nil {
		return ShimCreateResult{}, waitErr
	}

	pid, err := readShimPidFile(params.WorkDir)
	if err != nil {
		return ShimCreateResult{}, errors.Wrapf(ErrWaitFailed, "reading shim-pid after create: %v", err)
	}
	return ShimCreateResult{ShimPID: pid}, nil
}

// waitWithTimeout waits on cmd, enforcing timeout when positive. On
// timeout it sends SIGKILL and briefly retries the reap.
func waitWithTimeout(cmd *exec.Cmd, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if timeout <= 0 {
		return <-done
	}

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		for i := 0; i < killWaitRetries; i++ {
			select {
			case <-done:
				return errors.Wrapf(ErrTimeout, "shim create timed out after %s", timeout)
			case <-time.After(killWaitInterval):
			}
		}
		return errors.Wrapf(ErrTimeout, "shim create timed out after %s and did not reap", timeout)
	}
}

// ShimAlive reads shim-pid and probes it with signal 0. A missing file or
// a zero PID is "not alive", never an error.
func ShimAlive(workDir string) bool {
	pid, err := readShimPidFile(workDir)
	if err != nil || pid == 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// GetContainerInitPID polls the work directory's pid file and ShimAlive
// until the PID appears, the shim dies, or the poll times out.
func GetContainerInitPID(ctx context.Context, workDir string) (int, error) {
	var pid int
	condition := func(ctx context.Context) (bool, error) {
		if !ShimAlive(workDir) {
			return false, ErrShimDead
		}
		p, err := readPidFile(workDir)
		if err != nil || p == 0 {
			return false, nil
		}
		pid = p
		return true, nil
	}

	err := wait.PollUntilContextTimeout(ctx, getContainerInitPoll, getContainerInitTimeout, true, condition)
	if err != nil {
		if errors.Is(err, ErrShimDead) {
			return 0, ErrShimDead
		}
		return 0, errors.Wrapf(ErrTimeout, "waiting for container init pid: %v", err)
	}
	return pid, nil
}

// ShimKillForce sends SIGKILL to the recorded shim PID, silent on a
// missing shim-pid file.
func ShimKillForce(workDir string) {
	pid, err := readShimPidFile(workDir)
	if err != nil || pid == 0 {
		return
	}
	if err := unix.Kill(pid, syscall.SIGKILL); err != nil && err != unix.ESRCH {
		logrus.WithError(err).Warnf("force-killing shim pid %d", pid)
	}
}

func readShimPidFile(workDir string) (int, error) {
	return readIntFile(shimPidPath(workDir))
}

func readPidFile(workDir string) (int, error) {
	return readIntFile(pidPath(workDir))
}

func readIntFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return mustAtoi(strings.TrimSpace(string(data)))
}
