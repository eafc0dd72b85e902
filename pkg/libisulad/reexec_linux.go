package libisulad

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/containers/storage/pkg/reexec"
)

// shimParentCommandName is the reexec initializer name for the
// intermediate process (P1) of the create-time double fork. Go cannot run
// arbitrary code in the window between fork() and exec() the way the
// original C implementation does (the runtime's goroutine scheduler and GC
// are not fork-safe there), so P1 is a full re-exec of this binary
// (github.com/containers/storage/pkg/reexec, following moby-moby's
// pkg/reexec convention) rather than a raw fork(). See DESIGN.md's Open
// Questions for the full rationale.
const shimParentCommandName = "isulad-shim-parent"

func init() {
	reexec.Register(shimParentCommandName, runShimParent)
}

// shimParentArgs is the positional argv shimParent reads from os.Args[1:],
// mirroring the isulad-shim argv contract plus the extra bookkeeping this
// process needs to complete its half of the double fork.
type shimParentArgs struct {
	workDir       string
	shimBinary    string
	containerID   string
	bundle        string
	runtimeBinary string
}

// preflightFD is the fixed ExtraFiles slot the caller reserves for the
// preflight pipe's write end when launching P1 (fd 3: stdin/stdout/stderr
// occupy 0-2).
const preflightFD = 3

// runShimParent is P1: it chdirs into the work directory, scrubs
// NOTIFY_SOCKET, forks P2 (the actual isulad-shim process) via os/exec,
// writes P2's PID to shim-pid, and exits. Any failure before P2 is
// launched, or in launching P2 itself, is written to the inherited
// preflight pipe before a nonzero exit; the caller treats any bytes read
// from that pipe as a ChildPreflightError.
func runShimParent() {
	pipe := os.NewFile(uintptr(preflightFD), "preflight")
	// The inherited fd carries no close-on-exec flag; set it so the shim
	// started below does not hold the write end open.
	syscall.CloseOnExec(preflightFD)

	args, err := parseShimParentArgs(os.Args[1:])
	if err != nil {
		failPreflight(pipe, err)
	}

	if err := os.Chdir(args.workDir); err != nil {
		failPreflight(pipe, fmt.Errorf("chdir %s: %w", args.workDir, err))
	}
	os.Unsetenv("NOTIFY_SOCKET")

	shimArgv := []string{args.containerID, args.bundle, args.runtimeBinary, "info", "2m0s"}
	cmd := exec.Command(args.shimBinary, shimArgv...)
	cmd.Dir = args.workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err == nil {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull
	}

	if err := cmd.Start(); err != nil {
		failPreflight(pipe, fmt.Errorf("exec %s: %w", args.shimBinary, err))
	}
	if devnull != nil {
		devnull.Close()
	}

	if err := os.WriteFile(shimPidPath(args.workDir), []byte(strconv.Itoa(cmd.Process.Pid)), 0600); err != nil {
		failPreflight(pipe, fmt.Errorf("writing shim-pid: %w", err))
	}

	pipe.Close()
	os.Exit(0)
}

func parseShimParentArgs(argv []string) (shimParentArgs, error) {
	if len(argv) != 5 {
		return shimParentArgs{}, fmt.Errorf("expected 5 arguments, got %d", len(argv))
	}
	return shimParentArgs{
		workDir:       argv[0],
		shimBinary:    argv[1],
		containerID:   argv[2],
		bundle:        argv[3],
		runtimeBinary: argv[4],
	}, nil
}

// failPreflight writes err's text to the preflight pipe and exits nonzero.
// It never returns.
func failPreflight(pipe *os.File, err error) {
	if pipe != nil {
		fmt.Fprint(pipe, err.Error())
		pipe.Close()
	}
	os.Exit(1)
}

// reexecShimParentCommand builds the exec.Cmd for P1, wired with the
// preflight pipe's write end at fd 3.
func reexecShimParentCommand(workDir, shimBinary, containerID, bundle, runtimeBinary string, pipeW *os.File) *exec.Cmd {
	cmd := reexec.Command(shimParentCommandName, workDir, shimBinary, containerID, bundle, runtimeBinary)
	cmd.ExtraFiles = []*os.File{pipeW}
	return cmd
}
