package libisulad

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxArgvSlots bounds the argv assembled for a runtime invocation: binary +
// prefix args + subcommand + opts + id + signal sentinel. Overflow is
// ErrArgvTooLong rather than a silent truncation.
const maxArgvSlots = 64

// StderrCallback converts a nonzero exit plus captured stderr into a
// (possibly successful) outcome. Returning nil means "treat as success
// despite the nonzero exit"; returning an error (typically the original
// exec error, wrapped) means the failure stands.
type StderrCallback func(exitErr error, stderr string) error

// Invoker assembles argv, execs the OCI runtime binary from a given
// working directory, and parses its JSON output.
type Invoker struct {
	descriptor RuntimeDescriptor
}

// NewInvoker binds an Invoker to a resolved runtime descriptor.
func NewInvoker(descriptor RuntimeDescriptor) *Invoker {
	return &Invoker{descriptor: descriptor}
}

// buildArgv assembles [binary] ++ prefix-args ++ [sub] ++ opts ++ [id?],
// appending the literal "9" for sub == "kill".
func (inv *Invoker) buildArgv(sub string, opts []string, id string) ([]string, error) {
	argv := make([]string, 0, 4+len(inv.descriptor.Args)+len(opts))
	argv = append(argv, inv.descriptor.Path)
	argv = append(argv, inv.descriptor.Args...)
	argv = append(argv, sub)
	argv = append(argv, opts...)
	if id != "" {
		argv = append(argv, id)
	}
	if sub == "kill" {
		argv = append(argv, "9")
	}
	if len(argv) > maxArgvSlots {
		return nil, errors.Wrapf(ErrArgvTooLong, "%d slots for %s", len(argv), sub)
	}
	return argv, nil
}

// run execs argv from workDir, returning stdout, stderr, and the exec
// error (nil on success). The child's cwd is workDir; for sub == "start"
// NOTIFY_SOCKET is scrubbed from the child's environment before exec, so
// the runtime's own sd_notify readiness signal cannot be mistaken for this
// container's.
func (inv *Invoker) run(ctx context.Context, sub string, workDir string, argv []string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = inheritedEnv(sub == "start")

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	logrus.WithFields(logrus.Fields{"argv": argv, "cwd": workDir}).Debug("invoking OCI runtime")

	runErr := cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), runErr
}

// inheritedEnv returns the current process environment, with NOTIFY_SOCKET
// removed when stripNotify is true.
func inheritedEnv(stripNotify bool) []string {
	env := os.Environ()
	if !stripNotify {
		return env
	}
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if len(kv) >= len("NOTIFY_SOCKET=") && kv[:len("NOTIFY_SOCKET=")] == "NOTIFY_SOCKET=" {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// CallSimple assembles argv for sub/opts/id, runs it, and applies onStderr
// (if provided) to a nonzero exit before surfacing the failure.
func (inv *Invoker) CallSimple(ctx context.Context, workDir, sub string, opts []string, id string, onStderr StderrCallback) error {
	argv, err := inv.buildArgv(sub, opts, id)
	if err != nil {
		return err
	}
	_, stderr, runErr := inv.run(ctx, sub, workDir, argv)
	if runErr == nil {
		return nil
	}
	if onStderr != nil {
		if cbErr := onStderr(runErr, string(stderr)); cbErr == nil {
			return nil
		}
	}
	return &RuntimeCallFailedError{Subcommand: sub, Stderr: string(stderr), Err: runErr}
}

// CallState assembles and runs `runtime state <id>`, parsing the OCI state
// document from stdout.
func (inv *Invoker) CallState(ctx context.Context, workDir, id string) (ContainerState, error) {
	argv, err := inv.buildArgv("state", nil, id)
	if err != nil {
		return ContainerState{}, err
	}
	stdout, stderr, runErr := inv.run(ctx, "state", workDir, argv)
	if runErr != nil {
		return ContainerState{}, &RuntimeCallFailedError{Subcommand: "state", Stderr: string(stderr), Err: runErr}
	}
	return parseState(stdout)
}

type ociStateDoc struct {
	Status string `json:"status"`
	Pid    int    `json:"pid"`
}

func parseState(stdout []byte) (ContainerState, error) {
	var doc ociStateDoc
	if err := json.Unmarshal(stdout, &doc); err != nil {
		return ContainerState{}, errors.Wrapf(ErrParseFailed, "state: %v", err)
	}
	cs := ContainerState{PID: doc.Pid}
	switch doc.Status {
	case "running":
		cs.Status = StatusRunning
	case "stopped":
		cs.Status = StatusStopped
	case "paused":
		cs.Status = StatusPaused
	default:
		cs.Status = StatusUnknown
	}
	return cs, nil
}

type ociStatsDoc struct {
	Data struct {
		Pids struct {
			Current []int `json:"current"`
		} `json:"pids"`
		CPU struct {
			Usage struct {
				Total  uint64 `json:"total"`
				Kernel uint64 `json:"kernel"`
			} `json:"usage"`
		} `json:"cpu"`
		Memory struct {
			Usage struct {
				Usage uint64 `json:"usage"`
				Limit uint64 `json:"limit"`
			} `json:"usage"`
			Raw struct {
				TotalInactiveFile uint64 `json:"total_inactive_file"`
			} `json:"raw"`
		} `json:"memory"`
	} `json:"data"`
}

// CallEventsStats assembles and runs `runtime events --stats <id>`,
// parsing the shim stats document from stdout. Missing fields default to
// zero.
func (inv *Invoker) CallEventsStats(ctx context.Context, workDir, id string) (ContainerStats, error) {
	argv, err := inv.buildArgv("events", []string{"--stats"}, id)
	if err != nil {
		return ContainerStats{}, err
	}
	stdout, stderr, runErr := inv.run(ctx, "events", workDir, argv)
	if runErr != nil {
		return ContainerStats{}, &RuntimeCallFailedError{Subcommand: "events", Stderr: string(stderr), Err: runErr}
	}
	return parseStats(stdout)
}

func parseStats(stdout []byte) (ContainerStats, error) {
	var doc ociStatsDoc
	if err := json.Unmarshal(stdout, &doc); err != nil {
		return ContainerStats{}, errors.Wrapf(ErrParseFailed, "stats: %v", err)
	}
	return ContainerStats{
		PIDs:                  doc.Data.Pids.Current,
		CPUTotalNanos:         doc.Data.CPU.Usage.Total,
		CPUKernelNanos:        doc.Data.CPU.Usage.Kernel,
		MemoryUsageBytes:      doc.Data.Memory.Usage.Usage,
		MemoryLimitBytes:      doc.Data.Memory.Usage.Limit,
		TotalInactiveFileByte: doc.Data.Memory.Raw.TotalInactiveFile,
	}, nil
}

// KillOutputCheck treats a kill's nonzero exit as success if stderr
// indicates the container is already gone.
func KillOutputCheck(_ error, stderr string) error {
	if bytes.Contains([]byte(stderr), []byte("does not exist")) {
		return nil
	}
	return errors.New("kill failed and container is not reported gone")
}

// ShowStderr always surfaces the failure, attaching stderr to the
// caller-visible message.
func ShowStderr(exitErr error, stderr string) error {
	if stderr == "" {
		return exitErr
	}
	return errors.Wrapf(exitErr, "%s", stderr)
}
