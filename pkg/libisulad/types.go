// Package libisulad implements the runtime-adapter core that sits between
// the container service and an OCI-compatible low-level runtime, mediated
// by a per-container isulad-shim supervisor process.
package libisulad

import (
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Status is the sum type a container or exec session can be in, as reported
// by the OCI runtime's `state` subcommand.
type Status int

const (
	// StatusUnknown covers any status string the OCI runtime returns that
	// this adapter does not recognize, and the state before a shim has
	// reported anything at all.
	StatusUnknown Status = iota
	StatusRunning
	StatusStopped
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ContainerState is the parsed result of `runtime state <id>`.
type ContainerState struct {
	Status Status
	PID    int
}

// HasPID reports whether the runtime returned a nonzero init PID.
func (c ContainerState) HasPID() bool {
	return c.PID != 0
}

// ContainerStats is the parsed result of `runtime events --stats <id>`.
type ContainerStats struct {
	PIDs                  []int
	CPUTotalNanos         uint64
	CPUKernelNanos        uint64
	MemoryUsageBytes      uint64
	MemoryLimitBytes      uint64
	TotalInactiveFileByte uint64
}

// RuntimeDescriptor is the resolver's resolved answer: the binary to exec
// and the static argument prefix to place ahead of the subcommand.
type RuntimeDescriptor struct {
	Name string
	Path string
	Args []string
}

// ProcessState is the shim process-state record serialized to
// process.json. Field names track the isulad-shim wire contract, not Go
// naming convention, because this struct's JSON tags are read by an
// external binary this module does not control.
type ProcessState struct {
	Args            []string          `json:"args"`
	Env             []string          `json:"env"`
	Cwd             string            `json:"cwd"`
	Terminal        bool              `json:"terminal"`
	OpenStdin       bool              `json:"open_stdin"`
	User            string            `json:"user,omitempty"`
	Rlimits         []Rlimit          `json:"rlimits,omitempty"`
	ApparmorProfile string            `json:"apparmor_profile,omitempty"`
	SelinuxLabel    string            `json:"selinux_label,omitempty"`
	Capabilities    []string          `json:"capabilities,omitempty"`
	OOMScoreAdj     *int              `json:"oom_score_adj,omitempty"`
	NoNewPrivileges bool              `json:"no_new_privileges"`
	StdinFIFO       string            `json:"stdin,omitempty"`
	StdoutFIFO      string            `json:"stdout,omitempty"`
	StderrFIFO      string            `json:"stderr,omitempty"`
	ExitFIFO        string            `json:"exit_fifo"`
	ResizeFIFO      string            `json:"resize_fifo,omitempty"`
	Exec            bool              `json:"exec"`
	RuntimeArgs     []string          `json:"runtime_args,omitempty"`
	LogPath         string            `json:"log_path,omitempty"`
	LogMaxFiles     int               `json:"log_maxfile,omitempty"`
	LogMaxSizeBytes int64             `json:"log_maxsize,omitempty"`
	Annotations     map[string]string `json:"-"`
}

// Rlimit mirrors the OCI spec's POSIXRlimit shape narrowly enough for
// process.json without pulling the whole runtime-spec Process type through
// this record.
type Rlimit struct {
	Type string `json:"type"`
	Hard uint64 `json:"hard"`
	Soft uint64 `json:"soft"`
}

// StdioPaths bundles the three stdio FIFO paths a caller supplies to the
// process descriptor builder. An empty path means "not attached".
type StdioPaths struct {
	Stdin  string
	Stdout string
	Stderr string
}

// AnyAttached reports whether at least one stdio stream is wired to a
// FIFO, which forces an exec session into the foreground fork path.
func (s StdioPaths) AnyAttached() bool {
	return s.Stdin != "" || s.Stdout != "" || s.Stderr != ""
}

// CreateParams collects the inputs to Dispatcher.Create. Creation always
// uses the background (double-fork) shim topology; only Exec sessions ever
// run the shim in the foreground.
type CreateParams struct {
	Bundle      string
	Runtime     string
	Process     specs.Process
	Annotations map[string]string
	Stdio       StdioPaths
	ExitFIFO    string
	OpenStdin   bool
}

// ExecParams collects the inputs to Dispatcher.Exec.
type ExecParams struct {
	IDSuffix    string // caller-supplied exec id suffix; empty means generate one
	Runtime     string
	Process     specs.Process
	Annotations map[string]string
	Stdio       StdioPaths
	Timeout     time.Duration
}

// HostConfig is the subset of container update parameters the resources
// projector (§6) consumes.
type HostConfig struct {
	NanoCPUs           int64
	CPUShares          int64
	CPUPeriod          int64
	CPUQuota           int64
	CPUSetCPUs         string
	CPUSetMems         string
	CPURealtimePeriod  int64
	CPURealtimeRuntime int64
	Memory             int64
	MemorySwap         int64
	MemoryReservation  int64
	KernelMemory       int64
	BlkioWeight        uint16
}

// ExitInfo is what Dispatcher.Start returns to the caller for PID-reuse
// detection by the layer above this adapter.
type ExitInfo struct {
	PID           int
	StartTime     time.Time
	ShimPID       int
	ShimStartTime time.Time
}
