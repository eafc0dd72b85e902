package libisulad

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
)

// maxPathLen mirrors PATH_MAX on Linux. Checked explicitly rather than
// relying on the eventual open(2) failure so PathTooLong is reported
// before any partial write happens.
const maxPathLen = 4096

const processJSONName = "process.json"

// annotation keys the builder recognizes.
const (
	annotationLogFile   = "log.file"
	annotationLogRotate = "log.rotate"
	annotationLogSize   = "log.size"
)

// BuildProcessState projects an OCI process spec (github.com/opencontainers/
// runtime-spec's specs.Process) plus I/O FIFOs and annotations into the
// shim's process-state record. It never touches the filesystem; callers
// pass the result to WriteProcessState.
func BuildProcessState(spec specs.Process, annotations map[string]string, stdio StdioPaths, exitFIFO string, openStdin bool, resizeFIFO string, exec bool, runtimeArgs []string) ProcessState {
	ps := ProcessState{
		Args:            spec.Args,
		Env:             spec.Env,
		Cwd:             spec.Cwd,
		Terminal:        spec.Terminal,
		OpenStdin:       openStdin,
		User:            formatUser(spec.User),
		Rlimits:         convertRlimits(spec.Rlimits),
		ApparmorProfile: spec.ApparmorProfile,
		SelinuxLabel:    spec.SelinuxLabel,
		Capabilities:    flattenCapabilities(spec.Capabilities),
		OOMScoreAdj:     spec.OOMScoreAdj,
		NoNewPrivileges: spec.NoNewPrivileges,
		StdinFIFO:       stdio.Stdin,
		StdoutFIFO:      stdio.Stdout,
		StderrFIFO:      stdio.Stderr,
		ExitFIFO:        exitFIFO,
		ResizeFIFO:      resizeFIFO,
		Exec:            exec,
		RuntimeArgs:     runtimeArgs,
		Annotations:     annotations,
	}
	applyLogAnnotations(&ps, annotations)
	return ps
}

// formatUser projects an OCI User into process.json's user field: the
// username when one is set, otherwise "<uid>:<gid>". The zero user (uid 0,
// gid 0, no username) yields "", which leaves the field out of process.json.
func formatUser(u specs.User) string {
	if u.UID == 0 && u.GID == 0 && u.Username == "" {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("%d:%d", u.UID, u.GID)
}

func convertRlimits(in []specs.POSIXRlimit) []Rlimit {
	if in == nil {
		return nil
	}
	out := make([]Rlimit, len(in))
	for i, r := range in {
		out[i] = Rlimit{Type: r.Type, Hard: r.Hard, Soft: r.Soft}
	}
	return out
}

// flattenCapabilities collapses the OCI process's per-set capability lists
// (Bounding/Effective/Inheritable/Permitted/Ambient) into the single
// deduplicated list isulad-shim's process.json carries.
func flattenCapabilities(caps *specs.LinuxCapabilities) []string {
	if caps == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, set := range [][]string{caps.Bounding, caps.Effective, caps.Inheritable, caps.Permitted, caps.Ambient} {
		for _, c := range set {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// applyLogAnnotations extracts the log.file/log.rotate/log.size annotations
// into ps. Every rule silently ignores a missing or malformed value rather
// than failing the whole build.
func applyLogAnnotations(ps *ProcessState, annotations map[string]string) {
	if annotations == nil {
		return
	}
	if v, ok := annotations[annotationLogFile]; ok {
		ps.LogPath = v
	}
	if v, ok := annotations[annotationLogRotate]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ps.LogMaxFiles = n
		}
	}
	if v, ok := annotations[annotationLogSize]; ok {
		if n, err := parseByteSize(v); err == nil && n > 0 {
			ps.LogMaxSizeBytes = n
		}
	}
}

// parseByteSize parses the narrow subset of byte-size strings the
// log.size annotation uses: a positive decimal integer optionally suffixed
// with k, m, or g (case-insensitive), meaning kibi/mebi/gibibytes. See
// DESIGN.md for why this isn't delegated to a third-party units library.
func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty byte-size string")
	}
	mult := int64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing byte-size %q", s)
	}
	if n <= 0 {
		return 0, errors.Errorf("byte-size must be positive, got %d", n)
	}
	if n > (1<<63-1)/mult {
		return 0, errors.Errorf("byte-size %q overflows int64", s)
	}
	return n * mult, nil
}

// WriteProcessState serializes ps to <dir>/process.json with mode 0600, the
// file isulad-shim reads on start.
func WriteProcessState(dir string, ps ProcessState) error {
	path := filepath.Join(dir, processJSONName)
	if len(path) > maxPathLen {
		return errors.Wrapf(ErrPathTooLong, "%s", path)
	}
	data, err := json.Marshal(ps)
	if err != nil {
		return errors.Wrapf(ErrSerializationFailed, "%v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrapf(ErrWriteFailed, "%s: %v", path, err)
	}
	return nil
}

// ReadProcessState reads back a previously written process.json, used by
// tests to verify the write path round-trips cleanly.
func ReadProcessState(dir string) (ProcessState, error) {
	path := filepath.Join(dir, processJSONName)
	data, err := os.ReadFile(path)
	if err != nil {
		return ProcessState{}, errors.Wrapf(err, "reading %s", path)
	}
	var ps ProcessState
	if err := json.Unmarshal(data, &ps); err != nil {
		return ProcessState{}, errors.Wrapf(ErrParseFailed, "%s: %v", path, err)
	}
	return ps, nil
}

// workDir computes W(id) = <stateRoot>/<id>.
func workDir(stateRoot, id string) string {
	return filepath.Join(stateRoot, id)
}

// execDir computes E(id, execID) = W(id)/exec/<execID>.
func execDir(stateRoot, id, execID string) string {
	return filepath.Join(workDir(stateRoot, id), "exec", execID)
}

func checkPathLen(path string) error {
	if len(path) > maxPathLen {
		return errors.Wrapf(ErrPathTooLong, "%s", path)
	}
	return nil
}

func shimPidPath(dir string) string    { return filepath.Join(dir, "shim-pid") }
func pidPath(dir string) string        { return filepath.Join(dir, "pid") }
func resizeFIFOPath(dir string) string { return filepath.Join(dir, "resize_fifo") }

func mustAtoi(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return n, nil
}
