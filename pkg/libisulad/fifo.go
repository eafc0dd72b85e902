package libisulad

import (
	"context"
	"fmt"
	"syscall"

	"github.com/containerd/fifo"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// CreateFIFO makes a named pipe at path with the given mode, used for a
// container's exit and resize FIFOs.
func CreateFIFO(path string, mode uint32) error {
	if err := unix.Mkfifo(path, mode); err != nil && err != unix.EEXIST {
		return errors.Wrapf(err, "mkfifo %s", path)
	}
	return nil
}

// WriteResize writes the "<cols> <rows>" line to the exec session's
// resize FIFO, opened non-blocking write-only. github.com/containerd/fifo
// (also present in moby-moby's dependency graph) supplies the
// context-scoped non-blocking open so a reader that never shows up cannot
// hang this call.
func WriteResize(ctx context.Context, path string, cols, rows uint16) error {
	f, err := fifo.OpenFifo(ctx, path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0620)
	if err != nil {
		return errors.Wrapf(err, "opening resize fifo %s", path)
	}
	defer f.Close()

	line := fmt.Sprintf("%d %d\n", cols, rows)
	if _, err := f.Write([]byte(line)); err != nil {
		return errors.Wrapf(err, "writing resize fifo %s", path)
	}
	return nil
}
