package libisulad

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFIFOIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resize_fifo")

	require.NoError(t, CreateFIFO(path, 0600))
	require.NoError(t, CreateFIFO(path, 0600))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeNamedPipe)
}

func TestWriteResizeWithoutReaderDoesNotHang(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resize_fifo")
	require.NoError(t, CreateFIFO(path, 0600))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := WriteResize(ctx, path, 80, 24)
	// No reader is attached; the write is expected to fail, at the latest
	// when ctx expires, rather than block the test.
	assert.Error(t, err)
}
