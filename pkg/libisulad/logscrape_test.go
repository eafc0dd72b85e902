package libisulad

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrapeErrorLinesConcatenatesInOrderUpToLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "log.json"), []byte(
		"{\"msg\":\"starting\"}\n{\"msg\":\"error: bundle missing\"}\n{\"msg\":\"error: retrying\"}\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shim-log.json"), []byte(
		"{\"msg\":\"error: shim exited\"}\n{\"msg\":\"error: extra\"}\n"), 0600))

	got := ScrapeErrorLines(dir)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, maxScrapedLines)
	assert.Contains(t, lines[0], "bundle missing")
	assert.Contains(t, lines[1], "retrying")
	assert.Contains(t, lines[2], "shim exited")
}

func TestScrapeErrorLinesMissingFilesYieldEmptyString(t *testing.T) {
	assert.Equal(t, "", ScrapeErrorLines(t.TempDir()))
}

func TestScrapeErrorLinesIgnoresNonErrorLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "log.json"), []byte(
		"{\"msg\":\"starting up fine\"}\n{\"msg\":\"still fine\"}\n"), 0600))

	assert.Equal(t, "", ScrapeErrorLines(dir))
}
