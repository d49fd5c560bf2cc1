package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")

	logger, flush, err := New(Options{File: path})
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("tick")
	flush()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tick")
	assert.NotContains(t, string(data), "hidden")
}

func TestVerboseFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")

	logger, flush, err := New(Options{File: path, Verbose: true})
	require.NoError(t, err)
	logger.Debug("retrying query")
	flush()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DEBUG")
	assert.Contains(t, string(data), "retrying query")
}
