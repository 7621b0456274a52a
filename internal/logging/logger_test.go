package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_CreatesDirAndLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	log, err := NewLogger(Options{Dir: dir, File: "test.log"})
	require.NoError(t, err)
	assert.DirExists(t, dir)

	log.Info("decision")
	_ = log.Sync()

	b, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"decision"`, "entries are JSON")
}

func TestNewLogger_DebugLevel(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(Options{Dir: dir, Debug: true, Stderr: true})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log.Debug("redis_client_opened")
	_ = log.Sync()
	assert.FileExists(t, filepath.Join(dir, "delayedmailer.log"))
}
