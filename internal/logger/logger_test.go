package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_FileSink(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "logs", "tastychat.log")

	l, err := Init(Config{
		Level: "debug",
		File:  logFile,
	})
	require.NoError(t, err)
	defer l.Close()

	zl := l.Zerolog()
	zl.Info().Str("component", "test").Msg("hello")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "component")
}

func TestInit_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := Init(Config{Level: "bogus", Console: true})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "info", l.Zerolog().GetLevel().String())
}

func TestInit_LevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "tastychat.log")

	l, err := Init(Config{Level: "warn", File: logFile})
	require.NoError(t, err)
	defer l.Close()

	zl := l.Zerolog()
	zl.Debug().Msg("too quiet")
	zl.Warn().Msg("loud enough")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "too quiet")
	assert.Contains(t, string(data), "loud enough")
}

func TestInit_RedactsCredentialsInFileSink(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "tastychat.log")

	l, err := Init(Config{Level: "info", File: logFile, Redaction: true})
	require.NoError(t, err)
	defer l.Close()

	zl := l.Zerolog()
	zl.Info().Msg("using key sk-abcdefghijklmnopqrstuvwxyz123456")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-abcdefghijklmnopqrstuvwxyz123456")
	assert.Contains(t, string(data), "[REDACTED]")
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "tastychat.log")

	rw, err := NewRotatingWriter(logFile, 1, 0)
	require.NoError(t, err)
	defer rw.Close()

	// Force the size limit low enough to trigger rotation without writing 1MB.
	rw.maxSize = 64

	line := strings.Repeat("x", 48) + "\n"
	_, err = rw.Write([]byte(line))
	require.NoError(t, err)
	_, err = rw.Write([]byte(line))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2, "expected the original and one rotated file")
}
