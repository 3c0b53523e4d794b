package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"freespace_cleaner/internal/config"
)

func TestLogFieldsReachZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithZap(zap.New(core))

	l.Log("WARN", "disk nearly full", "mount", "/mnt/data", "free", uint64(42), "error", errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "disk nearly full", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "/mnt/data", ctx["mount"])
	assert.Equal(t, uint64(42), ctx["free"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestLogLevelMapping(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithZap(zap.New(core))

	l.Log("DEBUG", "d")
	l.Log("INFO", "i")
	l.Log("FATAL", "f")
	l.Log("whatever", "w")

	var levels []zapcore.Level
	for _, e := range logs.All() {
		levels = append(levels, e.Level)
	}
	assert.Equal(t, []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.ErrorLevel, zapcore.InfoLevel}, levels)
}

func TestOddFieldCount(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithZap(zap.New(core))
	l.Log("INFO", "msg", "lonely")
	assert.Equal(t, "(missing)", logs.All()[0].ContextMap()["lonely"])
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *EnterpriseLogger
	assert.NotPanics(t, func() {
		l.Log("ERROR", "nothing")
		_ = l.Close()
	})
	assert.NotPanics(t, func() { NewNop().Log("INFO", "quiet") })
}

func TestFileLoggerFiltersByLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "WARN"
	cfg.Logging.File = filepath.Join(t.TempDir(), "logs", "fsclean.log")

	l, err := NewEnterpriseLogger(cfg, false)
	require.NoError(t, err)
	l.Log("INFO", "hidden message")
	l.Log("WARN", "visible message", "mount", "/mnt/usb")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible message")
	assert.Contains(t, string(data), `"mount":"/mnt/usb"`)
	assert.NotContains(t, string(data), "hidden message")
}
