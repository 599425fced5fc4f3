package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(WithLevel("loud"))
	require.Error(t, err)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	log, err := NewLogger(WithOutputPaths([]string{path}), WithField("service", "test"))
	require.NoError(t, err)

	log.Info("hello", String("k", "v"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"service":"test"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestWithConfig_KeepsDefaultsForZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	WithConfig(Config{Level: "debug"})(&cfg)

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.Equal(t, 100, cfg.MaxSize)
}

func TestTestLogger_SharesEntriesAcrossChildren(t *testing.T) {
	log := NewTestLogger()
	child := log.Named("queue").With(String("task_id", "t1"))

	log.Info("root")
	child.Error("child failed")

	entries := log.GetEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "queue", entries[1].Logger)
	assert.Len(t, entries[1].Fields, 1)
	assert.Equal(t, []string{"child failed"}, log.Messages("ERROR"))

	log.Clear()
	assert.Empty(t, log.GetEntries())
}

func TestFromContext(t *testing.T) {
	log := NewTestLogger()

	assert.Same(t, log, FromContext(context.Background(), log).(*TestLogger))

	ctx := WithTaskID(WithRequestID(context.Background(), "req-1"), "task-1")
	assert.Equal(t, "req-1", RequestID(ctx))

	FromContext(ctx, log).Info("x")
	entries := log.GetEntries()
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Fields, 2)
}
