package config

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memotrace/internal/memo"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.NoTracing)
	assert.False(t, cfg.NoPhysicalTracing)
	assert.Equal(t, "memotrace.db", cfg.DBPath)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.Memo().MemoizationAllowed())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MEMOTRACE_NO_TRACING", "true")
	t.Setenv("MEMOTRACE_DB", "/tmp/x.db")
	t.Setenv("MEMOTRACE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, memo.Config{TracingDisabled: true}, cfg.Memo())
	assert.False(t, cfg.Memo().MemoizationAllowed())
}

func TestLoadPhysicalKillSwitch(t *testing.T) {
	t.Setenv("MEMOTRACE_NO_PHYSICAL_TRACING", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, memo.Config{PhysicalTracingDisabled: true}, cfg.Memo())
}

func TestLoadError(t *testing.T) {
	t.Setenv("MEMOTRACE_NO_TRACING", "not-a-bool")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
