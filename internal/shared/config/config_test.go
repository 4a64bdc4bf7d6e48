package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8100, cfg.Port)
	assert.Equal(t, 15, cfg.MaxIterations)
	assert.Equal(t, 8*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 24, cfg.CompactionThreshold)
	assert.Equal(t, 50, cfg.IntakeCompactionThreshold)
	assert.Equal(t, 20, cfg.CompactionTail)
	assert.Equal(t, 16384, cfg.MaxTokens)
	assert.Equal(t, 120*time.Minute, cfg.OrchestratorIdleTimeout())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COMPASS_PORT", "9200")
	t.Setenv("COMPASS_MODEL", "claude-haiku-4-5-20251001")
	t.Setenv("COMPASS_ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Model)
	assert.Equal(t, "sk-test", cfg.AnthropicAPIKey)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9300\nmax_iterations: 10\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Port)
	assert.Equal(t, 10, cfg.MaxIterations)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("COMPASS_PORT", "70000")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsBadCompactionTail(t *testing.T) {
	t.Setenv("COMPASS_COMPACTION_TAIL", "100")
	_, err := Load("")
	assert.Error(t, err)
}
