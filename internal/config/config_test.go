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
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, SessionModeRemote, cfg.SessionMode)
	assert.Equal(t, 3*time.Second, cfg.Runner.DecisionInterval)
	assert.Equal(t, 200, cfg.Runner.MaxIterations)
	assert.Equal(t, 0.6, cfg.Analysis.ClusterThreshold)
	assert.Equal(t, 0.85, cfg.Analysis.EmbeddingClusterThreshold)
}

func TestLoadEnvAndOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uxrunner.yaml")
	content := `
runner:
  decision_interval: 500ms
  max_iterations: 40
analysis:
  knowledge_limit: 8
  embedding_cluster_threshold: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LLM_TIMEOUT_MS", "not-a-number")
	t.Setenv("SESSION_MODE", SessionModeRod)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 120*time.Second, cfg.LLMTimeout)
	assert.Equal(t, SessionModeRod, cfg.SessionMode)
	assert.Equal(t, 500*time.Millisecond, cfg.Runner.DecisionInterval)
	assert.Equal(t, 40, cfg.Runner.MaxIterations)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1500*time.Millisecond, cfg.Runner.SettleDelay)
	assert.Equal(t, 8, cfg.Analysis.KnowledgeLimit)
	assert.Equal(t, 0.3, cfg.Analysis.KnowledgeThreshold)
	assert.Equal(t, 0.9, cfg.Analysis.ClusterThresholdFor(true))
	assert.Equal(t, 0.6, cfg.Analysis.ClusterThresholdFor(false))
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runner: [unterminated"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}
