package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 20, cfg.Engine.MaxIterations)
	assert.Equal(t, time.Minute, cfg.Engine.TurnTimeout)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, "rolling_window", cfg.Engine.MemoryMode)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentgraph.yaml")
	content := []byte(`
model:
  provider: anthropic
  name: claude-3-5-sonnet-20241022
retrieval:
  top_k: 4
checkpoint:
  backend: bolt
  path: /tmp/cp.db
engine:
  max_iterations: 5
  memory_mode: hybrid
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.Equal(t, "bolt", cfg.Checkpoint.Backend)
	assert.Equal(t, 5, cfg.Engine.MaxIterations)
	assert.Equal(t, "hybrid", cfg.Engine.MemoryMode)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1200, cfg.Retrieval.TokenBudget)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("AGENTGRAPH_MODEL_PROVIDER", "mock")
	t.Setenv("AGENTGRAPH_ENGINE_MAX_ITERATIONS", "7")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Model.Provider)
	assert.Equal(t, 7, cfg.Engine.MaxIterations)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load("/nonexistent/agentgraph.yaml")
	assert.Error(t, err)
}
