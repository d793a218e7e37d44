// Package config loads the engine configuration from file, environment and
// defaults. Files are YAML (agentgraph.yaml); every key can be overridden
// through AGENTGRAPH_* environment variables, e.g. AGENTGRAPH_MODEL_PROVIDER.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ModelConfig selects and tunes the language model provider.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"` // openai, anthropic or mock
	Name        string  `mapstructure:"name"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// RetrievalConfig tunes the retrieval stage.
type RetrievalConfig struct {
	TopK                int     `mapstructure:"top_k"`
	TokenBudget         int     `mapstructure:"token_budget"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MinKnowledgeScore   float64 `mapstructure:"min_knowledge_score"`
	MinContextTokens    int     `mapstructure:"min_context_tokens"`
	IndexPath           string  `mapstructure:"index_path"` // bleve index dir; empty = in-memory
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Backend   string `mapstructure:"backend"` // memory, bolt or redis
	Path      string `mapstructure:"path"`    // bolt file path
	RedisAddr string `mapstructure:"redis_addr"`
}

// EngineConfig bounds the turn loop.
type EngineConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	TurnTimeout   time.Duration `mapstructure:"turn_timeout"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
	MaxFanOut     int           `mapstructure:"max_fan_out"`
	MemoryMode    string        `mapstructure:"memory_mode"`
}

// LogConfig tunes the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// Config is the full engine configuration.
type Config struct {
	Model      ModelConfig      `mapstructure:"model"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Log        LogConfig        `mapstructure:"log"`
}

// Load reads the configuration. path may be empty, in which case
// agentgraph.yaml is searched in the working directory and $HOME/.agentgraph;
// a missing file is not an error, defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("agentgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.agentgraph")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.name", "")
	v.SetDefault("model.temperature", 0.7)
	v.SetDefault("model.max_tokens", 4096)

	v.SetDefault("retrieval.top_k", 8)
	v.SetDefault("retrieval.token_budget", 1200)
	v.SetDefault("retrieval.similarity_threshold", 0.85)
	v.SetDefault("retrieval.min_knowledge_score", 0.35)
	v.SetDefault("retrieval.min_context_tokens", 40)
	v.SetDefault("retrieval.index_path", "")

	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.path", "agentgraph.db")
	v.SetDefault("checkpoint.redis_addr", "localhost:6379")

	v.SetDefault("engine.max_iterations", 20)
	v.SetDefault("engine.turn_timeout", time.Minute)
	v.SetDefault("engine.tool_timeout", 15*time.Second)
	v.SetDefault("engine.max_fan_out", 10)
	v.SetDefault("engine.memory_mode", "rolling_window")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
