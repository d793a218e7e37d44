package main

import (
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentgraph"
	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/config"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/flow"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/memory"
	"github.com/hupe1980/agentgraph/model"
	modelanthropic "github.com/hupe1980/agentgraph/model/anthropic"
	modelopenai "github.com/hupe1980/agentgraph/model/openai"
	"github.com/hupe1980/agentgraph/retriever"
)

// engineHandle bundles the wired façade with the resources to release when
// the command ends.
type engineHandle struct {
	graph  *agentgraph.AgentGraph
	closer func() error
}

func (h *engineHandle) Close() error {
	if h.closer != nil {
		return h.closer()
	}
	return nil
}

// buildEngine wires the façade from the loaded configuration.
func buildEngine(cfg *config.Config) (*engineHandle, error) {
	logger := newLogger(cfg)

	llm, err := newModel(cfg)
	if err != nil {
		return nil, err
	}

	knowledge, closeIndex, err := newRetriever(cfg)
	if err != nil {
		return nil, err
	}

	checkpoints, closeStore, err := newCheckpointStore(cfg)
	if err != nil {
		if closeIndex != nil {
			_ = closeIndex()
		}
		return nil, err
	}

	g, err := agentgraph.New(llm, func(o *agentgraph.Options) {
		o.Retriever = knowledge
		o.CheckpointStore = checkpoints
		o.Logger = logger
		o.MaxIterations = cfg.Engine.MaxIterations
		o.TurnTimeout = cfg.Engine.TurnTimeout
		o.ToolTimeout = cfg.Engine.ToolTimeout
		o.MaxFanOut = cfg.Engine.MaxFanOut
		o.DefaultMemoryMode = memory.Mode(cfg.Engine.MemoryMode)
		o.Retrieval = func(ro *flow.RetrievalOptions) {
			ro.TopK = cfg.Retrieval.TopK
			ro.TokenBudget = cfg.Retrieval.TokenBudget
			ro.SimilarityThreshold = cfg.Retrieval.SimilarityThreshold
		}
		o.Decision = func(do *flow.DecisionOptions) {
			do.MinKnowledgeScore = cfg.Retrieval.MinKnowledgeScore
			do.MinContextTokens = cfg.Retrieval.MinContextTokens
		}
	})
	if err != nil {
		return nil, err
	}

	return &engineHandle{graph: g, closer: func() error {
		var firstErr error
		for _, fn := range []func() error{closeIndex, closeStore} {
			if fn == nil {
				continue
			}
			if err := fn(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}}, nil
}

func newLogger(cfg *config.Config) logging.Logger {
	level := logging.LogLevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = logging.LogLevelDebug
	case "warn":
		level = logging.LogLevelWarn
	case "error":
		level = logging.LogLevelError
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    os.Stderr,
		Component: "agentgraph",
	})
}

func newModel(cfg *config.Config) (model.Model, error) {
	switch cfg.Model.Provider {
	case "openai":
		return modelopenai.NewModel(func(o *modelopenai.Options) {
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
			o.Temperature = cfg.Model.Temperature
			o.MaxCompletionTokens = int64(cfg.Model.MaxTokens)
		}), nil
	case "anthropic":
		return modelanthropic.NewModel(func(o *modelanthropic.Options) {
			if cfg.Model.Name != "" {
				o.Model = anthropic.Model(cfg.Model.Name)
			}
			o.Temperature = cfg.Model.Temperature
			o.MaxTokens = int64(cfg.Model.MaxTokens)
		}), nil
	case "mock":
		return model.NewMockModel("mock"), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

func newRetriever(cfg *config.Config) (core.KnowledgeRetriever, func() error, error) {
	if cfg.Retrieval.IndexPath == "" {
		r, err := retriever.NewBleveRetriever()
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	}
	r, err := retriever.NewBleveRetrieverAt(cfg.Retrieval.IndexPath)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

func newCheckpointStore(cfg *config.Config) (core.CheckpointStore, func() error, error) {
	switch cfg.Checkpoint.Backend {
	case "memory", "":
		return checkpoint.NewInMemoryStore(), nil, nil
	case "bolt":
		store, err := checkpoint.NewBoltStore(cfg.Checkpoint.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Checkpoint.RedisAddr,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		})
		return checkpoint.NewRedisStore(client), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}
