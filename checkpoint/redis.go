package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentgraph/core"
)

// RedisStore is a redis-backed CheckpointStore for deployments where several
// engine instances share session history. Each checkpoint is a JSON string
// key; a per-session list records write order for Latest/List.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisStoreOptions configures key prefixing.
type RedisStoreOptions struct {
	Prefix string
}

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisStore(client *redis.Client, optFns ...func(o *RedisStoreOptions)) *RedisStore {
	opts := RedisStoreOptions{Prefix: "agentgraph"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{client: client, prefix: opts.Prefix}
}

func (s *RedisStore) checkpointKey(id string) string {
	return fmt.Sprintf("%s:cp:%s", s.prefix, id)
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
}

// Save implements core.CheckpointStore.
func (s *RedisStore) Save(ctx context.Context, cp *core.Checkpoint) error {
	if cp == nil || cp.CheckpointID == "" {
		return fmt.Errorf("checkpoint id is required")
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.checkpointKey(cp.CheckpointID), data, 0)
	pipe.RPush(ctx, s.sessionKey(cp.SessionID), cp.CheckpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return nil
}

// Load implements core.CheckpointStore.
func (s *RedisStore) Load(ctx context.Context, checkpointID string) (*core.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var cp core.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Latest implements core.CheckpointStore.
func (s *RedisStore) Latest(ctx context.Context, sessionID string) (*core.Checkpoint, error) {
	id, err := s.client.LIndex(ctx, s.sessionKey(sessionID), -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	return s.Load(ctx, id)
}

// List implements core.CheckpointStore.
func (s *RedisStore) List(ctx context.Context, sessionID string) ([]core.CheckpointMeta, error) {
	ids, err := s.client.LRange(ctx, s.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	metas := make([]core.CheckpointMeta, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if errors.Is(err, core.ErrCheckpointNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		metas = append(metas, cp.Meta())
	}
	return metas, nil
}
