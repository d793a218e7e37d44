package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/state"
)

func makeCheckpoint(t *testing.T, sessionID, content string) *core.Checkpoint {
	t.Helper()
	ch := state.NewChannels()
	state.Apply(ch, state.Delta{Messages: []state.Message{state.NewMessage(state.RoleUser, content, time.Now())}})
	turn := core.Turn{TenantID: "t1", UserID: "u1", SessionID: sessionID, TurnID: core.NewID(), CreatedAt: time.Now().UTC()}
	return core.NewCheckpoint(turn, ch)
}

func TestInMemoryStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	cp := makeCheckpoint(t, "sess-1", "hello")
	require.NoError(t, store.Save(ctx, cp))

	got, err := store.Load(ctx, cp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, cp.CheckpointID, got.CheckpointID)
	assert.Equal(t, state.SchemaVersion, got.SchemaVersion)
	require.Len(t, got.State.Messages, 1)
	assert.Equal(t, "hello", got.State.Messages[0].Content)

	// Mutating the loaded snapshot must not affect the stored one.
	state.Apply(got.State, state.Delta{Messages: []state.Message{state.NewMessage(state.RoleUser, "later", time.Now())}})
	again, err := store.Load(ctx, cp.CheckpointID)
	require.NoError(t, err)
	assert.Len(t, again.State.Messages, 1)
}

func TestInMemoryStore_LatestAndList(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first := makeCheckpoint(t, "sess-1", "one")
	second := makeCheckpoint(t, "sess-1", "two")
	other := makeCheckpoint(t, "sess-2", "elsewhere")
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))
	require.NoError(t, store.Save(ctx, other))

	latest, err := store.Latest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, second.CheckpointID, latest.CheckpointID)

	metas, err := store.List(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, first.CheckpointID, metas[0].CheckpointID)
	assert.Equal(t, second.CheckpointID, metas[1].CheckpointID)
}

func TestInMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	_, err := store.Load(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrCheckpointNotFound))

	_, err = store.Latest(ctx, "empty-session")
	assert.True(t, errors.Is(err, core.ErrCheckpointNotFound))

	metas, err := store.List(ctx, "empty-session")
	require.NoError(t, err)
	assert.Empty(t, metas)
}
