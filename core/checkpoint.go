package core

import (
	"context"
	"time"

	"github.com/hupe1980/agentgraph/state"
)

// Checkpoint is a durable, immutable snapshot of a turn's state channels.
// One is written at the end of every turn. The store exclusively owns
// durability; the graph runner only reads and writes through the interface.
type Checkpoint struct {
	TenantID      string          `json:"tenant_id"`
	UserID        string          `json:"user_id"`
	SessionID     string          `json:"session_id"`
	CheckpointID  string          `json:"checkpoint_id"`
	CreatedAt     time.Time       `json:"created_at"`
	SchemaVersion string          `json:"schema_version"`
	State         *state.Channels `json:"state_snapshot"`
}

// NewCheckpoint snapshots the given channels for a finalized turn.
func NewCheckpoint(turn Turn, ch *state.Channels) *Checkpoint {
	return &Checkpoint{
		TenantID:      turn.TenantID,
		UserID:        turn.UserID,
		SessionID:     turn.SessionID,
		CheckpointID:  NewID(),
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: state.SchemaVersion,
		State:         ch.Clone(),
	}
}

// Meta returns the listing view of the checkpoint.
func (c *Checkpoint) Meta() CheckpointMeta {
	return CheckpointMeta{
		SessionID:    c.SessionID,
		CheckpointID: c.CheckpointID,
		CreatedAt:    c.CreatedAt,
	}
}

// CheckpointMeta is the lightweight listing entry for a stored checkpoint.
type CheckpointMeta struct {
	SessionID    string    `json:"session_id"`
	CheckpointID string    `json:"checkpoint_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// CheckpointStore persists and retrieves state snapshots keyed by session and
// checkpoint id.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)
	Latest(ctx context.Context, sessionID string) (*Checkpoint, error)
	List(ctx context.Context, sessionID string) ([]CheckpointMeta, error)
}
