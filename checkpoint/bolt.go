package checkpoint

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/hupe1980/agentgraph/core"
)

var (
	bucketCheckpoints = []byte("checkpoints")
	bucketSessions    = []byte("sessions")
)

// BoltStore is a bbolt-backed CheckpointStore for single-node durability.
// Layout: a flat checkpoints bucket keyed by checkpoint id, plus one nested
// bucket per session mapping a monotonically increasing sequence number to
// the checkpoint id, which gives cheap Latest/List without secondary indexes.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCheckpoints); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize checkpoint buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error { return s.db.Close() }

// Save implements core.CheckpointStore.
func (s *BoltStore) Save(_ context.Context, cp *core.Checkpoint) error {
	if cp == nil || cp.CheckpointID == "" {
		return fmt.Errorf("checkpoint id is required")
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketCheckpoints).Put([]byte(cp.CheckpointID), data); err != nil {
			return err
		}
		sess, err := tx.Bucket(bucketSessions).CreateBucketIfNotExists([]byte(cp.SessionID))
		if err != nil {
			return err
		}
		seq, err := sess.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return sess.Put(key, []byte(cp.CheckpointID))
	})
}

// Load implements core.CheckpointStore.
func (s *BoltStore) Load(_ context.Context, checkpointID string) (*core.Checkpoint, error) {
	var cp core.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCheckpoints).Get([]byte(checkpointID))
		if data == nil {
			return core.ErrCheckpointNotFound
		}
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Latest implements core.CheckpointStore.
func (s *BoltStore) Latest(ctx context.Context, sessionID string) (*core.Checkpoint, error) {
	var latestID string
	err := s.db.View(func(tx *bolt.Tx) error {
		sess := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if sess == nil {
			return core.ErrCheckpointNotFound
		}
		_, v := sess.Cursor().Last()
		if v == nil {
			return core.ErrCheckpointNotFound
		}
		latestID = string(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, latestID)
}

// List implements core.CheckpointStore.
func (s *BoltStore) List(_ context.Context, sessionID string) ([]core.CheckpointMeta, error) {
	metas := []core.CheckpointMeta{}
	err := s.db.View(func(tx *bolt.Tx) error {
		sess := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if sess == nil {
			return nil
		}
		checkpoints := tx.Bucket(bucketCheckpoints)
		return sess.ForEach(func(_, id []byte) error {
			data := checkpoints.Get(id)
			if data == nil {
				return nil
			}
			var cp core.Checkpoint
			if err := json.Unmarshal(data, &cp); err != nil {
				return err
			}
			metas = append(metas, cp.Meta())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return metas, nil
}
