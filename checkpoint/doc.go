// Package checkpoint provides CheckpointStore implementations: a
// process-local in-memory store for tests and demos, a bbolt-backed file
// store for single-node durability, and a redis-backed store for shared
// deployments. All stores serialize the full state snapshot with its schema
// version tag and treat stored checkpoints as immutable.
package checkpoint
