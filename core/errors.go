package core

import "errors"

// Sentinel errors of the engine taxonomy. Most conditions degrade locally
// with a visible trace entry; only identifier and collaborator auth failures
// are expected to reach the caller.
var (
	// ErrInvalidSessionID indicates a missing or malformed session identifier.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrInvalidIdentity indicates a missing tenant or user identifier.
	ErrInvalidIdentity = errors.New("invalid tenant or user id")
	// ErrUnknownTool indicates a decision referenced a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrToolTimeout indicates a tool call exceeded its hard timeout.
	ErrToolTimeout = errors.New("tool timeout")
	// ErrDecisionMalformed indicates the model output could not be parsed into a Decision.
	ErrDecisionMalformed = errors.New("decision malformed")
	// ErrRetrievalUnavailable indicates the knowledge retriever failed; turns proceed without context.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrCheckpointNotFound indicates the requested checkpoint does not exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrCheckpointWriteFailed indicates durability failed; the turn answer is still returned.
	ErrCheckpointWriteFailed = errors.New("checkpoint write failed")
	// ErrIterationLimit indicates the decision loop hit its cap and was force-finalized.
	ErrIterationLimit = errors.New("iteration limit exceeded")
)
