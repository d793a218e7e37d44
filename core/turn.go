package core

import "time"

// Turn identifies one request/response cycle. It is immutable once finalized;
// the engine only ever creates new turns, never rewrites old ones.
type Turn struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn mints a turn with a fresh ID.
func NewTurn(tenantID, userID, sessionID string) Turn {
	return Turn{
		TenantID:  tenantID,
		UserID:    userID,
		SessionID: sessionID,
		TurnID:    NewID(),
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the identifiers that must be present for a turn to run.
// Invalid identifiers are one of the few conditions that propagate to the
// caller as an error instead of degrading.
func (t Turn) Validate() error {
	if t.SessionID == "" {
		return ErrInvalidSessionID
	}
	if t.TenantID == "" || t.UserID == "" {
		return ErrInvalidIdentity
	}
	return nil
}
