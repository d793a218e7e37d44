package state

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SchemaVersion tags serialized Channels snapshots so checkpoint readers can
// detect incompatible layouts.
const SchemaVersion = "1"

// DefaultTraceLimit bounds the trace channel when no explicit limit is set.
const DefaultTraceLimit = 200

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry of the messages channel. The ID is a content hash so
// the same logical message can never appear twice within a session: reducers
// drop duplicates instead of appending them.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage constructs a message with a deterministic content-hash ID.
func NewMessage(role Role, content string, ts time.Time) Message {
	return Message{
		ID:        MessageID(role, content),
		Role:      role,
		Content:   content,
		Timestamp: ts.UTC(),
	}
}

// MessageID derives the content hash used as a message identifier.
func MessageID(role Role, content string) string {
	h := sha256.Sum256([]byte(string(role) + "\x00" + content))
	return hex.EncodeToString(h[:16])
}

// Summary is the rolling conversation summary. Replace-only semantics: a
// summary is never blended, the operand with the higher Version wins.
type Summary struct {
	Text    string `json:"text"`
	Version int    `json:"version"`
}

// Fact is a durable structured statement extracted from the conversation,
// unique by Key. Upserts are idempotent last-write-wins on UpdatedAt with a
// lexicographic value tie-break so merge order never changes the result.
type Fact struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TraceEntry records one engine step for inspection and replay.
type TraceEntry struct {
	Step      int       `json:"step"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Snippet is one retrieved context chunk scoped to the current turn.
type Snippet struct {
	Text        string  `json:"text"`
	SourceLabel string  `json:"source_label"`
	Score       float64 `json:"score"`
	CitationID  string  `json:"citation_id"`
}

// Profile holds stable user attributes loaded once from an external store.
// The engine never writes it; no reducer produces profile updates.
type Profile struct {
	Locale     string            `json:"locale,omitempty"`
	Timezone   string            `json:"timezone,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ToolOutcome is the normalized record of a single tool invocation. It lives
// in the transient parallel_results channel until folded into the trace.
type ToolOutcome struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Success   bool           `json:"success"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// Channels is the complete working state threaded through one turn's graph.
// A Channels value is owned exclusively by its turn; fan-out branches operate
// on private Delta values combined through the reducers in reducers.go.
type Channels struct {
	Messages         []Message      `json:"messages"`
	Summary          Summary        `json:"summary"`
	Facts            map[string]Fact `json:"facts,omitempty"`
	Trace            []TraceEntry   `json:"trace,omitempty"`
	TraceLimit       int            `json:"trace_limit,omitempty"`
	RetrievedContext []Snippet      `json:"retrieved_context,omitempty"`
	Profile          Profile        `json:"profile,omitempty"`

	// Transient fan-out/fan-in channels, cleared once folded into trace.
	ParallelResults []ToolOutcome  `json:"parallel_results,omitempty"`
	AggregatedData  map[string]any `json:"aggregated_data,omitempty"`
}

// NewChannels returns an empty Channels value with the default trace limit.
func NewChannels() *Channels {
	return &Channels{
		Facts:      map[string]Fact{},
		TraceLimit: DefaultTraceLimit,
	}
}

// Clone returns a deep copy safe for independent mutation. Branch isolation
// in the dispatcher relies on this.
func (c *Channels) Clone() *Channels {
	cp := &Channels{
		Summary:    c.Summary,
		TraceLimit: c.TraceLimit,
		Profile:    c.Profile,
	}
	cp.Messages = append([]Message(nil), c.Messages...)
	cp.Trace = append([]TraceEntry(nil), c.Trace...)
	cp.RetrievedContext = append([]Snippet(nil), c.RetrievedContext...)
	cp.ParallelResults = append([]ToolOutcome(nil), c.ParallelResults...)
	cp.Facts = make(map[string]Fact, len(c.Facts))
	for k, v := range c.Facts {
		cp.Facts[k] = v
	}
	if c.AggregatedData != nil {
		cp.AggregatedData = make(map[string]any, len(c.AggregatedData))
		for k, v := range c.AggregatedData {
			cp.AggregatedData[k] = v
		}
	}
	if c.Profile.Attributes != nil {
		cp.Profile.Attributes = make(map[string]string, len(c.Profile.Attributes))
		for k, v := range c.Profile.Attributes {
			cp.Profile.Attributes[k] = v
		}
	}
	return cp
}

// LastUserMessage returns the most recent user message, if any.
func (c *Channels) LastUserMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// RecentMessages returns up to n trailing messages.
func (c *Channels) RecentMessages(n int) []Message {
	if n <= 0 || len(c.Messages) <= n {
		return append([]Message(nil), c.Messages...)
	}
	return append([]Message(nil), c.Messages[len(c.Messages)-n:]...)
}

// HasKnowledge reports whether at least one snippet survived retrieval.
func (c *Channels) HasKnowledge() bool { return len(c.RetrievedContext) > 0 }

// ClearTransient drops the fan-out/fan-in channels after their contents have
// been folded into durable channels.
func (c *Channels) ClearTransient() {
	c.ParallelResults = nil
	c.AggregatedData = nil
}

// ClearTurnScoped drops channels that must not leak across turns.
func (c *Channels) ClearTurnScoped() {
	c.RetrievedContext = nil
	c.ClearTransient()
}
