// Package tool implements the function calling subsystem that lets the
// decision loop invoke structured capabilities (APIs, computations, lookups)
// with schema validated arguments, consistent error handling and metadata for
// model guidance.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentgraph/internal/util"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/state"
)

// Tool defines the interface for an external capability callable by the engine.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be safe for concurrent use; the dispatcher may run several tools at once
//   - Be idempotent from the engine's perspective (no implicit side effects
//     beyond the declared result)
type Tool interface {
	// Name returns the unique identifier for this tool
	// (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool
	// does. It is provided to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with structured, already-validated arguments.
	Call(toolCtx *Context, args map[string]any) (any, error)
}

// Context carries the per-invocation scope handed to a tool: cancellation,
// correlation ids, a read-only view of the turn's channels and a logger. Each
// fan-out branch receives its own Context over a private channels clone.
type Context struct {
	ctx       context.Context
	sessionID string
	callID    string
	channels  *state.Channels
	logger    logging.Logger
}

// NewContext builds a tool invocation context. A nil logger is replaced with
// a NoOpLogger and nil channels with an empty value so tools never nil-check.
func NewContext(ctx context.Context, sessionID, callID string, channels *state.Channels, logger logging.Logger) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if channels == nil {
		channels = state.NewChannels()
	}
	return &Context{ctx: ctx, sessionID: sessionID, callID: callID, channels: channels, logger: logger}
}

// Context returns the cancellation context of the invocation.
func (c *Context) Context() context.Context { return c.ctx }

// SessionID returns the owning session identifier.
func (c *Context) SessionID() string { return c.sessionID }

// CallID returns the correlation id of this tool call.
func (c *Context) CallID() string { return c.callID }

// State returns the branch-private channels view. Tools read it; updates flow
// back only through the tool result.
func (c *Context) State() *state.Channels { return c.channels }

// Logger returns the invocation logger.
func (c *Context) Logger() logging.Logger { return c.logger }

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
