package core

import "fmt"

// Action is the tagged decision variant chosen by the decision stage.
type Action string

// Decision actions.
const (
	ActionAnswer            Action = "answer"
	ActionCallTool          Action = "call_tool"
	ActionCallToolsParallel Action = "call_tools_parallel"
)

// ToolCall names one tool invocation with its structured arguments.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Decision is the structured output of one decision stage invocation. It is
// produced once, consumed immediately by the graph runner and folded into the
// trace; it is never persisted standalone.
type Decision struct {
	Action    Action     `json:"action"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// Validate checks the decision shape. Malformed decisions are recovered
// locally by the decision stage (default to answer), so callers treat this
// as a classification, not a hard failure.
func (d Decision) Validate() error {
	switch d.Action {
	case ActionAnswer:
		return nil
	case ActionCallTool:
		if len(d.ToolCalls) != 1 {
			return fmt.Errorf("%w: call_tool requires exactly one tool call, got %d", ErrDecisionMalformed, len(d.ToolCalls))
		}
	case ActionCallToolsParallel:
		if len(d.ToolCalls) < 1 {
			return fmt.Errorf("%w: call_tools_parallel requires at least one tool call", ErrDecisionMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrDecisionMalformed, d.Action)
	}
	for _, tc := range d.ToolCalls {
		if tc.Name == "" {
			return fmt.Errorf("%w: tool call with empty name", ErrDecisionMalformed)
		}
	}
	return nil
}

// IsTerminal reports whether the decision ends the tool loop.
func (d Decision) IsTerminal() bool { return d.Action == ActionAnswer }
