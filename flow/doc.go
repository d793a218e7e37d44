// Package flow contains the node implementations of the turn graph: the
// retrieval stage that builds the cited context block, the decision stage
// that asks the model for a structured next action, the tool executor that
// runs a single tool under a hard timeout, and the parallel dispatcher that
// fans out independent tool calls and merges their results through the state
// reducers.
package flow
