package graph

import "fmt"

// NodeKind identifies one node of the turn graph.
type NodeKind string

// Graph nodes.
const (
	NodeStart     NodeKind = "start"
	NodeRetrieval NodeKind = "retrieval"
	NodeDecision  NodeKind = "decision"
	NodeToolExec  NodeKind = "tool_executor"
	NodeParallel  NodeKind = "parallel_dispatcher"
	NodeFinalize  NodeKind = "finalize"
)

// transitions is the declarative adjacency of the turn graph:
//
//	start -> retrieval -> decision -> {finalize | tool_executor -> decision | parallel_dispatcher -> decision}
//
// The runner only moves along these edges; every move appends one trace entry.
var transitions = map[NodeKind][]NodeKind{
	NodeStart:     {NodeRetrieval},
	NodeRetrieval: {NodeDecision},
	NodeDecision:  {NodeFinalize, NodeToolExec, NodeParallel},
	NodeToolExec:  {NodeDecision},
	NodeParallel:  {NodeDecision},
	NodeFinalize:  {},
}

// validTransition reports whether from -> to is an edge of the graph.
func validTransition(from, to NodeKind) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// edgeLabel is the trace action recorded for one transition.
func edgeLabel(from, to NodeKind) string {
	return fmt.Sprintf("%s->%s", from, to)
}
