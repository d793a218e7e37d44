// Package core contains the shared vocabulary of the engine: turn identity,
// the structured Decision produced by the decision stage, the error taxonomy,
// and the interfaces of external collaborators (knowledge retriever, profile
// store, checkpoint store). Components depend on these contracts rather than
// on concrete implementations, which are injected through constructors.
package core
