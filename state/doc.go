// Package state defines the channelized working state of a conversational
// turn and the pure reducers that merge concurrent partial updates. Each
// channel (messages, summary, facts, trace, retrieved context, parallel
// results) is independently mergeable so fan-out branches can produce
// isolated deltas that combine deterministically regardless of arrival order.
package state
