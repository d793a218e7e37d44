// Package memory maintains the conversational state between turns. Four
// strategies are supported: a rolling window over recent messages, a summary
// buffer that folds old messages into a versioned summary, durable fact
// extraction, and a hybrid that combines summary and facts with on-demand
// recall against a conversation-memory index. Every strategy reports a
// comparable snapshot so callers can observe what was kept.
package memory
