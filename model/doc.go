// Package model defines the language model collaborator contract used by the
// engine stages. The engine treats the model as a black-box text completion
// function: one request, one response, no streaming requirement. Provider
// adapters live in the openai and anthropic subpackages; MockModel supports
// tests and examples.
package model
