// Package llm provides the language-model backends hermitd generates
// commands with, and the single [Generator] capability sessions use to
// talk to them.
package llm

import "context"

// DefaultMaxTokens bounds every completion request.
const DefaultMaxTokens = 1000

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a non-streaming chat completion request.
	Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
