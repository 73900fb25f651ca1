package llm

import "context"

// Client is the interface the agent loop depends on. Implementations
// translate between the provider wire format and the neutral Decision
// type; they do not retry — the caller owns retry policy.
type Client interface {
	// Chat submits the message history plus tool catalogue and returns
	// the model's decision.
	Chat(ctx context.Context, messages []Message, tools []map[string]any) (*Decision, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
