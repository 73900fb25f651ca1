// Package llm provides the completion-service client used by the agent
// loop. The provider is treated as an opaque capability: given a message
// history and a tool catalogue it either answers directly or requests
// tool invocations.
package llm

// Message represents a chat message for the model.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-result messages
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"` // provider-assigned, echoed back on results
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Decision is the two-state outcome of one completion call: either a
// final natural-language answer or a batch of tool calls to execute.
// Exactly one branch is populated; IsToolCalls disambiguates.
type Decision struct {
	FinalAnswer string
	ToolCalls   []ToolCall
}

// IsToolCalls reports whether the model requested tool execution.
func (d Decision) IsToolCalls() bool {
	return len(d.ToolCalls) > 0
}
