// Package llm provides the language model client used by the turn
// orchestrator.
package llm

import "context"

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is the response to a chat completion request.
type ChatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`

	// Token usage (when reported by the endpoint)
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

// Client is the interface the orchestrator depends on. The production
// implementation speaks the Ollama chat protocol; tests substitute
// scripted fakes.
type Client interface {
	// Chat sends a chat completion request. The tools slice carries
	// JSON-schema tool declarations in the wire format.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the model endpoint is reachable.
	Ping(ctx context.Context) error
}
