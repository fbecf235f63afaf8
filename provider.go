package ember

import "context"

// Provider abstracts the LLM backend.
type Provider interface {
	// Chat sends a request and returns the complete response. When
	// req.Tools is non-empty, the response may contain ToolCalls.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams events into ch while the model produces output:
	// EventToken for every non-empty content delta. Tool calls are not sent
	// on ch; they come back fully assembled in the returned response, and
	// the agent loop emits the EventToolCall events. Implementations close
	// ch before returning.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- AgentEvent) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai").
	Name() string
}

// ChatRequest is the provider-neutral request shape.
type ChatRequest struct {
	Model          string          `json:"model,omitempty"` // empty = provider default
	Messages       []Message       `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"` // "", "auto", "none", "required"
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseSchema *ResponseSchema `json:"response_schema,omitempty"`
}

// ChatResponse is the provider-neutral response shape.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// ChatSimple sends messages without tools and returns the assistant text.
// Convenience wrapper used by the summary compressor and the planner.
func ChatSimple(ctx context.Context, p Provider, messages []Message) (string, error) {
	resp, err := p.Chat(ctx, ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", &ErrLLM{Provider: p.Name(), Message: "empty response"}
	}
	return resp.Content, nil
}
