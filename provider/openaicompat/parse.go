package openaicompat

import (
	"encoding/json"

	"github.com/nevindra/ember"
)

// ParseResponse converts an OpenAI-format ChatResponse into the ember
// shape, extracting content, tool calls, and usage from choices[0].
func ParseResponse(resp ChatResponse) (ember.ChatResponse, error) {
	var out ember.ChatResponse

	if len(resp.Choices) == 0 {
		return out, &ember.ErrLLM{Provider: "openai", Message: "response has no choices"}
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.Usage = ember.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to ember ToolCalls.
// The API returns function.arguments as a JSON string; invalid fragments
// degrade to an empty object so the tool layer reports the real problem.
func ParseToolCalls(tcs []ToolCallRequest) []ember.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]ember.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, ember.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
