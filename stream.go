package ember

import (
	"encoding/json"
	"sync"
)

// AgentEventType identifies the kind of streaming event.
type AgentEventType string

const (
	// EventToken carries an incremental text chunk from the LLM.
	EventToken AgentEventType = "token"
	// EventToolCall signals a tool call whose arguments are fully assembled.
	EventToolCall AgentEventType = "tool-call"
	// EventToolResult carries the observation of a completed tool call.
	EventToolResult AgentEventType = "tool-result"
	// EventFinalAnswer is the terminal event, emitted exactly once.
	EventFinalAnswer AgentEventType = "final-answer"
)

// AgentEvent is a typed event emitted during agent streaming. Events arrive
// in causal order: within one iteration all Token events for a text segment
// precede any ToolCall of the same assistant turn, every ToolCall precedes
// its paired ToolResult, and FinalAnswer terminates the stream.
type AgentEvent struct {
	// Type identifies the event kind.
	Type AgentEventType `json:"type"`
	// Name is the tool name (tool-call and tool-result only).
	Name string `json:"name,omitempty"`
	// Content carries the token delta, tool result output, or final answer.
	Content string `json:"content,omitempty"`
	// Args carries the tool call arguments (tool-call only).
	Args json.RawMessage `json:"args,omitempty"`
}

// onceClose returns a function that closes the given channel exactly once.
// Safe to call multiple times; subsequent calls are no-ops.
func onceClose[T any](ch chan<- T) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			defer func() { recover() }()
			close(ch)
		})
	}
}
