package ember

import (
	"context"
	"encoding/json"
)

// Reserved built-in tool names.
const (
	// FinalAnswerToolName terminates the iteration loop; its "answer" argument
	// becomes the agent's result.
	FinalAnswerToolName = "final_answer"
	// ThinkToolName records a reasoning step in the transcript.
	ThinkToolName = "think"
)

// finalAnswerTool is registered on every agent (unless a response schema is
// configured) and gives the LLM an explicit way to stop the loop.
type finalAnswerTool struct{}

func (finalAnswerTool) Name() string { return FinalAnswerToolName }

func (finalAnswerTool) Description() string {
	return "Provide the final answer to the user's task. Call this exactly once, when the task is fully solved."
}

func (finalAnswerTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"answer": {"type": "string", "description": "The complete final answer"}
		},
		"required": ["answer"]
	}`)
}

func (finalAnswerTool) Execute(_ context.Context, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{}, &ErrTool{Kind: ToolInvalidParameter, Tool: FinalAnswerToolName, Message: err.Error(), Err: err}
	}
	return ToolResult{Success: true, Output: params.Answer}, nil
}

// thinkTool lets the model externalize a reasoning step. The thought is
// echoed back so it lands in the transcript as an observation.
type thinkTool struct{}

func (thinkTool) Name() string { return ThinkToolName }

func (thinkTool) Description() string {
	return "Write down an intermediate reasoning step. Use this to analyze the problem before acting."
}

func (thinkTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"thought": {"type": "string", "description": "The reasoning step"}
		},
		"required": ["thought"]
	}`)
}

func (thinkTool) Execute(_ context.Context, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Thought string `json:"thought"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{}, &ErrTool{Kind: ToolInvalidParameter, Tool: ThinkToolName, Message: err.Error(), Err: err}
	}
	return ToolResult{Success: true, Output: "Thought recorded: " + params.Thought}, nil
}
