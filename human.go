package ember

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// HumanLoopKind distinguishes approval gates from free-form input requests.
type HumanLoopKind string

const (
	HumanLoopApproval HumanLoopKind = "approval"
	HumanLoopInput    HumanLoopKind = "input"
)

// HumanLoopRequest asks a human to approve an action or supply input.
type HumanLoopRequest struct {
	Kind     HumanLoopKind   `json:"kind"`
	Prompt   string          `json:"prompt"`
	ToolName string          `json:"tool_name,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// HumanLoopDecision is the outcome of a human-loop request.
type HumanLoopDecision string

const (
	HumanApproved HumanLoopDecision = "approved"
	HumanRejected HumanLoopDecision = "rejected"
	HumanText     HumanLoopDecision = "text"
	HumanTimeout  HumanLoopDecision = "timeout"
)

// HumanLoopResponse is the human's answer.
type HumanLoopResponse struct {
	Decision HumanLoopDecision `json:"decision"`
	// Text carries the input for HumanText decisions.
	Text string `json:"text,omitempty"`
	// Reason explains a rejection.
	Reason string `json:"reason,omitempty"`
}

// HumanLoopProvider connects the agent to a human operator.
type HumanLoopProvider interface {
	Request(ctx context.Context, req HumanLoopRequest) (HumanLoopResponse, error)
}

// --- Console provider ---

// ConsoleHumanLoop prompts on a writer and reads one line from a reader.
// "y"/"yes" approve an approval request; anything else rejects with the
// typed text as the reason. Input requests return the line verbatim.
type ConsoleHumanLoop struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewConsoleHumanLoop creates a provider on stdin/stdout.
func NewConsoleHumanLoop() *ConsoleHumanLoop {
	return NewConsoleHumanLoopIO(os.Stdin, os.Stdout)
}

// NewConsoleHumanLoopIO creates a provider on the given streams.
func NewConsoleHumanLoopIO(in io.Reader, out io.Writer) *ConsoleHumanLoop {
	return &ConsoleHumanLoop{in: bufio.NewReader(in), out: out}
}

func (c *ConsoleHumanLoop) Request(ctx context.Context, req HumanLoopRequest) (HumanLoopResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch req.Kind {
	case HumanLoopApproval:
		fmt.Fprintf(c.out, "\n[approval] %s", req.Prompt)
		if req.ToolName != "" {
			fmt.Fprintf(c.out, " (tool: %s, args: %s)", req.ToolName, string(req.Args))
		}
		fmt.Fprint(c.out, "\napprove? [y/N]: ")
	default:
		fmt.Fprintf(c.out, "\n[input] %s\n> ", req.Prompt)
	}

	line, err := c.readLine(ctx)
	if err != nil {
		return HumanLoopResponse{}, err
	}
	line = strings.TrimSpace(line)

	if req.Kind == HumanLoopApproval {
		switch strings.ToLower(line) {
		case "y", "yes":
			return HumanLoopResponse{Decision: HumanApproved}, nil
		default:
			return HumanLoopResponse{Decision: HumanRejected, Reason: line}, nil
		}
	}
	return HumanLoopResponse{Decision: HumanText, Text: line}, nil
}

// readLine reads one line, honoring context cancellation.
func (c *ConsoleHumanLoop) readLine(ctx context.Context) (string, error) {
	type lineResult struct {
		line string
		err  error
	}
	done := make(chan lineResult, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		done <- lineResult{line, err}
	}()
	select {
	case r := <-done:
		if r.err != nil && r.line == "" {
			return "", &ErrIO{Op: "read human input", Err: r.err}
		}
		return r.line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var _ HumanLoopProvider = (*ConsoleHumanLoop)(nil)

// --- human_in_loop tool ---

// HumanLoopToolName asks the configured human-loop provider for approval or
// input mid-task.
const HumanLoopToolName = "human_in_loop"

type humanLoopTool struct {
	provider HumanLoopProvider
}

func (*humanLoopTool) Name() string { return HumanLoopToolName }

func (*humanLoopTool) Description() string {
	return "Ask the human operator for approval or for additional input when you cannot proceed safely on your own."
}

func (*humanLoopTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"kind": {"type": "string", "enum": ["approval", "input"], "description": "Whether you need a yes/no approval or free-form input"},
			"prompt": {"type": "string", "description": "The question for the human"},
			"tool_name": {"type": "string", "description": "The tool awaiting approval, if any"}
		},
		"required": ["kind", "prompt"]
	}`)
}

func (t *humanLoopTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Kind     string `json:"kind"`
		Prompt   string `json:"prompt"`
		ToolName string `json:"tool_name"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{}, &ErrTool{Kind: ToolInvalidParameter, Tool: HumanLoopToolName, Message: err.Error(), Err: err}
	}
	kind := HumanLoopKind(params.Kind)
	if kind != HumanLoopApproval && kind != HumanLoopInput {
		return ToolResult{Success: false, Error: fmt.Sprintf("unknown kind %q", params.Kind)}, nil
	}

	resp, err := t.provider.Request(ctx, HumanLoopRequest{
		Kind:     kind,
		Prompt:   params.Prompt,
		ToolName: params.ToolName,
	})
	if err != nil {
		return ToolResult{}, &ErrTool{Kind: ToolExecutionFailed, Tool: HumanLoopToolName, Message: err.Error(), Err: err}
	}

	switch resp.Decision {
	case HumanApproved:
		return ToolResult{Success: true, Output: "approved"}, nil
	case HumanRejected:
		out := "rejected"
		if resp.Reason != "" {
			out += ": " + resp.Reason
		}
		return ToolResult{Success: true, Output: out}, nil
	case HumanText:
		return ToolResult{Success: true, Output: resp.Text}, nil
	case HumanTimeout:
		return ToolResult{Success: false, Error: "human response timed out"}, nil
	}
	return ToolResult{Success: false, Error: fmt.Sprintf("unknown decision %q", resp.Decision)}, nil
}
