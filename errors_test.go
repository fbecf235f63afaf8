package ember

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorRendering(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&ErrLLM{Provider: "openai", Message: "empty response"}, "LLM Error: openai: empty response"},
		{&ErrHTTP{Status: 429, Body: "slow down"}, "LLM Error: http 429: slow down"},
		{&ErrTool{Kind: ToolNotFound, Tool: "missing"}, "Tool Error: missing: not found"},
		{&ErrTool{Kind: ToolTimeout, Tool: "slow", Message: "exceeded 30s"}, "Tool Error: slow: timeout: exceeded 30s"},
		{&ErrParse{Message: "bad json"}, "Parse Error: bad json"},
		{&ErrAgent{Kind: AgentMaxIterations, Agent: "calc"}, "Agent Error: calc: max iterations exceeded"},
		{&ErrMemory{Op: "put", Err: errors.New("disk full")}, "Memory Error: put: disk full"},
		{&ErrConfig{Key: "llm.model", Message: "missing model"}, "Config Error: llm.model: missing model"},
		{&ErrIO{Op: "read", Err: errors.New("eof")}, "IO Error: read: eof"},
	}
	for _, c := range cases {
		if got := c.err.Error(); got != c.want {
			t.Errorf("Error() = %q, want %q", got, c.want)
		}
	}
}

func TestErrorChaining(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := &ErrAgent{Kind: AgentInterrupted, Agent: "a", Message: "stopped", Err: &ErrTool{
		Kind: ToolExecutionFailed, Tool: "t", Message: "failed", Err: cause,
	}}

	if !errors.Is(wrapped, cause) {
		t.Error("cause not reachable through the chain")
	}
	var te *ErrTool
	if !errors.As(wrapped, &te) || te.Tool != "t" {
		t.Error("intermediate ErrTool not matched")
	}
}

func TestErrorKindPrefixes(t *testing.T) {
	// Every kind renders as "<Kind> Error: ...".
	kinds := map[error]string{
		&ErrLLM{Provider: "p", Message: "m"}:  "LLM Error:",
		&ErrHTTP{Status: 500}:                 "LLM Error:",
		&ErrTool{Kind: ToolNotFound, Tool: "t"}: "Tool Error:",
		&ErrParse{Message: "m"}:               "Parse Error:",
		&ErrAgent{Kind: AgentNoResponse}:      "Agent Error:",
		&ErrMemory{Op: "op"}:                  "Memory Error:",
		&ErrConfig{Key: "k", Message: "m"}:    "Config Error:",
		&ErrIO{Op: "op"}:                      "IO Error:",
	}
	for err, prefix := range kinds {
		if !strings.HasPrefix(err.Error(), prefix) {
			t.Errorf("%T renders %q, want prefix %q", err, err.Error(), prefix)
		}
	}
}

func TestErrorsThroughFmt(t *testing.T) {
	err := fmt.Errorf("while executing: %w", &ErrHTTP{Status: 503, Body: "unavailable"})
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 503 {
		t.Error("ErrHTTP lost through fmt.Errorf wrapping")
	}
}
