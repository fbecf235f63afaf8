package ember

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSubAgent records the task it receives and returns a fixed answer.
type fakeSubAgent struct {
	name    string
	answer  string
	mu      sync.Mutex
	tasks   []string
	release chan struct{} // when set, Execute blocks until closed
}

func (a *fakeSubAgent) Name() string        { return a.name }
func (a *fakeSubAgent) Description() string { return "fake sub-agent " + a.name }

func (a *fakeSubAgent) Execute(ctx context.Context, task string) (string, error) {
	a.mu.Lock()
	a.tasks = append(a.tasks, task)
	a.mu.Unlock()
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return a.answer, nil
}

func (a *fakeSubAgent) received() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.tasks...)
}

func TestAgentToolDispatch(t *testing.T) {
	sub := &fakeSubAgent{name: "mathlete", answer: "42"}
	provider := &mockProvider{responses: []ChatResponse{
		toolCallResponse(call("c1", AgentToolName, `{"agent_name":"mathlete","task":"compute 6*7"}`)),
		toolCallResponse(call("c2", "final_answer", `{"answer":"42"}`)),
	}}
	agent := New("boss", provider,
		EnableSubAgents(),
		WithSubAgents(sub),
		WithLLMRetry(0, 0),
	)

	answer, err := agent.Execute(context.Background(), "delegate")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "42" {
		t.Errorf("answer = %q", answer)
	}

	// Context isolation: the sub-agent saw only the task string.
	got := sub.received()
	if len(got) != 1 || got[0] != "compute 6*7" {
		t.Errorf("sub-agent tasks = %v", got)
	}
}

func TestAgentToolUnknownSubAgent(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{
		toolCallResponse(call("c1", AgentToolName, `{"agent_name":"ghost","task":"boo"}`)),
		toolCallResponse(call("c2", "final_answer", `{"answer":"recovered"}`)),
	}}
	agent := New("boss", provider,
		EnableSubAgents(),
		WithSubAgents(&fakeSubAgent{name: "real", answer: "x"}),
		WithLLMRetry(0, 0),
	)

	answer, err := agent.Execute(context.Background(), "go")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "recovered" {
		t.Errorf("answer = %q", answer)
	}

	var sawUnknown bool
	for _, m := range agent.Context().Messages() {
		if m.Role == RoleTool && m.ToolCallID == "c1" && strings.Contains(m.Content, "ghost") {
			sawUnknown = true
		}
	}
	if !sawUnknown {
		t.Error("unknown sub-agent error not observed")
	}
}

func TestSubAgentLeaseExcludesConcurrentDispatch(t *testing.T) {
	// While a sub-agent is leased, a second dispatch to the same name
	// must fail instead of sharing the agent.
	release := make(chan struct{})
	sub := &fakeSubAgent{name: "solo", answer: "done", release: release}

	registry := newSubAgentRegistry()
	registry.register(sub)
	tool := &agentTool{registry: registry, logger: nopLogger}

	firstDone := make(chan ToolResult, 1)
	go func() {
		res, _ := tool.Execute(context.Background(), []byte(`{"agent_name":"solo","task":"one"}`))
		firstDone <- res
	}()

	// Wait until the first dispatch holds the lease.
	deadline := time.After(2 * time.Second)
	for registry.len() != 0 {
		select {
		case <-deadline:
			t.Fatal("lease never taken")
		case <-time.After(2 * time.Millisecond):
		}
	}

	// Second dispatch sees the name as busy.
	res, err := tool.Execute(context.Background(), []byte(`{"agent_name":"solo","task":"two"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("second dispatch succeeded while lease held")
	}

	close(release)
	first := <-firstDone
	if !first.Success || first.Output != "done" {
		t.Errorf("first dispatch = %+v", first)
	}

	// The sub-agent was reinserted after the lease.
	if registry.len() != 1 {
		t.Error("sub-agent not restored to the registry")
	}
	if got := sub.received(); len(got) != 1 {
		t.Errorf("sub-agent executed %d times, want 1", len(got))
	}
}

func TestSubAgentContextIsolation(t *testing.T) {
	// A ReactAgent sub-agent with its own checkpointer must not see any
	// substring of the parent's system prompt.
	subCp := newFakeCheckpointer()
	subProvider := &mockProvider{responses: []ChatResponse{{Content: "sub answer"}}}
	sub := New("worker", subProvider,
		WithDescription("does the work"),
		WithSystemPrompt("You are the worker."),
		WithCheckpointer(subCp, "worker-sess"),
		WithLLMRetry(0, 0),
	)

	const parentPrompt = "PARENT-SECRET-PROMPT do not leak"
	provider := &mockProvider{responses: []ChatResponse{
		toolCallResponse(call("c1", AgentToolName, `{"agent_name":"worker","task":"do the thing"}`)),
		toolCallResponse(call("c2", "final_answer", `{"answer":"ok"}`)),
	}}
	parent := New("parent", provider,
		WithSystemPrompt(parentPrompt),
		EnableSubAgents(),
		WithSubAgents(sub),
		WithLLMRetry(0, 0),
	)

	if _, err := parent.Execute(context.Background(), "delegate"); err != nil {
		t.Fatal(err)
	}

	saved, err := subCp.Get(context.Background(), "worker-sess")
	if err != nil || saved == nil {
		t.Fatal("sub-agent checkpoint missing")
	}
	for _, m := range saved.Messages {
		if strings.Contains(m.Content, "PARENT-SECRET-PROMPT") {
			t.Errorf("parent prompt leaked into sub-agent history: %q", m.Content)
		}
	}
}

func TestRegisterSubAgentAfterConstruction(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{{Content: "x"}}}
	agent := New("late", provider, EnableSubAgents(), WithLLMRetry(0, 0))

	// No sub-agents at construction: agent_tool absent.
	for _, name := range agent.ListTools() {
		if name == AgentToolName {
			t.Fatal("agent_tool registered without sub-agents")
		}
	}

	agent.RegisterSubAgent(&fakeSubAgent{name: "late-sub", answer: "y"})
	var found bool
	for _, name := range agent.ListTools() {
		if name == AgentToolName {
			found = true
		}
	}
	if !found {
		t.Error("agent_tool not registered after RegisterSubAgent")
	}
}
