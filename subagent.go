package ember

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Agent is a unit of work that takes a natural-language task and returns a
// final answer. ReactAgent implements it; so can anything else that wants
// to be dispatched as a sub-agent.
type Agent interface {
	// Name returns the agent's identifier.
	Name() string
	// Description tells an orchestrator what the agent is good at.
	Description() string
	// Execute runs the agent on the given task.
	Execute(ctx context.Context, task string) (string, error)
}

// subAgentRegistry holds sub-agents under a lease discipline: dispatch
// removes the agent under a short critical section, invokes it with no lock
// held, and reinserts it on return. At most one dispatch holds a given
// sub-agent at a time, which gives single-mutator semantics without keeping
// a lock across an LLM call.
type subAgentRegistry struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func newSubAgentRegistry() *subAgentRegistry {
	return &subAgentRegistry{agents: make(map[string]Agent)}
}

func (r *subAgentRegistry) register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name()] = a
}

// names returns the registered (non-leased) sub-agent names, sorted.
func (r *subAgentRegistry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.agents))
	for name := range r.agents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *subAgentRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// lease removes and returns the named sub-agent. A missing name means the
// agent is unknown or currently leased by another dispatch.
func (r *subAgentRegistry) lease(name string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[name]
	if ok {
		delete(r.agents, name)
	}
	return a, ok
}

// restore reinserts a leased sub-agent under the same name.
func (r *subAgentRegistry) restore(name string, a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = a
}

// --- agent_tool ---

// AgentToolName dispatches a task to a named sub-agent.
const AgentToolName = "agent_tool"

// agentTool is the sub-agent dispatch primitive. The sub-agent receives
// only the task string (no parent system prompt, history, or callbacks)
// unless it was explicitly configured to share a store or checkpointer.
type agentTool struct {
	registry *subAgentRegistry
	logger   *slog.Logger
}

func (*agentTool) Name() string { return AgentToolName }

func (t *agentTool) Description() string {
	desc := "Delegate a task to a sub-agent and return its final answer."
	if names := t.registry.names(); len(names) > 0 {
		desc += " Available sub-agents: "
		for i, name := range names {
			if i > 0 {
				desc += ", "
			}
			desc += name
		}
		desc += "."
	}
	return desc
}

func (*agentTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_name": {"type": "string", "description": "The sub-agent to dispatch to"},
			"task": {"type": "string", "description": "Natural language description of the delegated task"}
		},
		"required": ["agent_name", "task"]
	}`)
}

func (t *agentTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var params struct {
		AgentName string `json:"agent_name"`
		Task      string `json:"task"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{}, &ErrTool{Kind: ToolInvalidParameter, Tool: AgentToolName, Message: err.Error(), Err: err}
	}
	if params.AgentName == "" || params.Task == "" {
		return ToolResult{Success: false, Error: "agent_name and task are required"}, nil
	}

	sub, ok := t.registry.lease(params.AgentName)
	if !ok {
		return ToolResult{Success: false, Error: fmt.Sprintf("unknown or busy sub-agent %q", params.AgentName)}, nil
	}
	// The lease is held across the call; no registry lock is.
	defer t.registry.restore(params.AgentName, sub)

	t.logger.Info("sub-agent dispatch", "agent", params.AgentName, "task", truncate(params.Task, 120))

	answer, err := safeExecuteAgent(ctx, sub, params.Task)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}, nil
	}
	return ToolResult{Success: true, Output: answer}, nil
}

// safeExecuteAgent invokes a sub-agent with panic recovery so a broken
// sub-agent cannot take down the orchestrator.
func safeExecuteAgent(ctx context.Context, a Agent, task string) (answer string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sub-agent %q panic: %v", a.Name(), p)
		}
	}()
	return a.Execute(ctx, task)
}

// truncate shortens s to at most n bytes for log lines.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
