package ember

import (
	"context"
	"log/slog"
	"strings"
)

// cotDirective is appended to the system prompt when tools and
// chain-of-thought are both enabled.
const cotDirective = "Before calling any tool, reason step by step about what you already know, " +
	"what is still missing, and which tool closes the gap. Then act."

// ReactAgent drives an LLM through think → act → observe cycles until a
// final answer is produced, iterations run out, or an error surfaces.
//
// Two modes: Execute starts from a clean context every call (one-shot);
// Chat accumulates turns until Reset. Both have streaming variants.
type ReactAgent struct {
	name         string
	cfg          agentConfig
	llm          Provider
	context      *ContextManager
	tools        *ToolManager
	subAgents    *subAgentRegistry
	tasks        *TaskManager
	schema       *compiledSchema
	systemPrompt string // effective prompt: base + CoT + skills
	builtins     map[string]bool
	logger       *slog.Logger
	initErr      error
	seeded       bool
}

// New creates a ReactAgent. The provider is the raw LLM transport; the
// agent wraps it with the configured retry policy.
func New(name string, provider Provider, opts ...Option) *ReactAgent {
	cfg := buildAgentConfig(opts)

	a := &ReactAgent{
		name:      name,
		cfg:       cfg,
		context:   NewContextManager(cfg.tokenLimit),
		tools:     NewToolManager(),
		subAgents: newSubAgentRegistry(),
		tasks:     cfg.taskManager,
		builtins:  make(map[string]bool),
		logger:    cfg.logger.With("agent", name),
	}
	if a.tasks == nil {
		a.tasks = NewTaskManager()
	}

	a.llm = provider
	if cfg.llmMaxRetries > 0 {
		a.llm = WithRetry(provider,
			RetryMaxRetries(cfg.llmMaxRetries),
			RetryBaseDelay(cfg.llmRetryDelay),
			RetryLogger(a.logger))
	}

	a.tools.SetLogger(a.logger)
	a.tools.SetMaxConcurrency(cfg.toolExec.MaxConcurrency)
	if cfg.compressor != nil {
		a.context.SetCompressor(cfg.compressor)
	}

	a.systemPrompt = a.buildSystemPrompt()
	a.registerBuiltins()

	if cfg.enableTools {
		for _, t := range cfg.tools {
			a.tools.Register(t)
		}
		for _, s := range cfg.skills {
			for _, t := range s.Tools {
				a.tools.Register(t)
			}
		}
	}

	for _, sub := range cfg.subAgents {
		a.subAgents.register(sub)
	}

	if cfg.responseSchema != nil {
		a.schema, a.initErr = compileResponseSchema(cfg.responseSchema)
	}

	a.Reset()
	return a
}

// buildSystemPrompt assembles the effective prompt: user prompt, CoT
// directive, then skill injections in registration order.
func (a *ReactAgent) buildSystemPrompt() string {
	parts := []string{}
	if a.cfg.systemPrompt != "" {
		parts = append(parts, a.cfg.systemPrompt)
	}
	if a.cfg.enableTools && a.cfg.enableCoT {
		parts = append(parts, cotDirective)
	}
	for _, s := range a.cfg.skills {
		if s.Prompt != "" {
			parts = append(parts, s.Prompt)
		}
	}
	return strings.Join(parts, "\n\n")
}

// registerBuiltins wires the conditional built-in tool set.
func (a *ReactAgent) registerBuiltins() {
	register := func(t Tool) {
		a.tools.Register(t)
		a.builtins[t.Name()] = true
	}

	// final_answer terminates the loop, unless structured output is
	// configured, where the agent stops on the first plain text instead.
	if a.cfg.responseSchema == nil {
		register(finalAnswerTool{})
	}
	if a.cfg.enableTools {
		register(thinkTool{})
	}
	if a.cfg.enableTasks {
		for _, t := range plannerTools(a.tasks) {
			register(t)
		}
	}
	if a.cfg.enableHumanLoop && a.cfg.humanLoop != nil {
		register(&humanLoopTool{provider: a.cfg.humanLoop})
	}
	if a.cfg.enableSubAgents && len(a.cfg.subAgents) > 0 {
		register(&agentTool{registry: a.subAgents, logger: a.logger})
	}
}

// Name returns the agent name.
func (a *ReactAgent) Name() string { return a.name }

// Description returns the agent description shown to orchestrators.
func (a *ReactAgent) Description() string { return a.cfg.description }

// Model returns the configured model name.
func (a *ReactAgent) Model() string { return a.cfg.model }

// SystemPrompt returns the effective system prompt.
func (a *ReactAgent) SystemPrompt() string { return a.systemPrompt }

// Role returns the configured agent role.
func (a *ReactAgent) Role() AgentRole { return a.cfg.role }

// Context exposes the conversation buffer, mainly for inspection.
func (a *ReactAgent) Context() *ContextManager { return a.context }

// TaskManager exposes the shared task DAG.
func (a *ReactAgent) TaskManager() *TaskManager { return a.tasks }

// Store returns the attached long-term memory store, or nil.
func (a *ReactAgent) Store() Store { return a.cfg.store }

// RegisterTool adds a business tool after construction. No-op when tools
// are disabled.
func (a *ReactAgent) RegisterTool(t Tool) {
	if !a.cfg.enableTools {
		a.logger.Warn("tool registration ignored, tools are disabled", "tool", t.Name())
		return
	}
	a.tools.Register(t)
}

// RegisterSubAgent adds a sub-agent after construction.
func (a *ReactAgent) RegisterSubAgent(sub Agent) {
	a.subAgents.register(sub)
	if a.cfg.enableSubAgents {
		if _, ok := a.tools.Get(AgentToolName); !ok {
			a.tools.Register(&agentTool{registry: a.subAgents, logger: a.logger})
			a.builtins[AgentToolName] = true
		}
	}
}

// ListTools returns the registered tool names in registration order.
func (a *ReactAgent) ListTools() []string { return a.tools.ListTools() }

// ListSubAgents returns the currently registered sub-agent names.
func (a *ReactAgent) ListSubAgents() []string { return a.subAgents.names() }

// Reset truncates the conversation back to the system prompt only.
func (a *ReactAgent) Reset() {
	a.context.Clear()
	if a.systemPrompt != "" {
		a.context.Push(SystemMessage(a.systemPrompt))
	}
	a.seeded = false
}

// Execute runs the agent one-shot: the context is cleared, the latest
// checkpoint (if any) is replayed, and the loop runs until an answer.
func (a *ReactAgent) Execute(ctx context.Context, task string) (string, error) {
	return a.execute(ctx, task, nil)
}

// ExecuteStream is Execute with an ordered event stream. The agent closes
// ch exactly once; cancelling ctx abandons the in-flight LLM call at its
// next suspension point and discards pending tool results.
func (a *ReactAgent) ExecuteStream(ctx context.Context, task string, ch chan<- AgentEvent) (string, error) {
	return a.execute(ctx, task, ch)
}

func (a *ReactAgent) execute(ctx context.Context, task string, ch chan<- AgentEvent) (string, error) {
	if err := a.checkInit(ch); err != nil {
		return "", err
	}
	a.Reset()
	a.seedFromCheckpoint(ctx)
	a.context.Push(UserMessage(task))

	answer, err := a.run(ctx, task, ch)
	a.saveCheckpoint(ctx)
	return answer, err
}

// Chat runs one turn of a persistent conversation: the context is kept
// across calls; only Reset truncates it.
func (a *ReactAgent) Chat(ctx context.Context, message string) (string, error) {
	return a.chat(ctx, message, nil)
}

// ChatStream is Chat with an ordered event stream.
func (a *ReactAgent) ChatStream(ctx context.Context, message string, ch chan<- AgentEvent) (string, error) {
	return a.chat(ctx, message, ch)
}

func (a *ReactAgent) chat(ctx context.Context, message string, ch chan<- AgentEvent) (string, error) {
	if err := a.checkInit(ch); err != nil {
		return "", err
	}
	a.seedFromCheckpoint(ctx)
	a.context.Push(UserMessage(message))

	answer, err := a.run(ctx, message, ch)
	a.saveCheckpoint(ctx)
	return answer, err
}

// checkInit surfaces construction failures (e.g. an uncompilable response
// schema) at the first call, closing the stream channel so consumers do
// not hang.
func (a *ReactAgent) checkInit(ch chan<- AgentEvent) error {
	if a.initErr == nil {
		return nil
	}
	if ch != nil {
		close(ch)
	}
	return &ErrAgent{Kind: AgentInitFailed, Agent: a.name, Message: a.initErr.Error(), Err: a.initErr}
}

// seedFromCheckpoint replays the latest checkpoint into a fresh context.
// System messages from the snapshot are skipped: the current effective
// prompt already sits at index 0.
func (a *ReactAgent) seedFromCheckpoint(ctx context.Context) {
	if a.cfg.checkpointer == nil || a.cfg.sessionID == "" || a.seeded {
		return
	}
	a.seeded = true
	cp, err := a.cfg.checkpointer.Get(ctx, a.cfg.sessionID)
	if err != nil {
		a.logger.Warn("checkpoint load failed, starting fresh", "session", a.cfg.sessionID, "error", err)
		return
	}
	if cp == nil {
		return
	}
	for _, m := range cp.Messages {
		if m.Role == RoleSystem {
			continue
		}
		a.context.Push(m)
	}
	a.logger.Info("session restored from checkpoint",
		"session", a.cfg.sessionID, "checkpoint", cp.CheckpointID, "messages", len(cp.Messages))
}

// saveCheckpoint snapshots the full history. Cancelled runs are not
// checkpointed: a partial iteration must not become the session's latest
// state.
func (a *ReactAgent) saveCheckpoint(ctx context.Context) {
	if a.cfg.checkpointer == nil || a.cfg.sessionID == "" || ctx.Err() != nil {
		return
	}
	id, err := a.cfg.checkpointer.Put(ctx, a.cfg.sessionID, cloneMessages(a.context.Messages()))
	if err != nil {
		a.logger.Warn("checkpoint save failed", "session", a.cfg.sessionID, "error", err)
		return
	}
	a.logger.Debug("checkpoint saved", "session", a.cfg.sessionID, "checkpoint", id)
}

var _ Agent = (*ReactAgent)(nil)
