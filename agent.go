package ember

import (
	"log/slog"
	"time"
)

// AgentRole hints how an agent approaches work: orchestrators delegate to
// sub-agents, workers execute directly.
type AgentRole string

const (
	RoleWorker       AgentRole = "worker"
	RoleOrchestrator AgentRole = "orchestrator"
)

// agentConfig holds every construction-time option of a ReactAgent.
type agentConfig struct {
	model             string
	description       string
	systemPrompt      string
	role              AgentRole
	enableTools       bool
	enableTasks       bool
	enableHumanLoop   bool
	enableSubAgents   bool
	maxIterations     int
	allowedTools      []string
	tokenLimit        int
	llmMaxRetries     int
	llmRetryDelay     time.Duration
	toolErrorFeedback bool
	enableCoT         bool
	toolExec          ToolExecutionConfig
	callbacks         []Callback
	responseSchema    *ResponseSchema
	compressor        Compressor
	tools             []Tool
	subAgents         []Agent
	skills            []Skill
	store             Store
	checkpointer      Checkpointer
	sessionID         string
	humanLoop         HumanLoopProvider
	taskManager       *TaskManager
	tracer            Tracer
	logger            *slog.Logger
	temperature       *float64
	maxTokens         int
}

func defaultAgentConfig() agentConfig {
	return agentConfig{
		role:              RoleWorker,
		maxIterations:     10,
		llmMaxRetries:     3,
		llmRetryDelay:     500 * time.Millisecond,
		toolErrorFeedback: true,
		enableCoT:         true,
		toolExec:          DefaultToolExecutionConfig(),
		logger:            nopLogger,
	}
}

// Option configures a ReactAgent.
type Option func(*agentConfig)

// WithModel sets the model name sent with every LLM request.
func WithModel(model string) Option {
	return func(c *agentConfig) { c.model = model }
}

// WithDescription sets the agent description, shown to orchestrators that
// dispatch this agent as a sub-agent.
func WithDescription(desc string) Option {
	return func(c *agentConfig) { c.description = desc }
}

// WithSystemPrompt sets the base system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *agentConfig) { c.systemPrompt = prompt }
}

// WithRole sets the agent role (default RoleWorker).
func WithRole(role AgentRole) Option {
	return func(c *agentConfig) { c.role = role }
}

// EnableTools allows registering and calling business tools.
func EnableTools() Option {
	return func(c *agentConfig) { c.enableTools = true }
}

// EnableTasks registers the planner tool set (plan, create_task, ...).
func EnableTasks() Option {
	return func(c *agentConfig) { c.enableTasks = true }
}

// EnableHumanInLoop registers the human_in_loop tool when a provider is
// configured via WithHumanLoop.
func EnableHumanInLoop() Option {
	return func(c *agentConfig) { c.enableHumanLoop = true }
}

// EnableSubAgents registers the agent_tool dispatcher when sub-agents are
// registered via WithSubAgents.
func EnableSubAgents() Option {
	return func(c *agentConfig) { c.enableSubAgents = true }
}

// WithMaxIterations bounds the think-act-observe loop (default 10).
func WithMaxIterations(n int) Option {
	return func(c *agentConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithAllowedTools restricts which registered tools are exposed to the LLM.
// Empty means all.
func WithAllowedTools(names ...string) Option {
	return func(c *agentConfig) { c.allowedTools = append(c.allowedTools, names...) }
}

// WithTokenLimit sets the context budget that triggers compression
// (default unbounded). Pair with WithCompressor.
func WithTokenLimit(limit int) Option {
	return func(c *agentConfig) { c.tokenLimit = limit }
}

// WithLLMRetry sets the retry policy for transient LLM failures: up to
// maxRetries re-attempts with doubling backoff starting at delay
// (defaults 3 and 500ms).
func WithLLMRetry(maxRetries int, delay time.Duration) Option {
	return func(c *agentConfig) {
		c.llmMaxRetries = maxRetries
		c.llmRetryDelay = delay
	}
}

// WithToolErrorFeedback routes terminal tool errors back into the
// conversation as observations instead of aborting (default true).
func WithToolErrorFeedback(enabled bool) Option {
	return func(c *agentConfig) { c.toolErrorFeedback = enabled }
}

// WithCoT enables the automatic chain-of-thought directive appended to the
// system prompt when tools are enabled (default true).
func WithCoT(enabled bool) Option {
	return func(c *agentConfig) { c.enableCoT = enabled }
}

// WithToolExecution sets the tool reliability policy (timeout, retries,
// concurrency bound).
func WithToolExecution(cfg ToolExecutionConfig) Option {
	return func(c *agentConfig) { c.toolExec = cfg }
}

// WithCallbacks registers event callbacks, fired sequentially per event.
func WithCallbacks(cbs ...Callback) Option {
	return func(c *agentConfig) { c.callbacks = append(c.callbacks, cbs...) }
}

// WithResponseFormat makes the agent terminate on the first plain-text
// response and validate it against the schema. final_answer is not
// registered in this mode.
func WithResponseFormat(schema ResponseSchema) Option {
	return func(c *agentConfig) { c.responseSchema = &schema }
}

// WithCompressor installs the context compression pipeline.
func WithCompressor(comp Compressor) Option {
	return func(c *agentConfig) { c.compressor = comp }
}

// WithTools registers business tools (requires EnableTools).
func WithTools(tools ...Tool) Option {
	return func(c *agentConfig) { c.tools = append(c.tools, tools...) }
}

// WithSubAgents registers sub-agents for dispatch (requires EnableSubAgents).
func WithSubAgents(agents ...Agent) Option {
	return func(c *agentConfig) { c.subAgents = append(c.subAgents, agents...) }
}

// WithSkills registers skills: their prompts extend the system prompt and
// their tools join the registry.
func WithSkills(skills ...Skill) Option {
	return func(c *agentConfig) { c.skills = append(c.skills, skills...) }
}

// WithStore attaches a long-term memory store. The agent does not use it
// directly; tools and callbacks reach it via Store().
func WithStore(s Store) Option {
	return func(c *agentConfig) { c.store = s }
}

// WithCheckpointer attaches session persistence: Execute seeds the context
// from the latest checkpoint of sessionID and saves one on return.
func WithCheckpointer(cp Checkpointer, sessionID string) Option {
	return func(c *agentConfig) {
		c.checkpointer = cp
		c.sessionID = sessionID
	}
}

// WithHumanLoop sets the human-in-loop provider (requires EnableHumanInLoop).
func WithHumanLoop(p HumanLoopProvider) Option {
	return func(c *agentConfig) { c.humanLoop = p }
}

// WithTaskManager shares an external task manager instead of the agent's
// own. Useful when several agents coordinate over one plan.
func WithTaskManager(tm *TaskManager) Option {
	return func(c *agentConfig) { c.taskManager = tm }
}

// WithTracer enables one span per loop iteration, covering that
// iteration's LLM call and tool batch.
func WithTracer(t Tracer) Option {
	return func(c *agentConfig) { c.tracer = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *agentConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTemperature sets the sampling temperature sent to the provider.
func WithTemperature(t float64) Option {
	return func(c *agentConfig) { c.temperature = &t }
}

// WithMaxTokens caps the response length per LLM call.
func WithMaxTokens(n int) Option {
	return func(c *agentConfig) { c.maxTokens = n }
}

func buildAgentConfig(opts []Option) agentConfig {
	cfg := defaultAgentConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
