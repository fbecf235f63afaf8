package ember

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Tool is a single agent capability.
type Tool interface {
	// Name returns the tool's unique name.
	Name() string
	// Description tells the LLM what the tool does.
	Description() string
	// Parameters returns the JSON Schema of the tool's arguments.
	Parameters() json.RawMessage
	// Execute runs the tool. args is always a JSON object.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// ToolExecutionConfig is the declarative reliability policy applied to every
// tool invocation.
type ToolExecutionConfig struct {
	// Timeout bounds a single attempt. Zero means the 30s default.
	Timeout time.Duration
	// RetryOnFail re-attempts failed or timed-out invocations.
	RetryOnFail bool
	// MaxRetries is the number of re-attempts after the first (so a
	// persistently failing tool runs MaxRetries+1 times).
	MaxRetries int
	// RetryDelay is the constant sleep between attempts.
	RetryDelay time.Duration
	// MaxConcurrency bounds simultaneous tool executions within one agent.
	// Zero means unbounded.
	MaxConcurrency int
}

// DefaultToolExecutionConfig returns the default policy: 30s timeout,
// no retries, unbounded concurrency.
func DefaultToolExecutionConfig() ToolExecutionConfig {
	return ToolExecutionConfig{Timeout: 30 * time.Second}
}

func (c ToolExecutionConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

func (c ToolExecutionConfig) attempts() int {
	if !c.RetryOnFail || c.MaxRetries < 0 {
		return 1
	}
	return 1 + c.MaxRetries
}

// ToolManager is the registry of Tools and the uniform dispatch path for
// invocations. The concurrency semaphore is a property of the manager,
// shared across all concurrent Execute calls of one agent.
type ToolManager struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string // registration order, for deterministic prompts
	sem    chan struct{}
	logger *slog.Logger
}

// NewToolManager creates an empty registry.
func NewToolManager() *ToolManager {
	return &ToolManager{tools: make(map[string]Tool), logger: nopLogger}
}

// SetLogger sets a structured logger for dispatch events.
func (m *ToolManager) SetLogger(l *slog.Logger) {
	if l != nil {
		m.logger = l
	}
}

// SetMaxConcurrency sizes the shared semaphore. Zero removes the bound.
// Call before dispatching; resizing mid-flight is not supported.
func (m *ToolManager) SetMaxConcurrency(n int) {
	if n <= 0 {
		m.sem = nil
		return
	}
	m.sem = make(chan struct{}, n)
}

// Register adds a tool. Registration is idempotent on name: a later
// registration replaces the earlier one while keeping its position in the
// listing order.
func (m *ToolManager) Register(t Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := t.Name()
	if _, exists := m.tools[name]; !exists {
		m.order = append(m.order, name)
	}
	m.tools[name] = t
}

// Unregister removes a tool by name. Returns whether it was present.
func (m *ToolManager) Unregister(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tools[name]; !ok {
		return false
	}
	delete(m.tools, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// Get looks up a tool by name.
func (m *ToolManager) Get(name string) (Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[name]
	return t, ok
}

// ListTools returns the registered names in registration order.
func (m *ToolManager) ListTools() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Definitions returns tool definitions in registration order. The stable
// order keeps prompts deterministic across calls.
func (m *ToolManager) Definitions() []ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(m.order))
	for _, name := range m.order {
		t := m.tools[name]
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute dispatches one invocation under the configured reliability policy:
// timeout per attempt, constant-delay retries, and the shared semaphore.
// A terminal failure returns a ToolResult with Success=false alongside the
// typed error; the caller decides whether that aborts the loop or becomes
// an observation (tool error feedback).
func (m *ToolManager) Execute(ctx context.Context, name string, args json.RawMessage, cfg ToolExecutionConfig, callbacks []Callback, agentName string) (ToolResult, error) {
	tool, ok := m.Get(name)
	if !ok {
		err := &ErrTool{Kind: ToolNotFound, Tool: name}
		fireToolError(ctx, callbacks, agentName, name, err)
		return ToolResult{Success: false, Error: err.Error()}, err
	}

	fireToolStart(ctx, callbacks, agentName, name, args)

	// Acquire a slot on the shared semaphore, if bounded.
	if sem := m.sem; sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			err := &ErrTool{Kind: ToolExecutionFailed, Tool: name, Message: "cancelled", Err: ctx.Err()}
			fireToolError(ctx, callbacks, agentName, name, err)
			return ToolResult{Success: false, Error: err.Error()}, err
		}
	}

	var lastResult ToolResult
	var lastErr error
	attempts := cfg.attempts()

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			m.logger.Debug("tool retry", "tool", name, "attempt", attempt+1, "of", attempts)
			timer := time.NewTimer(cfg.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				err := &ErrTool{Kind: ToolExecutionFailed, Tool: name, Message: "cancelled", Err: ctx.Err()}
				fireToolError(ctx, callbacks, agentName, name, err)
				return ToolResult{Success: false, Error: err.Error()}, err
			}
		}

		result, err := m.attempt(ctx, tool, args, cfg.timeout())
		if err == nil && result.Success {
			fireToolEnd(ctx, callbacks, agentName, name, result)
			return result, nil
		}
		lastResult, lastErr = result, err
	}

	if lastErr == nil {
		// The tool reported failure without an error value.
		lastErr = &ErrTool{Kind: ToolExecutionFailed, Tool: name, Message: lastResult.Error}
	}
	fireToolError(ctx, callbacks, agentName, name, lastErr)
	if lastResult.Error == "" {
		lastResult.Error = lastErr.Error()
	}
	lastResult.Success = false
	return lastResult, lastErr
}

// attempt runs one bounded execution. On timeout the in-flight goroutine is
// abandoned (its result discarded) rather than force-killed; well-behaved
// tools observe the attempt context and stop.
func (m *ToolManager) attempt(ctx context.Context, tool Tool, args json.RawMessage, timeout time.Duration) (ToolResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type attemptResult struct {
		result ToolResult
		err    error
	}
	done := make(chan attemptResult, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- attemptResult{err: &ErrTool{
					Kind: ToolExecutionFailed, Tool: tool.Name(),
					Message: fmt.Sprintf("panic: %v", p),
				}}
			}
		}()
		result, err := tool.Execute(attemptCtx, args)
		done <- attemptResult{result: result, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			var te *ErrTool
			switch {
			case errors.As(r.err, &te):
				// Already classified.
			case errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil:
				// The tool observed the attempt deadline and returned it.
				r.err = &ErrTool{Kind: ToolTimeout, Tool: tool.Name(), Message: fmt.Sprintf("exceeded %s", timeout), Err: r.err}
			default:
				r.err = &ErrTool{Kind: ToolExecutionFailed, Tool: tool.Name(), Message: r.err.Error(), Err: r.err}
			}
			if r.result.Error == "" {
				r.result.Error = r.err.Error()
			}
			r.result.Success = false
		}
		return r.result, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			err := &ErrTool{Kind: ToolExecutionFailed, Tool: tool.Name(), Message: "cancelled", Err: ctx.Err()}
			return ToolResult{Success: false, Error: err.Error()}, err
		}
		err := &ErrTool{Kind: ToolTimeout, Tool: tool.Name(), Message: fmt.Sprintf("exceeded %s", timeout)}
		return ToolResult{Success: false, Error: err.Error()}, err
	}
}
