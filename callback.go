package ember

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Callback observes agent activity. Callbacks are fanned out sequentially
// per event; a slow callback applies backpressure to the loop, which keeps
// the mental model simple. Implementations that need concurrency should
// dispatch asynchronously inside their own methods, and must synchronize
// any mutable state themselves: one callback value is shared across
// concurrent tool invocations.
type Callback interface {
	// OnIteration fires at the top of each think-act-observe cycle (0-based).
	OnIteration(ctx context.Context, agent string, iteration int)
	// OnToolStart fires before a tool invocation (before retries begin).
	OnToolStart(ctx context.Context, agent, tool string, args json.RawMessage)
	// OnToolEnd fires after a successful tool invocation.
	OnToolEnd(ctx context.Context, agent, tool string, result ToolResult)
	// OnToolError fires after a tool invocation fails terminally.
	OnToolError(ctx context.Context, agent, tool string, err error)
	// OnFinalAnswer fires once, when the loop produces its answer.
	OnFinalAnswer(ctx context.Context, agent, answer string)
}

// BaseCallback is a no-op Callback. Embed it to implement only the hooks
// you care about.
type BaseCallback struct{}

func (BaseCallback) OnIteration(context.Context, string, int)                    {}
func (BaseCallback) OnToolStart(context.Context, string, string, json.RawMessage) {}
func (BaseCallback) OnToolEnd(context.Context, string, string, ToolResult)       {}
func (BaseCallback) OnToolError(context.Context, string, string, error)          {}
func (BaseCallback) OnFinalAnswer(context.Context, string, string)               {}

var _ Callback = BaseCallback{}

// LogCallback logs every agent event through a structured logger.
type LogCallback struct {
	Logger *slog.Logger
}

func (c *LogCallback) OnIteration(ctx context.Context, agent string, i int) {
	c.Logger.InfoContext(ctx, "iteration", "agent", agent, "n", i)
}

func (c *LogCallback) OnToolStart(ctx context.Context, agent, tool string, args json.RawMessage) {
	c.Logger.InfoContext(ctx, "tool start", "agent", agent, "tool", tool, "args", string(args))
}

func (c *LogCallback) OnToolEnd(ctx context.Context, agent, tool string, result ToolResult) {
	c.Logger.InfoContext(ctx, "tool end", "agent", agent, "tool", tool, "output", result.Output)
}

func (c *LogCallback) OnToolError(ctx context.Context, agent, tool string, err error) {
	c.Logger.WarnContext(ctx, "tool error", "agent", agent, "tool", tool, "error", err)
}

func (c *LogCallback) OnFinalAnswer(ctx context.Context, agent, answer string) {
	c.Logger.InfoContext(ctx, "final answer", "agent", agent, "answer", answer)
}

var _ Callback = (*LogCallback)(nil)

// fireIteration dispatches OnIteration to each callback in order, with
// panic recovery so a broken callback cannot take down the loop.
func fireIteration(ctx context.Context, cbs []Callback, agent string, i int) {
	for _, cb := range cbs {
		safeFire(func() { cb.OnIteration(ctx, agent, i) })
	}
}

func fireToolStart(ctx context.Context, cbs []Callback, agent, tool string, args json.RawMessage) {
	for _, cb := range cbs {
		safeFire(func() { cb.OnToolStart(ctx, agent, tool, args) })
	}
}

func fireToolEnd(ctx context.Context, cbs []Callback, agent, tool string, result ToolResult) {
	for _, cb := range cbs {
		safeFire(func() { cb.OnToolEnd(ctx, agent, tool, result) })
	}
}

func fireToolError(ctx context.Context, cbs []Callback, agent, tool string, err error) {
	for _, cb := range cbs {
		safeFire(func() { cb.OnToolError(ctx, agent, tool, err) })
	}
}

func fireFinalAnswer(ctx context.Context, cbs []Callback, agent, answer string) {
	for _, cb := range cbs {
		safeFire(func() { cb.OnFinalAnswer(ctx, agent, answer) })
	}
}

func safeFire(fn func()) {
	defer func() { recover() }()
	fn()
}
