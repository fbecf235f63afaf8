package observer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nevindra/ember"

	"go.opentelemetry.io/otel/metric"
)

// MetricsCallback implements ember.Callback, recording tool execution
// counts and durations plus agent run counts. Safe for concurrent use:
// callbacks are shared across parallel tool invocations.
type MetricsCallback struct {
	inst *Instruments

	mu     sync.Mutex
	starts map[string]time.Time // agent/tool → start time
}

// NewCallback creates a metrics-recording callback.
func NewCallback(inst *Instruments) *MetricsCallback {
	return &MetricsCallback{inst: inst, starts: make(map[string]time.Time)}
}

func (c *MetricsCallback) OnIteration(ctx context.Context, agent string, iteration int) {
	if iteration == 0 {
		c.inst.AgentRuns.Add(ctx, 1, metric.WithAttributes(AttrAgentName.String(agent)))
	}
}

func (c *MetricsCallback) OnToolStart(_ context.Context, agent, tool string, _ json.RawMessage) {
	c.mu.Lock()
	c.starts[agent+"/"+tool] = time.Now()
	c.mu.Unlock()
}

func (c *MetricsCallback) OnToolEnd(ctx context.Context, agent, tool string, _ ember.ToolResult) {
	c.finish(ctx, agent, tool, "ok")
}

func (c *MetricsCallback) OnToolError(ctx context.Context, agent, tool string, _ error) {
	c.finish(ctx, agent, tool, "error")
}

func (c *MetricsCallback) OnFinalAnswer(context.Context, string, string) {}

func (c *MetricsCallback) finish(ctx context.Context, agent, tool, status string) {
	key := agent + "/" + tool
	c.mu.Lock()
	start, ok := c.starts[key]
	if ok {
		delete(c.starts, key)
	}
	c.mu.Unlock()

	attrs := metric.WithAttributes(
		AttrAgentName.String(agent),
		AttrToolName.String(tool),
		AttrToolStatus.String(status),
	)
	c.inst.ToolExecutions.Add(ctx, 1, attrs)
	if ok {
		c.inst.ToolDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}
}

var _ ember.Callback = (*MetricsCallback)(nil)
