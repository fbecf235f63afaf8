package ember

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// --- Scripted provider ---

// mockProvider returns its scripted responses in order, one per call.
// ChatStream splits plain-text content into two token events before
// returning the full response, mimicking a real SSE stream.
type mockProvider struct {
	mu        sync.Mutex
	name      string
	responses []ChatResponse
	errs      []error // consumed before responses when non-nil at the call index
	calls     int
	requests  []ChatRequest
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockProvider) next(req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)
	if idx < len(m.errs) && m.errs[idx] != nil {
		return ChatResponse{}, m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return ChatResponse{}, fmt.Errorf("mock provider: unscripted call %d", idx)
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	return m.next(req)
}

func (m *mockProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- AgentEvent) (ChatResponse, error) {
	defer close(ch)
	resp, err := m.next(req)
	if err != nil {
		return ChatResponse{}, err
	}
	// Stream plain text as two halves so consumers see real deltas.
	if resp.Content != "" && len(resp.ToolCalls) == 0 {
		half := len(resp.Content) / 2
		for _, part := range []string{resp.Content[:half], resp.Content[half:]} {
			if part == "" {
				continue
			}
			select {
			case ch <- AgentEvent{Type: EventToken, Content: part}:
			case <-ctx.Done():
				return ChatResponse{}, ctx.Err()
			}
		}
	}
	return resp, nil
}

var _ Provider = (*mockProvider)(nil)

// call builds a scripted tool call.
func call(id, name, args string) ToolCall {
	return ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}
}

// toolCallResponse scripts an assistant turn with tool calls.
func toolCallResponse(calls ...ToolCall) ChatResponse {
	return ChatResponse{ToolCalls: calls}
}

// --- Tools ---

// mathTool implements add/multiply style binary ops.
type mathTool struct {
	name string
	op   func(a, b float64) float64
}

func (t *mathTool) Name() string        { return t.name }
func (t *mathTool) Description() string { return "Binary math operation " + t.name }
func (t *mathTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`)
}

func (t *mathTool) Execute(_ context.Context, args json.RawMessage) (ToolResult, error) {
	var params struct{ A, B float64 }
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{}, &ErrTool{Kind: ToolInvalidParameter, Tool: t.name, Message: err.Error(), Err: err}
	}
	return ToolResult{Success: true, Output: trimFloat(t.op(params.A, params.B))}, nil
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func addTool() *mathTool {
	return &mathTool{name: "add", op: func(a, b float64) float64 { return a + b }}
}

func multiplyTool() *mathTool {
	return &mathTool{name: "multiply", op: func(a, b float64) float64 { return a * b }}
}

// slowTool sleeps for its configured duration, honoring the context.
type slowTool struct {
	name  string
	delay time.Duration

	mu      sync.Mutex
	started int
	running int
	peak    int
}

func (t *slowTool) Name() string                  { return t.name }
func (t *slowTool) Description() string           { return "Sleeps before answering" }
func (t *slowTool) Parameters() json.RawMessage   { return json.RawMessage(`{"type":"object","properties":{}}`) }

func (t *slowTool) Execute(ctx context.Context, _ json.RawMessage) (ToolResult, error) {
	t.mu.Lock()
	t.started++
	t.running++
	if t.running > t.peak {
		t.peak = t.running
	}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.running--
		t.mu.Unlock()
	}()

	select {
	case <-time.After(t.delay):
		return ToolResult{Success: true, Output: "done"}, nil
	case <-ctx.Done():
		return ToolResult{}, ctx.Err()
	}
}

// flakyTool fails its first failures executions, then succeeds.
type flakyTool struct {
	mu       sync.Mutex
	failures int
	attempts int
}

func (t *flakyTool) Name() string                { return "flaky" }
func (t *flakyTool) Description() string         { return "Fails a few times, then succeeds" }
func (t *flakyTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object","properties":{}}`) }

func (t *flakyTool) Execute(_ context.Context, _ json.RawMessage) (ToolResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	if t.attempts <= t.failures {
		return ToolResult{Success: false, Error: "transient failure"}, nil
	}
	return ToolResult{Success: true, Output: "recovered"}, nil
}

func (t *flakyTool) attemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// --- Callback recorder ---

type recordedEvent struct {
	kind string // "iteration", "tool_start", "tool_end", "tool_error", "final"
	tool string
}

type recordingCallback struct {
	BaseCallback
	mu     sync.Mutex
	events []recordedEvent
}

func (c *recordingCallback) OnIteration(_ context.Context, _ string, _ int) {
	c.record(recordedEvent{kind: "iteration"})
}

func (c *recordingCallback) OnToolStart(_ context.Context, _, tool string, _ json.RawMessage) {
	c.record(recordedEvent{kind: "tool_start", tool: tool})
}

func (c *recordingCallback) OnToolEnd(_ context.Context, _, tool string, _ ToolResult) {
	c.record(recordedEvent{kind: "tool_end", tool: tool})
}

func (c *recordingCallback) OnToolError(_ context.Context, _, tool string, _ error) {
	c.record(recordedEvent{kind: "tool_error", tool: tool})
}

func (c *recordingCallback) OnFinalAnswer(_ context.Context, _, _ string) {
	c.record(recordedEvent{kind: "final"})
}

func (c *recordingCallback) record(ev recordedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *recordingCallback) byKind(kind string) []recordedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []recordedEvent
	for _, ev := range c.events {
		if ev.kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// --- In-memory checkpointer fake (the real one lives in store/memstore,
// which cannot be imported from this package's tests) ---

type fakeCheckpointer struct {
	mu   sync.Mutex
	data map[string][]Checkpoint
}

func newFakeCheckpointer() *fakeCheckpointer {
	return &fakeCheckpointer{data: make(map[string][]Checkpoint)}
}

func (c *fakeCheckpointer) Put(_ context.Context, sessionID string, messages []Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := Checkpoint{
		SessionID:    sessionID,
		CheckpointID: NewID(),
		Messages:     append([]Message(nil), messages...),
		CreatedAt:    NowUnix(),
	}
	c.data[sessionID] = append(c.data[sessionID], cp)
	return cp.CheckpointID, nil
}

func (c *fakeCheckpointer) Get(_ context.Context, sessionID string) (*Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cps := c.data[sessionID]
	if len(cps) == 0 {
		return nil, nil
	}
	latest := cps[len(cps)-1]
	return &latest, nil
}

func (c *fakeCheckpointer) List(_ context.Context, sessionID string) ([]Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cps := c.data[sessionID]
	out := make([]Checkpoint, len(cps))
	for i, cp := range cps {
		out[len(cps)-1-i] = cp
	}
	return out, nil
}

func (c *fakeCheckpointer) DeleteSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, sessionID)
	return nil
}

func (c *fakeCheckpointer) ListSessions(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for id := range c.data {
		out = append(out, id)
	}
	return out, nil
}

var _ Checkpointer = (*fakeCheckpointer)(nil)

// roles summarizes a message history as "system,user,assistant,tool,...".
func roles(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}
