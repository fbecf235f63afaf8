package ember

import (
	"context"
	"sync"
)

// maxParallelDispatch caps the worker pool for one tool batch, on top of
// the ToolManager semaphore, so a pathological batch cannot spawn unbounded
// goroutines.
const maxParallelDispatch = 10

// iterationOutcome is what one think-act-observe cycle produced.
type iterationOutcome struct {
	finished  bool
	answer    string
	toolNames []string // tools invoked this iteration, in call order
}

// run drives iterations until an answer, exhaustion, or error. When ch is
// non-nil it emits AgentEvents in causal order and closes ch exactly once.
func (a *ReactAgent) run(ctx context.Context, currentQuery string, ch chan<- AgentEvent) (string, error) {
	var closeCh func()
	if ch != nil {
		closeCh = onceClose(ch)
		defer closeCh()
	}

	for i := 0; i < a.cfg.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return "", &ErrAgent{Kind: AgentInterrupted, Agent: a.name, Message: err.Error(), Err: err}
		}

		outcome, err := a.iterate(ctx, i, currentQuery, ch)
		if err != nil {
			return "", err
		}
		if outcome.finished {
			a.emit(ctx, ch, AgentEvent{Type: EventFinalAnswer, Content: outcome.answer})
			return outcome.answer, nil
		}
	}

	a.logger.Warn("max iterations reached", "max", a.cfg.maxIterations)
	return "", &ErrAgent{Kind: AgentMaxIterations, Agent: a.name}
}

// iterate runs one cycle: prepare context, call the LLM, then either
// finish on plain text or dispatch the tool batch and observe results.
func (a *ReactAgent) iterate(ctx context.Context, iteration int, currentQuery string, ch chan<- AgentEvent) (iterationOutcome, error) {
	fireIteration(ctx, a.cfg.callbacks, a.name, iteration)

	iterCtx := ctx
	var span Span
	if a.cfg.tracer != nil {
		iterCtx, span = a.cfg.tracer.Start(ctx, "agent.iteration",
			StringAttr("agent.name", a.name),
			IntAttr("iteration", iteration))
		defer span.End()
	}

	messages, err := a.context.Prepare(iterCtx, currentQuery)
	if err != nil {
		return iterationOutcome{}, err
	}

	req := ChatRequest{
		Model:          a.cfg.model,
		Messages:       messages,
		Tools:          a.visibleDefinitions(),
		Temperature:    a.cfg.temperature,
		MaxTokens:      a.cfg.maxTokens,
		ResponseSchema: a.cfg.responseSchema,
	}

	resp, err := a.llmCall(iterCtx, req, ch)
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		return iterationOutcome{}, err
	}

	// Tool-call turn: record the assistant message verbatim, then act.
	if len(resp.ToolCalls) > 0 {
		if span != nil {
			span.SetAttr(IntAttr("tool_count", len(resp.ToolCalls)))
		}
		a.context.Push(Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		return a.actAndObserve(iterCtx, resp.ToolCalls, ch)
	}

	// Plain-text turn.
	if resp.Content == "" {
		return iterationOutcome{}, &ErrAgent{Kind: AgentNoResponse, Agent: a.name}
	}
	a.context.Push(AssistantMessage(resp.Content))

	if a.schema != nil {
		// Structured output: the first plain text terminates the loop and
		// must satisfy the response schema.
		if err := a.schema.validate(resp.Content); err != nil {
			return iterationOutcome{}, err
		}
	}
	fireFinalAnswer(ctx, a.cfg.callbacks, a.name, resp.Content)
	return iterationOutcome{finished: true, answer: resp.Content}, nil
}

// actAndObserve dispatches a tool batch and appends observations in call
// order. A final_answer in the batch short-circuits: tool calls after it
// are not invoked, and its output finishes the run.
func (a *ReactAgent) actAndObserve(ctx context.Context, calls []ToolCall, ch chan<- AgentEvent) (iterationOutcome, error) {
	for idx, tc := range calls {
		if tc.Name == FinalAnswerToolName {
			if dropped := len(calls) - idx - 1; dropped > 0 {
				a.logger.Debug("final_answer short-circuits batch", "dropped_calls", dropped)
			}
			calls = calls[:idx+1]
			break
		}
	}

	for _, tc := range calls {
		a.emit(ctx, ch, AgentEvent{Type: EventToolCall, Name: tc.Name, Args: tc.Args})
	}

	results := a.dispatchBatch(ctx, calls)

	outcome := iterationOutcome{}
	for i, tc := range calls {
		outcome.toolNames = append(outcome.toolNames, tc.Name)
		res, execErr := results[i].result, results[i].err

		if tc.Name == FinalAnswerToolName && execErr == nil {
			a.context.Push(ToolResultMessage(tc.ID, tc.Name, res.Output))
			fireFinalAnswer(ctx, a.cfg.callbacks, a.name, res.Output)
			outcome.finished = true
			outcome.answer = res.Output
			return outcome, nil
		}

		observation := res.Output
		if execErr != nil {
			if !a.cfg.toolErrorFeedback {
				// Observe nothing further; the failure aborts the iteration.
				a.context.Push(ToolResultMessage(tc.ID, tc.Name, "error: "+execErr.Error()))
				return iterationOutcome{}, execErr
			}
			observation = "error: " + execErr.Error()
		} else if !res.Success {
			observation = "error: " + res.Error
		}

		a.context.Push(ToolResultMessage(tc.ID, tc.Name, observation))
		a.emit(ctx, ch, AgentEvent{Type: EventToolResult, Name: tc.Name, Content: observation})
	}
	return outcome, nil
}

// batchResult pairs one tool call's result with its terminal error.
type batchResult struct {
	result ToolResult
	err    error
}

// dispatchBatch runs the calls concurrently through the ToolManager and
// returns results indexed by call position, so observations can be
// appended in call order regardless of completion order. A single call
// runs inline; larger batches use a fixed worker pool pulling from a
// shared channel. The ToolManager semaphore additionally bounds in-flight
// executions when MaxConcurrency is configured.
func (a *ReactAgent) dispatchBatch(ctx context.Context, calls []ToolCall) []batchResult {
	if len(calls) == 1 {
		res, err := a.tools.Execute(ctx, calls[0].Name, calls[0].Args, a.cfg.toolExec, a.cfg.callbacks, a.name)
		return []batchResult{{result: res, err: err}}
	}

	type workItem struct {
		idx int
		tc  ToolCall
	}
	work := make(chan workItem, len(calls))
	for i, tc := range calls {
		work <- workItem{idx: i, tc: tc}
	}
	close(work)

	results := make([]batchResult, len(calls))
	numWorkers := min(len(calls), maxParallelDispatch)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range work {
				res, err := a.tools.Execute(ctx, w.tc.Name, w.tc.Args, a.cfg.toolExec, a.cfg.callbacks, a.name)
				results[w.idx] = batchResult{result: res, err: err}
			}
		}()
	}
	wg.Wait()
	return results
}

// llmCall invokes the provider, streaming through an intermediate channel
// when ch is set so one consumer channel spans multiple LLM calls.
func (a *ReactAgent) llmCall(ctx context.Context, req ChatRequest, ch chan<- AgentEvent) (ChatResponse, error) {
	if ch == nil {
		return a.llm.Chat(ctx, req)
	}

	mid := make(chan AgentEvent, 64)
	var resp ChatResponse
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err = a.llm.ChatStream(ctx, req, mid)
	}()

	for ev := range mid {
		select {
		case ch <- ev:
		case <-ctx.Done():
			// Keep draining mid so the provider goroutine can finish.
		}
	}
	<-done
	return resp, err
}

// emit sends one event, giving up on cancellation.
func (a *ReactAgent) emit(ctx context.Context, ch chan<- AgentEvent, ev AgentEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

// visibleDefinitions filters the registry by the allow-list. Built-in
// tools are always visible: removing final_answer would wedge the loop.
func (a *ReactAgent) visibleDefinitions() []ToolDefinition {
	defs := a.tools.Definitions()
	if len(a.cfg.allowedTools) == 0 {
		return defs
	}
	allowed := make(map[string]bool, len(a.cfg.allowedTools))
	for _, name := range a.cfg.allowedTools {
		allowed[name] = true
	}
	var out []ToolDefinition
	for _, d := range defs {
		if allowed[d.Name] || a.builtins[d.Name] {
			out = append(out, d)
		}
	}
	return out
}
