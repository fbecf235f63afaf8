package ember

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// AgentState is the execution state of a spawned agent.
type AgentState int32

const (
	// StatePending: spawned but Execute has not started.
	StatePending AgentState = iota
	// StateRunning: Execute in progress.
	StateRunning
	// StateCompleted: Execute finished successfully.
	StateCompleted
	// StateFailed: Execute returned an error.
	StateFailed
	// StateCancelled: cancelled via Cancel() or the parent context.
	StateCancelled
)

func (s AgentState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is final.
func (s AgentState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// SpawnOption configures Spawn.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	logger *slog.Logger
}

// SpawnLogger sets the structured logger for spawn lifecycle events.
func SpawnLogger(l *slog.Logger) SpawnOption {
	return func(c *spawnConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// AgentHandle tracks a background agent execution. All methods are safe
// for concurrent use.
type AgentHandle struct {
	id     string
	agent  Agent
	state  atomic.Int32
	answer string
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// Spawn launches agent.Execute(ctx, task) in a background goroutine and
// returns immediately with a handle for awaiting and cancelling. The
// parent ctx controls the agent's lifetime.
func Spawn(ctx context.Context, agent Agent, task string, opts ...SpawnOption) *AgentHandle {
	cfg := spawnConfig{logger: nopLogger}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger

	ctx, cancel := context.WithCancel(ctx)
	h := &AgentHandle{
		id:     NewID(),
		agent:  agent,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	h.state.Store(int32(StatePending))

	logger.Info("agent spawned", "agent", agent.Name(), "handle_id", h.id)

	go func() {
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("spawned agent panic", "agent", agent.Name(), "handle_id", h.id, "panic", fmt.Sprintf("%v", p))
				h.err = fmt.Errorf("agent panic: %v", p)
				h.state.Store(int32(StateFailed))
				close(h.done)
			}
		}()
		h.state.Store(int32(StateRunning))
		start := time.Now()
		answer, err := agent.Execute(ctx, task)

		// Write result/err before close(done): the close is the
		// happens-before barrier for every reader.
		h.answer = answer
		h.err = err
		switch {
		case ctx.Err() != nil && err != nil:
			h.state.Store(int32(StateCancelled))
			logger.Info("spawned agent cancelled", "agent", agent.Name(), "handle_id", h.id, "duration", time.Since(start))
		case err != nil:
			h.state.Store(int32(StateFailed))
			logger.Error("spawned agent failed", "agent", agent.Name(), "handle_id", h.id, "error", err, "duration", time.Since(start))
		default:
			h.state.Store(int32(StateCompleted))
			logger.Info("spawned agent completed", "agent", agent.Name(), "handle_id", h.id, "duration", time.Since(start))
		}
		close(h.done)
	}()

	return h
}

// ID returns the unique execution identifier (time-sortable).
func (h *AgentHandle) ID() string { return h.id }

// Agent returns the agent being executed.
func (h *AgentHandle) Agent() Agent { return h.agent }

// State returns the current execution state. Terminal states block on
// Done() first so Result() is valid once State().IsTerminal() holds.
func (h *AgentHandle) State() AgentState {
	s := AgentState(h.state.Load())
	if s.IsTerminal() {
		<-h.done
	}
	return s
}

// Done returns a channel closed when execution reaches a terminal state.
func (h *AgentHandle) Done() <-chan struct{} { return h.done }

// Await blocks until the agent completes or ctx is cancelled.
func (h *AgentHandle) Await(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.answer, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Result returns the answer and error. Only meaningful after Done().
func (h *AgentHandle) Result() (string, error) {
	select {
	case <-h.done:
		return h.answer, h.err
	default:
		return "", nil
	}
}

// Cancel requests cancellation. Non-blocking.
func (h *AgentHandle) Cancel() { h.cancel() }
