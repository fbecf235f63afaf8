package ember

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// planningPromptSuffix frames phase 1: decompose the task into a wide, shallow
// DAG of subtasks.
const planningPromptSuffix = `

First analyze the problem with the think tool, then record your approach with the plan tool, then create every subtask with create_task.

Task decomposition rules:
- Split the problem into the smallest useful subtasks; each does one thing.
- Independent subtasks get no dependencies so they can run in parallel.
- Add a dependency only when a task truly needs another task's result.
- Prefer a wide, shallow dependency graph over a linear chain.
- Planning is only complete once every subtask has been created.`

// ExecuteWithPlanning runs the three-phase planning protocol: plan the task
// into a DAG, execute ready batches until every task is terminal, then
// summarize into a final answer. Degrades to plain Execute when planning is
// not enabled or the model never creates a task.
func (a *ReactAgent) ExecuteWithPlanning(ctx context.Context, task string) (string, error) {
	if a.initErr != nil {
		return "", &ErrAgent{Kind: AgentInitFailed, Agent: a.name, Message: a.initErr.Error(), Err: a.initErr}
	}
	if !a.hasPlanningTools() {
		a.logger.Warn("planning requested without planner tools, falling back to direct execution")
		return a.Execute(ctx, task)
	}

	// Every planning run starts from a clean session.
	a.Reset()
	a.tasks.Reset()

	a.logger.Info("planning mode", "task", truncate(task, 120))

	// --- Phase 1: plan ---
	a.context.Push(UserMessage(task + planningPromptSuffix))

	hasCreated := false
	for round := 0; round < a.cfg.maxIterations; round++ {
		outcome, err := a.iterate(ctx, round, task, nil)
		if err != nil {
			return "", err
		}
		if outcome.finished {
			// The model answered during planning; accept it.
			return outcome.answer, nil
		}
		createdThisRound := slices.Contains(outcome.toolNames, CreateTaskToolName)
		if createdThisRound {
			hasCreated = true
		}
		// Planning ends when a round creates nothing after at least one
		// task exists.
		if hasCreated && !createdThisRound {
			break
		}
	}

	if a.tasks.Len() == 0 {
		a.logger.Warn("planning produced no tasks, falling back to direct execution")
		return a.Execute(ctx, task)
	}
	a.logger.Info("plan ready", "tasks", a.tasks.Len())

	// --- Phase 2: execute ready batches ---
	if err := a.executePlannedTasks(ctx, task); err != nil {
		return "", err
	}

	// --- Phase 3: summarize ---
	a.context.Push(UserMessage(a.summaryPrompt()))
	for i := 0; i < a.cfg.maxIterations; i++ {
		outcome, err := a.iterate(ctx, i, task, nil)
		if err != nil {
			return "", err
		}
		if outcome.finished {
			a.logger.Info("planning mode complete")
			return outcome.answer, nil
		}
	}
	return "", &ErrAgent{Kind: AgentMaxIterations, Agent: a.name}
}

// executePlannedTasks drives phase 2: pick the ready batch, prompt the
// model to execute it (in parallel, via sub-agents for orchestrators), and
// iterate until the batch is terminal. Repeats until every task is.
func (a *ReactAgent) executePlannedTasks(ctx context.Context, task string) error {
	for {
		if err := ctx.Err(); err != nil {
			return &ErrAgent{Kind: AgentInterrupted, Agent: a.name, Message: err.Error(), Err: err}
		}
		if a.tasks.IsAllTerminal() {
			a.logger.Info("all planned tasks terminal")
			return nil
		}

		ready := a.tasks.ReadyTasks()
		if len(ready) == 0 {
			// Tasks remain but none are ready: dependencies are failed or
			// blocked. Let the model diagnose and update statuses.
			a.logger.Warn("no ready tasks, asking the model to diagnose")
			a.context.Push(UserMessage(
				"No task is ready to execute. Inspect the task list, unblock or cancel what cannot proceed, and continue."))
			if _, err := a.iterate(ctx, 0, task, nil); err != nil {
				return err
			}
			continue
		}

		batchIDs := make([]string, len(ready))
		for i, t := range ready {
			batchIDs[i] = t.ID
		}
		a.logger.Info("executing ready batch", "tasks", batchIDs)
		a.context.Push(UserMessage(a.batchPrompt(ready)))

		for i := 0; i < a.cfg.maxIterations; i++ {
			outcome, err := a.iterate(ctx, i, task, nil)
			if err != nil {
				return err
			}
			if outcome.finished {
				// Tolerate an eager final answer by recording it; phase 3
				// still owns the real summary.
				a.context.Push(UserMessage("Do not answer yet. Finish the remaining tasks first."))
			}
			if a.batchTerminal(batchIDs) {
				break
			}
		}
	}
}

// batchPrompt lists the ready tasks and, for orchestrators with
// sub-agents, tells the model to dispatch rather than compute.
func (a *ReactAgent) batchPrompt(ready []Task) string {
	var b strings.Builder
	if len(ready) == 1 {
		fmt.Fprintf(&b, "Execute task [%s]: %s", ready[0].ID, ready[0].Description)
	} else {
		fmt.Fprintf(&b, "The following %d tasks have all dependencies satisfied. Execute them all, in parallel tool calls:\n", len(ready))
		for _, t := range ready {
			fmt.Fprintf(&b, "  - [%s]: %s\n", t.ID, t.Description)
		}
	}

	if a.cfg.role == RoleOrchestrator && a.cfg.enableSubAgents {
		if names := a.subAgents.names(); len(names) > 0 {
			fmt.Fprintf(&b, "\nYou are an orchestrator: dispatch each task to a suitable sub-agent with %s instead of computing yourself. Available sub-agents: %s.",
				AgentToolName, strings.Join(names, ", "))
		}
	}
	b.WriteString("\nWhen a task is done, mark it with update_task and record the result.")
	return b.String()
}

// batchTerminal reports whether every task in the batch reached a terminal
// status.
func (a *ReactAgent) batchTerminal(ids []string) bool {
	for _, id := range ids {
		t, ok := a.tasks.Get(id)
		if !ok || !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// summaryPrompt renders phase 3's instruction with every task's outcome.
func (a *ReactAgent) summaryPrompt() string {
	var b strings.Builder
	b.WriteString("All tasks are finished. Results:\n")
	for _, t := range a.tasks.All() {
		result := t.Result
		if result == "" {
			result = "(no result)"
		}
		fmt.Fprintf(&b, "  - [%s] %s: %s => %s\n", t.ID, t.Status, t.Description, result)
	}
	b.WriteString("\nProduce the final answer with the final_answer tool, based only on these results. Do not create new tasks or run other operations.")
	return b.String()
}

// hasPlanningTools reports whether the full planner tool set is registered.
func (a *ReactAgent) hasPlanningTools() bool {
	if !a.cfg.enableTasks {
		return false
	}
	for _, name := range []string{PlanToolName, CreateTaskToolName, UpdateTaskToolName} {
		if _, ok := a.tools.Get(name); !ok {
			return false
		}
	}
	return true
}
