package ember

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Planner tool names, registered when task planning is enabled.
const (
	PlanToolName          = "plan"
	CreateTaskToolName    = "create_task"
	UpdateTaskToolName    = "update_task"
	ListTasksToolName     = "list_tasks"
	VisualizeToolName     = "visualize_dependencies"
	ExecutionOrderToolName = "get_execution_order"
)

// plannerTools returns the task-management tool set bound to a shared
// TaskManager. Each tool mutates the manager only in synchronous critical
// sections; no lock spans an LLM call.
func plannerTools(tm *TaskManager) []Tool {
	return []Tool{
		&planTool{tm: tm},
		&createTaskTool{tm: tm},
		&updateTaskTool{tm: tm},
		&listTasksTool{tm: tm},
		&visualizeTool{tm: tm},
		&executionOrderTool{tm: tm},
	}
}

// --- plan ---

type planTool struct{ tm *TaskManager }

func (*planTool) Name() string { return PlanToolName }

func (*planTool) Description() string {
	return "Record the overall plan before creating tasks. Describe the approach and how the work splits into subtasks."
}

func (*planTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"plan": {"type": "string", "description": "The overall plan as free text"}
		},
		"required": ["plan"]
	}`)
}

func (t *planTool) Execute(_ context.Context, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{}, &ErrTool{Kind: ToolInvalidParameter, Tool: PlanToolName, Message: err.Error(), Err: err}
	}
	t.tm.SetPlan(params.Plan)
	return ToolResult{Success: true, Output: "Plan recorded. Now create the subtasks with create_task."}, nil
}

// --- create_task ---

type createTaskTool struct{ tm *TaskManager }

func (*createTaskTool) Name() string { return CreateTaskToolName }

func (*createTaskTool) Description() string {
	return "Create a subtask in the plan. Independent tasks should have no dependencies so they can run in parallel; add a dependency only when the task truly needs another task's result."
}

func (*createTaskTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Short unique task id, e.g. \"t1\""},
			"description": {"type": "string", "description": "What the task does"},
			"dependencies": {"type": "array", "items": {"type": "string"}, "description": "Ids of tasks that must complete first"},
			"priority": {"type": "integer", "minimum": 0, "maximum": 10, "description": "0-10, 10 highest (default 5)"},
			"reasoning": {"type": "string", "description": "Why this task exists"}
		},
		"required": ["id", "description"]
	}`)
}

func (t *createTaskTool) Execute(_ context.Context, args json.RawMessage) (ToolResult, error) {
	var params struct {
		ID           string   `json:"id"`
		Description  string   `json:"description"`
		Dependencies []string `json:"dependencies"`
		Priority     *int     `json:"priority"`
		Reasoning    string   `json:"reasoning"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{}, &ErrTool{Kind: ToolInvalidParameter, Tool: CreateTaskToolName, Message: err.Error(), Err: err}
	}
	if params.ID == "" || params.Description == "" {
		return ToolResult{Success: false, Error: "id and description are required"}, nil
	}

	task := NewTask(params.ID, params.Description)
	task.Dependencies = params.Dependencies
	task.Reasoning = params.Reasoning
	if params.Priority != nil {
		task.Priority = *params.Priority
	}

	if err := t.tm.AddTask(task); err != nil {
		// Cycle-creating inserts are rolled back; surface the cycle to the
		// LLM as a tool-result error so it can re-plan.
		return ToolResult{Success: false, Error: err.Error()}, nil
	}
	return ToolResult{Success: true, Output: fmt.Sprintf("Task %q created.", params.ID)}, nil
}

// --- update_task ---

type updateTaskTool struct{ tm *TaskManager }

func (*updateTaskTool) Name() string { return UpdateTaskToolName }

func (*updateTaskTool) Description() string {
	return "Update a task's status. Mark tasks completed as soon as they are done and record the result."
}

func (*updateTaskTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "The task id"},
			"status": {"type": "string", "enum": ["pending", "in_progress", "completed", "cancelled", "failed", "blocked"]},
			"result": {"type": "string", "description": "The task's result (for completed tasks)"},
			"reason": {"type": "string", "description": "Why the task failed or is blocked"}
		},
		"required": ["id", "status"]
	}`)
}

func (t *updateTaskTool) Execute(_ context.Context, args json.RawMessage) (ToolResult, error) {
	var params struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Result string `json:"result"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{}, &ErrTool{Kind: ToolInvalidParameter, Tool: UpdateTaskToolName, Message: err.Error(), Err: err}
	}
	status, err := ParseTaskStatus(params.Status)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}, nil
	}
	if err := t.tm.UpdateStatus(params.ID, status, params.Reason, params.Result); err != nil {
		return ToolResult{Success: false, Error: err.Error()}, nil
	}
	return ToolResult{Success: true, Output: fmt.Sprintf("Task %q is now %s. %s", params.ID, status, t.tm.Summary())}, nil
}

// --- list_tasks ---

type listTasksTool struct{ tm *TaskManager }

func (*listTasksTool) Name() string { return ListTasksToolName }

func (*listTasksTool) Description() string {
	return "List every task with its status, dependencies, and result."
}

func (*listTasksTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *listTasksTool) Execute(_ context.Context, _ json.RawMessage) (ToolResult, error) {
	tasks := t.tm.All()
	if len(tasks) == 0 {
		return ToolResult{Success: true, Output: "No tasks."}, nil
	}
	var b strings.Builder
	for _, task := range tasks {
		fmt.Fprintf(&b, "- [%s] %s: %s", task.ID, task.Status, task.Description)
		if len(task.Dependencies) > 0 {
			fmt.Fprintf(&b, " (depends on %s)", strings.Join(task.Dependencies, ", "))
		}
		if task.Result != "" {
			fmt.Fprintf(&b, " => %s", task.Result)
		}
		b.WriteString("\n")
	}
	b.WriteString(t.tm.Summary())
	return ToolResult{Success: true, Output: b.String()}, nil
}

// --- visualize_dependencies ---

type visualizeTool struct{ tm *TaskManager }

func (*visualizeTool) Name() string { return VisualizeToolName }

func (*visualizeTool) Description() string {
	return "Render the task dependency graph as an indented tree."
}

func (*visualizeTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *visualizeTool) Execute(_ context.Context, _ json.RawMessage) (ToolResult, error) {
	viz := t.tm.Visualize()
	if viz == "" {
		viz = "No tasks."
	}
	return ToolResult{Success: true, Output: viz}, nil
}

// --- get_execution_order ---

type executionOrderTool struct{ tm *TaskManager }

func (*executionOrderTool) Name() string { return ExecutionOrderToolName }

func (*executionOrderTool) Description() string {
	return "Compute a dependency-respecting execution order for all tasks."
}

func (*executionOrderTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *executionOrderTool) Execute(_ context.Context, _ json.RawMessage) (ToolResult, error) {
	order, err := t.tm.TopologicalOrder()
	if err != nil {
		return ToolResult{Success: false, Error: err.Error()}, nil
	}
	if len(order) == 0 {
		return ToolResult{Success: true, Output: "No tasks."}, nil
	}
	return ToolResult{Success: true, Output: strings.Join(order, " -> ")}, nil
}
