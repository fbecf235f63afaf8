package ember

import (
	"context"
	"strings"
	"testing"
)

// plannerScript drives the full three-phase protocol:
// phase 1 plans three tasks (t3 depends on t1 and t2), phase 2 completes
// the ready batches, phase 3 answers.
func plannerScript() *mockProvider {
	return &mockProvider{responses: []ChatResponse{
		// Phase 1, round 1: record the plan and create all tasks.
		toolCallResponse(
			call("p1", "plan", `{"plan":"split the calculation"}`),
			call("p2", "create_task", `{"id":"t1","description":"compute 12+3"}`),
			call("p3", "create_task", `{"id":"t2","description":"compute 4*5"}`),
			call("p4", "create_task", `{"id":"t3","description":"sum results","dependencies":["t1","t2"]}`),
		),
		// Phase 1, round 2: no create_task → planning complete.
		toolCallResponse(call("p5", "list_tasks", `{}`)),
		// Phase 2, batch {t1, t2}: both executed in one turn.
		toolCallResponse(
			call("e1", "update_task", `{"id":"t1","status":"completed","result":"15"}`),
			call("e2", "update_task", `{"id":"t2","status":"completed","result":"20"}`),
		),
		// Phase 2, batch {t3}.
		toolCallResponse(call("e3", "update_task", `{"id":"t3","status":"completed","result":"35"}`)),
		// Phase 3: summarize.
		toolCallResponse(call("s1", "final_answer", `{"answer":"35"}`)),
	}}
}

func newPlannerAgent(provider Provider, opts ...Option) *ReactAgent {
	base := []Option{
		WithSystemPrompt("You plan and execute."),
		EnableTools(),
		EnableTasks(),
		WithLLMRetry(0, 0),
	}
	return New("planner", provider, append(base, opts...)...)
}

func TestExecuteWithPlanningFullProtocol(t *testing.T) {
	provider := plannerScript()
	agent := newPlannerAgent(provider)

	answer, err := agent.ExecuteWithPlanning(context.Background(), "compute 12+3 plus 4*5")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "35" {
		t.Errorf("answer = %q, want 35", answer)
	}

	tm := agent.TaskManager()
	if tm.Len() != 3 {
		t.Fatalf("tasks = %d, want 3", tm.Len())
	}
	if !tm.IsAllTerminal() {
		t.Error("tasks not all terminal after planning run")
	}
	t3, _ := tm.Get("t3")
	if t3.Status != TaskCompleted || t3.Result != "35" {
		t.Errorf("t3 = %+v", t3)
	}
}

func TestPlanningBatchesRespectDependencies(t *testing.T) {
	provider := plannerScript()
	agent := newPlannerAgent(provider)

	if _, err := agent.ExecuteWithPlanning(context.Background(), "compound"); err != nil {
		t.Fatal(err)
	}

	// t1 and t2 were ready together (one batch), t3 only after both: the
	// script's call order proves the scheduler offered them that way;
	// an out-of-order schedule would have desynchronized the script and
	// failed the update_task calls.
	t1, _ := agent.TaskManager().Get("t1")
	t3, _ := agent.TaskManager().Get("t3")
	if t3.UpdatedAt < t1.UpdatedAt {
		t.Error("t3 finished before its dependency t1")
	}
}

func TestPlanningDegradesWithoutTasks(t *testing.T) {
	// The model never calls create_task; after planning rounds produce
	// nothing, the agent falls back to direct execution.
	var responses []ChatResponse
	for i := 0; i < 10; i++ {
		responses = append(responses, toolCallResponse(call("t", "think", `{"thought":"hmm"}`)))
	}
	// Fallback Execute path answers directly.
	responses = append(responses, ChatResponse{Content: "direct answer"})
	provider := &mockProvider{responses: responses}

	agent := newPlannerAgent(provider, WithMaxIterations(10))
	answer, err := agent.ExecuteWithPlanning(context.Background(), "simple question")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "direct answer" {
		t.Errorf("answer = %q", answer)
	}
}

func TestPlanningDegradesWithoutPlannerTools(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{{Content: "plain"}}}
	agent := New("noplan", provider, WithLLMRetry(0, 0)) // EnableTasks not set

	answer, err := agent.ExecuteWithPlanning(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "plain" {
		t.Errorf("answer = %q", answer)
	}
}

func TestCreateTaskCycleSurfacesAsToolError(t *testing.T) {
	// A cycle-creating create_task is rolled back and reported as a
	// tool-result error; the loop continues and re-plans.
	provider := &mockProvider{responses: []ChatResponse{
		toolCallResponse(
			call("p1", "create_task", `{"id":"a","description":"first"}`),
			call("p2", "create_task", `{"id":"b","description":"self-referential","dependencies":["b","a"]}`),
		),
		toolCallResponse(call("p3", "list_tasks", `{}`)),
		toolCallResponse(call("e1", "update_task", `{"id":"a","status":"completed","result":"ok"}`)),
		toolCallResponse(call("s1", "final_answer", `{"answer":"done"}`)),
	}}
	agent := newPlannerAgent(provider)

	answer, err := agent.ExecuteWithPlanning(context.Background(), "task")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "done" {
		t.Errorf("answer = %q", answer)
	}

	tm := agent.TaskManager()
	if tm.Len() != 1 {
		t.Errorf("tasks = %d, want 1 (cycle insert rolled back)", tm.Len())
	}
	if _, ok := tm.Get("b"); ok {
		t.Error("cycle-creating task survived")
	}

	// The model saw the cycle error as an observation.
	var sawCycleError bool
	for _, m := range agent.Context().Messages() {
		if m.Role == RoleTool && m.ToolCallID == "p2" {
			sawCycleError = true
			if !containsAll(m.Content, "error:", "cycle") {
				t.Errorf("cycle observation = %q", m.Content)
			}
		}
	}
	if !sawCycleError {
		t.Error("cycle error never observed")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
