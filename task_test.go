package ember

import (
	"strings"
	"testing"
)

func TestAddTaskAndReadySet(t *testing.T) {
	tm := NewTaskManager()
	if err := tm.AddTask(NewTask("t1", "first")); err != nil {
		t.Fatal(err)
	}
	if err := tm.AddTask(NewTask("t2", "second")); err != nil {
		t.Fatal(err)
	}
	t3 := NewTask("t3", "third")
	t3.Dependencies = []string{"t1", "t2"}
	if err := tm.AddTask(t3); err != nil {
		t.Fatal(err)
	}

	ready := tm.ReadyTasks()
	if len(ready) != 2 || ready[0].ID != "t1" || ready[1].ID != "t2" {
		t.Fatalf("ready set = %+v, want t1, t2", ready)
	}

	if err := tm.UpdateStatus("t1", TaskCompleted, "", "done"); err != nil {
		t.Fatal(err)
	}
	ready = tm.ReadyTasks()
	if len(ready) != 1 || ready[0].ID != "t2" {
		t.Fatalf("ready after t1 done = %+v", ready)
	}

	if err := tm.UpdateStatus("t2", TaskCompleted, "", "done"); err != nil {
		t.Fatal(err)
	}
	ready = tm.ReadyTasks()
	if len(ready) != 1 || ready[0].ID != "t3" {
		t.Fatalf("t3 not ready after deps completed: %+v", ready)
	}
}

func TestDuplicateTaskRejected(t *testing.T) {
	tm := NewTaskManager()
	if err := tm.AddTask(NewTask("t1", "first")); err != nil {
		t.Fatal(err)
	}
	if err := tm.AddTask(NewTask("t1", "again")); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestPriorityClamp(t *testing.T) {
	tm := NewTaskManager()
	task := NewTask("t1", "x")
	task.Priority = 99
	if err := tm.AddTask(task); err != nil {
		t.Fatal(err)
	}
	got, _ := tm.Get("t1")
	if got.Priority != 10 {
		t.Errorf("priority = %d, want clamped 10", got.Priority)
	}
}

func TestCycleInsertRollsBack(t *testing.T) {
	// Scenario: from {A→B, B→C} (edges meaning "depends on"), adding a
	// task that closes a loop must fail and leave the manager untouched.
	tm := NewTaskManager()
	c := NewTask("c", "leaf")
	if err := tm.AddTask(c); err != nil {
		t.Fatal(err)
	}
	b := NewTask("b", "mid")
	b.Dependencies = []string{"c"}
	if err := tm.AddTask(b); err != nil {
		t.Fatal(err)
	}
	a := NewTask("a", "top")
	a.Dependencies = []string{"b"}
	if err := tm.AddTask(a); err != nil {
		t.Fatal(err)
	}

	before := tm.All()

	// e depends on a, and a transitively depends on... nothing yet, so
	// make e a dependency cycle: e depends on a, then try inserting a
	// task that a's chain depends on e through c? Dependencies are fixed
	// at insert, so close the loop directly: d depends on a AND c depends
	// on d is impossible post-hoc; instead insert d whose dependency
	// chain loops through itself via an existing id.
	d := NewTask("d", "cycle closer")
	d.Dependencies = []string{"a", "d"} // self-loop plus a real edge
	err := tm.AddTask(d)
	if err == nil {
		t.Fatal("cycle-creating insert accepted")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error does not name the cycle: %v", err)
	}

	after := tm.All()
	if len(after) != len(before) {
		t.Fatalf("manager changed after rejected insert: %d -> %d tasks", len(before), len(after))
	}
	if tm.HasCircularDependencies() {
		t.Error("DAG invariant violated after rollback")
	}
	if _, err := tm.TopologicalOrder(); err != nil {
		t.Errorf("topological order failed after rollback: %v", err)
	}
}

func TestDetectCyclesPath(t *testing.T) {
	tm := NewTaskManager()
	// Build a 2-cycle by inserting x first (dep on y, which doesn't exist
	// yet so it's ignored at insert time), then y dep on x. Dangling deps
	// are skipped during detection, so the cycle only closes when y lands.
	x := NewTask("x", "")
	x.Dependencies = []string{"y"}
	if err := tm.AddTask(x); err != nil {
		t.Fatal(err)
	}
	y := NewTask("y", "")
	y.Dependencies = []string{"x"}
	err := tm.AddTask(y)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "x -> y -> x") {
		t.Errorf("error does not report the cycle path: %v", err)
	}
	// y was rolled back; the graph is acyclic again.
	if tm.HasCircularDependencies() {
		t.Error("rollback left a cycle")
	}
}

func TestTopologicalOrderPriorityTies(t *testing.T) {
	tm := NewTaskManager()
	low := NewTask("low", "")
	low.Priority = 1
	high := NewTask("high", "")
	high.Priority = 9
	dependent := NewTask("dep", "")
	dependent.Dependencies = []string{"low", "high"}

	for _, task := range []Task{low, high, dependent} {
		if err := tm.AddTask(task); err != nil {
			t.Fatal(err)
		}
	}

	order, err := tm.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != "high" || order[1] != "low" || order[2] != "dep" {
		t.Errorf("order = %v, want [high low dep]", order)
	}
}

func TestIsAllTerminal(t *testing.T) {
	tm := NewTaskManager()
	if !tm.IsAllTerminal() {
		t.Error("empty manager should be terminal")
	}

	if err := tm.AddTask(NewTask("t1", "")); err != nil {
		t.Fatal(err)
	}
	if tm.IsAllTerminal() {
		t.Error("pending task counted as terminal")
	}

	// Failed counts as terminal alongside completed and cancelled.
	if err := tm.UpdateStatus("t1", TaskFailed, "broke", ""); err != nil {
		t.Fatal(err)
	}
	if !tm.IsAllTerminal() {
		t.Error("failed task should be terminal")
	}

	if err := tm.AddTask(NewTask("t2", "")); err != nil {
		t.Fatal(err)
	}
	if err := tm.UpdateStatus("t2", TaskBlocked, "waiting", ""); err != nil {
		t.Fatal(err)
	}
	if tm.IsAllTerminal() {
		t.Error("blocked task must not be terminal")
	}
}

func TestVisualizeRendersRootsAndChildren(t *testing.T) {
	tm := NewTaskManager()
	root := NewTask("root", "the root")
	child := NewTask("child", "the child")
	child.Dependencies = []string{"root"}
	if err := tm.AddTask(root); err != nil {
		t.Fatal(err)
	}
	if err := tm.AddTask(child); err != nil {
		t.Fatal(err)
	}

	viz := tm.Visualize()
	if !strings.Contains(viz, "[root]") || !strings.Contains(viz, "  - [child]") {
		t.Errorf("unexpected visualization:\n%s", viz)
	}
}

func TestParseTaskStatus(t *testing.T) {
	if s, err := ParseTaskStatus(" Completed "); err != nil || s != TaskCompleted {
		t.Errorf("ParseTaskStatus trimmed/cased = %v, %v", s, err)
	}
	if _, err := ParseTaskStatus("finished"); err == nil {
		t.Error("unknown status accepted")
	}
}
