package ember

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// TaskStatus is the lifecycle state of a planner task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// Terminal reports whether the status is final (completed, cancelled, or
// failed). Blocked tasks are not terminal: they may be unblocked.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled || s == TaskFailed
}

// ParseTaskStatus converts the wire form used by the planner tools.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(strings.ToLower(strings.TrimSpace(s))) {
	case TaskPending:
		return TaskPending, nil
	case TaskInProgress:
		return TaskInProgress, nil
	case TaskCompleted:
		return TaskCompleted, nil
	case TaskCancelled:
		return TaskCancelled, nil
	case TaskFailed:
		return TaskFailed, nil
	case TaskBlocked:
		return TaskBlocked, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Task is a unit of planned work in the dependency DAG.
type Task struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Status      TaskStatus `json:"status"`
	// StatusReason carries the failure or blockage reason.
	StatusReason string   `json:"status_reason,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	// Priority is clamped to [0,10]; 10 is highest.
	Priority  int    `json:"priority"`
	Result    string `json:"result,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// NewTask creates a pending task with default priority 5.
func NewTask(id, description string) Task {
	now := NowUnix()
	return Task{
		ID:          id,
		Description: description,
		Status:      TaskPending,
		Priority:    5,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TaskManager holds the task collection and enforces the DAG invariant on
// every insert. It is shared between the agent and the planner tools under
// a reader-writer discipline; locks are never held across a suspension
// point; all methods are synchronous state updates.
type TaskManager struct {
	mu    sync.RWMutex
	tasks map[string]Task
	order []string // insertion order, for deterministic listings
	plan  string
}

// NewTaskManager creates an empty manager.
func NewTaskManager() *TaskManager {
	return &TaskManager{tasks: make(map[string]Task)}
}

// Reset drops every task and the recorded plan.
func (m *TaskManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = make(map[string]Task)
	m.order = nil
	m.plan = ""
}

// SetPlan records the free-form plan text produced in the planning phase.
func (m *TaskManager) SetPlan(plan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plan = plan
}

// Plan returns the recorded plan text.
func (m *TaskManager) Plan() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plan
}

// AddTask inserts a task. If the insertion would create a dependency cycle
// the insert is rolled back and the error lists every cycle path.
func (m *TaskManager) AddTask(task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if _, exists := m.tasks[task.ID]; exists {
		return fmt.Errorf("task %q already exists", task.ID)
	}
	if task.Priority < 0 {
		task.Priority = 0
	}
	if task.Priority > 10 {
		task.Priority = 10
	}
	if task.Status == "" {
		task.Status = TaskPending
	}
	now := NowUnix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	m.tasks[task.ID] = task
	m.order = append(m.order, task.ID)

	if cycles := m.detectCycles(); len(cycles) > 0 {
		// Roll back: the manager must be unchanged after a rejected insert.
		delete(m.tasks, task.ID)
		m.order = m.order[:len(m.order)-1]
		return fmt.Errorf("adding task %q would create a dependency cycle: %s",
			task.ID, formatCycles(cycles))
	}
	return nil
}

// UpdateStatus transitions a task, recording the reason for failed or
// blocked states and the result when provided.
func (m *TaskManager) UpdateStatus(id string, status TaskStatus, reason, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	task.Status = status
	task.StatusReason = reason
	if result != "" {
		task.Result = result
	}
	task.UpdatedAt = NowUnix()
	m.tasks[id] = task
	return nil
}

// Get returns a copy of the task.
func (m *TaskManager) Get(id string) (Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Delete removes a task; reports whether it existed.
func (m *TaskManager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return false
	}
	delete(m.tasks, id)
	for i, tid := range m.order {
		if tid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns every task in insertion order.
func (m *TaskManager) All() []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tasks[id])
	}
	return out
}

// Len returns the task count.
func (m *TaskManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// ReadyTasks returns pending tasks whose dependencies are all completed,
// in insertion order.
func (m *TaskManager) ReadyTasks() []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ready []Task
	for _, id := range m.order {
		t := m.tasks[id]
		if t.Status != TaskPending {
			continue
		}
		ok := true
		for _, dep := range t.Dependencies {
			d, exists := m.tasks[dep]
			if !exists || d.Status != TaskCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

// IsAllTerminal reports whether every task has reached a terminal status.
// An empty manager is trivially terminal.
func (m *TaskManager) IsAllTerminal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Progress returns (completed, total).
func (m *TaskManager) Progress() (completed, total int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tasks {
		if t.Status == TaskCompleted {
			completed++
		}
	}
	return completed, len(m.tasks)
}

// HasCircularDependencies reports whether the dependency graph has a cycle.
func (m *TaskManager) HasCircularDependencies() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.detectCycles()) > 0
}

// DetectCycles returns every dependency cycle as a path of task ids.
func (m *TaskManager) DetectCycles() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detectCycles()
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

// detectCycles runs a three-color DFS over the dependency edges. A back
// edge to a visiting node closes a cycle; the recorded path starts at the
// first occurrence of that node. Caller holds the lock.
func (m *TaskManager) detectCycles() [][]string {
	state := make(map[string]visitState, len(m.tasks))
	var path []string
	var cycles [][]string

	var dfs func(id string)
	dfs = func(id string) {
		state[id] = visiting
		path = append(path, id)

		for _, dep := range m.tasks[id].Dependencies {
			if _, exists := m.tasks[dep]; !exists {
				continue
			}
			switch state[dep] {
			case visiting:
				for i, p := range path {
					if p == dep {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			case unvisited:
				dfs(dep)
			}
		}

		path = path[:len(path)-1]
		state[id] = visited
	}

	for _, id := range m.order {
		if state[id] == unvisited {
			dfs(id)
		}
	}
	return cycles
}

// TopologicalOrder returns a dependency-respecting execution order via
// Kahn's algorithm, breaking ties by decreasing priority (then insertion
// order). Fails if the graph has a cycle.
func (m *TaskManager) TopologicalOrder() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inDegree := make(map[string]int, len(m.tasks))
	dependents := make(map[string][]string)
	for id, t := range m.tasks {
		count := 0
		for _, dep := range t.Dependencies {
			if _, exists := m.tasks[dep]; exists {
				count++
				dependents[dep] = append(dependents[dep], id)
			}
		}
		inDegree[id] = count
	}

	// Seed with zero in-degree tasks, in insertion order for stable ties.
	var queue []string
	for _, id := range m.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	pos := make(map[string]int, len(m.order))
	for i, id := range m.order {
		pos[id] = i
	}
	sortQueue := func() {
		sort.SliceStable(queue, func(i, j int) bool {
			a, b := m.tasks[queue[i]], m.tasks[queue[j]]
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			return pos[a.ID] < pos[b.ID]
		})
	}

	var order []string
	for len(queue) > 0 {
		sortQueue()
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(m.tasks) {
		return nil, fmt.Errorf("dependency graph has a cycle: %s", formatCycles(m.detectCycles()))
	}
	return order, nil
}

// Summary renders a one-line progress report for the LLM.
func (m *TaskManager) Summary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var completed, pending, inProgress int
	for _, t := range m.tasks {
		switch t.Status {
		case TaskCompleted:
			completed++
		case TaskPending:
			pending++
		case TaskInProgress:
			inProgress++
		}
	}
	return fmt.Sprintf("progress: %d/%d completed | %d pending | %d in progress",
		completed, len(m.tasks), pending, inProgress)
}

// Visualize renders the dependency graph as an indented text tree: roots
// first, each task followed by its dependents.
func (m *TaskManager) Visualize() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dependents := make(map[string][]string)
	hasIncoming := make(map[string]bool)
	for _, id := range m.order {
		for _, dep := range m.tasks[id].Dependencies {
			if _, exists := m.tasks[dep]; exists {
				dependents[dep] = append(dependents[dep], id)
				hasIncoming[id] = true
			}
		}
	}

	var b strings.Builder
	seen := make(map[string]bool)
	var render func(id string, depth int)
	render = func(id string, depth int) {
		t := m.tasks[id]
		b.WriteString(strings.Repeat("  ", depth))
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", t.ID, t.Description, t.Status)
		if seen[id] {
			return
		}
		seen[id] = true
		for _, child := range dependents[id] {
			render(child, depth+1)
		}
	}
	for _, id := range m.order {
		if !hasIncoming[id] {
			render(id, 0)
		}
	}
	return b.String()
}

func formatCycles(cycles [][]string) string {
	parts := make([]string, len(cycles))
	for i, c := range cycles {
		closed := append(append([]string{}, c...), c[0])
		parts[i] = strings.Join(closed, " -> ")
	}
	return strings.Join(parts, "; ")
}
