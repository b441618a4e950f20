// Package dag maintains the dependency graph of agent tasks: validation,
// topological ordering, readiness promotion, and failure propagation.
package dag

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/avandras/agentcore/pkg/models"
)

// NodeStatus is the lifecycle state of one task node.
type NodeStatus string

const (
	// StatusPending means dependencies are not yet satisfied.
	StatusPending NodeStatus = "pending"
	// StatusReady means all dependencies completed; eligible to launch.
	StatusReady NodeStatus = "ready"
	// StatusRunning means the task has been launched.
	StatusRunning NodeStatus = "running"
	// StatusCompleted means the task finished successfully.
	StatusCompleted NodeStatus = "completed"
	// StatusFailed means the task finished unsuccessfully.
	StatusFailed NodeStatus = "failed"
	// StatusSkipped means a dependency failed, so the task never ran.
	StatusSkipped NodeStatus = "skipped"
	// StatusCancelled means the run stopped before the task could launch.
	StatusCancelled NodeStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s NodeStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReady, StatusRunning, StatusCompleted,
		StatusFailed, StatusSkipped, StatusCancelled:
		return true
	default:
		return false
	}
}

// settled reports whether the status is terminal.
func (s NodeStatus) settled() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	default:
		return false
	}
}

// Node is one task in the graph. Nodes live in the TaskDAG's arena and are
// addressed by task ID; callers receive snapshots.
type Node struct {
	// Task is the immutable task definition.
	Task models.AgentTask
	// Status is the node's lifecycle state.
	Status NodeStatus
	// Result is set once the node settles through a dispatch.
	Result *models.TaskResult
	// index preserves insertion order for deterministic tie-breaking.
	index int
}

// ValidationResult reports the outcome of structural validation.
type ValidationResult struct {
	// Valid is true when the graph has no structural errors.
	Valid bool
	// Errors lists every structural problem found.
	Errors []string
	// CyclePath names the tasks on the first detected cycle, in walk order
	// with the starting task repeated at the end. Empty when acyclic.
	CyclePath []string
}

// TaskDAG is a mutable dependency graph of agent tasks. All methods are
// safe for concurrent use.
type TaskDAG struct {
	mu sync.RWMutex
	// nodes is the arena, keyed by task ID.
	nodes map[string]*Node
	// dependents maps a task ID to the IDs that depend on it.
	dependents map[string][]string
	// order holds task IDs in insertion order.
	order []string
}

// New creates an empty TaskDAG.
func New() *TaskDAG {
	return &TaskDAG{
		nodes:      make(map[string]*Node),
		dependents: make(map[string][]string),
	}
}

// FromTasks builds a graph from a task list. Fails on the first
// structurally invalid task.
func FromTasks(tasks []models.AgentTask) (*TaskDAG, error) {
	d := New()
	for _, task := range tasks {
		if err := d.AddTask(task); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AddTask inserts a task as a pending node. The ID must be non-empty and
// unique; the role must be known.
func (d *TaskDAG) AddTask(task models.AgentTask) error {
	if task.ID == "" {
		return fmt.Errorf("dag: task ID must not be empty")
	}
	if !task.Role.Valid() {
		return fmt.Errorf("dag: task %q has unknown role %q", task.ID, task.Role)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.nodes[task.ID]; exists {
		return fmt.Errorf("dag: duplicate task ID %q", task.ID)
	}

	d.nodes[task.ID] = &Node{
		Task:   task,
		Status: StatusPending,
		index:  len(d.order),
	}
	d.order = append(d.order, task.ID)
	for _, depID := range task.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], task.ID)
	}

	return nil
}

// Len returns the number of nodes.
func (d *TaskDAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// Validate checks the graph's structure: every dependency must name an
// existing task, no task may depend on itself, and the graph must be
// acyclic. All problems are collected; the first cycle found is reported
// as a path.
func (d *TaskDAG) Validate() ValidationResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := ValidationResult{Valid: true}

	for _, id := range d.order {
		for _, depID := range d.nodes[id].Task.DependsOn {
			if depID == id {
				result.Errors = append(result.Errors,
					fmt.Sprintf("task %q depends on itself", id))
				continue
			}
			if _, ok := d.nodes[depID]; !ok {
				result.Errors = append(result.Errors,
					fmt.Sprintf("task %q depends on unknown task %q", id, depID))
			}
		}
	}

	if path := d.findCycleLocked(); len(path) > 0 {
		result.CyclePath = path
		result.Errors = append(result.Errors,
			fmt.Sprintf("dependency cycle: %v", path))
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// findCycleLocked runs a colored DFS over the dependency edges and returns
// the first cycle as a task-ID path, or nil. Caller must hold d.mu.
func (d *TaskDAG) findCycleLocked() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // fully explored
	)
	colors := make(map[string]int, len(d.nodes))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = gray
		stack = append(stack, id)

		for _, depID := range d.nodes[id].Task.DependsOn {
			if _, ok := d.nodes[depID]; !ok {
				continue
			}
			switch colors[depID] {
			case gray:
				// Close the loop from the first stack occurrence of depID.
				for i, sid := range stack {
					if sid == depID {
						path := append([]string{}, stack[i:]...)
						return append(path, depID)
					}
				}
			case white:
				if path := visit(depID); path != nil {
					return path
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range d.order {
		if colors[id] == white {
			if path := visit(id); path != nil {
				return path
			}
		}
	}
	return nil
}

// ExecutionOrder returns a topological ordering of the task IDs, or an
// error when the graph contains a cycle or an unknown dependency.
func (d *TaskDAG) ExecutionOrder() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, id := range d.order {
		for _, depID := range d.nodes[id].Task.DependsOn {
			if _, ok := d.nodes[depID]; !ok {
				return nil, fmt.Errorf("dag: task %q depends on unknown task %q", id, depID)
			}
		}
	}

	var edges []toposort.Edge
	for _, id := range d.order {
		node := d.nodes[id]
		if len(node.Task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range node.Task.DependsOn {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dag: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, v := range sorted {
		order = append(order, v.(string))
	}
	return order, nil
}

// PromoteReady flips pending nodes whose dependencies have all completed
// to ready, and returns how many were promoted.
func (d *TaskDAG) PromoteReady() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	promoted := 0
	for _, id := range d.order {
		node := d.nodes[id]
		if node.Status != StatusPending {
			continue
		}
		if d.depsCompletedLocked(node) {
			node.Status = StatusReady
			promoted++
		}
	}
	return promoted
}

func (d *TaskDAG) depsCompletedLocked(node *Node) bool {
	for _, depID := range node.Task.DependsOn {
		dep, ok := d.nodes[depID]
		if !ok || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// TakeReady atomically claims up to max ready nodes, marks them running,
// and returns their tasks. Selection is by descending priority, then
// insertion order. max <= 0 means no limit.
func (d *TaskDAG) TakeReady(max int) []models.AgentTask {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ready []*Node
	for _, id := range d.order {
		if node := d.nodes[id]; node.Status == StatusReady {
			ready = append(ready, node)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Task.Priority != ready[j].Task.Priority {
			return ready[i].Task.Priority > ready[j].Task.Priority
		}
		return ready[i].index < ready[j].index
	})

	if max > 0 && len(ready) > max {
		ready = ready[:max]
	}

	tasks := make([]models.AgentTask, 0, len(ready))
	for _, node := range ready {
		node.Status = StatusRunning
		tasks = append(tasks, node.Task)
	}
	return tasks
}

// MarkCompleted settles a running node as completed with its result.
func (d *TaskDAG) MarkCompleted(id string, result models.TaskResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if node, ok := d.nodes[id]; ok {
		node.Status = StatusCompleted
		node.Result = &result
	}
}

// MarkFailed settles a node as failed and transitively skips every
// dependent that can no longer run. It returns the skipped task IDs.
func (d *TaskDAG) MarkFailed(id string, result models.TaskResult) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, ok := d.nodes[id]
	if !ok {
		return nil
	}
	node.Status = StatusFailed
	node.Result = &result

	return d.skipDependentsLocked(id)
}

// skipDependentsLocked marks every transitive dependent of id that has not
// started yet as skipped. Caller must hold d.mu.
func (d *TaskDAG) skipDependentsLocked(id string) []string {
	var skipped []string
	queue := append([]string{}, d.dependents[id]...)

	for len(queue) > 0 {
		depID := queue[0]
		queue = queue[1:]

		node, ok := d.nodes[depID]
		if !ok || node.Status.settled() || node.Status == StatusRunning {
			continue
		}
		node.Status = StatusSkipped
		skipped = append(skipped, depID)
		queue = append(queue, d.dependents[depID]...)
	}
	return skipped
}

// MarkCancelled cancels every node that has not started, used when a run
// stops early. Returns the cancelled task IDs.
func (d *TaskDAG) MarkCancelled() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var cancelled []string
	for _, id := range d.order {
		node := d.nodes[id]
		if node.Status == StatusPending || node.Status == StatusReady {
			node.Status = StatusCancelled
			cancelled = append(cancelled, id)
		}
	}
	return cancelled
}

// Status returns one node's status.
func (d *TaskDAG) Status(id string) (NodeStatus, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node, ok := d.nodes[id]
	if !ok {
		return "", false
	}
	return node.Status, true
}

// Settled reports whether no node can still run or become runnable.
func (d *TaskDAG) Settled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, node := range d.nodes {
		if !node.Status.settled() {
			return false
		}
	}
	return true
}

// StatusCounts returns the node count per status.
func (d *TaskDAG) StatusCounts() map[NodeStatus]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[NodeStatus]int)
	for _, node := range d.nodes {
		counts[node.Status]++
	}
	return counts
}

// Results returns the settled results in insertion order. Nodes that never
// produced a result (skipped, cancelled) are synthesized as failures with
// a status-describing error.
func (d *TaskDAG) Results() []models.TaskResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	results := make([]models.TaskResult, 0, len(d.order))
	for _, id := range d.order {
		node := d.nodes[id]
		if node.Result != nil {
			results = append(results, *node.Result)
			continue
		}
		if node.Status == StatusSkipped || node.Status == StatusCancelled {
			results = append(results, models.TaskResult{
				TaskID:  id,
				Role:    node.Task.Role,
				Success: false,
				Error:   fmt.Sprintf("task %s: %s", id, node.Status),
			})
		}
	}
	return results
}
