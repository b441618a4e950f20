// Package coordinator buckets flat task lists into dependency-respecting
// parallel waves, shares partial discoveries between agents, and offers a
// graph-backed path with the same result shape.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avandras/agentcore/internal/dag"
	"github.com/avandras/agentcore/internal/logging"
	"github.com/avandras/agentcore/internal/scheduler"
	"github.com/avandras/agentcore/pkg/models"
)

// DefaultMaxParallelTasks caps one wave when unconfigured.
const DefaultMaxParallelTasks = 4

// rolePriority orders aggregated results deterministically. Lower runs
// earlier in the output.
var rolePriority = map[models.Role]int{
	models.RoleArchitect:  0,
	models.RoleCoder:      1,
	models.RoleReviewer:   2,
	models.RoleTester:     3,
	models.RoleResearcher: 4,
	models.RoleDocs:       5,
	models.RoleGeneral:    6,
}

// Coordinator runs flat task lists in parallel waves.
type Coordinator struct {
	runner   scheduler.Runner
	logger   *logging.DebugLogger
	parallel int
	shared   *SharedContext

	mu        sync.Mutex
	runs      int
	tasksDone int
	failures  int
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the debug logger.
func WithLogger(l *logging.DebugLogger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMaxParallelTasks overrides the per-wave cap.
func WithMaxParallelTasks(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.parallel = n
		}
	}
}

// New creates a Coordinator. The runner is required.
func New(runner scheduler.Runner, opts ...Option) (*Coordinator, error) {
	if runner == nil {
		return nil, fmt.Errorf("coordinator: runner is required")
	}

	c := &Coordinator{
		runner:   runner,
		logger:   logging.NopLogger(),
		parallel: DefaultMaxParallelTasks,
		shared:   NewSharedContext(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SharedContext exposes the accumulating cross-agent context.
func (c *Coordinator) SharedContext() *SharedContext {
	return c.shared
}

// validateTasks rejects structurally broken input before anything runs.
// These are caller bugs, not runtime failures.
func validateTasks(tasks []models.AgentTask) error {
	if len(tasks) == 0 {
		return fmt.Errorf("coordinator: no tasks given")
	}
	seen := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if task.ID == "" {
			return fmt.Errorf("coordinator: task ID must not be empty")
		}
		if seen[task.ID] {
			return fmt.Errorf("coordinator: duplicate task ID %q", task.ID)
		}
		seen[task.ID] = true
		if !task.Role.Valid() {
			return fmt.Errorf("coordinator: task %q has unknown role %q", task.ID, task.Role)
		}
	}
	return nil
}

// ExecuteParallel buckets tasks into sequential waves. A task becomes
// eligible once every dependency is in the completed set; within a wave,
// tasks sort by priority and the wave is capped. An unsatisfiable
// remainder (cyclic or depending on failures' descendants) is dumped into
// one final wave with a prominent warning rather than failing the run.
func (c *Coordinator) ExecuteParallel(ctx context.Context, tasks []models.AgentTask) (*models.ParallelExecutionResult, error) {
	if c == nil || c.runner == nil {
		return nil, fmt.Errorf("coordinator: not initialized")
	}
	if err := validateTasks(tasks); err != nil {
		return nil, err
	}

	start := time.Now()
	c.shared.Reset()

	completed := make(map[string]bool, len(tasks))
	remaining := append([]models.AgentTask{}, tasks...)

	var all []models.TaskResult
	maxBatch := 0

	for len(remaining) > 0 {
		wave, rest := c.nextWave(remaining, completed)

		if len(wave) == 0 {
			// Nothing is eligible but tasks remain: unsatisfiable
			// dependencies. Run them anyway as one best-effort final wave.
			c.logger.Log("[coordinator] WARNING: %d tasks have unsatisfiable dependencies "+
				"(cycle or missing IDs); running them as one final best-effort wave: %v",
				len(remaining), taskIDs(remaining))
			wave, rest = remaining, nil
		}

		sort.SliceStable(wave, func(i, j int) bool {
			return wave[i].Priority > wave[j].Priority
		})
		if len(wave) > c.parallel {
			rest = append(wave[c.parallel:], rest...)
			wave = wave[:c.parallel]
		}
		if len(wave) > maxBatch {
			maxBatch = len(wave)
		}

		results := c.runWave(ctx, wave)
		for _, res := range results {
			if res.Success {
				completed[res.TaskID] = true
				if !res.CacheHit {
					c.shared.MineOutput(res.TaskID, res.Output)
				}
			} else {
				c.shared.AddError(fmt.Sprintf("%s: %s", res.TaskID, res.Error))
			}
		}
		all = append(all, results...)
		remaining = rest
	}

	c.recordRun(all)
	return c.aggregate(all, time.Since(start), maxBatch), nil
}

// nextWave partitions remaining into eligible tasks and the rest.
func (c *Coordinator) nextWave(remaining []models.AgentTask, completed map[string]bool) (wave, rest []models.AgentTask) {
	for _, task := range remaining {
		eligible := true
		for _, depID := range task.DependsOn {
			if !completed[depID] {
				eligible = false
				break
			}
		}
		if eligible {
			wave = append(wave, task)
		} else {
			rest = append(rest, task)
		}
	}
	return wave, rest
}

// runWave dispatches one wave concurrently and returns results in wave
// order. Later tasks see earlier waves' shared findings, including
// failure reports, appended to their prompts.
func (c *Coordinator) runWave(ctx context.Context, wave []models.AgentTask) []models.TaskResult {
	sharedBlock := c.shared.Render()

	results := make([]models.TaskResult, len(wave))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)

	for i, task := range wave {
		i, task := i, task
		if sharedBlock != "" {
			task.Prompt += sharedBlock
		}
		g.Go(func() error {
			results[i] = c.runner.Dispatch(gctx, task, "")
			return nil
		})
	}
	// Dispatch never returns an error; failures settle into results.
	_ = g.Wait()

	return results
}

// ExecuteWithDAG builds a task graph from the same flat list and delegates
// to the graph scheduler, reshaping its result into the coordinator's
// shape. Unlike ExecuteParallel, a cyclic input is a hard error here.
func (c *Coordinator) ExecuteWithDAG(ctx context.Context, tasks []models.AgentTask, strategy scheduler.FailureStrategy) (*models.ParallelExecutionResult, error) {
	if c == nil || c.runner == nil {
		return nil, fmt.Errorf("coordinator: not initialized")
	}
	if err := validateTasks(tasks); err != nil {
		return nil, err
	}

	graph, err := dag.FromTasks(tasks)
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(c.runner, scheduler.Config{
		MaxParallelism:  c.parallel,
		FailureStrategy: strategy,
		Logger:          c.logger,
	})
	if err != nil {
		return nil, err
	}

	res, err := sched.Execute(ctx, graph)
	if err != nil {
		return nil, err
	}

	results := res.DAG.Results()
	c.recordRun(results)
	return c.aggregate(results, res.TotalDuration, res.MaxParallelism), nil
}

// aggregate orders results success-first, then by the fixed role-priority
// table, then by task ID, and derives the run-level summary.
func (c *Coordinator) aggregate(results []models.TaskResult, elapsed time.Duration, parallelism int) *models.ParallelExecutionResult {
	ordered := append([]models.TaskResult{}, results...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Success != ordered[j].Success {
			return ordered[i].Success
		}
		pi, pj := rolePriority[ordered[i].Role], rolePriority[ordered[j].Role]
		if pi != pj {
			return pi < pj
		}
		return ordered[i].TaskID < ordered[j].TaskID
	})

	out := &models.ParallelExecutionResult{
		Success:       true,
		Results:       ordered,
		TotalDuration: elapsed,
		Parallelism:   parallelism,
	}
	for _, res := range ordered {
		if !res.Success {
			out.Success = false
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", res.TaskID, res.Error))
		}
	}
	return out
}

func (c *Coordinator) recordRun(results []models.TaskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	for _, res := range results {
		c.tasksDone++
		if !res.Success {
			c.failures++
		}
	}
}

// Statistics summarizes coordinator activity.
type Statistics struct {
	// Runs is the number of completed coordinator runs.
	Runs int
	// TasksExecuted is the total tasks settled across runs.
	TasksExecuted int
	// Failures is the total failed tasks across runs.
	Failures int
}

// GetStatistics returns run counters accumulated since creation.
func (c *Coordinator) GetStatistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Statistics{Runs: c.runs, TasksExecuted: c.tasksDone, Failures: c.failures}
}

func taskIDs(tasks []models.AgentTask) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.ID
	}
	return out
}
