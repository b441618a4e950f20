// Package scheduler drives a task graph to completion under a parallelism
// cap and a failure policy.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avandras/agentcore/internal/dag"
	"github.com/avandras/agentcore/internal/logging"
	"github.com/avandras/agentcore/pkg/models"
)

// FailureStrategy controls what happens after a task fails.
type FailureStrategy string

const (
	// FailFast stops launching new tasks after the first failure.
	// Already-running tasks finish.
	FailFast FailureStrategy = "fail-fast"
	// Continue only skips dependents of the specific failed task.
	Continue FailureStrategy = "continue"
)

// Valid returns true if the strategy is a known value.
func (s FailureStrategy) Valid() bool {
	return s == FailFast || s == Continue
}

// DefaultMaxParallelism bounds concurrent dispatches when unconfigured.
const DefaultMaxParallelism = 4

// Runner dispatches one task to a settled result. The dispatcher
// implements this.
type Runner interface {
	Dispatch(ctx context.Context, task models.AgentTask, parentID string) models.TaskResult
}

// Config holds the scheduler knobs.
type Config struct {
	// MaxParallelism caps concurrently running tasks. Zero means default.
	MaxParallelism int
	// FailureStrategy selects fail-fast or continue. Empty means continue.
	FailureStrategy FailureStrategy
	// Logger receives debug output. Nil means none.
	Logger *logging.DebugLogger
}

// Result is the outcome of one scheduler run.
type Result struct {
	// Success is true only when every task completed.
	Success bool
	// DAG is the settled graph; read-only after Execute returns.
	DAG *dag.TaskDAG
	// TotalDuration is the wall-clock time of the run.
	TotalDuration time.Duration
	// MaxParallelism is the largest batch of tasks launched together,
	// not the configured cap.
	MaxParallelism int
}

// Scheduler executes task graphs through a Runner.
type Scheduler struct {
	runner   Runner
	config   Config
	logger   *logging.DebugLogger
	parallel int
}

// New creates a Scheduler. The runner is required.
func New(runner Runner, config Config) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler: runner is required")
	}
	if config.FailureStrategy == "" {
		config.FailureStrategy = Continue
	}
	if !config.FailureStrategy.Valid() {
		return nil, fmt.Errorf("scheduler: unknown failure strategy %q", config.FailureStrategy)
	}

	parallel := config.MaxParallelism
	if parallel <= 0 {
		parallel = DefaultMaxParallelism
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	return &Scheduler{
		runner:   runner,
		config:   config,
		logger:   logger,
		parallel: parallel,
	}, nil
}

// settlement carries one finished dispatch back to the scheduling loop.
type settlement struct {
	taskID string
	result models.TaskResult
}

// Execute drives the graph until nothing is ready or running. The graph
// must validate; a structural error is fatal and returns before any task
// launches. Dependents of failed tasks are skipped; under fail-fast, the
// first failure also stops new launches and cancels unstarted tasks once
// in-flight work drains.
func (s *Scheduler) Execute(ctx context.Context, graph *dag.TaskDAG) (*Result, error) {
	if graph == nil || graph.Len() == 0 {
		return nil, fmt.Errorf("scheduler: graph is empty")
	}
	if v := graph.Validate(); !v.Valid {
		return nil, fmt.Errorf("scheduler: invalid graph: %s", strings.Join(v.Errors, "; "))
	}

	start := time.Now()
	settled := make(chan settlement)

	running := 0
	maxBatch := 0
	halted := false

	for {
		if !halted {
			graph.PromoteReady()
			batch := graph.TakeReady(s.parallel - running)
			if len(batch) > maxBatch {
				maxBatch = len(batch)
			}
			for _, task := range batch {
				running++
				s.logger.Log("[scheduler] launching task %s (role=%s, running=%d)",
					task.ID, task.Role, running)
				go func(task models.AgentTask) {
					settled <- settlement{
						taskID: task.ID,
						result: s.runner.Dispatch(ctx, task, ""),
					}
				}(task)
			}
		}

		if running == 0 {
			break
		}

		st := <-settled
		running--

		if st.result.Success {
			graph.MarkCompleted(st.taskID, st.result)
			continue
		}

		skipped := graph.MarkFailed(st.taskID, st.result)
		s.logger.Log("[scheduler] task %s failed: %s (skipped dependents: %v)",
			st.taskID, st.result.Error, skipped)

		if s.config.FailureStrategy == FailFast && !halted {
			halted = true
			s.logger.Log("[scheduler] fail-fast: no new tasks will launch")
		}
	}

	if halted {
		if cancelled := graph.MarkCancelled(); len(cancelled) > 0 {
			s.logger.Log("[scheduler] cancelled unstarted tasks: %v", cancelled)
		}
	}

	counts := graph.StatusCounts()
	success := counts[dag.StatusCompleted] == graph.Len()

	return &Result{
		Success:        success,
		DAG:            graph,
		TotalDuration:  time.Since(start),
		MaxParallelism: maxBatch,
	}, nil
}
