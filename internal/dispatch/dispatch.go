// Package dispatch runs single agent invocations under governance: every
// dispatch passes through the deduplication cache, the permission/budget
// pipeline, and the shutdown protocol on timeout.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/avandras/agentcore/internal/agent"
	"github.com/avandras/agentcore/internal/dedup"
	"github.com/avandras/agentcore/internal/logging"
	"github.com/avandras/agentcore/internal/pipeline"
	"github.com/avandras/agentcore/internal/shutdown"
	"github.com/avandras/agentcore/pkg/models"
)

// DefaultTimeout bounds a dispatch when neither the task nor the
// dispatcher configures one.
const DefaultTimeout = 10 * time.Minute

// Dispatcher executes one task at a time through the governed path. It is
// safe for concurrent use; the scheduler calls Dispatch from many
// goroutines.
type Dispatcher struct {
	executor agent.Executor
	pipeline *pipeline.Pipeline
	cache    *dedup.Cache
	protocol *shutdown.Protocol
	logger   *logging.DebugLogger

	workingDir        string
	defaultTimeout    time.Duration
	defaultPreset     pipeline.Preset
	defaultIterations int
	// flush persists partial findings when a timed-out invocation is
	// being shut down. May be nil.
	flush shutdown.FlushFunc
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the debug logger.
func WithLogger(l *logging.DebugLogger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithWorkingDir sets the directory agents operate in.
func WithWorkingDir(dir string) Option {
	return func(d *Dispatcher) { d.workingDir = dir }
}

// WithDefaultTimeout overrides the per-dispatch timeout fallback.
func WithDefaultTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.defaultTimeout = t
		}
	}
}

// WithDefaultPreset sets the permission preset used when a task names none.
func WithDefaultPreset(p pipeline.Preset) Option {
	return func(d *Dispatcher) { d.defaultPreset = p }
}

// WithDefaultMaxIterations sets the tool-use loop cap for tasks that
// specify none.
func WithDefaultMaxIterations(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.defaultIterations = n
		}
	}
}

// WithFlush sets the partial-findings flush hook used on forced shutdowns.
func WithFlush(f shutdown.FlushFunc) Option {
	return func(d *Dispatcher) { d.flush = f }
}

// New creates a Dispatcher. The executor, pipeline, cache, and protocol
// are all required.
func New(exec agent.Executor, pipe *pipeline.Pipeline, cache *dedup.Cache, protocol *shutdown.Protocol, opts ...Option) (*Dispatcher, error) {
	if exec == nil {
		return nil, fmt.Errorf("dispatch: executor is required")
	}
	if pipe == nil {
		return nil, fmt.Errorf("dispatch: pipeline is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("dispatch: dedup cache is required")
	}
	if protocol == nil {
		return nil, fmt.Errorf("dispatch: shutdown protocol is required")
	}

	d := &Dispatcher{
		executor:       exec,
		pipeline:       pipe,
		cache:          cache,
		protocol:       protocol,
		logger:         logging.NopLogger(),
		defaultTimeout: DefaultTimeout,
		defaultPreset:  pipeline.PresetStandard,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch runs one task to a settled TaskResult. Governance denials and
// execution failures come back as failed results, never as panics; the
// returned result always carries the task ID and role.
func (d *Dispatcher) Dispatch(ctx context.Context, task models.AgentTask, parentID string) models.TaskResult {
	start := time.Now()
	workerType := string(task.Role)

	// Duplicate probe and running-placeholder registration happen in one
	// step, so concurrent identical dispatches cannot both pass.
	check := d.cache.CheckAndRegister(workerType, task.Prompt)
	if check.Duplicate {
		if check.InFlight {
			return d.failed(task, "", start, "duplicate task already in flight")
		}
		d.logger.Log("[dispatch] task %s served from cache", task.ID)
		return models.TaskResult{
			TaskID:   task.ID,
			Role:     task.Role,
			Success:  true,
			Output:   check.CachedResult,
			CacheHit: true,
			Duration: time.Since(start),
		}
	}
	hash := check.Hash

	preset := pipeline.Preset(task.Preset)
	if preset == "" {
		preset = d.defaultPreset
	}

	execCtx, err := d.pipeline.CreateContext(pipeline.ContextSpec{
		Name:         fmt.Sprintf("%s-%s", task.Role, task.ID),
		Preset:       preset,
		MaxBudget:    task.MaxBudget,
		AllowedTools: task.Tools,
		WorkingDir:   d.workingDir,
		ParentID:     parentID,
	})
	if err != nil {
		d.cache.FailTask(hash)
		return d.failed(task, "", start, fmt.Sprintf("context creation failed: %v", err))
	}
	agentID := execCtx.AgentID

	// Budget gate before the first model call.
	if decision := d.pipeline.CheckBudget(agentID); !decision.Allowed {
		d.cache.FailTask(hash)
		d.pipeline.CompleteContext(agentID, false, decision.Reason)
		return d.failed(task, agentID, start, decision.Reason)
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	maxIterations := task.MaxIterations
	if maxIterations <= 0 {
		maxIterations = d.defaultIterations
	}

	invCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	type outcome struct {
		result *agent.Result
		err    error
	}
	done := make(chan struct{})
	var out outcome

	go func() {
		defer close(done)
		res, execErr := d.executor.Execute(invCtx, agent.Request{
			AgentID:        agentID,
			Name:           execCtx.Name,
			Prompt:         task.Prompt,
			AvailableTools: execCtx.AllowedTools,
			MaxIterations:  maxIterations,
		}, agent.Env{
			WorkingDir: d.workingDir,
			Gate:       d.pipeline,
		})
		out = outcome{result: res, err: execErr}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		res := d.protocol.Shutdown(ctx, shutdown.Invocation{
			Cancel: cancel,
			Done:   done,
			Flush:  d.flush,
		})
		d.logger.Log("[dispatch] task %s timed out after %v (shutdown phase=%s)",
			task.ID, timeout, res.Phase)
		d.cache.FailTask(hash)
		d.pipeline.CompleteContext(agentID, false, "timeout")
		return d.failed(task, agentID, start, fmt.Sprintf("timed out after %v", timeout))
	}

	if out.err != nil {
		d.cache.FailTask(hash)
		d.pipeline.CompleteContext(agentID, false, out.err.Error())
		return d.failed(task, agentID, start, out.err.Error())
	}

	result := out.result
	for _, tool := range result.ToolsUsed {
		d.pipeline.RecordToolUse(agentID, tool)
	}
	d.pipeline.RecordUsage(agentID, result.Usage)

	if !result.Success {
		d.cache.FailTask(hash)
		cost := d.pipeline.CompleteContext(agentID, false, result.Error)
		r := d.failed(task, agentID, start, result.Error)
		r.Output = result.Output
		r.ToolsUsed = result.ToolsUsed
		r.Iterations = result.Iterations
		r.Cost = cost
		return r
	}

	d.cache.CompleteTask(hash, result.Output)
	cost := d.pipeline.CompleteContext(agentID, true, "")

	return models.TaskResult{
		TaskID:     task.ID,
		AgentID:    agentID,
		Role:       task.Role,
		Success:    true,
		Output:     result.Output,
		ToolsUsed:  result.ToolsUsed,
		Iterations: result.Iterations,
		Cost:       cost,
		Duration:   time.Since(start),
	}
}

func (d *Dispatcher) failed(task models.AgentTask, agentID string, start time.Time, errMsg string) models.TaskResult {
	return models.TaskResult{
		TaskID:   task.ID,
		AgentID:  agentID,
		Role:     task.Role,
		Success:  false,
		Error:    errMsg,
		Duration: time.Since(start),
	}
}
