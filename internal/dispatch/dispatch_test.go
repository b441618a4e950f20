package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/avandras/agentcore/internal/agent"
	"github.com/avandras/agentcore/internal/budget"
	"github.com/avandras/agentcore/internal/dedup"
	"github.com/avandras/agentcore/internal/pipeline"
	"github.com/avandras/agentcore/internal/shutdown"
	"github.com/avandras/agentcore/pkg/models"
)

// fakeExecutor settles with a canned outcome, optionally after a delay.
type fakeExecutor struct {
	result *agent.Result
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.Request, env agent.Env) (*agent.Result, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newDispatcher(t *testing.T, exec agent.Executor, opts ...Option) (*Dispatcher, *dedup.Cache) {
	t.Helper()

	pipe, err := pipeline.New(
		pipeline.NewPresetResolver(nil),
		budget.NewLedger(0),
	)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	cache := dedup.NewCache()
	protocol := shutdown.NewProtocol(shutdown.WithGracePeriod(50 * time.Millisecond))

	d, err := New(exec, pipe, cache, protocol, opts...)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	return d, cache
}

func task(id string, prompt string) models.AgentTask {
	return models.AgentTask{ID: id, Role: models.RoleCoder, Prompt: prompt}
}

func TestDispatchSuccess(t *testing.T) {
	exec := &fakeExecutor{result: &agent.Result{
		Success:    true,
		Output:     "done",
		ToolsUsed:  []string{"Read"},
		Iterations: 2,
		Usage:      models.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}}
	d, _ := newDispatcher(t, exec)

	res := d.Dispatch(context.Background(), task("t1", "implement the parser"), "")

	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Output != "done" || res.Iterations != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.AgentID == "" {
		t.Error("expected a pipeline-assigned agent ID")
	}
	if res.Cost <= 0 {
		t.Errorf("expected positive cost from token usage, got %v", res.Cost)
	}
	if res.CacheHit {
		t.Error("first dispatch must not be a cache hit")
	}
}

func TestDispatchCacheHit(t *testing.T) {
	exec := &fakeExecutor{result: &agent.Result{Success: true, Output: "answer"}}
	d, _ := newDispatcher(t, exec)

	first := d.Dispatch(context.Background(), task("t1", "same prompt"), "")
	second := d.Dispatch(context.Background(), task("t2", "same prompt"), "")

	if !first.Success || !second.Success {
		t.Fatalf("both dispatches should succeed: %+v / %+v", first, second)
	}
	if !second.CacheHit {
		t.Error("second identical dispatch should hit the cache")
	}
	if second.Output != "answer" {
		t.Errorf("cached output mismatch: %q", second.Output)
	}
	if exec.calls != 1 {
		t.Errorf("executor should run once, ran %d times", exec.calls)
	}
}

func TestDispatchInFlightDuplicate(t *testing.T) {
	exec := &fakeExecutor{result: &agent.Result{Success: true, Output: "x"}}
	d, cache := newDispatcher(t, exec)

	// Simulate a concurrent dispatch holding the running placeholder.
	cache.RegisterTask("coder", "busy prompt")

	res := d.Dispatch(context.Background(), task("t1", "busy prompt"), "")
	if res.Success {
		t.Fatal("in-flight duplicate must settle as failure")
	}
	if !strings.Contains(res.Error, "in flight") {
		t.Errorf("expected in-flight error, got %q", res.Error)
	}
	if exec.calls != 0 {
		t.Error("executor must not run for an in-flight duplicate")
	}
}

func TestDispatchExecutorErrorAllowsRetry(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("api unreachable")}
	d, _ := newDispatcher(t, exec)

	res := d.Dispatch(context.Background(), task("t1", "flaky prompt"), "")
	if res.Success {
		t.Fatal("expected failure")
	}

	// The failed entry must not block a retry.
	exec.err = nil
	exec.result = &agent.Result{Success: true, Output: "recovered"}
	retry := d.Dispatch(context.Background(), task("t1", "flaky prompt"), "")
	if !retry.Success || retry.CacheHit {
		t.Errorf("retry should re-execute, got %+v", retry)
	}
	if exec.calls != 2 {
		t.Errorf("expected 2 executor runs, got %d", exec.calls)
	}
}

func TestDispatchAgentFailureCarriesOutput(t *testing.T) {
	exec := &fakeExecutor{result: &agent.Result{
		Success:    false,
		Output:     "partial progress",
		Error:      "max iterations (3) reached",
		Iterations: 3,
	}}
	d, _ := newDispatcher(t, exec)

	res := d.Dispatch(context.Background(), task("t1", "hard prompt"), "")
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Output != "partial progress" || res.Iterations != 3 {
		t.Errorf("partial output must survive failure: %+v", res)
	}
}

func TestDispatchTimeout(t *testing.T) {
	exec := &fakeExecutor{
		delay:  time.Second,
		result: &agent.Result{Success: true},
	}
	d, _ := newDispatcher(t, exec)

	tk := task("t1", "slow prompt")
	tk.Timeout = 30 * time.Millisecond

	start := time.Now()
	res := d.Dispatch(context.Background(), tk, "")

	if res.Success {
		t.Fatal("timed-out dispatch must fail")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("expected timeout error, got %q", res.Error)
	}
	if time.Since(start) >= time.Second {
		t.Error("dispatch must not wait for the slow executor to finish")
	}
}

func TestDispatchBudgetDenied(t *testing.T) {
	exec := &fakeExecutor{result: &agent.Result{Success: true}}

	// Exhaust the global ledger before dispatching.
	ledger := budget.NewLedger(1.0)
	ledger.RecordUsage(1.0)

	pipe, err := pipeline.New(pipeline.NewPresetResolver(nil), ledger)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	d, err := New(exec, pipe, dedup.NewCache(), shutdown.NewProtocol())
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}

	res := d.Dispatch(context.Background(), task("t1", "anything"), "")
	if res.Success {
		t.Fatal("exhausted global budget must deny the dispatch")
	}
	if exec.calls != 0 {
		t.Error("executor must not run when the budget gate denies")
	}
}

func TestDispatchUnknownPresetFails(t *testing.T) {
	exec := &fakeExecutor{result: &agent.Result{Success: true}}
	d, _ := newDispatcher(t, exec)

	tk := task("t1", "prompt")
	tk.Preset = "yolo"

	res := d.Dispatch(context.Background(), tk, "")
	if res.Success {
		t.Fatal("unknown preset must fail the dispatch")
	}
	if !strings.Contains(res.Error, "context creation failed") {
		t.Errorf("expected context creation error, got %q", res.Error)
	}
}
