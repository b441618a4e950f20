package coordinator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avandras/agentcore/internal/scheduler"
	"github.com/avandras/agentcore/pkg/models"
)

// stubRunner settles tasks with canned outputs and records what ran.
type stubRunner struct {
	mu      sync.Mutex
	order   []string
	prompts map[string]string
	outputs map[string]string
	failIDs map[string]bool
	delay   time.Duration
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		prompts: make(map[string]string),
		outputs: make(map[string]string),
		failIDs: make(map[string]bool),
	}
}

func (r *stubRunner) Dispatch(ctx context.Context, task models.AgentTask, parentID string) models.TaskResult {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.order = append(r.order, task.ID)
	r.prompts[task.ID] = task.Prompt
	output := r.outputs[task.ID]
	fail := r.failIDs[task.ID]
	r.mu.Unlock()

	if fail {
		return models.TaskResult{TaskID: task.ID, Role: task.Role, Error: "induced failure"}
	}
	return models.TaskResult{TaskID: task.ID, Role: task.Role, Success: true, Output: output}
}

func task(id string, role models.Role, deps ...string) models.AgentTask {
	return models.AgentTask{ID: id, Role: role, Prompt: "do " + id, DependsOn: deps}
}

func TestExecuteParallelWaves(t *testing.T) {
	runner := newStubRunner()
	c, err := New(runner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.ExecuteParallel(context.Background(), []models.AgentTask{
		task("plan", models.RoleArchitect),
		task("code", models.RoleCoder, "plan"),
		task("test", models.RoleTester, "code"),
	})
	if err != nil {
		t.Fatalf("ExecuteParallel: %v", err)
	}
	if !res.Success || len(res.Results) != 3 {
		t.Fatalf("expected 3 successful results, got %+v", res)
	}

	// Waves: [plan] -> [code] -> [test].
	want := []string{"plan", "code", "test"}
	for i, id := range want {
		if runner.order[i] != id {
			t.Fatalf("expected run order %v, got %v", want, runner.order)
		}
	}
}

func TestExecuteParallelValidation(t *testing.T) {
	runner := newStubRunner()
	c, _ := New(runner)

	cases := []struct {
		name  string
		tasks []models.AgentTask
	}{
		{"empty list", nil},
		{"empty ID", []models.AgentTask{task("", models.RoleCoder)}},
		{"unknown role", []models.AgentTask{{ID: "a", Role: "wizard"}}},
		{"duplicate ID", []models.AgentTask{task("a", models.RoleCoder), task("a", models.RoleCoder)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.ExecuteParallel(context.Background(), tc.tasks); err == nil {
				t.Error("expected a configuration error")
			}
		})
	}
}

func TestExecuteParallelUnsatisfiableRemainderStillRuns(t *testing.T) {
	runner := newStubRunner()
	c, _ := New(runner)

	// a and b form a cycle; both still run in the best-effort final wave.
	res, err := c.ExecuteParallel(context.Background(), []models.AgentTask{
		task("a", models.RoleCoder, "b"),
		task("b", models.RoleCoder, "a"),
	})
	if err != nil {
		t.Fatalf("ExecuteParallel: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("cyclic remainder must still execute, got %d results", len(res.Results))
	}
	if !res.Success {
		t.Errorf("best-effort wave succeeded, result should too: %+v", res)
	}
}

func TestExecuteParallelSharesFindings(t *testing.T) {
	runner := newStubRunner()
	runner.outputs["scout"] = "Found a race condition in internal/cache/store.go."

	c, _ := New(runner)
	res, err := c.ExecuteParallel(context.Background(), []models.AgentTask{
		task("scout", models.RoleResearcher),
		task("fix", models.RoleCoder, "scout"),
	})
	if err != nil {
		t.Fatalf("ExecuteParallel: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}

	prompt := runner.prompts["fix"]
	if !strings.Contains(prompt, "internal/cache/store.go") {
		t.Errorf("later task must see mined file paths, prompt: %q", prompt)
	}
	if !strings.Contains(prompt, "Found a race condition") {
		t.Errorf("later task must see mined findings, prompt: %q", prompt)
	}
	if strings.Contains(runner.prompts["scout"], "Shared context") {
		t.Error("first wave must run with the original prompt")
	}
}

func TestExecuteParallelSharesFailures(t *testing.T) {
	runner := newStubRunner()
	runner.failIDs["bad"] = true

	// Wave one has only a failure to share; wave two must still see it.
	c, _ := New(runner)
	_, err := c.ExecuteParallel(context.Background(), []models.AgentTask{
		task("bad", models.RoleCoder),
		task("good", models.RoleCoder),
		task("after", models.RoleTester, "good"),
	})
	if err != nil {
		t.Fatalf("ExecuteParallel: %v", err)
	}

	prompt := runner.prompts["after"]
	if !strings.Contains(prompt, "Issues encountered") || !strings.Contains(prompt, "induced failure") {
		t.Errorf("later task must see earlier failures, prompt: %q", prompt)
	}
}

func TestExecuteParallelFailureBecomesResult(t *testing.T) {
	runner := newStubRunner()
	runner.failIDs["bad"] = true

	c, _ := New(runner)
	res, err := c.ExecuteParallel(context.Background(), []models.AgentTask{
		task("bad", models.RoleCoder),
		task("good", models.RoleCoder),
	})
	if err != nil {
		t.Fatalf("failures must not escape as errors: %v", err)
	}
	if res.Success {
		t.Error("run with a failed task must not report success")
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "bad") {
		t.Errorf("failure must be attributed to its task, got %v", res.Errors)
	}
	if errs := c.SharedContext().Errors(); len(errs) != 1 {
		t.Errorf("shared context must record the failure, got %v", errs)
	}
}

func TestAggregationOrdering(t *testing.T) {
	runner := newStubRunner()
	runner.failIDs["broken"] = true

	c, _ := New(runner)
	res, err := c.ExecuteParallel(context.Background(), []models.AgentTask{
		task("broken", models.RoleArchitect),
		task("docs", models.RoleDocs),
		task("build", models.RoleCoder),
		task("design", models.RoleArchitect),
	})
	if err != nil {
		t.Fatalf("ExecuteParallel: %v", err)
	}

	got := make([]string, len(res.Results))
	for i, r := range res.Results {
		got[i] = r.TaskID
	}
	// Success first, then role priority (architect < coder < docs),
	// failures last.
	want := []string{"design", "build", "docs", "broken"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestExecuteParallelCapsWave(t *testing.T) {
	runner := newStubRunner()
	runner.delay = 10 * time.Millisecond

	c, _ := New(runner, WithMaxParallelTasks(2))
	res, err := c.ExecuteParallel(context.Background(), []models.AgentTask{
		task("a", models.RoleCoder),
		task("b", models.RoleCoder),
		task("c", models.RoleCoder),
	})
	if err != nil {
		t.Fatalf("ExecuteParallel: %v", err)
	}
	if res.Parallelism != 2 {
		t.Errorf("expected reported parallelism 2, got %d", res.Parallelism)
	}
	if len(res.Results) != 3 {
		t.Errorf("all tasks must run, got %d results", len(res.Results))
	}
}

func TestExecuteWithDAGMatchesResultShape(t *testing.T) {
	runner := newStubRunner()
	runner.failIDs["flaky"] = true

	c, _ := New(runner)
	res, err := c.ExecuteWithDAG(context.Background(), []models.AgentTask{
		task("base", models.RoleArchitect),
		task("flaky", models.RoleCoder, "base"),
		task("dependent", models.RoleTester, "flaky"),
	}, scheduler.Continue)
	if err != nil {
		t.Fatalf("ExecuteWithDAG: %v", err)
	}

	if res.Success {
		t.Error("failed task must fail the run")
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results (including the skip), got %d", len(res.Results))
	}
	// Skipped dependent surfaces as a failed result with attribution.
	found := false
	for _, r := range res.Results {
		if r.TaskID == "dependent" && !r.Success {
			found = true
		}
	}
	if !found {
		t.Error("skipped dependent must appear as a failed result")
	}
}

func TestExecuteWithDAGRejectsCycle(t *testing.T) {
	runner := newStubRunner()
	c, _ := New(runner)

	_, err := c.ExecuteWithDAG(context.Background(), []models.AgentTask{
		task("a", models.RoleCoder, "b"),
		task("b", models.RoleCoder, "a"),
	}, scheduler.Continue)
	if err == nil {
		t.Error("graph path must reject cycles instead of best-effort running them")
	}
}

func TestGetStatistics(t *testing.T) {
	runner := newStubRunner()
	runner.failIDs["bad"] = true

	c, _ := New(runner)
	_, err := c.ExecuteParallel(context.Background(), []models.AgentTask{
		task("bad", models.RoleCoder),
		task("good", models.RoleCoder),
	})
	if err != nil {
		t.Fatalf("ExecuteParallel: %v", err)
	}

	stats := c.GetStatistics()
	if stats.Runs != 1 || stats.TasksExecuted != 2 || stats.Failures != 1 {
		t.Errorf("unexpected statistics %+v", stats)
	}
}
