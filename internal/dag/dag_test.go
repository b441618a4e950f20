package dag

import (
	"testing"

	"github.com/avandras/agentcore/pkg/models"
)

func mustBuild(t *testing.T, tasks ...models.AgentTask) *TaskDAG {
	t.Helper()
	d, err := FromTasks(tasks)
	if err != nil {
		t.Fatalf("FromTasks: %v", err)
	}
	return d
}

func coderTask(id string, deps ...string) models.AgentTask {
	return models.AgentTask{ID: id, Role: models.RoleCoder, Prompt: "work on " + id, DependsOn: deps}
}

func TestAddTaskRejectsInvalid(t *testing.T) {
	d := New()

	if err := d.AddTask(models.AgentTask{Role: models.RoleCoder}); err == nil {
		t.Error("empty ID must be rejected")
	}
	if err := d.AddTask(models.AgentTask{ID: "a", Role: "wizard"}); err == nil {
		t.Error("unknown role must be rejected")
	}
	if err := d.AddTask(coderTask("a")); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}
	if err := d.AddTask(coderTask("a")); err == nil {
		t.Error("duplicate ID must be rejected")
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	d := mustBuild(t, coderTask("a", "b"), coderTask("b", "a"))

	v := d.Validate()
	if v.Valid {
		t.Fatal("cyclic graph must not validate")
	}
	if len(v.CyclePath) == 0 {
		t.Fatal("cycle path must be reported")
	}
	if v.CyclePath[0] != v.CyclePath[len(v.CyclePath)-1] {
		t.Errorf("cycle path must close on itself: %v", v.CyclePath)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	d := mustBuild(t,
		coderTask("a", "ghost"),
		coderTask("b", "b"),
	)

	v := d.Validate()
	if v.Valid {
		t.Fatal("graph with unknown and self dependencies must not validate")
	}
	if len(v.Errors) < 2 {
		t.Errorf("expected both errors collected, got %v", v.Errors)
	}
}

func TestValidateAcyclic(t *testing.T) {
	d := mustBuild(t,
		coderTask("a"),
		coderTask("b", "a"),
		coderTask("c", "a"),
		coderTask("d", "b", "c"),
	)

	v := d.Validate()
	if !v.Valid || len(v.CyclePath) != 0 {
		t.Errorf("diamond graph must validate, got %+v", v)
	}
}

func TestExecutionOrderRespectsDependencies(t *testing.T) {
	d := mustBuild(t,
		coderTask("d", "b", "c"),
		coderTask("b", "a"),
		coderTask("c", "a"),
		coderTask("a"),
	)

	order, err := d.ExecutionOrder()
	if err != nil {
		t.Fatalf("ExecutionOrder: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, pair := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}} {
		if pos[pair[0]] > pos[pair[1]] {
			t.Errorf("%s must precede %s in %v", pair[0], pair[1], order)
		}
	}
}

func TestExecutionOrderRejectsCycle(t *testing.T) {
	d := mustBuild(t, coderTask("a", "b"), coderTask("b", "a"))
	if _, err := d.ExecutionOrder(); err == nil {
		t.Error("cyclic graph must not produce an order")
	}
}

func TestPromoteAndTakeReady(t *testing.T) {
	d := mustBuild(t,
		coderTask("a"),
		coderTask("b", "a"),
	)

	if n := d.PromoteReady(); n != 1 {
		t.Fatalf("expected 1 promotion, got %d", n)
	}

	batch := d.TakeReady(0)
	if len(batch) != 1 || batch[0].ID != "a" {
		t.Fatalf("expected [a], got %v", batch)
	}
	if status, _ := d.Status("a"); status != StatusRunning {
		t.Errorf("taken node must be running, got %s", status)
	}

	// b stays pending until a completes.
	if n := d.PromoteReady(); n != 0 {
		t.Errorf("b must not promote while a runs, promoted %d", n)
	}

	d.MarkCompleted("a", models.TaskResult{TaskID: "a", Success: true})
	if n := d.PromoteReady(); n != 1 {
		t.Errorf("b must promote after a completes, promoted %d", n)
	}
}

func TestTakeReadyPriorityThenInsertion(t *testing.T) {
	low := coderTask("low")
	high := coderTask("high")
	high.Priority = 10
	tied := coderTask("tied")

	d := mustBuild(t, low, high, tied)
	d.PromoteReady()

	batch := d.TakeReady(2)
	if len(batch) != 2 || batch[0].ID != "high" || batch[1].ID != "low" {
		t.Errorf("expected [high low], got %v", ids(batch))
	}
}

func ids(tasks []models.AgentTask) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.ID
	}
	return out
}

func TestMarkFailedSkipsTransitively(t *testing.T) {
	d := mustBuild(t,
		coderTask("a"),
		coderTask("b", "a"),
		coderTask("c", "b"),
		coderTask("other"),
	)
	d.PromoteReady()
	d.TakeReady(0)

	skipped := d.MarkFailed("a", models.TaskResult{TaskID: "a", Error: "boom"})
	if len(skipped) != 2 {
		t.Fatalf("expected b and c skipped, got %v", skipped)
	}
	for _, id := range []string{"b", "c"} {
		if status, _ := d.Status(id); status != StatusSkipped {
			t.Errorf("%s: expected skipped, got %s", id, status)
		}
	}
	if status, _ := d.Status("other"); status == StatusSkipped {
		t.Error("unrelated task must not be skipped")
	}
}

func TestMarkCancelledLeavesSettledAlone(t *testing.T) {
	d := mustBuild(t, coderTask("a"), coderTask("b", "a"))
	d.PromoteReady()
	d.TakeReady(0)
	d.MarkCompleted("a", models.TaskResult{TaskID: "a", Success: true})

	cancelled := d.MarkCancelled()
	if len(cancelled) != 1 || cancelled[0] != "b" {
		t.Fatalf("expected [b] cancelled, got %v", cancelled)
	}
	if status, _ := d.Status("a"); status != StatusCompleted {
		t.Errorf("completed node must stay completed, got %s", status)
	}
}

func TestResultsSynthesizeSkipped(t *testing.T) {
	d := mustBuild(t, coderTask("a"), coderTask("b", "a"))
	d.PromoteReady()
	d.TakeReady(0)
	d.MarkFailed("a", models.TaskResult{TaskID: "a", Error: "boom"})

	results := d.Results()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].TaskID != "a" || results[0].Success {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[1].TaskID != "b" || results[1].Success || results[1].Error == "" {
		t.Errorf("skipped node must synthesize a failure, got %+v", results[1])
	}

	if !d.Settled() {
		t.Error("graph with only settled nodes must report settled")
	}
}
