// Package models defines the shared data types for the agentcore runtime.
package models

import "time"

// Role identifies the specialization of the agent that handles a task.
type Role string

const (
	// RoleArchitect plans structure and makes high-level design calls.
	RoleArchitect Role = "architect"
	// RoleCoder writes and modifies code.
	RoleCoder Role = "coder"
	// RoleReviewer reviews changes produced by other agents.
	RoleReviewer Role = "reviewer"
	// RoleTester writes and runs tests.
	RoleTester Role = "tester"
	// RoleResearcher gathers information without modifying anything.
	RoleResearcher Role = "researcher"
	// RoleDocs writes documentation.
	RoleDocs Role = "docs"
	// RoleGeneral is the fallback for unspecialized work.
	RoleGeneral Role = "general"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleArchitect, RoleCoder, RoleReviewer, RoleTester,
		RoleResearcher, RoleDocs, RoleGeneral:
		return true
	default:
		return false
	}
}

// AgentTask is one schedulable unit of work wrapping a single agent dispatch.
// A task is immutable once submitted; its identity is the ID field.
type AgentTask struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Role selects the agent specialization for this task.
	Role Role `json:"role" yaml:"role"`
	// Prompt is the instruction given to the agent.
	Prompt string `json:"prompt" yaml:"prompt"`
	// Tools restricts which tools the agent may use. Empty means no restriction.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	// MaxIterations caps the agent's internal tool-use loop. Zero means default.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// DependsOn lists task IDs that must complete before this task runs.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Priority orders admission within a wave; higher runs first.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Timeout bounds this task's execution. Zero means the scheduler default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// MaxBudget is the requested cost ceiling in dollars. Zero inherits.
	MaxBudget float64 `json:"max_budget,omitempty" yaml:"max_budget,omitempty"`
	// Preset names the permission preset for this task. Empty means default.
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty"`
}

// TokenUsage represents aggregated token usage for one agent invocation.
type TokenUsage struct {
	// InputTokens is the total input tokens used.
	InputTokens int64 `json:"input_tokens"`
	// OutputTokens is the total output tokens used.
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns InputTokens + OutputTokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage sample into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// TaskResult is the per-task outcome of one agent dispatch.
type TaskResult struct {
	// TaskID is the ID of the task this result belongs to.
	TaskID string `json:"task_id"`
	// AgentID is the pipeline-assigned ID of the agent invocation.
	AgentID string `json:"agent_id,omitempty"`
	// Role is the role the task was dispatched under.
	Role Role `json:"role"`
	// Success indicates whether the task completed successfully.
	Success bool `json:"success"`
	// Output is the agent's final output text.
	Output string `json:"output,omitempty"`
	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`
	// ToolsUsed lists the tools the agent invoked.
	ToolsUsed []string `json:"tools_used,omitempty"`
	// Iterations is the number of agent loop iterations consumed.
	Iterations int `json:"iterations,omitempty"`
	// Cost is the total dollar cost attributed to this task.
	Cost float64 `json:"cost,omitempty"`
	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`
	// CacheHit is true when the output was served from the dedup cache.
	CacheHit bool `json:"cache_hit,omitempty"`
}

// ParallelExecutionResult is the aggregate outcome of one coordinator run.
type ParallelExecutionResult struct {
	// Success is true only when every task completed successfully.
	Success bool `json:"success"`
	// Results holds the per-task breakdown in aggregation order.
	Results []TaskResult `json:"results"`
	// TotalDuration is the wall-clock time for the whole run.
	TotalDuration time.Duration `json:"total_duration"`
	// Parallelism is the largest batch of tasks launched together.
	Parallelism int `json:"parallelism"`
	// Errors collects failure descriptions attributed to task IDs.
	Errors []string `json:"errors,omitempty"`
}
