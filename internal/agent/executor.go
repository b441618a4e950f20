// Package agent defines the executor contract for dispatching work to an
// LLM-driven agent, and provides an Anthropic-backed implementation.
package agent

import (
	"context"

	"github.com/avandras/agentcore/internal/pipeline"
	"github.com/avandras/agentcore/pkg/models"
)

// Request describes one agent invocation.
type Request struct {
	// AgentID is the pipeline-assigned execution context ID.
	AgentID string
	// Name is the human-readable agent name.
	Name string
	// Prompt is the instruction for the agent.
	Prompt string
	// SystemPrompt overrides the default system prompt when set.
	SystemPrompt string
	// AvailableTools restricts the tool schemas offered to the model.
	// Empty means all built-in tools.
	AvailableTools []string
	// MaxIterations caps the tool-use loop. Zero means the executor default.
	MaxIterations int
	// Model overrides the executor's default model when set.
	Model string
}

// Result is the outcome of one agent invocation.
type Result struct {
	// Success indicates the agent finished its turn normally.
	Success bool
	// Output is the agent's final text.
	Output string
	// Error describes the failure when Success is false.
	Error string
	// ToolsUsed lists the tools the agent invoked, in order.
	ToolsUsed []string
	// Iterations is the number of loop iterations consumed.
	Iterations int
	// Usage is the aggregate token usage for the invocation.
	Usage models.TokenUsage
}

// Gate authorizes tool calls before they execute. The pipeline implements
// this; every tool call an executor attempts must pass through it.
type Gate interface {
	PreExecutionCheck(agentID string, call pipeline.ToolCall) pipeline.Decision
}

// Env carries the per-dispatch environment an executor runs under.
type Env struct {
	// WorkingDir is the directory the agent's tools operate in.
	WorkingDir string
	// Gate authorizes tool calls. A nil gate denies nothing.
	Gate Gate
}

// Executor is the opaque, potentially slow, potentially failing boundary
// to the LLM invocation layer.
type Executor interface {
	// Execute runs one agent invocation to completion or error. The
	// context carries cancellation from the scheduler and the shutdown
	// protocol; implementations must return promptly once it fires.
	Execute(ctx context.Context, req Request, env Env) (*Result, error)
}
