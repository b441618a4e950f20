// Package pipeline owns the governed execution contexts for dispatched
// agents. Every tool call from every dispatched agent passes exactly one
// permission check and one budget check here, and every lifecycle
// transition is audited.
package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avandras/agentcore/internal/budget"
	"github.com/avandras/agentcore/internal/logging"
	"github.com/avandras/agentcore/pkg/models"
)

// AgentBudgetWarnThreshold is the fraction of an agent's own cap at which
// budget checks start warning.
const AgentBudgetWarnThreshold = 0.85

// BudgetLedger is the external global spend authority consumed by the
// pipeline.
type BudgetLedger interface {
	// CheckBudget returns the global alert level.
	CheckBudget() budget.AlertLevel
	// RecordUsage adds a dollar cost to the global ledger.
	RecordUsage(cost float64)
	// EstimateCost converts token counts into dollars for a model.
	EstimateCost(inputTokens, outputTokens int64, model string) float64
}

// ExecutionContext is the governed state of one dispatched agent invocation.
// The pipeline owns it: callers receive snapshots and mutate only through
// pipeline methods. The AgentID becomes invalid once the context completes.
type ExecutionContext struct {
	// AgentID is the generated unique ID for this invocation.
	AgentID string
	// Name is the human-readable agent name.
	Name string
	// ParentAgentID is the spawning agent's ID, if any.
	ParentAgentID string
	// Permissions is the resolved (and possibly parent-merged) policy.
	Permissions PermissionConfig
	// MaxBudget is the dollar cap, possibly reduced by inheritance.
	// Enforced only when Capped is true.
	MaxBudget float64
	// Capped marks MaxBudget as enforced. An inherited remainder of zero
	// stays capped, so a child of an exhausted parent cannot spend.
	Capped bool
	// AllowedTools restricts tool names, possibly intersected with the
	// parent's list. Nil means no restriction.
	AllowedTools []string
	// WorkingDir is the directory mutating tool calls are confined to.
	WorkingDir string
	// ToolsUsed accumulates the tools this agent invoked.
	ToolsUsed []string
	// Usage accumulates token usage.
	Usage models.TokenUsage
	// Cost is the dollar cost accrued so far.
	Cost float64
	// Model is the cost-estimation model, when it differs from the
	// pipeline default.
	Model string
	// CreatedAt is when the context was spawned.
	CreatedAt time.Time
}

// Remaining returns the unspent portion of the context's cap, or -1 when
// the context is uncapped.
func (c *ExecutionContext) Remaining() float64 {
	if !c.Capped {
		return -1
	}
	remaining := c.MaxBudget - c.Cost
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ContextSpec describes the context to create for one dispatch.
type ContextSpec struct {
	// Name is the human-readable agent name.
	Name string
	// Preset names the permission preset to resolve. Empty means standard.
	Preset Preset
	// MaxBudget is the requested dollar cap. Zero inherits the parent's
	// remaining budget, or means uncapped for a root context.
	MaxBudget float64
	// AllowedTools restricts tool names. Nil means unrestricted (or the
	// parent's list when spawned with a parent).
	AllowedTools []string
	// WorkingDir is the directory mutating tool calls are confined to.
	WorkingDir string
	// ParentID is the spawning agent's context ID, if any.
	ParentID string
	// Model overrides the cost-estimation model for this context.
	Model string
}

// Statistics summarizes pipeline activity for observability surfaces.
type Statistics struct {
	// ActiveAgents is the number of live execution contexts.
	ActiveAgents int
	// CompletedAgents is the number of contexts completed so far.
	CompletedAgents int
	// TotalCost is the dollar cost of all completed contexts.
	TotalCost float64
	// AuditEntries is the number of retained audit entries.
	AuditEntries int
	// ActionCounts is the retained audit entry count per action.
	ActionCounts map[string]int
}

// Pipeline is the unified permission/budget/audit pipeline shared by every
// agent dispatch.
type Pipeline struct {
	mu sync.RWMutex
	// contexts maps agent ID to its live execution context.
	contexts map[string]*ExecutionContext
	// completed counts contexts completed over the pipeline's lifetime.
	completed int
	// completedCost is the total cost of completed contexts.
	completedCost float64

	resolver     Resolver
	ledger       BudgetLedger
	audit        *AuditLog
	logger       *logging.DebugLogger
	defaultModel string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the debug logger.
func WithLogger(l *logging.DebugLogger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithAuditCapacity bounds the audit log.
func WithAuditCapacity(capacity int) Option {
	return func(p *Pipeline) { p.audit = NewAuditLog(capacity) }
}

// WithDefaultModel sets the model used for cost estimation when a context
// doesn't specify one.
func WithDefaultModel(model string) Option {
	return func(p *Pipeline) { p.defaultModel = model }
}

// New creates a Pipeline. The resolver and ledger are required.
func New(resolver Resolver, ledger BudgetLedger, opts ...Option) (*Pipeline, error) {
	if resolver == nil {
		return nil, fmt.Errorf("pipeline: permission resolver is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("pipeline: budget ledger is required")
	}

	p := &Pipeline{
		contexts:     make(map[string]*ExecutionContext),
		resolver:     resolver,
		ledger:       ledger,
		audit:        NewAuditLog(DefaultAuditCapacity),
		logger:       logging.NopLogger(),
		defaultModel: budget.DefaultModel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CreateContext resolves the spec's preset, applies parent inheritance with
// strictest-wins rules, and registers a new execution context. Emits a
// spawn audit entry. Unknown presets and unknown parent IDs are
// configuration errors.
func (p *Pipeline) CreateContext(spec ContextSpec) (ExecutionContext, error) {
	resolved, err := p.resolver.Resolve(spec.Preset, spec.WorkingDir)
	if err != nil {
		return ExecutionContext{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx := &ExecutionContext{
		AgentID:      uuid.New().String(),
		Name:         spec.Name,
		Permissions:  resolved,
		MaxBudget:    spec.MaxBudget,
		Capped:       spec.MaxBudget > 0,
		AllowedTools: append([]string(nil), spec.AllowedTools...),
		WorkingDir:   spec.WorkingDir,
		Model:        spec.Model,
		CreatedAt:    time.Now(),
	}

	if spec.ParentID != "" {
		parent, ok := p.contexts[spec.ParentID]
		if !ok {
			return ExecutionContext{}, fmt.Errorf("unknown parent agent %q", spec.ParentID)
		}
		ctx.ParentAgentID = parent.AgentID
		ctx.Permissions = MergeStrictest(parent.Permissions, resolved)

		// Budget inheritance: the child never exceeds the parent's
		// remaining budget; requesting nothing receives exactly the
		// remainder. A capped parent always yields a capped child, even
		// when the remainder is zero.
		if remaining := parent.Remaining(); remaining >= 0 {
			if !ctx.Capped || ctx.MaxBudget > remaining {
				ctx.MaxBudget = remaining
			}
			ctx.Capped = true
		}

		// Allowed tools intersect with any parent allow-list.
		if len(parent.AllowedTools) > 0 {
			if len(ctx.AllowedTools) == 0 {
				ctx.AllowedTools = append([]string(nil), parent.AllowedTools...)
			} else {
				ctx.AllowedTools = intersectStrings(parent.AllowedTools, ctx.AllowedTools)
			}
		}
	}

	p.contexts[ctx.AgentID] = ctx
	p.audit.Append(AuditEntry{
		AgentID:   ctx.AgentID,
		AgentName: ctx.Name,
		Action:    AuditActionSpawn,
		Details: fmt.Sprintf("preset=%s budget=%.4f parent=%s",
			ctx.Permissions.Preset, ctx.MaxBudget, ctx.ParentAgentID),
	})
	p.logger.Log("[pipeline] spawned agent %s (%s) preset=%s budget=%.4f",
		ctx.AgentID, ctx.Name, ctx.Permissions.Preset, ctx.MaxBudget)

	return *ctx, nil
}

// Context returns a snapshot of a live context and whether it exists.
func (p *Pipeline) Context(agentID string) (ExecutionContext, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ctx, ok := p.contexts[agentID]
	if !ok {
		return ExecutionContext{}, false
	}
	return *ctx, true
}

// ActiveCount returns the number of live contexts.
func (p *Pipeline) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.contexts)
}

// CheckToolExecution authorizes one tool call for a live context.
// Blocked commands are rejected outright; dangerous commands warn without
// rejecting; the auto-approve flag short-circuits; reads are allowed when
// the policy auto-approves them; remaining actions are allowed only inside
// the working directory or a trusted directory. Everything else is denied
// with a permission_denied audit entry.
func (p *Pipeline) CheckToolExecution(agentID string, call ToolCall) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, ok := p.contexts[agentID]
	if !ok {
		return deny(fmt.Sprintf("no active context for agent %q", agentID))
	}

	cfg := ctx.Permissions

	if len(ctx.AllowedTools) > 0 && !containsString(ctx.AllowedTools, call.Tool) {
		return p.denyLocked(ctx, call, fmt.Sprintf("tool %q is not in the allow-list", call.Tool))
	}

	if call.Command != "" {
		if pattern, hit := matchesAny(call.Command, cfg.BlockedCommands); hit {
			return p.denyLocked(ctx, call, fmt.Sprintf("blocked command (matched %q)", pattern))
		}
	}

	var warnings []string
	if call.Command != "" {
		if pattern, hit := matchesAny(call.Command, cfg.DangerousCommands); hit {
			w := fmt.Sprintf("dangerous command (matched %q)", pattern)
			warnings = append(warnings, w)
			p.audit.Append(AuditEntry{
				AgentID:   ctx.AgentID,
				AgentName: ctx.Name,
				Action:    AuditActionWarning,
				Details:   w,
			})
		}
	}

	if cfg.AutoApprove {
		return allow(warnings...)
	}

	if call.Action == ActionRead && cfg.AutoApproveReads {
		return allow(warnings...)
	}

	if p.insideAllowedDirs(ctx, call) {
		return allow(warnings...)
	}

	return p.denyLocked(ctx, call,
		fmt.Sprintf("%s target %q is outside the working directory", call.Action, call.Path))
}

// insideAllowedDirs reports whether the call's target is inside the
// context's working directory or one of its trusted directories. Execute
// actions with no explicit path run in the working directory.
func (p *Pipeline) insideAllowedDirs(ctx *ExecutionContext, call ToolCall) bool {
	if call.Path == "" {
		return call.Action == ActionExecute
	}

	dirs := append([]string{ctx.WorkingDir}, ctx.Permissions.TrustedDirs...)
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if pathWithin(dir, call.Path) {
			return true
		}
	}
	return false
}

// denyLocked records a permission_denied audit entry and returns the denial.
// Caller must hold p.mu.
func (p *Pipeline) denyLocked(ctx *ExecutionContext, call ToolCall, reason string) Decision {
	p.audit.Append(AuditEntry{
		AgentID:   ctx.AgentID,
		AgentName: ctx.Name,
		Action:    AuditActionPermissionDenied,
		Details:   fmt.Sprintf("tool=%s action=%s: %s", call.Tool, call.Action, reason),
	})
	p.logger.Log("[pipeline] denied %s for agent %s: %s", call.Tool, ctx.AgentID, reason)
	return deny(reason)
}

// CheckBudget authorizes further spend for a live context. Denies at a
// blocked global alert level or when the agent's own cost meets its cap;
// warns at 85% of the cap and at a global warning level.
func (p *Pipeline) CheckBudget(agentID string) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, ok := p.contexts[agentID]
	if !ok {
		return deny(fmt.Sprintf("no active context for agent %q", agentID))
	}

	level := p.ledger.CheckBudget()
	if level == budget.AlertBlocked {
		p.audit.Append(AuditEntry{
			AgentID:   ctx.AgentID,
			AgentName: ctx.Name,
			Action:    AuditActionBudgetDenied,
			Details:   "global budget exhausted",
		})
		return deny("global budget exhausted")
	}

	if ctx.Capped && ctx.Cost >= ctx.MaxBudget {
		p.audit.Append(AuditEntry{
			AgentID:   ctx.AgentID,
			AgentName: ctx.Name,
			Action:    AuditActionBudgetDenied,
			Details:   fmt.Sprintf("agent budget exhausted (%.4f of %.4f)", ctx.Cost, ctx.MaxBudget),
		})
		return deny(fmt.Sprintf("agent budget exhausted (%.4f of %.4f)", ctx.Cost, ctx.MaxBudget))
	}

	var warnings []string
	if ctx.Capped && ctx.MaxBudget > 0 && ctx.Cost >= AgentBudgetWarnThreshold*ctx.MaxBudget {
		warnings = append(warnings,
			fmt.Sprintf("agent budget at %.0f%% of cap", ctx.Cost/ctx.MaxBudget*100))
	}
	if level == budget.AlertWarning {
		warnings = append(warnings, "global budget at warning level")
	}

	return allow(warnings...)
}

// PreExecutionCheck runs the budget check then the permission check for one
// tool call, short-circuiting on the first denial.
func (p *Pipeline) PreExecutionCheck(agentID string, call ToolCall) Decision {
	if d := p.CheckBudget(agentID); !d.Allowed {
		return d
	}
	return p.CheckToolExecution(agentID, call)
}

// RecordToolUse appends a tool name to the context's usage trail.
func (p *Pipeline) RecordToolUse(agentID, tool string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ctx, ok := p.contexts[agentID]; ok {
		ctx.ToolsUsed = append(ctx.ToolsUsed, tool)
	}
}

// RecordUsage accumulates token usage for a live context and updates its
// accrued cost from the ledger's estimate.
func (p *Pipeline) RecordUsage(agentID string, usage models.TokenUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, ok := p.contexts[agentID]
	if !ok {
		return
	}
	ctx.Usage.Add(usage)
	ctx.Cost = p.ledger.EstimateCost(ctx.Usage.InputTokens, ctx.Usage.OutputTokens, p.modelFor(ctx))
}

// modelFor returns the context's estimation model, falling back to the
// pipeline default.
func (p *Pipeline) modelFor(ctx *ExecutionContext) string {
	if ctx.Model != "" {
		return ctx.Model
	}
	return p.defaultModel
}

// CompleteContext finalizes a context: computes the total cost from
// recorded usage, credits the global ledger, emits a complete or error
// audit entry, and removes the context. The agent ID is invalid afterward;
// completing an already-removed ID is a no-op.
func (p *Pipeline) CompleteContext(agentID string, success bool, errDetail string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, ok := p.contexts[agentID]
	if !ok {
		return 0
	}

	cost := p.ledger.EstimateCost(ctx.Usage.InputTokens, ctx.Usage.OutputTokens, p.modelFor(ctx))
	p.ledger.RecordUsage(cost)
	p.completed++
	p.completedCost += cost

	action := AuditActionComplete
	details := fmt.Sprintf("tools=%d tokens=%d", len(ctx.ToolsUsed), ctx.Usage.Total())
	if !success {
		action = AuditActionError
		details = errDetail
	}
	p.audit.Append(AuditEntry{
		AgentID:   ctx.AgentID,
		AgentName: ctx.Name,
		Action:    action,
		Details:   details,
		Cost:      cost,
	})

	delete(p.contexts, agentID)
	p.logger.Log("[pipeline] completed agent %s (%s) success=%v cost=%.4f",
		agentID, ctx.Name, success, cost)

	return cost
}

// GetAuditLog returns all retained audit entries, optionally filtered by
// agent ID. An empty ID returns everything.
func (p *Pipeline) GetAuditLog(agentID string) []AuditEntry {
	if agentID == "" {
		return p.audit.All()
	}
	return p.audit.ByAgent(agentID)
}

// GetRecentAuditEntries returns the n most recent audit entries.
func (p *Pipeline) GetRecentAuditEntries(n int) []AuditEntry {
	return p.audit.Recent(n)
}

// ClearAuditLog removes every retained audit entry.
func (p *Pipeline) ClearAuditLog() {
	p.audit.Clear()
}

// GetStatistics summarizes pipeline activity.
func (p *Pipeline) GetStatistics() Statistics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Statistics{
		ActiveAgents:    len(p.contexts),
		CompletedAgents: p.completed,
		TotalCost:       p.completedCost,
		AuditEntries:    p.audit.Len(),
		ActionCounts:    p.audit.ActionCounts(),
	}
}

// pathWithin reports whether target is dir or inside dir.
func pathWithin(dir, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
