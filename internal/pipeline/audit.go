package pipeline

import (
	"sync"
	"time"
)

// Audit actions recorded by the pipeline.
const (
	// AuditActionSpawn records the creation of an execution context.
	AuditActionSpawn = "spawn"
	// AuditActionComplete records a successful context completion.
	AuditActionComplete = "complete"
	// AuditActionError records a failed context completion.
	AuditActionError = "error"
	// AuditActionPermissionDenied records a rejected tool call.
	AuditActionPermissionDenied = "permission_denied"
	// AuditActionBudgetDenied records a rejected budget check.
	AuditActionBudgetDenied = "budget_denied"
	// AuditActionWarning records an advisory governance note.
	AuditActionWarning = "warning"
)

// AuditEntry is an immutable record of one governance-relevant event.
type AuditEntry struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// AgentID is the execution context the event belongs to.
	AgentID string
	// AgentName is the human-readable agent name.
	AgentName string
	// Action is the event kind (spawn, complete, permission_denied, ...).
	Action string
	// Details provides event-specific context.
	Details string
	// Cost is the dollar cost attributed to the event, if any.
	Cost float64
}

// DefaultAuditCapacity bounds the audit log when no capacity is configured.
const DefaultAuditCapacity = 1000

// AuditLog is an append-only, capacity-bounded event log.
// When full, the oldest entries are evicted.
type AuditLog struct {
	mu       sync.RWMutex
	entries  []AuditEntry
	capacity int
}

// NewAuditLog creates an AuditLog holding at most capacity entries.
// Non-positive capacities use DefaultAuditCapacity.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditLog{capacity: capacity}
}

// Append records an entry, stamping the time if unset and evicting the
// oldest entry when the log is at capacity.
func (a *AuditLog) Append(entry AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, entry)
	if len(a.entries) > a.capacity {
		// Drop from the front; copy to release the underlying array slot.
		a.entries = append([]AuditEntry(nil), a.entries[len(a.entries)-a.capacity:]...)
	}
}

// ByAgent returns all entries for the given agent ID in causal order.
func (a *AuditLog) ByAgent(agentID string) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []AuditEntry
	for _, e := range a.entries {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out
}

// All returns a copy of every retained entry in causal order.
func (a *AuditLog) All() []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]AuditEntry(nil), a.entries...)
}

// Recent returns the most recent n entries in causal order.
func (a *AuditLog) Recent(n int) []AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	if n > len(a.entries) {
		n = len(a.entries)
	}
	return append([]AuditEntry(nil), a.entries[len(a.entries)-n:]...)
}

// Len returns the number of retained entries.
func (a *AuditLog) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Clear removes all entries. This is the only way the log shrinks other
// than capacity eviction.
func (a *AuditLog) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
}

// ActionCounts returns the number of retained entries per action.
func (a *AuditLog) ActionCounts() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range a.entries {
		counts[e.Action]++
	}
	return counts
}
