// Package budget tracks global spend against a configured dollar limit and
// estimates costs from token usage.
package budget

import "sync"

// AlertLevel represents the current state of global budget consumption.
type AlertLevel int

const (
	// AlertNormal indicates usage is below the warning threshold.
	AlertNormal AlertLevel = iota
	// AlertWarning indicates usage is between the warning threshold and the limit.
	AlertWarning
	// AlertBlocked indicates the budget is fully consumed.
	AlertBlocked
)

// String returns a human-readable representation of the alert level.
func (l AlertLevel) String() string {
	switch l {
	case AlertNormal:
		return "normal"
	case AlertWarning:
		return "warning"
	case AlertBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// DefaultWarningThreshold is the default fraction of the limit at which warnings begin.
const DefaultWarningThreshold = 0.80

// Ledger monitors dollar spend against a configured limit. A zero or
// negative limit disables enforcement and always reports AlertNormal.
type Ledger struct {
	// limit is the maximum allowed spend in dollars.
	limit float64
	// spent is the spend recorded so far.
	spent float64
	// warningThreshold is the fraction (0.0-1.0) at which warnings begin.
	warningThreshold float64
	// mu protects mutable state.
	mu sync.RWMutex
}

// NewLedger creates a Ledger with the specified dollar limit.
func NewLedger(limit float64) *Ledger {
	return &Ledger{
		limit:            limit,
		warningThreshold: DefaultWarningThreshold,
	}
}

// CheckBudget returns the current alert level based on spend percentage.
func (l *Ledger) CheckBudget() AlertLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.limit <= 0 {
		return AlertNormal
	}

	percentage := l.spent / l.limit
	if percentage >= 1.0 {
		return AlertBlocked
	}
	if percentage >= l.warningThreshold {
		return AlertWarning
	}
	return AlertNormal
}

// RecordUsage adds the specified dollar cost to the spend counter.
func (l *Ledger) RecordUsage(cost float64) {
	if cost <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent += cost
}

// EstimateCost returns the dollar cost of the given token counts for a model.
// Unknown models fall back to the default pricing entry.
func (l *Ledger) EstimateCost(inputTokens, outputTokens int64, model string) float64 {
	return EstimateCost(inputTokens, outputTokens, model)
}

// Spent returns the total recorded spend in dollars.
func (l *Ledger) Spent() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.spent
}

// Remaining returns the unspent portion of the limit, or 0 when exhausted.
// Returns -1 when no limit is configured.
func (l *Ledger) Remaining() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.limit <= 0 {
		return -1
	}
	remaining := l.limit - l.spent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetWarningThreshold sets the warning threshold fraction (0.0-1.0).
// Invalid values are clamped.
func (l *Ledger) SetWarningThreshold(threshold float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	l.warningThreshold = threshold
}

// Reset clears the spend counter. Useful for tests and new sessions.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent = 0
}
