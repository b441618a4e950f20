package budget

import (
	"math"
	"testing"
)

func TestLedgerAlertLevels(t *testing.T) {
	tests := []struct {
		name  string
		limit float64
		spent float64
		want  AlertLevel
	}{
		{"below warning", 10.0, 1.0, AlertNormal},
		{"just under warning", 10.0, 7.99, AlertNormal},
		{"at warning threshold", 10.0, 8.0, AlertWarning},
		{"between warning and limit", 10.0, 9.5, AlertWarning},
		{"at limit", 10.0, 10.0, AlertBlocked},
		{"over limit", 10.0, 12.0, AlertBlocked},
		{"no limit set", 0, 100.0, AlertNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger(tt.limit)
			l.RecordUsage(tt.spent)
			if got := l.CheckBudget(); got != tt.want {
				t.Errorf("CheckBudget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLedgerRemaining(t *testing.T) {
	l := NewLedger(5.0)
	l.RecordUsage(2.0)
	if got := l.Remaining(); got != 3.0 {
		t.Errorf("expected 3.0 remaining, got %v", got)
	}

	l.RecordUsage(10.0)
	if got := l.Remaining(); got != 0 {
		t.Errorf("expected 0 remaining when overspent, got %v", got)
	}

	unlimited := NewLedger(0)
	if got := unlimited.Remaining(); got != -1 {
		t.Errorf("expected -1 remaining for unlimited ledger, got %v", got)
	}
}

func TestLedgerIgnoresNonPositiveUsage(t *testing.T) {
	l := NewLedger(10.0)
	l.RecordUsage(-1.0)
	l.RecordUsage(0)
	if got := l.Spent(); got != 0 {
		t.Errorf("expected 0 spent, got %v", got)
	}
}

func TestLedgerWarningThresholdClamped(t *testing.T) {
	l := NewLedger(10.0)
	l.SetWarningThreshold(1.5)
	l.RecordUsage(9.99)
	if got := l.CheckBudget(); got != AlertWarning {
		t.Errorf("expected warning with clamped threshold, got %v", got)
	}

	l.Reset()
	l.SetWarningThreshold(-0.5)
	l.RecordUsage(0.01)
	if got := l.CheckBudget(); got != AlertWarning {
		t.Errorf("expected warning with zero threshold, got %v", got)
	}
}

func TestEstimateCost(t *testing.T) {
	// 1M input + 1M output on sonnet pricing.
	got := EstimateCost(1_000_000, 1_000_000, "claude-sonnet-4-20250514")
	if math.Abs(got-18.0) > 1e-9 {
		t.Errorf("expected 18.0, got %v", got)
	}

	// Unknown model falls back to default pricing.
	fallback := EstimateCost(1_000_000, 0, "some-unknown-model")
	if math.Abs(fallback-3.0) > 1e-9 {
		t.Errorf("expected fallback 3.0, got %v", fallback)
	}
}

func TestAlertLevelString(t *testing.T) {
	if AlertNormal.String() != "normal" || AlertWarning.String() != "warning" ||
		AlertBlocked.String() != "blocked" {
		t.Error("unexpected alert level strings")
	}
	if AlertLevel(99).String() != "unknown" {
		t.Error("expected unknown for out-of-range level")
	}
}
