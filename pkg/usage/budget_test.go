package usage

import (
	"testing"
	"time"
)

// spendTracker returns a tracker at a fixed date with an exact monthly spend.
func spendTracker(spend float64) *Tracker {
	tr := trackerAt(time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC))
	if spend > 0 {
		tr.monthly[tr.monthKey()] = &MonthlyUsage{
			PeriodTotals: PeriodTotals{TotalCost: spend, TotalRequests: 1},
			Models:       map[string]ModelUsage{},
		}
	}
	return tr
}

func TestCheckThresholdHighestNewlyCrossed(t *testing.T) {
	tr := spendTracker(47.5) // 95% of $50
	m := NewBudgetMonitor(tr, 50, nil)

	status := m.CheckThreshold()
	if !status.Exceeded {
		t.Fatal("expected threshold exceeded at 95% spend")
	}
	if status.Threshold != 0.95 {
		t.Errorf("threshold = %v, want 0.95 (boundary is inclusive)", status.Threshold)
	}
	if status.PercentUsed != 95 {
		t.Errorf("percentUsed = %v, want 95", status.PercentUsed)
	}
	if status.RemainingBudget != 2.5 {
		t.Errorf("remainingBudget = %v, want 2.5", status.RemainingBudget)
	}
}

func TestCheckThresholdExactBoundary(t *testing.T) {
	tr := spendTracker(45) // exactly 90%
	m := NewBudgetMonitor(tr, 50, nil)

	status := m.CheckThreshold()
	if !status.Exceeded || status.Threshold != 0.90 {
		t.Errorf("at exactly 90%%: exceeded=%v threshold=%v, want true/0.90",
			status.Exceeded, status.Threshold)
	}
}

func TestCheckThresholdIdempotentUntilRecorded(t *testing.T) {
	tr := spendTracker(30) // 60%
	m := NewBudgetMonitor(tr, 50, nil)

	first := m.CheckThreshold()
	if !first.Exceeded || first.Threshold != 0.50 {
		t.Fatalf("first check = %+v, want 0.50 exceeded", first)
	}

	// Checking is side-effect free: same answer until the alert is recorded.
	second := m.CheckThreshold()
	if !second.Exceeded || second.Threshold != 0.50 {
		t.Errorf("second check = %+v, want same as first", second)
	}

	m.RecordAlertSent(first.Threshold)
	third := m.CheckThreshold()
	if third.Exceeded {
		t.Errorf("after recording, check = %+v, want not exceeded", third)
	}
}

func TestCheckThresholdSkipsLowerOnJump(t *testing.T) {
	tr := spendTracker(0)
	m := NewBudgetMonitor(tr, 50, nil)

	if s := m.CheckThreshold(); s.Exceeded {
		t.Fatalf("no spend, but check = %+v", s)
	}

	// One large request jumps spend from 0% to 96%: only 0.95 fires,
	// the lower thresholds are never retroactively alerted.
	tr.monthly[tr.monthKey()] = &MonthlyUsage{
		PeriodTotals: PeriodTotals{TotalCost: 48, TotalRequests: 1},
		Models:       map[string]ModelUsage{},
	}
	s := m.CheckThreshold()
	if s.Threshold != 0.95 {
		t.Errorf("threshold after jump = %v, want 0.95", s.Threshold)
	}
	m.RecordAlertSent(s.Threshold)
	if s := m.CheckThreshold(); s.Exceeded {
		t.Errorf("after recording the jump alert, check = %+v", s)
	}
}

func TestRecordAlertSentIsMonotonic(t *testing.T) {
	tr := spendTracker(48)
	m := NewBudgetMonitor(tr, 50, nil)

	m.RecordAlertSent(0.95)
	m.RecordAlertSent(0.50) // must not lower the stored level

	if s := m.CheckThreshold(); s.Exceeded {
		t.Errorf("stored level regressed: check = %+v", s)
	}
}

func TestNewMonthStartsClean(t *testing.T) {
	tr := spendTracker(48)
	m := NewBudgetMonitor(tr, 50, nil)
	m.RecordAlertSent(0.95)

	// Roll into September with fresh spend at 60%.
	tr.now = func() time.Time { return time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC) }
	tr.monthly[tr.monthKey()] = &MonthlyUsage{
		PeriodTotals: PeriodTotals{TotalCost: 30, TotalRequests: 1},
		Models:       map[string]ModelUsage{},
	}

	s := m.CheckThreshold()
	if !s.Exceeded || s.Threshold != 0.50 {
		t.Errorf("new month check = %+v, want 0.50 exceeded", s)
	}
}

func TestDefaultsApplied(t *testing.T) {
	tr := spendTracker(0)
	m := NewBudgetMonitor(tr, 0, nil)
	if m.Limit() != DefaultMonthlyLimitUSD {
		t.Errorf("limit = %v, want default %v", m.Limit(), DefaultMonthlyLimitUSD)
	}
	want := []float64{50, 75, 90, 95}
	got := m.Thresholds()
	if len(got) != len(want) {
		t.Fatalf("thresholds = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("thresholds[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
