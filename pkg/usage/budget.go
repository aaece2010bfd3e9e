package usage

import (
	"sync"
	"time"
)

// DefaultMonthlyLimitUSD is the monthly budget used when none is configured.
const DefaultMonthlyLimitUSD = 50

// DefaultThresholds are the budget fractions that trigger alerts, ascending.
var DefaultThresholds = []float64{0.50, 0.75, 0.90, 0.95}

// BudgetStatus is the result of a threshold check.
type BudgetStatus struct {
	Exceeded        bool    `json:"exceeded"`
	Threshold       float64 `json:"threshold"`
	PercentUsed     float64 `json:"percentUsed"`
	CurrentSpend    float64 `json:"currentSpend"`
	RemainingBudget float64 `json:"remainingBudget"`
}

// BudgetMonitor evaluates monthly spend against a fixed limit and an ordered
// set of alert thresholds. Per month it remembers the highest threshold
// already alerted, so each threshold fires at most once; a new calendar
// month starts clean.
type BudgetMonitor struct {
	mu         sync.Mutex
	tracker    *Tracker
	limit      float64
	thresholds []float64
	lastAlert  map[string]float64
}

// NewBudgetMonitor creates a monitor over the tracker's monthly spend.
// A non-positive limit falls back to DefaultMonthlyLimitUSD; nil thresholds
// fall back to DefaultThresholds.
func NewBudgetMonitor(tracker *Tracker, limitUSD float64, thresholds []float64) *BudgetMonitor {
	if limitUSD <= 0 {
		limitUSD = DefaultMonthlyLimitUSD
	}
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	return &BudgetMonitor{
		tracker:    tracker,
		limit:      limitUSD,
		thresholds: thresholds,
	}
}

// Limit returns the configured monthly limit in USD.
func (m *BudgetMonitor) Limit() float64 { return m.limit }

// Thresholds returns the configured alert thresholds as percentages.
func (m *BudgetMonitor) Thresholds() []float64 {
	out := make([]float64, len(m.thresholds))
	for i, t := range m.thresholds {
		out[i] = t * 100
	}
	return out
}

// CheckThreshold reports whether a new alert threshold has been crossed.
// The comparison is inclusive (percentUsed >= threshold*100), and only the
// highest threshold above the month's last-alerted level is reported. The
// check is pure: recording the alert is a separate step, so repeated calls
// with no new spend return the same answer.
func (m *BudgetMonitor) CheckThreshold() BudgetStatus {
	spend := m.tracker.MonthlySpend()
	percentUsed := spend / m.limit * 100

	m.mu.Lock()
	last := m.lastAlertFor(m.tracker.MonthKey())
	m.mu.Unlock()

	var crossed float64
	for _, t := range m.thresholds {
		if percentUsed >= t*100 && t > last {
			crossed = t
		}
	}

	return BudgetStatus{
		Exceeded:        crossed > 0,
		Threshold:       crossed,
		PercentUsed:     percentUsed,
		CurrentSpend:    spend,
		RemainingBudget: m.limit - spend,
	}
}

// RecordAlertSent stores the alerted threshold for the current month.
// The stored value only moves upward.
func (m *BudgetMonitor) RecordAlertSent(threshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	monthKey := m.tracker.MonthKey()
	if threshold > m.lastAlertFor(monthKey) {
		if m.lastAlert == nil {
			m.lastAlert = make(map[string]float64)
		}
		m.lastAlert[monthKey] = threshold
	}
}

// PruneOldState drops alert state for months outside the retention window,
// mirroring the tracker's monthly retention.
func (m *BudgetMonitor) PruneOldState() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, -keepMonths, 0)
	cutoffKey := cutoff.Format(monthKeyFormat)
	for key := range m.lastAlert {
		if key < cutoffKey {
			delete(m.lastAlert, key)
		}
	}
}

func (m *BudgetMonitor) lastAlertFor(monthKey string) float64 {
	if m.lastAlert == nil {
		return 0
	}
	return m.lastAlert[monthKey]
}
