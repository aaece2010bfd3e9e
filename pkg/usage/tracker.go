package usage

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mujians/vantyx-assistant/pkg/pricing"
)

// Period key formats: days bucket as YYYY-MM-DD, months as YYYY-MM.
const (
	dateKeyFormat  = "2006-01-02"
	monthKeyFormat = "2006-01"
)

// Retention windows for PruneOldData.
const (
	keepMonths = 3
	keepDays   = 30
)

// PeriodTotals aggregates cost and token counts for one period bucket.
type PeriodTotals struct {
	TotalCost         float64 `json:"totalCost"`
	TotalRequests     int     `json:"totalRequests"`
	TotalInputTokens  int     `json:"totalInputTokens"`
	TotalOutputTokens int     `json:"totalOutputTokens"`
}

// ModelUsage is the per-model breakdown inside a monthly bucket.
type ModelUsage struct {
	Requests     int     `json:"requests"`
	Cost         float64 `json:"cost"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
}

// MonthlyUsage is a monthly aggregate with its per-model breakdown.
type MonthlyUsage struct {
	PeriodTotals
	Models map[string]ModelUsage `json:"models"`
}

// RecordResult is returned by RecordRequest with the request's cost and
// the updated aggregates.
type RecordResult struct {
	Cost    float64
	Monthly MonthlyUsage
	Daily   PeriodTotals
}

// Tracker accumulates request usage in memory, bucketed by day and month.
// It is safe for concurrent use; all aggregate updates hold the mutex.
// Construct one per process and inject it where needed — there is no
// package-level instance.
type Tracker struct {
	mu      sync.Mutex
	logger  *zap.Logger
	now     func() time.Time
	daily   map[string]*PeriodTotals
	monthly map[string]*MonthlyUsage
}

// NewTracker creates an empty usage tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		logger:  logger,
		now:     time.Now,
		daily:   make(map[string]*PeriodTotals),
		monthly: make(map[string]*MonthlyUsage),
	}
}

func (t *Tracker) dateKey() string  { return t.now().Format(dateKeyFormat) }
func (t *Tracker) monthKey() string { return t.now().Format(monthKeyFormat) }

// MonthKey returns the current monthly period key (YYYY-MM).
func (t *Tracker) MonthKey() string { return t.monthKey() }

// DateKey returns the current daily period key (YYYY-MM-DD).
func (t *Tracker) DateKey() string { return t.dateKey() }

// RecordRequest adds one completed request to the current daily and monthly
// aggregates and to the monthly per-model breakdown.
//
// Callers must invoke this exactly once per logical request: twice
// double-counts, zero times breaks budget enforcement. The streaming path
// guarantees this via the tracked provider decorator.
func (t *Tracker) RecordRequest(model string, inputTokens, outputTokens int) RecordResult {
	cost := pricing.Cost(t.logger, model, inputTokens, outputTokens)

	t.mu.Lock()
	defer t.mu.Unlock()

	monthKey := t.monthKey()
	monthly, ok := t.monthly[monthKey]
	if !ok {
		monthly = &MonthlyUsage{Models: make(map[string]ModelUsage)}
		t.monthly[monthKey] = monthly
	}
	monthly.TotalCost += cost
	monthly.TotalRequests++
	monthly.TotalInputTokens += inputTokens
	monthly.TotalOutputTokens += outputTokens

	mu := monthly.Models[model]
	mu.Requests++
	mu.Cost += cost
	mu.InputTokens += inputTokens
	mu.OutputTokens += outputTokens
	monthly.Models[model] = mu

	dateKey := t.dateKey()
	daily, ok := t.daily[dateKey]
	if !ok {
		daily = &PeriodTotals{}
		t.daily[dateKey] = daily
	}
	daily.TotalCost += cost
	daily.TotalRequests++
	daily.TotalInputTokens += inputTokens
	daily.TotalOutputTokens += outputTokens

	t.logger.Info("recorded usage",
		zap.String("model", model),
		zap.Int("input_tokens", inputTokens),
		zap.Int("output_tokens", outputTokens),
		zap.Float64("cost_usd", cost),
		zap.Float64("month_total_usd", monthly.TotalCost),
		zap.Int("month_requests", monthly.TotalRequests),
	)

	return RecordResult{
		Cost:    cost,
		Monthly: copyMonthly(monthly),
		Daily:   *daily,
	}
}

// MonthlySnapshot returns a copy of the current month's aggregate,
// zero-valued when nothing has been recorded yet.
func (t *Tracker) MonthlySnapshot() MonthlyUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m, ok := t.monthly[t.monthKey()]; ok {
		return copyMonthly(m)
	}
	return MonthlyUsage{Models: map[string]ModelUsage{}}
}

// DailySnapshot returns a copy of the current day's aggregate,
// zero-valued when nothing has been recorded yet.
func (t *Tracker) DailySnapshot() PeriodTotals {
	t.mu.Lock()
	defer t.mu.Unlock()

	if d, ok := t.daily[t.dateKey()]; ok {
		return *d
	}
	return PeriodTotals{}
}

// MonthlySpend returns the current month's total cost.
func (t *Tracker) MonthlySpend() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m, ok := t.monthly[t.monthKey()]; ok {
		return m.TotalCost
	}
	return 0
}

// PruneOldData drops monthly aggregates older than three calendar months
// and daily aggregates older than thirty days. Returns the number of
// buckets removed. Purely housekeeping; the lock is held only briefly.
func (t *Tracker) PruneOldData() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	monthCutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -keepMonths, 0)
	dayCutoff := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -keepDays)

	removed := 0
	for key := range t.monthly {
		kt, err := time.Parse(monthKeyFormat, key)
		if err != nil || kt.Before(monthCutoff) {
			delete(t.monthly, key)
			removed++
		}
	}
	for key := range t.daily {
		kt, err := time.Parse(dateKeyFormat, key)
		if err != nil || kt.Before(dayCutoff) {
			delete(t.daily, key)
			removed++
		}
	}

	if removed > 0 {
		t.logger.Info("pruned old usage data", zap.Int("buckets", removed))
	}
	return removed
}

func copyMonthly(m *MonthlyUsage) MonthlyUsage {
	out := MonthlyUsage{
		PeriodTotals: m.PeriodTotals,
		Models:       make(map[string]ModelUsage, len(m.Models)),
	}
	for k, v := range m.Models {
		out.Models[k] = v
	}
	return out
}
