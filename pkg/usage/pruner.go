package usage

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultPruneSchedule runs retention pruning once a day.
const DefaultPruneSchedule = "@daily"

// Pruner runs tracker retention on a cron schedule. It has an explicit
// Start/Stop lifecycle owned by the composition root; it never blocks
// request handling, since pruning takes the tracker lock only briefly.
type Pruner struct {
	tracker  *Tracker
	monitor  *BudgetMonitor
	schedule string
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewPruner creates a pruner for the given tracker and monitor.
// An empty schedule falls back to DefaultPruneSchedule.
func NewPruner(tracker *Tracker, monitor *BudgetMonitor, schedule string, logger *zap.Logger) *Pruner {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{
		tracker:  tracker,
		monitor:  monitor,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start schedules the pruning job and starts the cron runner.
func (p *Pruner) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if _, err := cron.ParseStandard(p.schedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.schedule, err)
	}
	if _, err := p.cron.AddFunc(p.schedule, p.runOnce); err != nil {
		return fmt.Errorf("schedule prune job: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.logger.Info("usage pruner started", zap.String("schedule", p.schedule))
	return nil
}

// Stop stops the cron runner and waits for a running job to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.running = false
	p.logger.Info("usage pruner stopped")
}

func (p *Pruner) runOnce() {
	removed := p.tracker.PruneOldData()
	if p.monitor != nil {
		p.monitor.PruneOldState()
	}
	if removed > 0 {
		p.logger.Info("retention prune completed", zap.Int("buckets_removed", removed))
	}
}
