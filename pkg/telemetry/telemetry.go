// Package telemetry reports errors and budget alerts to Sentry.
// Without a DSN the sink stays disabled and every call is a no-op, so the
// rest of the system never branches on whether telemetry is configured.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/mujians/vantyx-assistant/pkg/usage"
)

// Sink forwards exceptions and alert messages to Sentry.
type Sink struct {
	enabled bool
	logger  *zap.Logger
}

// Init configures the global Sentry client. An empty DSN yields a disabled
// sink rather than an error.
func Init(dsn, environment string, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		logger.Info("telemetry disabled, no DSN configured")
		return &Sink{logger: logger}, nil
	}

	sampleRate := 1.0
	if environment == "production" {
		sampleRate = 0.1
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		TracesSampleRate: sampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}

	logger.Info("telemetry enabled", zap.String("environment", environment))
	return &Sink{enabled: true, logger: logger}, nil
}

// CaptureError reports an exception with structured tags and extras.
func (s *Sink) CaptureError(err error, tags map[string]string, extra map[string]interface{}) {
	if s == nil || !s.enabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		for k, v := range extra {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// BudgetAlert reports a crossed budget threshold. Thresholds from 90%
// upward are raised at error level, the rest as warnings.
func (s *Sink) BudgetAlert(monthKey string, status usage.BudgetStatus) {
	if s == nil || !s.enabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		level := sentry.LevelWarning
		if status.Threshold >= 0.9 {
			level = sentry.LevelError
		}
		scope.SetLevel(level)
		scope.SetTag("month", monthKey)
		scope.SetTag("threshold", fmt.Sprintf("%.0f%%", status.Threshold*100))
		scope.SetTag("alert_type", "budget_monitoring")
		scope.SetExtra("currentSpend", status.CurrentSpend)
		scope.SetExtra("remainingBudget", status.RemainingBudget)
		scope.SetExtra("percentUsed", status.PercentUsed)
		sentry.CaptureMessage(fmt.Sprintf("budget alert: %.0f%% threshold exceeded", status.Threshold*100))
	})
}

// Close flushes buffered events before shutdown.
func (s *Sink) Close() {
	if s == nil || !s.enabled {
		return
	}
	sentry.Flush(2 * time.Second)
}
