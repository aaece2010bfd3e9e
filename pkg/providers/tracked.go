package providers

import (
	"context"

	"go.uber.org/zap"

	"github.com/mujians/vantyx-assistant/pkg/usage"
)

// AlertNotifier receives budget alerts for newly crossed thresholds.
type AlertNotifier interface {
	BudgetAlert(monthKey string, status usage.BudgetStatus)
}

// TrackedProvider wraps an LLMProvider and records usage for every stream
// it relays. It implements the same capability surface as the raw client
// and delegates after metering, so tracking is composition, not
// interception.
//
// Recording happens exactly once per stream: on clean completion, or on an
// upstream error after at least one fragment was delivered. A failure with
// zero fragments, or a caller-side cancellation/timeout, records nothing.
type TrackedProvider struct {
	inner    LLMProvider
	tracker  *usage.Tracker
	monitor  *usage.BudgetMonitor
	notifier AlertNotifier
	logger   *zap.Logger
}

// NewTrackedProvider decorates inner with usage tracking and budget checks.
// The notifier may be nil when no alert channel is wired.
func NewTrackedProvider(inner LLMProvider, tracker *usage.Tracker, monitor *usage.BudgetMonitor, notifier AlertNotifier, logger *zap.Logger) *TrackedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackedProvider{
		inner:    inner,
		tracker:  tracker,
		monitor:  monitor,
		notifier: notifier,
		logger:   logger,
	}
}

// ChatStream delegates to the inner provider and meters the stream.
func (p *TrackedProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	inputTokens := estimateInputTokens(req.Messages)

	stream, err := p.inner.ChatStream(ctx, req)
	if err != nil {
		// Immediate connection failure, nothing was emitted: not recorded.
		return nil, err
	}

	out := make(chan StreamChunk, streamBuffer)
	go func() {
		defer close(out)

		fragments := 0
		outputChars := 0
		var streamErr error

		for chunk := range stream {
			if chunk.Err != nil {
				streamErr = chunk.Err
			} else {
				fragments++
				outputChars += len(chunk.Content)
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				// Timed-out or abandoned request: drain and skip recording.
				for range stream {
				}
				return
			}
		}

		if streamErr != nil && fragments == 0 {
			return
		}
		if ctx.Err() != nil {
			return
		}

		outputTokens := (outputChars + 3) / 4
		res := p.tracker.RecordRequest(req.Model, inputTokens, outputTokens)
		p.logger.Debug("stream usage recorded",
			zap.String("model", req.Model),
			zap.Int("input_tokens", inputTokens),
			zap.Int("output_tokens", outputTokens),
			zap.Float64("cost_usd", res.Cost),
			zap.Bool("partial", streamErr != nil),
		)

		p.checkBudget()
	}()

	return out, nil
}

func (p *TrackedProvider) checkBudget() {
	if p.monitor == nil {
		return
	}
	status := p.monitor.CheckThreshold()
	if !status.Exceeded {
		return
	}

	monthKey := p.tracker.MonthKey()
	p.logger.Warn("budget threshold crossed",
		zap.String("month", monthKey),
		zap.Float64("threshold", status.Threshold),
		zap.Float64("current_spend_usd", status.CurrentSpend),
		zap.Float64("remaining_usd", status.RemainingBudget),
		zap.Float64("percent_used", status.PercentUsed),
	)
	p.monitor.RecordAlertSent(status.Threshold)
	if p.notifier != nil {
		p.notifier.BudgetAlert(monthKey, status)
	}
}

// estimateInputTokens approximates prompt size from the total character
// count of the outgoing messages, one token per four characters.
func estimateInputTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	if total == 0 {
		return 0
	}
	return (total + 3) / 4
}
