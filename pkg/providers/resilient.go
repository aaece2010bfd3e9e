package providers

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientProvider guards the upstream call with a circuit breaker so a
// failing AI service sheds load fast instead of tying up relay requests.
type ResilientProvider struct {
	inner LLMProvider
	cb    *gobreaker.CircuitBreaker
}

// NewResilientProvider wraps inner with a circuit breaker. The breaker
// trips after repeated failures and recovers through a half-open probe.
func NewResilientProvider(inner LLMProvider, logger *zap.Logger) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream-llm",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &ResilientProvider{inner: inner, cb: cb}
}

// ChatStream delegates through the breaker. An open breaker surfaces as
// service unavailability, which clients treat as transient.
func (p *ResilientProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	res, err := p.cb.Execute(func() (interface{}, error) {
		return p.inner.ChatStream(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &UpstreamError{Code: CodeServiceUnavailable, Detail: "upstream circuit open"}
		}
		return nil, err
	}
	return res.(<-chan StreamChunk), nil
}
