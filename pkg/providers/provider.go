// Package providers talks to the upstream chat-completion service and
// decorates the raw client with usage tracking and a circuit breaker.
package providers

import (
	"context"
	"fmt"
)

// Message is one element of the outgoing conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a streaming completion request.
type ChatRequest struct {
	Model    string
	Messages []Message
}

// StreamChunk is one event from an upstream stream. Either Content is a
// text fragment, or Err reports a mid-stream failure; the channel closes
// after the terminal chunk.
type StreamChunk struct {
	Content string
	Err     error
}

// LLMProvider is the capability surface of the upstream completion service.
// ChatStream returns an error for failures before any output; failures
// after the stream has started arrive as a final chunk with Err set.
type LLMProvider interface {
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// Stable error codes for upstream failures, surfaced to clients unchanged.
const (
	CodeServiceTimeout     = "AI_SERVICE_TIMEOUT"
	CodeServiceUnavailable = "AI_SERVICE_UNAVAILABLE"
	CodeAuthError          = "AI_AUTH_ERROR"
	CodeRateLimit          = "AI_RATE_LIMIT"
	CodeInvalidRequest     = "AI_INVALID_REQUEST"
	CodeServiceError       = "AI_SERVICE_ERROR"
)

// UpstreamError classifies a failure of the upstream service.
type UpstreamError struct {
	Code   string // one of the Code* constants
	Status int    // upstream HTTP status, 0 for transport-level failures
	Detail string
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s (status %d): %s", e.Code, e.Status, e.Detail)
	}
	return fmt.Sprintf("upstream %s: %s", e.Code, e.Detail)
}

// classifyStatus maps an upstream HTTP status to a stable error code.
func classifyStatus(status int) string {
	switch {
	case status == 401:
		return CodeAuthError
	case status == 429:
		return CodeRateLimit
	case status == 400:
		return CodeInvalidRequest
	case status >= 500:
		return CodeServiceError
	default:
		return CodeServiceError
	}
}
