package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// streamBuffer bounds how far the upstream can run ahead of the relay.
const streamBuffer = 64

// HTTPProvider is an OpenAI-compatible chat-completions client.
type HTTPProvider struct {
	apiKey     string
	apiBase    string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider for the given API base URL.
// The client carries no timeout of its own; callers bound requests
// through the context.
func NewHTTPProvider(apiKey, apiBase string) *HTTPProvider {
	return &HTTPProvider{
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{},
	}
}

type chatCompletionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ChatStream opens a streaming completion request and delivers content
// fragments on the returned channel. The channel closes after [DONE], EOF,
// or a terminal chunk carrying the classified error.
func (p *HTTPProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if p.apiBase == "" {
		return nil, &UpstreamError{Code: CodeServiceUnavailable, Detail: "API base not configured"}
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &UpstreamError{
			Code:   classifyStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Detail: strings.TrimSpace(string(detail)),
		}
	}

	out := make(chan StreamChunk, streamBuffer)
	go p.readStream(ctx, resp.Body, out)
	return out, nil
}

// readStream parses the upstream SSE body line by line and forwards
// content deltas until [DONE], EOF, or failure.
func (p *HTTPProvider) readStream(ctx context.Context, body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed chunks are skipped, matching the lenient
			// treatment of provider keep-alives and vendor extras.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		select {
		case out <- StreamChunk{Content: content}:
		case <-ctx.Done():
			sendErr(out, classifyTransportError(ctx.Err()))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		sendErr(out, classifyTransportError(err))
	}
}

// sendErr delivers a terminal error chunk without blocking a consumer
// that has already gone away.
func sendErr(out chan<- StreamChunk, err error) {
	select {
	case out <- StreamChunk{Err: err}:
	default:
	}
}

// classifyTransportError maps connection-level failures to stable codes.
func classifyTransportError(err error) error {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Code: CodeServiceTimeout, Detail: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return &UpstreamError{Code: CodeServiceTimeout, Detail: err.Error()}
	}
	return &UpstreamError{Code: CodeServiceUnavailable, Detail: err.Error()}
}
