package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mujians/vantyx-assistant/pkg/config"
	"github.com/mujians/vantyx-assistant/pkg/providers"
	"github.com/mujians/vantyx-assistant/pkg/telemetry"
	"github.com/mujians/vantyx-assistant/pkg/usage"
)

type stubProvider struct {
	chunks  []providers.StreamChunk
	callErr error
}

func (p *stubProvider) ChatStream(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	if p.callErr != nil {
		return nil, p.callErr
	}
	ch := make(chan providers.StreamChunk, len(p.chunks))
	for _, c := range p.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type testEnv struct {
	server  *Server
	tracker *usage.Tracker
	monitor *usage.BudgetMonitor
}

func newTestEnv(t *testing.T, provider providers.LLMProvider) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	sink, err := telemetry.Init("", "test", logger)
	if err != nil {
		t.Fatalf("telemetry init: %v", err)
	}
	tracker := usage.NewTracker(logger)
	monitor := usage.NewBudgetMonitor(tracker, 0, nil)
	cfg := config.DefaultConfig().Server
	return &testEnv{
		server:  New(cfg, provider, tracker, monitor, sink, logger),
		tracker: tracker,
		monitor: monitor,
	}
}

func postChat(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, body string) apiError {
	t.Helper()
	var e apiError
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		t.Fatalf("decoding error body %q: %v", body, err)
	}
	return e
}

// sseLines extracts the data payloads from an SSE body in order.
func sseLines(t *testing.T, body string) []string {
	t.Helper()
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, strings.TrimPrefix(line, "data: "))
		}
	}
	return lines
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	long := strings.Repeat("a", maxMessageLength+1)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{messages}`, CodeInvalidRequestFormat},
		{"messages missing", `{"model":"gpt-4"}`, CodeInvalidRequestFormat},
		{"messages not array", `{"messages":"hi"}`, CodeInvalidRequestFormat},
		{"empty messages", `{"messages":[]}`, CodeEmptyMessage},
		{"message not object", `{"messages":["hi"]}`, CodeInvalidMessageFormat},
		{"role missing", `{"messages":[{"content":"hi"}]}`, CodeInvalidMessageFormat},
		{"bad role", `{"messages":[{"role":"wizard","content":"hi"}]}`, CodeInvalidMessageRole},
		{"content not string", `{"messages":[{"role":"user","content":42}]}`, CodeInvalidMessageContent},
		{"content blank", `{"messages":[{"role":"user","content":"   "}]}`, CodeInvalidMessageContent},
		{"content too long", `{"messages":[{"role":"user","content":"` + long + `"}]}`, CodeMessageTooLong},
		{"model blank", `{"messages":[{"role":"user","content":"hi"}],"model":" "}`, CodeInvalidModelParameter},
		{"model unknown", `{"messages":[{"role":"user","content":"hi"}],"model":"llama-7b"}`, CodeUnsupportedModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postChat(t, env.server, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := decodeError(t, w.Body.String()); got.Code != tt.code {
				t.Errorf("code = %s, want %s", got.Code, tt.code)
			}
		})
	}
}

func TestChatRejectsNonJSONContentType(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("messages=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChatRelaysStream(t *testing.T) {
	stub := &stubProvider{chunks: []providers.StreamChunk{
		{Content: "Hel"}, {Content: "lo"}, {Content: " world"},
	}}
	env := newTestEnv(t, stub)

	w := postChat(t, env.server, `{"messages":[{"role":"user","content":"ciao"}],"model":"gpt-3.5-turbo"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	lines := sseLines(t, w.Body.String())
	if len(lines) != 4 {
		t.Fatalf("got %d data lines, want 4: %v", len(lines), lines)
	}
	var full strings.Builder
	for _, line := range lines[:3] {
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("decoding %q: %v", line, err)
		}
		full.WriteString(ev.Content)
	}
	if full.String() != "Hello world" {
		t.Errorf("assembled = %q, want %q", full.String(), "Hello world")
	}
	if lines[3] != "[DONE]" {
		t.Errorf("terminator = %q, want [DONE]", lines[3])
	}
}

func TestChatSanitizesFragments(t *testing.T) {
	stub := &stubProvider{chunks: []providers.StreamChunk{
		{Content: `<b>ciao</b><script>alert(1)</script>`},
	}}
	env := newTestEnv(t, stub)

	w := postChat(t, env.server, `{"messages":[{"role":"user","content":"ciao"}]}`)
	lines := sseLines(t, w.Body.String())
	if len(lines) < 1 {
		t.Fatal("no data lines")
	}
	var ev streamEvent
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(ev.Content, "script") {
		t.Errorf("script survived sanitization: %q", ev.Content)
	}
	if !strings.Contains(ev.Content, "<b>ciao</b>") {
		t.Errorf("allowed markup stripped: %q", ev.Content)
	}
}

func TestChatUpstreamErrorBeforeStream(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{providers.CodeAuthError, http.StatusInternalServerError},
		{providers.CodeRateLimit, http.StatusTooManyRequests},
		{providers.CodeServiceUnavailable, http.StatusServiceUnavailable},
		{providers.CodeServiceError, http.StatusBadGateway},
		{providers.CodeServiceTimeout, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			env := newTestEnv(t, &stubProvider{callErr: &providers.UpstreamError{Code: tt.code}})
			w := postChat(t, env.server, `{"messages":[{"role":"user","content":"ciao"}]}`)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			got := decodeError(t, w.Body.String())
			if got.Code != tt.code {
				t.Errorf("code = %s, want %s", got.Code, tt.code)
			}
			if got.Error == "" || got.SuggestedAction == "" {
				t.Errorf("incomplete error body: %+v", got)
			}
		})
	}
}

// stalledProvider never answers; it returns the upstream timeout shape only
// once the request context has died under it.
type stalledProvider struct{}

func (stalledProvider) ChatStream(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	<-ctx.Done()
	return nil, &providers.UpstreamError{Code: providers.CodeServiceTimeout, Detail: ctx.Err().Error()}
}

func TestChatRelayDeadlineReportsRequestTimeout(t *testing.T) {
	logger := zap.NewNop()
	sink, _ := telemetry.Init("", "test", logger)
	tracker := usage.NewTracker(logger)
	monitor := usage.NewBudgetMonitor(tracker, 0, nil)
	cfg := config.DefaultConfig().Server
	cfg.RequestTimeoutS = 1
	srv := New(cfg, stalledProvider{}, tracker, monitor, sink, logger)

	w := postChat(t, srv, `{"messages":[{"role":"user","content":"ciao"}]}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
	got := decodeError(t, w.Body.String())
	if got.Code != CodeRequestTimeout {
		t.Errorf("code = %s, want %s", got.Code, CodeRequestTimeout)
	}
}

func TestChatMidStreamErrorFoldedIntoEvents(t *testing.T) {
	stub := &stubProvider{chunks: []providers.StreamChunk{
		{Content: "parz"},
		{Err: &providers.UpstreamError{Code: providers.CodeServiceError}},
	}}
	env := newTestEnv(t, stub)

	w := postChat(t, env.server, `{"messages":[{"role":"user","content":"ciao"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 once streaming began", w.Code)
	}
	lines := sseLines(t, w.Body.String())
	if len(lines) != 2 {
		t.Fatalf("got %d data lines, want 2: %v", len(lines), lines)
	}
	got := decodeError(t, lines[1])
	if got.Code != providers.CodeServiceError {
		t.Errorf("code = %s, want %s", got.Code, providers.CodeServiceError)
	}
}

func TestChatValidationRecordsNoUsage(t *testing.T) {
	logger := zap.NewNop()
	sink, _ := telemetry.Init("", "test", logger)
	tracker := usage.NewTracker(logger)
	monitor := usage.NewBudgetMonitor(tracker, 0, nil)
	tracked := providers.NewTrackedProvider(&stubProvider{}, tracker, monitor, sink, logger)
	srv := New(config.DefaultConfig().Server, tracked, tracker, monitor, sink, logger)

	w := postChat(t, srv, `{"messages":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := decodeError(t, w.Body.String()); got.Code != CodeEmptyMessage {
		t.Errorf("code = %s, want %s", got.Code, CodeEmptyMessage)
	}
	if n := tracker.MonthlySnapshot().TotalRequests; n != 0 {
		t.Errorf("recorded %d requests for a rejected call", n)
	}
}

func TestRateLimiterRejectsOverQuota(t *testing.T) {
	logger := zap.NewNop()
	sink, _ := telemetry.Init("", "test", logger)
	tracker := usage.NewTracker(logger)
	monitor := usage.NewBudgetMonitor(tracker, 0, nil)
	cfg := config.DefaultConfig().Server
	cfg.RateLimitPerHour = 2
	srv := New(cfg, &stubProvider{}, tracker, monitor, sink, logger)

	for i := 0; i < 2; i++ {
		if w := postChat(t, srv, `{"messages":[]}`); w.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d rejected within quota", i+1)
		}
	}
	w := postChat(t, srv, `{"messages":[]}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := decodeError(t, w.Body.String()); got.Code != CodeRateLimitExceeded {
		t.Errorf("code = %s, want %s", got.Code, CodeRateLimitExceeded)
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("missing Content-Security-Policy")
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubProvider{})
	for _, path := range []string{"/health", "/api/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", path, w.Code)
		}
		var body struct {
			Status    string `json:"status"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding %s body: %v", path, err)
		}
		if body.Status != "ok" {
			t.Errorf("%s status = %q", path, body.Status)
		}
		if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
			t.Errorf("%s timestamp %q: %v", path, body.Timestamp, err)
		}
	}
}

func TestUsageStatsShape(t *testing.T) {
	logger := zap.NewNop()
	sink, _ := telemetry.Init("", "test", logger)
	tracker := usage.NewTracker(logger)
	monitor := usage.NewBudgetMonitor(tracker, 50, nil)
	tracker.RecordRequest("gpt-4", 1000, 1000)
	srv := New(config.DefaultConfig().Server, &stubProvider{}, tracker, monitor, sink, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/usage-stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp usageStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Monthly.TotalRequests != 1 {
		t.Errorf("monthly requests = %d, want 1", resp.Monthly.TotalRequests)
	}
	// gpt-4 at 1000 in and 1000 out costs 0.03 + 0.06.
	if want := 0.09; resp.Monthly.TotalCost != want {
		t.Errorf("monthly cost = %v, want %v", resp.Monthly.TotalCost, want)
	}
	if resp.Monthly.BudgetLimit != 50 {
		t.Errorf("budget limit = %v, want 50", resp.Monthly.BudgetLimit)
	}
	if want := 50 - 0.09; resp.Monthly.RemainingBudget != want {
		t.Errorf("remaining = %v, want %v", resp.Monthly.RemainingBudget, want)
	}
	if resp.Daily.TotalRequests != 1 {
		t.Errorf("daily requests = %d, want 1", resp.Daily.TotalRequests)
	}
	if len(resp.Budget.Thresholds) == 0 {
		t.Error("budget thresholds empty")
	}
}

func TestEndToEndUsageRecorded(t *testing.T) {
	logger := zap.NewNop()
	sink, _ := telemetry.Init("", "test", logger)
	tracker := usage.NewTracker(logger)
	monitor := usage.NewBudgetMonitor(tracker, 0, nil)
	stub := &stubProvider{chunks: []providers.StreamChunk{
		{Content: "Hel"}, {Content: "lo"}, {Content: " world"},
	}}
	tracked := providers.NewTrackedProvider(stub, tracker, monitor, sink, logger)
	srv := New(config.DefaultConfig().Server, tracked, tracker, monitor, sink, logger)

	w := postChat(t, srv, `{"messages":[{"role":"user","content":"ciao"}],"model":"gpt-3.5-turbo"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	monthly := tracker.MonthlySnapshot()
	if monthly.TotalRequests != 1 {
		t.Fatalf("recorded %d requests, want 1", monthly.TotalRequests)
	}
	// "Hello world" is 11 characters, estimated at 3 output tokens.
	if monthly.TotalOutputTokens != 3 {
		t.Errorf("output tokens = %d, want 3", monthly.TotalOutputTokens)
	}
}
