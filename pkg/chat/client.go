package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mujians/vantyx-assistant/pkg/sanitize"
)

const (
	historyWindow = 10
	maxAttempts   = 3
)

// retryDelays is the backoff table; with three attempts only the first two
// delays are consumed.
var retryDelays = [...]time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

var (
	ErrBusy    = errors.New("a send is already in progress")
	ErrOffline = errors.New("offline")
)

// Message is one entry of the conversation.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Cached  bool   `json:"cached,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithConnectivityProbe replaces the check run before the first attempt.
// A negative probe fails the send immediately, skipping all retries.
func WithConnectivityProbe(probe func() bool) Option {
	return func(c *Client) { c.online = probe }
}

func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithFragmentHandler registers a callback invoked after every update to
// the in-progress assistant message.
func WithFragmentHandler(fn func(Message)) Option {
	return func(c *Client) { c.onFragment = fn }
}

func WithSystemContext(s string) Option {
	return func(c *Client) { c.systemContext = s }
}

// Client drives the conversation against the relay: one send at a time,
// cache lookup first, then up to three streaming attempts with backoff.
type Client struct {
	httpClient    *http.Client
	serverURL     string
	model         string
	cache         *ResponseCache
	logger        *zap.Logger
	online        func() bool
	sleep         func(context.Context, time.Duration) error
	onFragment    func(Message)
	systemContext string

	mu        sync.Mutex
	messages  []Message
	lastError string
	loading   bool
}

func NewClient(serverURL, model string, cache *ResponseCache, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{},
		serverURL:     strings.TrimRight(serverURL, "/"),
		model:         model,
		cache:         cache,
		logger:        logger,
		sleep:         sleepCtx,
		systemContext: baseSystemContext,
	}
	c.online = defaultProbe(c.serverURL)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Messages returns a copy of the conversation so far.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Reset clears the conversation and any surfaced error.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.lastError = ""
}

// Send submits one user message and returns the assistant's reply. Only one
// send may be in flight; concurrent calls fail with ErrBusy.
func (c *Client) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, errors.New("empty message")
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return Message{}, ErrBusy
	}
	c.loading = true
	c.lastError = ""
	userMsg := Message{ID: uuid.NewString(), Role: "user", Content: text}
	c.messages = append(c.messages, userMsg)
	outbound := c.outboundLocked()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	if answer, ok := c.cache.Get(text); ok {
		reply := Message{ID: uuid.NewString(), Role: "assistant", Content: answer, Cached: true}
		c.append(reply)
		c.notify(reply)
		return reply, nil
	}

	if !c.online() {
		c.setError(msgOffline)
		return Message{}, ErrOffline
	}

	var lastErr *requestError
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, retryDelays[attempt-1]); err != nil {
				c.setError(msgGeneric)
				return Message{}, err
			}
		}
		reply, rerr := c.attempt(ctx, outbound)
		if rerr == nil {
			if reply.Content != "" {
				c.cache.Put(text, reply.Content)
			}
			return reply, nil
		}
		lastErr = rerr
		c.logger.Warn("send attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(rerr))
		if !retryable(rerr) {
			break
		}
	}

	c.setError(userMessage(lastErr))
	return Message{}, lastErr
}

// outboundLocked builds the wire payload: system context, then the trailing
// window of prior conversation, then the current user message (already
// appended to c.messages). Caller holds c.mu.
func (c *Client) outboundLocked() []wireMessage {
	out := []wireMessage{{Role: "system", Content: c.systemContext}}

	prior := c.messages[:len(c.messages)-1]
	if len(prior) > historyWindow {
		prior = prior[len(prior)-historyWindow:]
	}
	for _, m := range prior {
		out = append(out, wireMessage{Role: m.Role, Content: m.Content})
	}
	current := c.messages[len(c.messages)-1]
	return append(out, wireMessage{Role: current.Role, Content: current.Content})
}

// attempt performs one streaming request. The assistant message grows in
// place as fragments arrive; on any failure it is removed again so a retry
// starts from a clean conversation.
func (c *Client) attempt(ctx context.Context, outbound []wireMessage) (Message, *requestError) {
	payload, err := json.Marshal(map[string]interface{}{
		"messages": outbound,
		"model":    c.model,
	})
	if err != nil {
		return Message{}, &requestError{cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return Message{}, &requestError{cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Message{}, &requestError{cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body serverErrorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, &body)
		return Message{}, &requestError{status: resp.StatusCode, body: body}
	}

	reply := Message{ID: uuid.NewString(), Role: "assistant"}
	c.append(reply)

	var done bool
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			done = true
			break
		}
		var event struct {
			Content string `json:"content"`
			Error   string `json:"error"`
			Code    string `json:"code"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.logger.Debug("skipping malformed event", zap.String("data", data))
			continue
		}
		if event.Code != "" || event.Error != "" {
			c.remove(reply.ID)
			return Message{}, &requestError{
				status: http.StatusOK,
				body:   serverErrorBody{Error: event.Error, Code: event.Code},
			}
		}
		// Fragments are sanitized again on arrival; the conversation must
		// stay clean even against a relay that skips its own pass.
		reply.Content += sanitize.HTML(event.Content)
		c.update(reply)
		c.notify(reply)
	}
	if err := scanner.Err(); err != nil {
		c.remove(reply.ID)
		return Message{}, &requestError{cause: err}
	}
	if !done {
		c.remove(reply.ID)
		return Message{}, &requestError{cause: fmt.Errorf("stream ended early: %w", io.ErrUnexpectedEOF)}
	}
	return reply, nil
}

// retryable reports whether an attempt is worth repeating. Client-side
// request defects are final; transport failures, rate limiting and server
// trouble are transient.
func retryable(err *requestError) bool {
	if err.status == 0 || err.status == http.StatusOK {
		return true
	}
	if err.status == http.StatusTooManyRequests {
		return true
	}
	return err.status >= http.StatusInternalServerError
}

func (c *Client) append(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

func (c *Client) update(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == m.ID {
			c.messages[i] = m
			return
		}
	}
}

func (c *Client) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

func (c *Client) setError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = msg
}

func (c *Client) notify(m Message) {
	if c.onFragment != nil {
		c.onFragment(m)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// defaultProbe checks reachability of the relay host with a short dial.
func defaultProbe(serverURL string) func() bool {
	return func() bool {
		u, err := url.Parse(serverURL)
		if err != nil {
			return true
		}
		host := u.Host
		if u.Port() == "" {
			port := "80"
			if u.Scheme == "https" {
				port = "443"
			}
			host = net.JoinHostPort(u.Hostname(), port)
		}
		conn, err := net.DialTimeout("tcp", host, 1500*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}
