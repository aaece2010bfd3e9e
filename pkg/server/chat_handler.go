package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mujians/vantyx-assistant/pkg/providers"
	"github.com/mujians/vantyx-assistant/pkg/sanitize"
)

const (
	maxMessageLength = 10000
	defaultModel     = "gpt-4"
)

var allowedModels = map[string]bool{
	"gpt-4":         true,
	"gpt-4-turbo":   true,
	"gpt-3.5-turbo": true,
}

var allowedRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

// streamEvent is one SSE data payload carrying a content fragment.
type streamEvent struct {
	Content string `json:"content"`
}

// validateChatRequest parses and validates the request body. Checks run in a
// fixed order so the first violation determines the reported code.
func validateChatRequest(body []byte) (providers.ChatRequest, string) {
	var req struct {
		Messages []json.RawMessage `json:"messages"`
		Model    *string           `json:"model"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Messages == nil {
		return providers.ChatRequest{}, CodeInvalidRequestFormat
	}
	if len(req.Messages) == 0 {
		return providers.ChatRequest{}, CodeEmptyMessage
	}

	messages := make([]providers.Message, 0, len(req.Messages))
	for _, raw := range req.Messages {
		var msg struct {
			Role    *string         `json:"role"`
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Role == nil {
			return providers.ChatRequest{}, CodeInvalidMessageFormat
		}
		if !allowedRoles[*msg.Role] {
			return providers.ChatRequest{}, CodeInvalidMessageRole
		}
		var content string
		if err := json.Unmarshal(msg.Content, &content); err != nil || strings.TrimSpace(content) == "" {
			return providers.ChatRequest{}, CodeInvalidMessageContent
		}
		if len(content) > maxMessageLength {
			return providers.ChatRequest{}, CodeMessageTooLong
		}
		messages = append(messages, providers.Message{
			Role:    *msg.Role,
			Content: sanitize.Text(content),
		})
	}

	model := defaultModel
	if req.Model != nil {
		if strings.TrimSpace(*req.Model) == "" {
			return providers.ChatRequest{}, CodeInvalidModelParameter
		}
		model = *req.Model
	}
	if !allowedModels[model] {
		return providers.ChatRequest{}, CodeUnsupportedModel
	}

	return providers.ChatRequest{Model: model, Messages: messages}, ""
}

// handleChat validates the request and relays the upstream stream to the
// client as SSE. Error handling switches shape once headers are out: before
// streaming starts failures are plain JSON, afterwards they are folded into
// the event channel as an error-shaped data line.
func (s *Server) handleChat(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		chatRequests.WithLabelValues(outcomeValidation).Inc()
		status, payload := errorByCode(CodeInvalidRequestFormat)
		c.JSON(status, payload)
		return
	}

	req, code := validateChatRequest(body)
	if code != "" {
		chatRequests.WithLabelValues(outcomeValidation).Inc()
		status, payload := errorByCode(code)
		c.JSON(status, payload)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	stream, err := s.provider.ChatStream(ctx, req)
	if err != nil {
		chatRequests.WithLabelValues(outcomeUpstream).Inc()
		s.logger.Error("upstream request failed",
			zap.String("model", req.Model),
			zap.Error(err))
		s.sink.CaptureError(err,
			map[string]string{"endpoint": "chat", "model": req.Model},
			map[string]interface{}{"messageCount": len(req.Messages)})
		status, payload := errorForUpstream(err)
		// The relay's own deadline expiring is reported as REQUEST_TIMEOUT,
		// not as whatever the provider made of the dead context.
		if ctx.Err() == context.DeadlineExceeded {
			status, payload = errorByCode(CodeRequestTimeout)
		}
		c.JSON(status, payload)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	activeStreams.Inc()
	defer activeStreams.Dec()

	for {
		select {
		case <-ctx.Done():
			chatRequests.WithLabelValues(outcomeTimeout).Inc()
			s.logger.Warn("relay deadline exceeded", zap.String("model", req.Model))
			_, payload := errorByCode(CodeRequestTimeout)
			s.writeEvent(c, payload)
			return
		case chunk, ok := <-stream:
			if !ok {
				chatRequests.WithLabelValues(outcomeOK).Inc()
				s.writeDone(c)
				return
			}
			if chunk.Err != nil {
				chatRequests.WithLabelValues(outcomeUpstream).Inc()
				s.logger.Error("upstream stream failed",
					zap.String("model", req.Model),
					zap.Error(chunk.Err))
				s.sink.CaptureError(chunk.Err,
					map[string]string{"endpoint": "chat", "model": req.Model},
					map[string]interface{}{"messageCount": len(req.Messages)})
				_, payload := errorForUpstream(chunk.Err)
				s.writeEvent(c, payload)
				return
			}
			chatFragments.Inc()
			s.writeEvent(c, streamEvent{Content: sanitize.HTML(chunk.Content)})
		}
	}
}

// writeEvent serializes one SSE data line and flushes it immediately.
func (s *Server) writeEvent(c *gin.Context, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("event marshal failed", zap.Error(err))
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

func (s *Server) writeDone(c *gin.Context) {
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}
