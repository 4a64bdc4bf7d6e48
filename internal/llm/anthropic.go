// Package llm implements chat-completion clients for the conversation loop.
// The Anthropic client speaks the Messages API with server-sent-event
// streaming and tool use.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"compass/internal/agent/ports"
	"compass/internal/shared/logging"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com/v1"
	defaultAnthropicVersion   = "2023-06-01"
	anthropicVersionHeaderKey = "anthropic-version"
	anthropicBetaHeaderKey    = "anthropic-beta"
	anthropicAPIKeyHeaderKey  = "x-api-key"
	anthropicMessagesPath     = "/messages"

	// Context windows beyond the standard 200k require opting in.
	extendedContextBetaValue = "extended-context-2025-01-24"
	standardContextWindow    = 200_000
)

// Config carries client construction parameters.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Logger  logging.Logger
}

// AnthropicClient implements ports.StreamingLLMClient against the Messages API.
type AnthropicClient struct {
	model         string
	contextWindow int
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	logger        logging.Logger
	betaHeaders   map[string]string
}

var _ ports.StreamingLLMClient = (*AnthropicClient)(nil)

// NewAnthropicClient builds a streaming client for the given model.
func NewAnthropicClient(model string, cfg Config) *AnthropicClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicClient{
		model:         model,
		contextWindow: standardContextWindow,
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logging.OrNop(cfg.Logger),
		betaHeaders:   map[string]string{},
	}
}

// Model returns the model identifier.
func (c *AnthropicClient) Model() string { return c.model }

// ContextWindow returns the currently configured context window.
func (c *AnthropicClient) ContextWindow() int { return c.contextWindow }

// SetModel switches the model; the context window resets to the standard size.
func (c *AnthropicClient) SetModel(model string) {
	c.model = model
	c.SetContextWindow(standardContextWindow)
}

// SetContextWindow overrides the context window. Windows beyond the standard
// size enable the extended-context beta header; smaller ones clear it.
func (c *AnthropicClient) SetContextWindow(window int) {
	c.contextWindow = window
	if window > standardContextWindow {
		c.betaHeaders[anthropicBetaHeaderKey] = extendedContextBetaValue
	} else {
		delete(c.betaHeaders, anthropicBetaHeaderKey)
	}
}

// Complete sends a non-streaming request by draining the stream internally.
func (c *AnthropicClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	return c.StreamComplete(ctx, req, ports.CompletionStreamCallbacks{})
}

// StreamComplete streams the model's reply, invoking callbacks as the closed
// set of stream events arrives, and returns the assembled response.
func (c *AnthropicClient) StreamComplete(ctx context.Context, req ports.CompletionRequest, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	payload := map[string]any{
		"model":      c.model,
		"max_tokens": req.MaxTokens,
		"messages":   convertMessages(req.Messages),
		"stream":     true,
	}
	if req.System != "" {
		payload["system"] = req.System
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		payload["tools"] = convertTools(req.Tools)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + anthropicMessagesPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set(anthropicAPIKeyHeaderKey, c.apiKey)
	httpReq.Header.Set(anthropicVersionHeaderKey, defaultAnthropicVersion)
	for k, v := range c.betaHeaders {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("LLM request: model=%s messages=%d tools=%d", c.model, len(req.Messages), len(req.Tools))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llm request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	return c.consumeStream(resp.Body, callbacks)
}

// toolBlock accumulates one in-flight tool-use block.
type toolBlock struct {
	index int
	id    string
	name  string
	json  strings.Builder
}

func (c *AnthropicClient) consumeStream(r io.Reader, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	var (
		content    strings.Builder
		blocks     = map[int]*toolBlock{}
		stopReason string
		usage      ports.TokenUsage
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.logger.Warn("Skipping malformed stream event: %v", err)
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				blocks[event.Index] = &toolBlock{
					index: event.Index,
					id:    event.ContentBlock.ID,
					name:  event.ContentBlock.Name,
				}
				if callbacks.OnToolCallStart != nil {
					callbacks.OnToolCallStart(ports.ToolCallStart{
						Index: event.Index,
						ID:    event.ContentBlock.ID,
						Name:  event.ContentBlock.Name,
					})
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				content.WriteString(event.Delta.Text)
				if callbacks.OnContentDelta != nil {
					callbacks.OnContentDelta(ports.ContentDelta{Delta: event.Delta.Text})
				}
			case "input_json_delta":
				if block, ok := blocks[event.Index]; ok {
					block.json.WriteString(event.Delta.PartialJSON)
					if callbacks.OnToolCallDelta != nil {
						callbacks.OnToolCallDelta(ports.ToolCallDelta{
							Index:       event.Index,
							PartialJSON: event.Delta.PartialJSON,
						})
					}
				}
			}

		case "content_block_stop":
			if _, ok := blocks[event.Index]; ok && callbacks.OnToolCallStop != nil {
				callbacks.OnToolCallStop(ports.ToolCallStop{Index: event.Index})
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "error":
			msg := "stream error"
			if event.Error != nil && event.Error.Message != "" {
				msg = event.Error.Message
			}
			return nil, fmt.Errorf("llm stream: %s", msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	if callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ports.ContentDelta{Final: true})
	}

	indices := make([]int, 0, len(blocks))
	for i := range blocks {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	toolCalls := make([]ports.ToolCall, 0, len(blocks))
	for _, i := range indices {
		block := blocks[i]
		toolCalls = append(toolCalls, ports.ToolCall{
			ID:        block.id,
			Name:      block.name,
			Arguments: ParseToolArguments(block.json.String()),
		})
	}

	if stopReason == "" {
		stopReason = ports.StopReasonEndTurn
	}

	c.logger.Debug("LLM response: stop=%s content=%d chars tool_calls=%d usage=%d/%d",
		stopReason, content.Len(), len(toolCalls), usage.InputTokens, usage.OutputTokens)

	return &ports.CompletionResponse{
		Content:    content.String(),
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

type streamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index"`
	Message      *eventMessage `json:"message,omitempty"`
	ContentBlock *eventBlock   `json:"content_block,omitempty"`
	Delta        *eventDelta   `json:"delta,omitempty"`
	Usage        *eventUsage   `json:"usage,omitempty"`
	Error        *eventError   `json:"error,omitempty"`
}

type eventMessage struct {
	Usage eventUsage `json:"usage"`
}

type eventBlock struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type eventDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type eventUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type eventError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

func convertMessages(msgs []ports.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, msg := range msgs {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role == "" {
			continue
		}

		var blocks []wireBlock
		if len(msg.ToolResults) > 0 {
			for _, result := range msg.ToolResults {
				blocks = append(blocks, wireBlock{
					Type:      "tool_result",
					ToolUseID: result.CallID,
					Content:   result.Content,
				})
			}
		} else if strings.TrimSpace(msg.Content) != "" {
			blocks = append(blocks, wireBlock{Type: "text", Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			input := call.Arguments
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, wireBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Name,
				Input: input,
			})
		}
		if len(blocks) == 0 {
			continue
		}
		out = append(out, wireMessage{Role: role, Content: blocks})
	}
	return out
}

func convertTools(tools []ports.ToolDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		out = append(out, map[string]any{
			"name":         tool.Name,
			"description":  tool.Description,
			"input_schema": tool.InputSchema,
		})
	}
	return out
}
