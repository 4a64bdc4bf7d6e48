package ports

import "context"

// LLMClient represents any chat-completion provider with tool calling.
type LLMClient interface {
	// Complete sends messages and returns a response (non-streaming).
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the model identifier.
	Model() string
}

// StreamingLLMClient extends LLMClient with incremental delivery of the
// response while it is generated.
type StreamingLLMClient interface {
	LLMClient
	StreamComplete(ctx context.Context, req CompletionRequest, callbacks CompletionStreamCallbacks) (*CompletionResponse, error)
}

// CompletionRequest contains all parameters for an LLM completion.
type CompletionRequest struct {
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// Stop reasons reported by the provider.
const (
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
	StopReasonEndTurn   = "end_turn"
)

// CompletionResponse is the LLM's full response once streaming finished.
type CompletionResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption for one model turn.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ContentDelta is a streamed assistant text fragment.
type ContentDelta struct {
	Delta string
	Final bool
}

// ToolCallStart announces a new tool-use block in the stream.
type ToolCallStart struct {
	Index int
	ID    string
	Name  string
}

// ToolCallDelta carries a fragment of the tool call's serialized input. The
// accumulated payload is only valid JSON once ToolCallStop arrives.
type ToolCallDelta struct {
	Index       int
	PartialJSON string
}

// ToolCallStop marks a tool-use block complete.
type ToolCallStop struct {
	Index int
}

// CompletionStreamCallbacks captures optional hooks invoked while streaming an
// LLM response. All callbacks are optional; nil functions are ignored.
type CompletionStreamCallbacks struct {
	OnContentDelta  func(ContentDelta)
	OnToolCallStart func(ToolCallStart)
	OnToolCallDelta func(ToolCallDelta)
	OnToolCallStop  func(ToolCallStop)
}

// Message is one turn of the conversation transcript.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// IsToolResult reports whether the message is a user-role tool-result bundle.
func (m Message) IsToolResult() bool {
	return m.Role == "user" && len(m.ToolResults) > 0
}

// HasToolCalls reports whether the message is an assistant turn requesting
// tool execution.
func (m Message) HasToolCalls() bool {
	return m.Role == "assistant" && len(m.ToolCalls) > 0
}
