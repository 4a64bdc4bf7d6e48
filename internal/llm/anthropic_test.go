package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compass/internal/agent/ports"
)

func sseBody(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString("data: ")
		b.WriteString(e)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestStreamCompleteTextAndToolUse(t *testing.T) {
	body := sseBody(
		`{"type":"message_start","message":{"usage":{"input_tokens":42}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Searching "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"now."}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_1","name":"search_trials"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"condition\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"melanoma\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"type":"message_delta","stop_reason":"tool_use"},"usage":{"output_tokens":17}}`,
		`{"type":"message_stop"}`,
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-model", Config{APIKey: "test-key", BaseURL: srv.URL})

	var deltas []string
	var starts []ports.ToolCallStart
	resp, err := client.StreamComplete(context.Background(), ports.CompletionRequest{
		Messages:  []ports.Message{{Role: "user", Content: "find trials"}},
		MaxTokens: 1024,
	}, ports.CompletionStreamCallbacks{
		OnContentDelta:  func(d ports.ContentDelta) { deltas = append(deltas, d.Delta) },
		OnToolCallStart: func(s ports.ToolCallStart) { starts = append(starts, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, "Searching now.", resp.Content)
	assert.Equal(t, ports.StopReasonToolUse, resp.StopReason)
	assert.Equal(t, 42, resp.Usage.InputTokens)
	assert.Equal(t, 17, resp.Usage.OutputTokens)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "search_trials", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"condition": "melanoma"}, resp.ToolCalls[0].Arguments)

	require.Len(t, starts, 1)
	assert.Equal(t, "search_trials", starts[0].Name)
	// Final delta marker arrives after the text fragments.
	assert.Equal(t, []string{"Searching ", "now.", ""}, deltas)
}

func TestStreamCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-model", Config{APIKey: "k", BaseURL: srv.URL})
	_, err := client.StreamComplete(context.Background(), ports.CompletionRequest{MaxTokens: 10}, ports.CompletionStreamCallbacks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestStreamCompleteErrorEvent(t *testing.T) {
	body := sseBody(`{"type":"error","error":{"type":"overloaded_error","message":"try later"}}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-model", Config{APIKey: "k", BaseURL: srv.URL})
	_, err := client.StreamComplete(context.Background(), ports.CompletionRequest{MaxTokens: 10}, ports.CompletionStreamCallbacks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "try later")
}

func TestSetContextWindowTogglesBetaHeader(t *testing.T) {
	var gotBeta string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBeta = r.Header.Get("anthropic-beta")
		_, _ = w.Write([]byte(sseBody(`{"type":"message_stop"}`)))
	}))
	defer srv.Close()

	client := NewAnthropicClient("test-model", Config{APIKey: "k", BaseURL: srv.URL})

	client.SetContextWindow(1_000_000)
	_, err := client.Complete(context.Background(), ports.CompletionRequest{MaxTokens: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, gotBeta)

	client.SetContextWindow(200_000)
	_, err = client.Complete(context.Background(), ports.CompletionRequest{MaxTokens: 10})
	require.NoError(t, err)
	assert.Empty(t, gotBeta)
}

func TestConvertMessagesToolRoundTrip(t *testing.T) {
	msgs := []ports.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "Let me check.", ToolCalls: []ports.ToolCall{
			{ID: "tu_1", Name: "get_trial_details", Arguments: map[string]any{"nct_id": "NCT01234567"}},
		}},
		{Role: "user", ToolResults: []ports.ToolResult{{CallID: "tu_1", Content: `{"ok":true}`}}},
	}

	wire := convertMessages(msgs)
	require.Len(t, wire, 3)

	assert.Equal(t, "text", wire[0].Content[0].Type)

	require.Len(t, wire[1].Content, 2)
	assert.Equal(t, "text", wire[1].Content[0].Type)
	assert.Equal(t, "tool_use", wire[1].Content[1].Type)
	assert.Equal(t, "tu_1", wire[1].Content[1].ID)

	require.Len(t, wire[2].Content, 1)
	assert.Equal(t, "tool_result", wire[2].Content[0].Type)
	assert.Equal(t, "tu_1", wire[2].Content[0].ToolUseID)
}

func TestParseToolArguments(t *testing.T) {
	assert.Equal(t, map[string]any{"a": float64(1)}, ParseToolArguments(`{"a":1}`))
	// Truncated JSON gets repaired rather than discarded.
	repaired := ParseToolArguments(`{"condition":"lung cancer"`)
	assert.Equal(t, "lung cancer", repaired["condition"])
	// Hopeless input falls back to an empty object.
	assert.Equal(t, map[string]any{}, ParseToolArguments(""))
}
