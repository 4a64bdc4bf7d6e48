package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compass/internal/agent/ports"
)

type blockingClient struct {
	resp *ports.CompletionResponse
}

func (b *blockingClient) Model() string { return "blocking-model" }

func (b *blockingClient) Complete(context.Context, ports.CompletionRequest) (*ports.CompletionResponse, error) {
	return b.resp, nil
}

func TestEnsureStreamingPassesThroughStreamingClients(t *testing.T) {
	mock := NewMockClient()
	assert.Same(t, ports.StreamingLLMClient(mock), EnsureStreaming(mock))
}

func TestEnsureStreamingReplaysBlockingCompletion(t *testing.T) {
	inner := &blockingClient{resp: &ports.CompletionResponse{
		Content: "hello there",
		ToolCalls: []ports.ToolCall{
			{ID: "call-1", Name: "search_trials", Arguments: map[string]any{"condition": "melanoma"}},
		},
		StopReason: ports.StopReasonToolUse,
	}}

	streaming := EnsureStreaming(inner)
	assert.Equal(t, "blocking-model", streaming.Model())

	var deltas []string
	var started []string
	sawFinal := false
	resp, err := streaming.StreamComplete(context.Background(), ports.CompletionRequest{}, ports.CompletionStreamCallbacks{
		OnContentDelta: func(d ports.ContentDelta) {
			if d.Final {
				sawFinal = true
				return
			}
			deltas = append(deltas, d.Delta)
		},
		OnToolCallStart: func(s ports.ToolCallStart) { started = append(started, s.Name) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"hello there"}, deltas)
	assert.Equal(t, []string{"search_trials"}, started)
	assert.True(t, sawFinal)
	assert.Equal(t, inner.resp, resp)
}
