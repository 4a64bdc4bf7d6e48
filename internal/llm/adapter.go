package llm

import (
	"context"

	"compass/internal/agent/ports"
)

// EnsureStreaming returns a StreamingLLMClient for any LLMClient. Clients that
// already stream are returned unchanged; others get a wrapper that issues a
// blocking completion and replays it through the callbacks in one shot.
func EnsureStreaming(client ports.LLMClient) ports.StreamingLLMClient {
	if streaming, ok := client.(ports.StreamingLLMClient); ok {
		return streaming
	}
	return &streamingAdapter{inner: client}
}

type streamingAdapter struct {
	inner ports.LLMClient
}

func (a *streamingAdapter) Model() string { return a.inner.Model() }

func (a *streamingAdapter) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	return a.inner.Complete(ctx, req)
}

func (a *streamingAdapter) StreamComplete(ctx context.Context, req ports.CompletionRequest, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	resp, err := a.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Content != "" && callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ports.ContentDelta{Delta: resp.Content})
	}
	for i, call := range resp.ToolCalls {
		if callbacks.OnToolCallStart != nil {
			callbacks.OnToolCallStart(ports.ToolCallStart{Index: i, ID: call.ID, Name: call.Name})
		}
		if callbacks.OnToolCallStop != nil {
			callbacks.OnToolCallStop(ports.ToolCallStop{Index: i})
		}
	}
	if callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ports.ContentDelta{Final: true})
	}
	return resp, nil
}
