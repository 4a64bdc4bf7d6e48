package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"compass/internal/agent/ports"
)

// MockClient replays a fixed script of responses. Intended for tests that
// drive the conversation loop without a live provider.
type MockClient struct {
	mu        sync.Mutex
	script    []*ports.CompletionResponse
	requests  []ports.CompletionRequest
	callIndex int
}

var _ ports.StreamingLLMClient = (*MockClient)(nil)

// NewMockClient builds a client that returns the given responses in order.
func NewMockClient(responses ...*ports.CompletionResponse) *MockClient {
	return &MockClient{script: responses}
}

// Requests returns a copy of every request seen so far.
func (m *MockClient) Requests() []ports.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockClient) Model() string { return "mock-model" }

func (m *MockClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	return m.StreamComplete(ctx, req, ports.CompletionStreamCallbacks{})
}

func (m *MockClient) StreamComplete(ctx context.Context, req ports.CompletionRequest, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if m.callIndex >= len(m.script) {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock llm: no scripted response for call %d", m.callIndex+1)
	}
	resp := m.script[m.callIndex]
	m.callIndex++
	m.mu.Unlock()

	if resp.Content != "" && callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ports.ContentDelta{Delta: resp.Content})
	}
	for i, call := range resp.ToolCalls {
		if callbacks.OnToolCallStart != nil {
			callbacks.OnToolCallStart(ports.ToolCallStart{Index: i, ID: call.ID, Name: call.Name})
		}
		if callbacks.OnToolCallDelta != nil && call.Arguments != nil {
			if encoded, err := json.Marshal(call.Arguments); err == nil {
				callbacks.OnToolCallDelta(ports.ToolCallDelta{Index: i, PartialJSON: string(encoded)})
			}
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
