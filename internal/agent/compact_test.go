package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compass/internal/agent/ports"
)

func plainTurns(n int) []ports.Message {
	out := make([]ports.Message, 0, n)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out = append(out, ports.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	return out
}

// assertWellFormed checks the invariants every compacted transcript must
// hold: starts with a user turn, no tool-result turn without its tool-call
// turn directly before it.
func assertWellFormed(t *testing.T, history []ports.Message) {
	t.Helper()
	require.NotEmpty(t, history)
	assert.Equal(t, "user", history[0].Role)
	assert.False(t, history[0].IsToolResult(), "transcript must not open with a tool result")
	for i := 1; i < len(history); i++ {
		if history[i].IsToolResult() {
			assert.True(t, history[i-1].HasToolCalls(),
				"tool result at %d has no preceding tool call", i)
		}
		if history[i-1].HasToolCalls() {
			assert.True(t, history[i].IsToolResult(),
				"tool call at %d has no following result", i-1)
		}
	}
}

func TestCompactHistoryBelowThresholdUntouched(t *testing.T) {
	history := plainTurns(24)
	got := compactHistory(history, 24, 20)
	assert.Len(t, got, 24)
	assert.Equal(t, history, got)
}

func TestCompactHistoryKeepsTailWithBridges(t *testing.T) {
	history := plainTurns(40)
	got := compactHistory(history, 24, 20)

	assertWellFormed(t, got)
	// user bridge + assistant bridge + 20 kept turns
	require.Len(t, got, 22)
	assert.Equal(t, trimBridgeUser, got[0].Content)
	assert.Equal(t, trimBridgeAssistant, got[1].Content)
	assert.Equal(t, "turn 20", got[2].Content)
	assert.Equal(t, "turn 39", got[len(got)-1].Content)
}

func TestCompactHistoryNeverSplitsToolExchange(t *testing.T) {
	// Build a transcript where the naive cut would land inside a tool
	// call/result pair.
	var history []ports.Message
	for i := 0; i < 12; i++ {
		history = append(history, ports.Message{Role: "user", Content: fmt.Sprintf("q%d", i)})
		history = append(history, ports.Message{
			Role:      "assistant",
			ToolCalls: []ports.ToolCall{{ID: fmt.Sprintf("call-%d", i), Name: toolSearchTrials}},
		})
		history = append(history, ports.Message{
			Role:        "user",
			ToolResults: []ports.ToolResult{{CallID: fmt.Sprintf("call-%d", i), Content: "{}"}},
		})
		history = append(history, ports.Message{Role: "assistant", Content: "summary"})
	}

	for tail := 17; tail <= 23; tail++ {
		got := compactHistory(history, 24, tail)
		assertWellFormed(t, got)
		assert.Less(t, len(got), len(history), "tail=%d", tail)
	}
}

func TestCompactHistoryLongToolChainCutsAtCallBoundary(t *testing.T) {
	// One long tool chain: the naive tail start lands on a tool-call turn
	// whose result sits inside the kept suffix, which is a safe cut.
	history := []ports.Message{{Role: "user", Content: "q"}}
	for i := 0; i < 15; i++ {
		history = append(history, ports.Message{
			Role:      "assistant",
			ToolCalls: []ports.ToolCall{{ID: fmt.Sprintf("c%d", i), Name: toolGetTrialDetails}},
		})
		history = append(history, ports.Message{
			Role:        "user",
			ToolResults: []ports.ToolResult{{CallID: fmt.Sprintf("c%d", i), Content: "{}"}},
		})
	}

	got := compactHistory(history, 24, 20)

	assertWellFormed(t, got)
	// user bridge + the 20 kept turns, starting at the c5 call.
	require.Len(t, got, 21)
	assert.Equal(t, trimBridgeUser, got[0].Content)
	require.True(t, got[1].HasToolCalls())
	assert.Equal(t, "c5", got[1].ToolCalls[0].ID)
	assert.Equal(t, "c5", got[2].ToolResults[0].CallID)
}

func TestCompactHistoryNoSafeBoundaryIsNoop(t *testing.T) {
	// A transcript that opens mid tool exchange: the backward walk reaches
	// the start without finding a safe cut, so nothing is trimmed.
	var history []ports.Message
	for i := 0; i < 10; i++ {
		history = append(history, ports.Message{
			Role:      "assistant",
			ToolCalls: []ports.ToolCall{{ID: fmt.Sprintf("c%d", i), Name: toolSearchTrials}},
		})
		history = append(history, ports.Message{
			Role:        "user",
			ToolResults: []ports.ToolResult{{CallID: fmt.Sprintf("c%d", i), Content: "{}"}},
		})
	}
	history = append(history, ports.Message{Role: "assistant", Content: "done"})

	got := compactHistory(history, 12, 20)
	assert.Equal(t, history, got)
}

func TestCompactHistoryNoAssistantBridgeWhenSuffixStartsAssistant(t *testing.T) {
	// Arrange the boundary so the kept suffix starts with an assistant turn.
	var history []ports.Message
	for i := 0; i < 15; i++ {
		history = append(history, ports.Message{Role: "user", Content: fmt.Sprintf("q%d", i)})
		history = append(history, ports.Message{Role: "assistant", Content: fmt.Sprintf("a%d", i)})
	}
	got := compactHistory(history, 24, 19)

	assertWellFormed(t, got)
	require.Equal(t, trimBridgeUser, got[0].Content)
	assert.Equal(t, "assistant", got[1].Role)
	assert.NotEqual(t, trimBridgeAssistant, got[1].Content)
}
