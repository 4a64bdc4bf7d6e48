package agent

import "compass/internal/agent/ports"

const (
	trimBridgeUser      = "[Earlier conversation trimmed to save context. See session state for details.]"
	trimBridgeAssistant = "Understood, continuing from current context."
)

// compactHistory trims the transcript once it exceeds threshold, keeping the
// most recent tail turns. The cut boundary walks backward so it never strands
// a tool-result turn without its tool-call turn, and never leaves a tool-call
// turn whose results were cut. A synthetic user bridge is prepended so the
// transcript still starts with a user turn; when the kept suffix itself starts
// with a user turn, an assistant bridge follows to preserve role alternation.
// Returns the input unchanged when no trimming is needed.
func compactHistory(history []ports.Message, threshold, tail int) []ports.Message {
	if len(history) <= threshold {
		return history
	}

	tailStart := len(history) - tail
	for tailStart > 0 {
		msg := history[tailStart]
		prev := history[tailStart-1]
		if msg.IsToolResult() {
			tailStart--
		} else if prev.HasToolCalls() {
			tailStart--
		} else {
			break
		}
	}
	if tailStart < 1 {
		return history
	}

	kept := history[tailStart:]
	bridge := []ports.Message{{Role: "user", Content: trimBridgeUser}}
	if len(kept) > 0 && kept[0].Role == "user" {
		bridge = append(bridge, ports.Message{Role: "assistant", Content: trimBridgeAssistant})
	}

	out := make([]ports.Message, 0, len(bridge)+len(kept))
	out = append(out, bridge...)
	out = append(out, kept...)
	return out
}
