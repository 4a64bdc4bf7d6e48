package llm

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseToolArguments decodes the accumulated tool-call input payload. Streamed
// argument JSON is occasionally truncated or malformed; a repair pass is
// attempted first, and an empty object is substituted when nothing decodes, so
// a bad payload degrades to an argument-less call instead of failing the turn.
func ParseToolArguments(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err == nil && args != nil {
		return args
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err == nil {
		if err := json.Unmarshal([]byte(repaired), &args); err == nil && args != nil {
			return args
		}
	}

	return map[string]any{}
}
