package agent

import "encoding/json"

// Argument coercion for tool inputs decoded from JSON. Numbers arrive as
// float64; absent or mistyped values coerce to zero values so handlers can
// apply their own defaults.

func stringArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func floatArg(input map[string]any, key string) float64 {
	switch v := input[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func floatPtrArg(input map[string]any, key string) *float64 {
	if _, ok := input[key]; !ok {
		return nil
	}
	f := floatArg(input, key)
	return &f
}

func intArg(input map[string]any, key string) int {
	return int(floatArg(input, key))
}

func stringSliceArg(input map[string]any, key string) []string {
	raw, ok := input[key].([]any)
	if !ok {
		if s, ok := input[key].(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// decodeInto round-trips a decoded JSON value into a typed struct.
func decodeInto(raw any, target any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"failed to encode result"}`
	}
	return string(data)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func truncateEllipsis(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func headStrings(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
