package ports

// ToolCall is a request from the model to invoke one registered tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the executor's answer to one tool call, matched by CallID.
// Failed executions are reported as ordinary results carrying a structured
// error payload; they are fed back to the model, never raised.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
}

// ToolDefinition describes a tool for the model. The description is
// functionally relevant: it steers which tool the model chooses.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ParameterSchema `json:"input_schema"`
}

// ParameterSchema defines tool parameters in JSON Schema form.
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a single parameter.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}
