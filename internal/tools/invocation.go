package tools

// Invocation is one tool call requested by the model, bound to a registered
// tool name. Arguments have been decoded but not yet schema-validated.
type Invocation struct {
	ID        string         `json:"invocation_id"`
	Name      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}
