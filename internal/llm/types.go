package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MimeLyc/hospital-agent/internal/gateway"
	"github.com/MimeLyc/hospital-agent/internal/tools"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
	RoleSystem     Role = "system"
)

// ToolReference ties a tool result back to the invocation that produced it.
type ToolReference struct {
	Tool         string         `json:"tool"`
	InvocationID string         `json:"invocation_id"`
	Arguments    map[string]any `json:"arguments"`
}

// ToolOutcome is the result payload of a tool_result message.
//
// OK: true when Data holds the backend JSON
// Data: backend JSON, unmodified
// Error: structured failure when OK is false
type ToolOutcome struct {
	OK    bool             `json:"ok"`
	Data  json.RawMessage  `json:"data,omitempty"`
	Error *gateway.Failure `json:"error,omitempty"`
}

// Message is one entry of the conversation history.
// Text roles carry Content. Tool results carry Result and ToolReference.
type Message struct {
	Role          Role           `json:"role"`
	Content       string         `json:"content,omitempty"`
	Result        *ToolOutcome   `json:"result,omitempty"`
	ToolReference *ToolReference `json:"tool_reference,omitempty"`
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ToolResultMessage records the outcome of inv.
func ToolResultMessage(inv tools.Invocation, res gateway.Result) Message {
	args := inv.Arguments
	if args == nil {
		args = map[string]any{}
	}
	outcome := &ToolOutcome{OK: res.OK()}
	if res.OK() {
		outcome.Data = res.Payload
	} else {
		outcome.Error = res.Failure
	}
	return Message{
		Role:   RoleToolResult,
		Result: outcome,
		ToolReference: &ToolReference{
			Tool:         inv.Name,
			InvocationID: inv.ID,
			Arguments:    args,
		},
	}
}

// ResultJSON is the text handed to a provider for a tool result.
func (m Message) ResultJSON() string {
	if m.Result == nil {
		return `{"ok":false}`
	}
	data, err := json.Marshal(m.Result)
	if err != nil {
		return `{"ok":false}`
	}
	return string(data)
}

// argumentsJSON renders the referenced arguments as a JSON object.
func (r *ToolReference) argumentsJSON() string {
	if r == nil || len(r.Arguments) == 0 {
		return "{}"
	}
	data, err := json.Marshal(r.Arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// HistoryError reports a malformed inbound history entry.
type HistoryError struct {
	Index  int
	Reason string
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("conversation_history[%d]: %s", e.Index, e.Reason)
}

// ValidateHistory checks history received from a client before it is used.
func ValidateHistory(history []Message) error {
	for i, m := range history {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem:
			if m.Result != nil || m.ToolReference != nil {
				return &HistoryError{Index: i, Reason: fmt.Sprintf("role %q cannot carry a tool result", m.Role)}
			}
		case RoleToolResult:
			if m.ToolReference == nil {
				return &HistoryError{Index: i, Reason: "tool_result requires tool_reference"}
			}
			if strings.TrimSpace(m.ToolReference.Tool) == "" || strings.TrimSpace(m.ToolReference.InvocationID) == "" {
				return &HistoryError{Index: i, Reason: "tool_reference requires tool and invocation_id"}
			}
			if m.Result == nil {
				return &HistoryError{Index: i, Reason: "tool_result requires result"}
			}
		case "":
			return &HistoryError{Index: i, Reason: "missing role"}
		default:
			return &HistoryError{Index: i, Reason: fmt.Sprintf("unknown role %q", m.Role)}
		}
	}
	return nil
}

// segment is either one text message or a maximal run of tool results.
type segment struct {
	text    *Message
	results []Message
}

// segments groups history for providers that need each tool result to follow
// an assistant turn requesting it.
func segments(history []Message) []segment {
	var out []segment
	for i := range history {
		m := history[i]
		if m.Role != RoleToolResult {
			out = append(out, segment{text: &m})
			continue
		}
		if n := len(out); n > 0 && out[n-1].text == nil {
			out[n-1].results = append(out[n-1].results, m)
			continue
		}
		out = append(out, segment{results: []Message{m}})
	}
	return out
}
