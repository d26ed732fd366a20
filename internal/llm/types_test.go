package llm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/hospital-agent/internal/gateway"
	"github.com/MimeLyc/hospital-agent/internal/tools"
)

func TestToolResultMessage_JSONShape(t *testing.T) {
	t.Parallel()

	inv := tools.Invocation{ID: "call_1", Name: "get_patient", Arguments: map[string]any{"patient_id": "P001"}}

	ok := ToolResultMessage(inv, gateway.Result{
		InvocationID: "call_1",
		Tool:         "get_patient",
		Payload:      json.RawMessage(`{"id":"P001"}`),
		Duration:     time.Millisecond,
	})
	data, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"role":"tool_result",
		"result":{"ok":true,"data":{"id":"P001"}},
		"tool_reference":{"tool":"get_patient","invocation_id":"call_1","arguments":{"patient_id":"P001"}}
	}`, string(data))

	failed := ToolResultMessage(inv, gateway.Result{
		InvocationID: "call_1",
		Tool:         "get_patient",
		Failure:      &gateway.Failure{Reason: gateway.ReasonBackendError, Message: "boom", StatusCode: 503},
	})
	assert.JSONEq(t,
		`{"ok":false,"error":{"reason":"backend_error","message":"boom","status":503}}`,
		failed.ResultJSON(),
	)
}

func TestMessage_RoundTrip(t *testing.T) {
	t.Parallel()

	raw := `[
		{"role":"user","content":"How is P001?"},
		{"role":"tool_result","result":{"ok":true,"data":[1,2]},"tool_reference":{"tool":"get_patient","invocation_id":"c1","arguments":{"patient_id":"P001"}}},
		{"role":"assistant","content":"Stable."}
	]`
	var history []Message
	require.NoError(t, json.Unmarshal([]byte(raw), &history))
	require.NoError(t, ValidateHistory(history))

	out, err := json.Marshal(history)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestValidateHistory(t *testing.T) {
	t.Parallel()

	ref := &ToolReference{Tool: "get_patient", InvocationID: "c1"}
	result := &ToolOutcome{OK: true, Data: json.RawMessage(`{}`)}

	tests := []struct {
		name    string
		history []Message
		want    string
	}{
		{name: "empty", history: nil},
		{name: "system allowed", history: []Message{{Role: RoleSystem, Content: "be brief"}}},
		{name: "unknown role", history: []Message{{Role: "tool", Content: "x"}}, want: `unknown role "tool"`},
		{name: "missing role", history: []Message{{Content: "x"}}, want: "missing role"},
		{
			name:    "tool result without reference",
			history: []Message{UserMessage("hi"), {Role: RoleToolResult, Result: result}},
			want:    "conversation_history[1]: tool_result requires tool_reference",
		},
		{
			name:    "tool result without result",
			history: []Message{{Role: RoleToolResult, ToolReference: ref}},
			want:    "requires result",
		},
		{
			name:    "reference without id",
			history: []Message{{Role: RoleToolResult, ToolReference: &ToolReference{Tool: "get_patient"}, Result: result}},
			want:    "invocation_id",
		},
		{
			name:    "text role with result",
			history: []Message{{Role: RoleAssistant, Content: "x", Result: result}},
			want:    "cannot carry a tool result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHistory(tt.history)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			var histErr *HistoryError
			require.ErrorAs(t, err, &histErr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSegments_GroupsToolResultRuns(t *testing.T) {
	t.Parallel()

	tr := func(id string) Message {
		return Message{
			Role:          RoleToolResult,
			Result:        &ToolOutcome{OK: true},
			ToolReference: &ToolReference{Tool: "get_all_beds", InvocationID: id},
		}
	}
	history := []Message{UserMessage("q"), tr("a"), tr("b"), AssistantMessage("ans"), tr("c")}

	segs := segments(history)
	require.Len(t, segs, 4)
	assert.Equal(t, "q", segs[0].text.Content)
	require.Len(t, segs[1].results, 2)
	assert.Equal(t, "a", segs[1].results[0].ToolReference.InvocationID)
	assert.Equal(t, "b", segs[1].results[1].ToolReference.InvocationID)
	assert.Equal(t, "ans", segs[2].text.Content)
	require.Len(t, segs[3].results, 1)
}

func TestCompletionError(t *testing.T) {
	t.Parallel()

	err := NewError(ErrProviderError, "provider rejected the request").
		WithStatus(401).
		WithContext("model", "m").
		WithContext("attempt", 1)
	assert.Equal(t, "[ProviderError] provider rejected the request | status: 401 | context: attempt=1, model=m", err.Error())
	assert.True(t, IsKind(err, ErrProviderError))
	assert.False(t, IsKind(err, ErrProviderUnavailable))
	assert.False(t, IsKind(assert.AnError, ErrProviderError))
}
