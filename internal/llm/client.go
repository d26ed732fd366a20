package llm

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/MimeLyc/hospital-agent/internal/tools"
)

// Client requests one completion from a language model provider.
// Implementations are safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Name() string
}

// Pinger is implemented by clients that can check provider connectivity
// without spending a completion.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Request is everything a provider needs for one completion.
//
// SystemPrompt: sent on every call, never part of History
// History: the conversation so far
// Tools: the catalog offered to the model, also used to bind tool calls
type Request struct {
	SystemPrompt string
	History      []Message
	Tools        *tools.Registry
}

type Kind int

const (
	KindFinal Kind = iota + 1
	KindTools
)

func (k Kind) String() string {
	switch k {
	case KindFinal:
		return "final"
	case KindTools:
		return "tools"
	default:
		return "unknown"
	}
}

// Completion is either a final text answer or an ordered list of tool
// invocations.
type Completion struct {
	Kind        Kind
	Text        string
	Invocations []tools.Invocation
}

// rawToolCall is a provider tool call before it is bound to the registry.
type rawToolCall struct {
	ID        string
	Name      string
	Arguments []byte
}

// classify turns provider output into a Completion. Tool calls win over text.
func classify(reg *tools.Registry, text string, calls []rawToolCall) (Completion, error) {
	if len(calls) > 0 {
		if reg == nil {
			return Completion{}, NewError(ErrMalformedToolCall, "model requested tools but none were offered")
		}
		invocations := make([]tools.Invocation, 0, len(calls))
		for i, call := range calls {
			id := strings.TrimSpace(call.ID)
			if id == "" {
				id = uuid.NewString()
			}
			inv, err := reg.Bind(id, call.Name, call.Arguments)
			if err != nil {
				return Completion{}, NewErrorWithCause(ErrMalformedToolCall, "model emitted an unusable tool call", err).
					WithContext("tool", call.Name).
					WithContext("index", i)
			}
			invocations = append(invocations, inv)
		}
		return Completion{Kind: KindTools, Invocations: invocations}, nil
	}

	if strings.TrimSpace(text) == "" {
		return Completion{}, NewError(ErrMalformedResponse, "provider returned neither text nor tool calls")
	}
	return Completion{Kind: KindFinal, Text: text}, nil
}
