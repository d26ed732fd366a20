package agent

import (
	"github.com/MimeLyc/hospital-agent/internal/gateway"
	"github.com/MimeLyc/hospital-agent/internal/llm"
	"github.com/MimeLyc/hospital-agent/internal/tools"
)

// State is a position in the agent loop state machine.
type State int

const (
	StateAwaitingCompletion State = iota
	StateExecutingTools
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingCompletion:
		return "AWAITING_COMPLETION"
	case StateExecutingTools:
		return "EXECUTING_TOOLS"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// FailureKind tells a degraded answer apart from a failed completion.
type FailureKind string

const (
	FailureTurnLimit  FailureKind = "turn_limit"
	FailureCompletion FailureKind = "completion"
)

// Outcome is the result of one chat turn.
type Outcome struct {
	// Status is done or failed
	Status Status

	// FailureKind is set when Status is failed
	FailureKind FailureKind

	// Error is the completion failure, or the turn limit error
	Error error

	// FinalMessage is the assistant text returned to the caller
	FinalMessage string

	// ToolCallsMade counts every invocation across every round
	ToolCallsMade int

	// ToolsUsed holds one tool name per invocation, in execution order
	ToolsUsed []string

	// History is the caller's history with this turn's messages appended
	History []llm.Message

	// Rounds is the number of completion calls made
	Rounds int
}

// ToolObserver is told about every executed invocation.
type ToolObserver interface {
	ObserveToolCall(inv tools.Invocation, res gateway.Result)
}
