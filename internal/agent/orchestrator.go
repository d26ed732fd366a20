package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/hospital-agent/internal/gateway"
	"github.com/MimeLyc/hospital-agent/internal/llm"
	"github.com/MimeLyc/hospital-agent/internal/tools"
	"github.com/MimeLyc/hospital-agent/pkg/log"
)

// ErrTurnLimit is the Outcome error when the round bound is reached.
var ErrTurnLimit = errors.New("turn limit reached")

// TurnLimitMessage is the final message when the round bound is reached.
const TurnLimitMessage = "I reached the limit of %d steps for this request before I could finish. Please narrow the question or ask again."

// Run executes one chat turn. It never returns a nil Outcome, and history is
// never modified; Outcome.History is a new slice.
func (l *Loop) Run(ctx context.Context, message string, history []llm.Message) *Outcome {
	out := &Outcome{
		ToolsUsed: []string{},
		History:   make([]llm.Message, 0, len(history)+4),
	}
	out.History = append(out.History, history...)
	out.History = append(out.History, llm.UserMessage(message))

	logger := log.With().Str("turn_id", uuid.NewString()).Logger()
	req := llm.Request{
		SystemPrompt: l.prompt(message),
		Tools:        l.registry,
	}

	state := StateAwaitingCompletion
	for round := 1; round <= l.maxRounds; round++ {
		out.Rounds = round
		req.History = out.History

		completion, err := l.client.Complete(ctx, req)
		if err != nil {
			l.transition(logger, round, state, StateFailed)
			logger.Error().Err(err).Int("round", round).Msg("completion failed")
			out.Status = StatusFailed
			out.FailureKind = FailureCompletion
			out.Error = err
			return out
		}

		if completion.Kind == llm.KindFinal {
			l.transition(logger, round, state, StateDone)
			out.History = append(out.History, llm.AssistantMessage(completion.Text))
			out.FinalMessage = completion.Text
			out.Status = StatusDone
			logger.Info().
				Int("rounds", round).
				Int("tool_calls", out.ToolCallsMade).
				Msg("turn completed")
			return out
		}

		state = l.transition(logger, round, state, StateExecutingTools)
		l.executeRound(ctx, logger, out, completion.Invocations)
		state = l.transition(logger, round, state, StateAwaitingCompletion)
	}

	l.transition(logger, out.Rounds, state, StateFailed)
	msg := fmt.Sprintf(TurnLimitMessage, l.maxRounds)
	out.History = append(out.History, llm.AssistantMessage(msg))
	out.FinalMessage = msg
	out.Status = StatusFailed
	out.FailureKind = FailureTurnLimit
	out.Error = ErrTurnLimit
	logger.Warn().
		Int("rounds", out.Rounds).
		Int("tool_calls", out.ToolCallsMade).
		Msg("turn limit reached")
	return out
}

// executeRound runs one round of invocations concurrently and appends the
// results in the order the model emitted them.
func (l *Loop) executeRound(ctx context.Context, logger zerolog.Logger, out *Outcome, invocations []tools.Invocation) {
	results := make([]gateway.Result, len(invocations))

	var g errgroup.Group
	g.SetLimit(l.toolConcurrency)
	for i, inv := range invocations {
		g.Go(func() error {
			results[i] = l.invoker.Invoke(ctx, inv)
			return nil
		})
	}
	_ = g.Wait()

	for i, inv := range invocations {
		res := results[i]
		out.History = append(out.History, llm.ToolResultMessage(inv, res))
		out.ToolsUsed = append(out.ToolsUsed, inv.Name)
		out.ToolCallsMade++

		if l.observer != nil {
			l.observer.ObserveToolCall(inv, res)
		}

		event := logger.Debug()
		if !res.OK() {
			event = logger.Info().Str("reason", string(res.Failure.Reason))
		}
		event.
			Str("tool", inv.Name).
			Str("invocation_id", inv.ID).
			Dur("duration", res.Duration).
			Bool("ok", res.OK()).
			Msg("tool executed")
	}
}

func (l *Loop) transition(logger zerolog.Logger, round int, from, to State) State {
	logger.Debug().Int("round", round).Str("from", from.String()).Str("to", to.String()).Msg("state transition")
	return to
}

func (l *Loop) prompt(message string) string {
	if !l.languageHint {
		return l.systemPrompt
	}
	hint := languageHint(message)
	if hint == "" {
		return l.systemPrompt
	}
	return l.systemPrompt + "\n\n" + hint
}
