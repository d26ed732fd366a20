package agent

import (
	"context"

	"github.com/pkg/errors"

	"github.com/MimeLyc/hospital-agent/internal/gateway"
	"github.com/MimeLyc/hospital-agent/internal/llm"
	"github.com/MimeLyc/hospital-agent/internal/tools"
)

const (
	DefaultMaxRounds       = 5
	DefaultToolConcurrency = 4
)

// DefaultSystemPrompt is sent with every completion request.
const DefaultSystemPrompt = `You are an AI assistant for a Smart Hospital Management System. You have access to various hospital tools and APIs that allow you to:

- Look up patient records, vitals, and treatments
- Monitor staff schedules and assignments
- Track IoT devices and sensor data
- Detect anomalies in patient monitoring
- Check room and bed assignments
- View alerts and simulation status

When users ask questions about the hospital, use the appropriate tools to gather information and provide helpful responses. If a tool reports that data could not be fetched, tell the user instead of guessing. Always be professional and prioritize patient safety and privacy.`

// Agent answers one chat turn.
type Agent interface {
	Run(ctx context.Context, message string, history []llm.Message) *Outcome
}

// Invoker executes a single tool invocation. *gateway.Gateway implements it.
type Invoker interface {
	Invoke(ctx context.Context, inv tools.Invocation) gateway.Result
}

// Loop is the bounded tool-calling state machine. It holds no per-request
// state and is safe for concurrent use.
type Loop struct {
	client          llm.Client
	registry        *tools.Registry
	invoker         Invoker
	maxRounds       int
	toolConcurrency int
	systemPrompt    string
	languageHint    bool
	observer        ToolObserver
}

type Option func(*Loop)

// WithMaxRounds bounds the completion calls per request.
func WithMaxRounds(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxRounds = n
		}
	}
}

// WithToolConcurrency bounds parallel tool calls within one round.
func WithToolConcurrency(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.toolConcurrency = n
		}
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(l *Loop) {
		l.systemPrompt = prompt
	}
}

// WithLanguageHint asks the model to answer in the language of the user message.
func WithLanguageHint(enabled bool) Option {
	return func(l *Loop) {
		l.languageHint = enabled
	}
}

func WithObserver(o ToolObserver) Option {
	return func(l *Loop) {
		l.observer = o
	}
}

// NewLoop creates a loop. client, registry and invoker are required.
func NewLoop(client llm.Client, registry *tools.Registry, invoker Invoker, opts ...Option) (*Loop, error) {
	if client == nil {
		return nil, errors.New("completion client is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if invoker == nil {
		return nil, errors.New("tool invoker is required")
	}

	l := &Loop{
		client:          client,
		registry:        registry,
		invoker:         invoker,
		maxRounds:       DefaultMaxRounds,
		toolConcurrency: DefaultToolConcurrency,
		systemPrompt:    DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Loop) MaxRounds() int {
	return l.maxRounds
}
