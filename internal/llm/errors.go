package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type ErrorKind int

const (
	ErrProviderUnavailable ErrorKind = iota
	ErrProviderError
	ErrMalformedResponse
	ErrMalformedToolCall
)

func (k ErrorKind) String() string {
	switch k {
	case ErrProviderUnavailable:
		return "ProviderUnavailable"
	case ErrProviderError:
		return "ProviderError"
	case ErrMalformedResponse:
		return "MalformedResponse"
	case ErrMalformedToolCall:
		return "MalformedToolCall"
	default:
		return "Unknown"
	}
}

// CompletionError is the only error a Client returns from Complete.
type CompletionError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Context    map[string]any
	Cause      error
}

func NewError(kind ErrorKind, message string) *CompletionError {
	return &CompletionError{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(kind ErrorKind, message string, cause error) *CompletionError {
	return &CompletionError{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *CompletionError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status: %d", e.StatusCode))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *CompletionError) Unwrap() error {
	return e.Cause
}

func (e *CompletionError) WithContext(key string, value any) *CompletionError {
	e.Context[key] = value
	return e
}

func (e *CompletionError) WithStatus(status int) *CompletionError {
	e.StatusCode = status
	return e
}

// IsKind reports whether err is a CompletionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var cErr *CompletionError
	if errors.As(err, &cErr) {
		return cErr.Kind == kind
	}
	return false
}
