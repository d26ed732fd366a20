package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/MimeLyc/hospital-agent/internal/tools"
	"github.com/MimeLyc/hospital-agent/pkg/log"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 16 << 20
)

// Reason classifies a failed tool invocation.
type Reason string

const (
	ReasonUnknownTool        Reason = "unknown_tool"
	ReasonInvalidArguments   Reason = "invalid_arguments"
	ReasonBackendUnavailable Reason = "backend_unavailable"
	ReasonBackendError       Reason = "backend_error"
)

// Failure is the structured outcome of a tool call that produced no data.
type Failure struct {
	Reason     Reason   `json:"reason"`
	Message    string   `json:"message"`
	Parameters []string `json:"parameters,omitempty"`
	StatusCode int      `json:"status,omitempty"`
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", f.Reason, f.StatusCode, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

// Result pairs one invocation with its outcome. Exactly one of Payload and
// Failure is set.
type Result struct {
	InvocationID string
	Tool         string
	Payload      json.RawMessage
	Failure      *Failure
	Duration     time.Duration
}

func (r Result) OK() bool {
	return r.Failure == nil
}

// Gateway executes tool invocations as read requests against the hospital backend.
type Gateway struct {
	baseURL    string
	registry   *tools.Registry
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*Gateway)

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.httpClient = c
		}
	}
}

func New(baseURL string, registry *tools.Registry, opts ...Option) (*Gateway, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("backend base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "parse backend base URL")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	g := &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		registry:   registry,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Invoke runs one invocation. It never returns an error: every problem is
// reported as a Failure in the Result.
func (g *Gateway) Invoke(ctx context.Context, inv tools.Invocation) (res Result) {
	start := time.Now()
	res = Result{InvocationID: inv.ID, Tool: inv.Name}
	defer func() {
		res.Duration = time.Since(start)
	}()

	def, ok := g.registry.Lookup(inv.Name)
	if !ok {
		res.Failure = &Failure{
			Reason:  ReasonUnknownTool,
			Message: fmt.Sprintf("tool %q is not available", inv.Name),
		}
		return res
	}

	if err := def.Validate(inv.Arguments); err != nil {
		failure := &Failure{Reason: ReasonInvalidArguments, Message: err.Error()}
		var argErr *tools.ArgumentError
		if errors.As(err, &argErr) {
			failure.Parameters = argErr.Parameters
		}
		res.Failure = failure
		return res
	}

	path, query := def.Request(inv.Arguments)
	payload, failure := g.Fetch(ctx, path, query)
	res.Payload = payload
	res.Failure = failure

	logger := log.With().
		Str("tool", inv.Name).
		Str("invocation_id", inv.ID).
		Str("path", path).
		Logger()
	if failure != nil {
		logger.Warn().Str("reason", string(failure.Reason)).Int("status", failure.StatusCode).Msg(failure.Message)
	} else {
		logger.Debug().Int("bytes", len(payload)).Msg("tool call succeeded")
	}
	return res
}

// Fetch issues one GET to the backend and returns its JSON body unmodified.
func (g *Gateway) Fetch(ctx context.Context, path string, query url.Values) (json.RawMessage, *Failure) {
	return g.fetch(ctx, path, query.Encode())
}

func (g *Gateway) fetch(ctx context.Context, path, rawQuery string) (json.RawMessage, *Failure) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	target := g.baseURL + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return g.get(ctx, target)
}

func (g *Gateway) get(ctx context.Context, target string) (json.RawMessage, *Failure) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Failure{Reason: ReasonBackendError, Message: errors.Wrap(err, "build backend request").Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("backend did not respond within %s", g.timeout)
		}
		return nil, &Failure{Reason: ReasonBackendUnavailable, Message: msg}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Failure{Reason: ReasonBackendUnavailable, Message: errors.Wrap(err, "read backend response").Error(), StatusCode: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Failure{
			Reason:     ReasonBackendError,
			Message:    fmt.Sprintf("backend returned %s: %s", resp.Status, snippet(body)),
			StatusCode: resp.StatusCode,
		}
	}

	if !json.Valid(body) {
		return nil, &Failure{
			Reason:     ReasonBackendError,
			Message:    "backend returned a non-JSON body: " + snippet(body),
			StatusCode: resp.StatusCode,
		}
	}
	return json.RawMessage(body), nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
