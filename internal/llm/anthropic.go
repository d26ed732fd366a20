package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/MimeLyc/hospital-agent/internal/config"
	"github.com/MimeLyc/hospital-agent/internal/tools"
)

// AnthropicClient uses the Anthropic Messages API with tool-use blocks.
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
}

// NewAnthropicClient creates a client from cfg. httpClient may be nil.
func NewAnthropicClient(cfg config.LLMConfig, httpClient *http.Client) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, config.ErrMissingCredential
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.APIURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		client:      &client,
		model:       cfg.Model,
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

func (c *AnthropicClient) Name() string {
	return "anthropic:" + c.model
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Completion, error) {
	system, messages := anthropicMessages(req.SystemPrompt, req.History)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	params.Temperature = anthropic.Float(c.temperature)
	if req.Tools != nil && req.Tools.Count() > 0 {
		params.Tools = anthropicTools(req.Tools)
	}

	var reqOpts []option.RequestOption
	if c.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(c.timeout))
	}

	message, err := c.client.Messages.New(ctx, params, reqOpts...)
	if err != nil {
		return Completion{}, anthropicError(err)
	}

	var text strings.Builder
	var calls []rawToolCall
	for _, block := range message.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(v.Input)
			calls = append(calls, rawToolCall{ID: v.ID, Name: v.Name, Arguments: input})
		}
	}
	return classify(req.Tools, text.String(), calls)
}

func (c *AnthropicClient) Ping(ctx context.Context) error {
	var reqOpts []option.RequestOption
	if c.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(c.timeout))
	}
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{}, reqOpts...); err != nil {
		return anthropicError(err)
	}
	return nil
}

// anthropicMessages renders history. System messages found in history are
// folded into the system prompt since the Messages API has no system role.
func anthropicMessages(systemPrompt string, history []Message) (string, []anthropic.MessageParam) {
	systemParts := []string{}
	if systemPrompt != "" {
		systemParts = append(systemParts, systemPrompt)
	}

	var messages []anthropic.MessageParam
	for _, seg := range segments(history) {
		if seg.text != nil {
			if strings.TrimSpace(seg.text.Content) == "" {
				continue
			}
			switch seg.text.Role {
			case RoleSystem:
				systemParts = append(systemParts, seg.text.Content)
			case RoleAssistant:
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(seg.text.Content)))
			default:
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(seg.text.Content)))
			}
			continue
		}

		uses := make([]anthropic.ContentBlockParamUnion, 0, len(seg.results))
		results := make([]anthropic.ContentBlockParamUnion, 0, len(seg.results))
		for _, m := range seg.results {
			ref := m.ToolReference
			args := ref.Arguments
			if args == nil {
				args = map[string]any{}
			}
			uses = append(uses, anthropic.NewToolUseBlock(ref.InvocationID, args, ref.Tool))
			isErr := m.Result == nil || !m.Result.OK
			results = append(results, anthropic.NewToolResultBlock(ref.InvocationID, m.ResultJSON(), isErr))
		}
		messages = append(messages,
			anthropic.NewAssistantMessage(uses...),
			anthropic.NewUserMessage(results...),
		)
	}
	return strings.Join(systemParts, "\n\n"), messages
}

type anthropicSchema struct {
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

func anthropicTools(reg *tools.Registry) []anthropic.ToolUnionParam {
	defs := reg.All()
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropicSchema
		_ = json.Unmarshal(def.SchemaJSON(), &schema)
		if schema.Properties == nil {
			schema.Properties = map[string]any{}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}
	return out
}

func anthropicError(err error) *CompletionError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewErrorWithCause(ErrProviderError, "provider rejected the request", err).WithStatus(apiErr.StatusCode)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return NewErrorWithCause(ErrMalformedResponse, "provider response is not valid JSON", err)
	}
	return NewErrorWithCause(ErrProviderUnavailable, "provider unreachable", err)
}
