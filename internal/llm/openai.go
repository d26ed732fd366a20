package llm

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/MimeLyc/hospital-agent/internal/config"
	"github.com/MimeLyc/hospital-agent/internal/tools"
)

// OpenAIClient talks to any OpenAI-compatible chat completions API.
// OpenRouter is the default deployment.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewOpenAIClient creates a client from cfg. httpClient may be nil.
//
// Example:
//
//	cfg, _ := config.NewFromEnv()
//	client, err := llm.NewOpenAIClient(cfg.LLM, nil)
func NewOpenAIClient(cfg config.LLMConfig, httpClient *http.Client) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, config.ErrMissingCredential
	}
	if cfg.APIURL == "" {
		return nil, errors.New("LLM API URL is required")
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}
	headers := map[string]string{}
	if cfg.SiteURL != "" {
		headers["HTTP-Referer"] = cfg.SiteURL
	}
	if cfg.AppName != "" {
		headers["X-Title"] = cfg.AppName
	}
	httpClient = withHeaders(httpClient, headers)

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.APIURL
	clientCfg.HTTPClient = httpClient

	// go-openai drops a zero temperature from the request body, which would
	// leave the provider default in place.
	temperature := float32(cfg.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: temperature,
		timeout:     cfg.Timeout,
	}, nil
}

func (c *OpenAIClient) Name() string {
	return "openai-compatible:" + c.model
}

// Complete sends one chat completion request with the tool catalog attached.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    openAIMessages(req.SystemPrompt, req.History),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if req.Tools != nil && req.Tools.Count() > 0 {
		chatReq.Tools = openAITools(req.Tools)
		chatReq.ToolChoice = "auto"
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return Completion{}, openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, NewError(ErrMalformedResponse, "no choices in response").WithContext("model", c.model)
	}

	msg := resp.Choices[0].Message
	calls := make([]rawToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, rawToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: []byte(tc.Function.Arguments),
		})
	}
	return classify(req.Tools, msg.Content, calls)
}

// Ping lists models, which needs a valid key but spends no tokens.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if _, err := c.client.ListModels(ctx); err != nil {
		return openAIError(err)
	}
	return nil
}

func openAIMessages(systemPrompt string, history []Message) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, seg := range segments(history) {
		if seg.text != nil {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openAIRole(seg.text.Role),
				Content: seg.text.Content,
			})
			continue
		}

		// Tool results must immediately follow the assistant turn that requested them.
		calls := make([]openai.ToolCall, 0, len(seg.results))
		for _, m := range seg.results {
			calls = append(calls, openai.ToolCall{
				ID:   m.ToolReference.InvocationID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      m.ToolReference.Tool,
					Arguments: m.ToolReference.argumentsJSON(),
				},
			})
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			ToolCalls: calls,
		})
		for _, m := range seg.results {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.ResultJSON(),
				ToolCallID: m.ToolReference.InvocationID,
			})
		}
	}
	return msgs
}

func openAIRole(r Role) string {
	switch r {
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

func openAITools(reg *tools.Registry) []openai.Tool {
	defs := reg.All()
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.SchemaJSON(),
			},
		})
	}
	return out
}

func openAIError(err error) *CompletionError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewErrorWithCause(ErrProviderError, apiErr.Message, err).WithStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewErrorWithCause(ErrProviderError, "provider rejected the request", err).WithStatus(reqErr.HTTPStatusCode)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return NewErrorWithCause(ErrMalformedResponse, "provider response is not valid JSON", err)
	}
	return NewErrorWithCause(ErrProviderUnavailable, "provider unreachable", err)
}
