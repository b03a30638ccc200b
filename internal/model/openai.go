package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"github.com/triage-ai/replyguard/internal/verify"
	"go.uber.org/zap"
)

// OpenAI is a verify.Collaborator backed by the chat completions API. The same
// model serves generation and verification.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// OpenAIConfig configures the OpenAI collaborator.
type OpenAIConfig struct {
	APIKey  string
	Model   string // default gpt-4o-mini
	BaseURL string // optional, for compatible gateways
	HTTP    *http.Client
	Logger  *zap.Logger
}

// NewOpenAI creates an OpenAI collaborator.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewOpenAI: missing api key")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTP != nil {
		clientCfg.HTTPClient = cfg.HTTP
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}, nil
}

func (o *OpenAI) Generate(ctx context.Context, session verify.SessionContext, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: generateSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: generateUserPrompt(session, prompt)},
		},
	})
	if err != nil {
		return "", classifyOpenAI("OpenAI.Generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", verify.Transient("OpenAI.Generate", errors.New("no choices returned"))
	}
	o.logger.Debug("openai generate",
		zap.String("trace_id", session.TraceID),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Verify(ctx context.Context, candidate string, policy verify.PolicyContext) (verify.Judgment, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: verifySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: verifyUserPrompt(candidate, policy)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return verify.Judgment{}, classifyOpenAI("OpenAI.Verify", err)
	}
	if len(resp.Choices) == 0 {
		return verify.Judgment{}, verify.Transient("OpenAI.Verify", errors.New("no choices returned"))
	}
	j, err := ParseJudgment(resp.Choices[0].Message.Content)
	if err != nil {
		return verify.Judgment{}, fmt.Errorf("OpenAI.Verify: %w", err)
	}
	return j, nil
}

// classifyOpenAI wraps retryable API failures (408, 429, 5xx, network) as
// transient and everything else as permanent.
func classifyOpenAI(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if transientStatus(apiErr.HTTPStatusCode) {
			return verify.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if transientStatus(reqErr.HTTPStatusCode) {
			return verify.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return verify.Transient(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return verify.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}
