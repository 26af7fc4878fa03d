package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 4096
	defaultCallTimeout = 60 * time.Second
)

// OpenAIClient implements Client against an OpenAI-compatible completion API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIClient creates a client for the given credential. requestsPerMinute
// bounds the local call rate before the provider's own limiter kicks in.
func NewOpenAIClient(apiKey, model string, requestsPerMinute int, logger *slog.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}

	if model == "" {
		model = defaultModel
	}

	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}

	return &OpenAIClient{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
		timeout: defaultCallTimeout,
		logger:  logger,
	}, nil
}

// Complete sends the request and maps provider failures to typed outcomes.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, message := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    message.Role,
			Content: message.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               model,
		Messages:            messages,
		MaxCompletionTokens: maxTokens,
		Temperature:         req.Temperature,
	})
	if err != nil {
		return nil, c.mapError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("completion returned no choices")
	}

	return &CompletionResponse{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func (c *OpenAIClient) mapError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("completion failed: %w", err)
	}

	c.logger.WarnContext(ctx, "Completion API error", "status", apiErr.HTTPStatusCode, "type", apiErr.Type)

	switch {
	case apiErr.HTTPStatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrMissingCredential, apiErr.Message)
	case apiErr.Type == "insufficient_quota":
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
	case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	default:
		return fmt.Errorf("completion failed: %w", err)
	}
}
