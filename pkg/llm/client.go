// Package llm provides the client contract for the language-model completion
// service consumed by generation, healing escalation and AI-assisted analysis.
package llm

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Typed completion failures. Callers branch on these instead of parsing
// provider error strings; anything else is a generic failure.
var (
	ErrMissingCredential = errors.New("llm credential missing")
	ErrRateLimited       = errors.New("llm rate limited")
	ErrQuotaExceeded     = errors.New("llm quota exceeded")
)

// Message is one role-tagged entry in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

// CompletionResponse carries the generated text and token accounting.
type CompletionResponse struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
}

// Client is the narrow contract every LLM consumer depends on.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// IsRetryable reports whether the failure is transient (rate limiting).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
