package llm

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIClient_MissingCredential(t *testing.T) {
	_, err := NewOpenAIClient("", "", 60, slog.Default())
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestOpenAIClient_MapError(t *testing.T) {
	client, err := NewOpenAIClient("test-key", "", 60, slog.Default())
	require.NoError(t, err)

	tests := []struct {
		name string
		in   *openai.APIError
		want error
	}{
		{
			name: "unauthorized maps to missing credential",
			in:   &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"},
			want: ErrMissingCredential,
		},
		{
			name: "quota type maps to quota exceeded",
			in:   &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Type: "insufficient_quota"},
			want: ErrQuotaExceeded,
		},
		{
			name: "429 maps to rate limited",
			in:   &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Type: "requests"},
			want: ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := client.mapError(context.Background(), tt.in)
			assert.ErrorIs(t, mapped, tt.want)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.False(t, IsRetryable(ErrQuotaExceeded))
	assert.False(t, IsRetryable(ErrMissingCredential))
}
