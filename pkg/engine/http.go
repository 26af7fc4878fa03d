package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/flowmend/flowmend/pkg/models"
)

const (
	apiKeyHeader       = "X-API-KEY"
	defaultHTTPTimeout = 30 * time.Second
)

// HTTPClient talks to the execution engine's REST API. All calls go through a
// circuit breaker so a dead engine fails fast instead of piling up timeouts.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *slog.Logger
}

// NewHTTPClient creates a client for the engine at baseURL, authenticated by
// the configured API credential.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "execution-engine",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

func (c *HTTPClient) Create(ctx context.Context, artifact *models.Artifact) (*models.Artifact, error) {
	// Stored copies never carry submission-side identity or activation state.
	submission := artifact.Clone()
	submission.EngineID = ""
	submission.Active = nil
	submission.CreatedAt = nil
	submission.UpdatedAt = nil

	var stored models.Artifact
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows", submission, &stored); err != nil {
		return nil, err
	}

	return &stored, nil
}

func (c *HTTPClient) Get(ctx context.Context, id string) (*models.Artifact, error) {
	var stored models.Artifact

	err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(id), nil, &stored)
	if err != nil {
		if engineErr, ok := AsEngineError(err); ok && engineErr.Status == http.StatusNotFound {
			return nil, nil
		}

		return nil, err
	}

	return &stored, nil
}

func (c *HTTPClient) SetActive(ctx context.Context, id string, active bool) error {
	action := "deactivate"
	if active {
		action = "activate"
	}

	path := fmt.Sprintf("/api/v1/workflows/%s/%s", url.PathEscape(id), action)

	return c.do(ctx, http.MethodPost, path, nil, nil)
}

type executionWire struct {
	ID            string             `json:"id"`
	WorkflowID    string             `json:"workflowId"`
	Status        string             `json:"status"`
	StartedAt     time.Time          `json:"startedAt"`
	StoppedAt     time.Time          `json:"stoppedAt"`
	NodeTimings   map[string]int64   `json:"nodeTimings,omitempty"`
	ResourceUsage map[string]float64 `json:"resourceUsage,omitempty"`
	Cost          float64            `json:"cost,omitempty"`
}

func (c *HTTPClient) ListExecutions(ctx context.Context, id string) ([]*models.ExecutionRecord, error) {
	var payload struct {
		Data []executionWire `json:"data"`
	}

	path := "/api/v1/executions?workflowId=" + url.QueryEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	records := make([]*models.ExecutionRecord, 0, len(payload.Data))
	for _, wire := range payload.Data {
		records = append(records, wire.toRecord())
	}

	return records, nil
}

func (w executionWire) toRecord() *models.ExecutionRecord {
	outcome := models.ExecutionOutcomeFailure

	switch w.Status {
	case "success":
		outcome = models.ExecutionOutcomeSuccess
	case "timeout":
		outcome = models.ExecutionOutcomeTimeout
	}

	var durationMS int64
	if !w.StoppedAt.IsZero() && !w.StartedAt.IsZero() {
		durationMS = w.StoppedAt.Sub(w.StartedAt).Milliseconds()
	}

	return &models.ExecutionRecord{
		ID:            w.ID,
		LifecycleID:   w.WorkflowID,
		EngineRunID:   w.ID,
		Outcome:       outcome,
		StartedAt:     w.StartedAt,
		FinishedAt:    w.StoppedAt,
		DurationMS:    durationMS,
		NodeTimings:   w.NodeTimings,
		ResourceUsage: w.ResourceUsage,
		Cost:          w.Cost,
	}
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/workflows/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	var payload struct {
		Data []json.RawMessage `json:"data"`
	}

	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows?limit=1", nil, &payload); err != nil {
		return err
	}

	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Engine call failed", "method", method, "path", path, "error", err)

		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(resp.StatusCode, payload)
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode engine response: %w", err)
		}
	}

	return nil
}

func (c *HTTPClient) decodeError(status int, payload []byte) error {
	engineErr := &Error{Status: status}

	var wire struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	if err := json.Unmarshal(payload, &wire); err == nil {
		engineErr.Code = wire.Code
		engineErr.Message = wire.Message
	}

	if engineErr.Message == "" {
		engineErr.Message = http.StatusText(status)
	}

	return engineErr
}
