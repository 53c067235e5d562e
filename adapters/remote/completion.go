// Package remote provides the client for the downstream AI completion
// service. The downstream is treated as an opaque remote call with its own
// latency and failure behavior; the only contract is the payload in and the
// result plus volume measurement out.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/artpar/tollgate/domain/ledger"
	"github.com/artpar/tollgate/ports"
)

// CompletionClient calls the downstream completion endpoint over HTTP.
type CompletionClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// CompletionConfig configures the client.
type CompletionConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewCompletionClient creates a new downstream completion client.
func NewCompletionClient(cfg CompletionConfig) *CompletionClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &CompletionClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// RemoteError represents an error response from the downstream service.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("downstream returned %d: %s", e.StatusCode, e.Message)
}

type completionRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

type completionResponse struct {
	SuggestedText string `json:"suggested_text"`
	Priority      string `json:"priority"`
	DueHint       string `json:"due_time_suggestion"`
	Usage         struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends the unit of work downstream and returns the result plus its
// measured volume.
func (c *CompletionClient) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResult, error) {
	payload, err := json.Marshal(completionRequest{Model: c.model, Text: req.Text})
	if err != nil {
		return ports.CompletionResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(payload))
	if err != nil {
		return ports.CompletionResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	httpReq.Header.Set("X-Request-ID", req.RequestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ports.CompletionResult{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ports.CompletionResult{}, &RemoteError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.CompletionResult{}, fmt.Errorf("decode response: %w", err)
	}

	return ports.CompletionResult{
		SuggestedText: out.SuggestedText,
		Priority:      out.Priority,
		DueHint:       out.DueHint,
		Volume: ledger.Volume{
			InputUnits:  out.Usage.InputTokens,
			OutputUnits: out.Usage.OutputTokens,
		},
	}, nil
}

// Ensure interface compliance.
var _ ports.Completer = (*CompletionClient)(nil)
