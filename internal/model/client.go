package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/vitalis-health/clinsight/internal/shared/config"
)

// Client is the foundation-model endpoint at its interface boundary.
type Client interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient invokes the foundation model over its HTTP API. Outbound calls
// are paced with a client-side limiter to stay under the endpoint quota
// instead of discovering it through 429s.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	modelID    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient creates a model client from configuration. The HTTP client
// carries no timeout of its own; the invoker owns the per-attempt deadline.
func NewHTTPClient(cfg config.ModelConfig) *HTTPClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = rps
	}
	return &HTTPClient{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		modelID:    cfg.ModelID,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type invokeRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Invoke performs a single model call. Failures are classified so the
// invoker can apply the right retry policy.
func (c *HTTPClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyErr(err)
	}

	body, err := json.Marshal(invokeRequest{
		Model:       c.modelID,
		Prompt:      req.Prompt,
		System:      req.System,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, &InvokeError{Kind: KindBadRequest, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, &InvokeError{Kind: KindBadRequest, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a bounded amount for the error detail
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &InvokeError{
			Kind:   classifyStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, string(detail)),
		}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &InvokeError{Kind: KindUnknown, Err: fmt.Errorf("failed to decode model response: %w", err)}
	}
	if out.Model == "" {
		out.Model = c.modelID
	}

	return &out, nil
}
