package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vitalis-health/clinsight/internal/shared/config"
)

// SearchClient is the knowledge base at its interface boundary. The
// semantic-search implementation behind it is externally provided.
type SearchClient interface {
	Search(ctx context.Context, query string, topK int) ([]Reference, error)
	GetByID(ctx context.Context, referenceID string) (*Reference, error)
}

// HTTPClient talks to the knowledge-base service over HTTP.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a knowledge-base client from configuration.
func NewHTTPClient(cfg config.KnowledgeConfig) *HTTPClient {
	return &HTTPClient{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	References []Reference `json:"references"`
}

// Search returns the top-K references for a query, relevance descending.
func (c *HTTPClient) Search(ctx context.Context, query string, topK int) ([]Reference, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge base unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge base returned status %d", resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	return result.References, nil
}

// GetByID fetches a single reference.
func (c *HTTPClient) GetByID(ctx context.Context, referenceID string) (*Reference, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/references/"+referenceID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build reference request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge base unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("reference %s not found", referenceID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge base returned status %d", resp.StatusCode)
	}

	var ref Reference
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, fmt.Errorf("failed to decode reference: %w", err)
	}
	return &ref, nil
}
