package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// Client queries a remote retrieval endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Retriever = (*Client)(nil)

// NewClient creates a retrieval client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Results []domain.Passage `json:"results"`
	Error   string           `json:"error,omitempty"`
}

// Search posts the query to /search.
func (c *Client) Search(ctx context.Context, q Query) ([]domain.Passage, error) {
	body, err := json.Marshal(q.withDefaults())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out searchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("knowledge search failed [%d]: %s", resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge search failed [%d]: %s", resp.StatusCode, out.Error)
	}
	return out.Results, nil
}
