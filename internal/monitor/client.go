package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	httpapi "github.com/fyrsmithlabs/patternd/internal/http"
)

// StatusClient polls the patternd status endpoint.
type StatusClient struct {
	baseURL string
	client  *http.Client
}

// NewStatusClient creates a client for the server at baseURL.
func NewStatusClient(baseURL string) *StatusClient {
	return &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Status fetches the current server status.
func (c *StatusClient) Status(ctx context.Context) (httpapi.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return httpapi.StatusResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return httpapi.StatusResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpapi.StatusResponse{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var status httpapi.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return httpapi.StatusResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return status, nil
}
