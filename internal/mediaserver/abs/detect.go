package abs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bennybar/kitzi/internal/domain"
)

const detectTimeout = 10 * time.Second

// ServerStatus is the unauthenticated GET /status response
type ServerStatus struct {
	IsInit        bool   `json:"isInit"`
	ServerVersion string `json:"serverVersion"`
	Language      string `json:"language,omitempty"`
}

// Ping probes the server's unauthenticated status endpoint.
func (c *Client) Ping(ctx context.Context) (*ServerStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status endpoint returned %d", domain.ErrServerOffline, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var status ServerStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("not an Audiobookshelf server: %w", err)
	}
	if status.ServerVersion == "" {
		return nil, fmt.Errorf("not an Audiobookshelf server: missing serverVersion")
	}

	c.logger.Debug("abs server detected", "version", status.ServerVersion, "initialized", status.IsInit)
	return &status, nil
}
