// Package identity is the read-only client for the auth/identity service,
// used to resolve contributor display names and presence visibility opt-ins.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"arcade-presence/internal/auth"
	"arcade-presence/internal/logger"
	"arcade-presence/internal/models"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	M2M     *auth.M2MClient
	Logger  *logger.Logger
}

func NewClient(baseURL string, httpClient *http.Client, m2m *auth.M2MClient, log *logger.Logger) *Client {
	return &Client{BaseURL: baseURL, HTTP: httpClient, M2M: m2m, Logger: log}
}

// GetUsers batch-resolves users by id. Unknown ids are absent from the reply.
func (c *Client) GetUsers(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id)
	}
	reqURL := fmt.Sprintf("%s/api/users?%s", c.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	if c.M2M != nil {
		token, err := c.M2M.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("identity auth: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity returned status %d", resp.StatusCode)
	}

	var payload struct {
		Users []models.User `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}
	return payload.Users, nil
}
