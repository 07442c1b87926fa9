// Package catalog is the read-only client for the venue catalog service.
// The catalog owns venue identity, claimed status and game rosters; this
// subsystem only looks things up.
package catalog

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

// GetVenue fetches one venue, or nil when the catalog has no such venue.
func (c *Client) GetVenue(ctx context.Context, key models.VenueKey) (*models.Venue, error) {
	venues, err := c.GetVenues(ctx, []models.VenueKey{key})
	if err != nil {
		return nil, err
	}
	if len(venues) == 0 {
		return nil, nil
	}
	return &venues[0], nil
}

// GetVenues batch-fetches venues in one round trip. Unknown keys are simply
// absent from the reply.
func (c *Client) GetVenues(ctx context.Context, venueKeys []models.VenueKey) ([]models.Venue, error) {
	if len(venueKeys) == 0 {
		return nil, nil
	}

	q := url.Values{}
	for _, key := range venueKeys {
		q.Add("key", key.String())
	}
	reqURL := fmt.Sprintf("%s/api/catalog/venues?%s", c.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	if c.M2M != nil {
		token, err := c.M2M.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog auth: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var payload struct {
		Venues []models.Venue `json:"venues"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	return payload.Venues, nil
}
