package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"arcade-presence/internal/logger"
	"arcade-presence/internal/models"
)

// M2MClient fetches client-credential tokens for calls to the catalog and
// identity services, caching them in Redis until shortly before expiry.
type M2MClient struct {
	HTTP   *http.Client
	Cache  *RedisTokenCache
	Logger *logger.Logger
}

func NewM2MClient(httpClient *http.Client, cache *RedisTokenCache, log *logger.Logger) *M2MClient {
	return &M2MClient{HTTP: httpClient, Cache: cache, Logger: log}
}

// Token returns a valid service token, hitting the auth provider only when
// the cached one is missing or about to expire.
func (c *M2MClient) Token(ctx context.Context) (string, error) {
	if c.Cache != nil {
		cached, err := c.Cache.GetToken(ctx)
		if err != nil {
			c.Logger.Warn("AUTH", fmt.Sprintf("token cache read failed: %v", err))
		} else if cached.IsValid() {
			return cached.Token, nil
		}
	}

	token, expiresIn, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	if c.Cache != nil {
		expiry := time.Now().Add(time.Duration(expiresIn) * time.Second)
		if err := c.Cache.SetToken(ctx, token, expiry); err != nil {
			c.Logger.Warn("AUTH", fmt.Sprintf("token cache write failed: %v", err))
		}
	}
	return token, nil
}

func (c *M2MClient) fetchToken(ctx context.Context) (string, int, error) {
	issuer := os.Getenv("OIDC_ISSUER")
	if issuer == "" {
		return "", 0, fmt.Errorf("OIDC_ISSUER not set")
	}
	tokenURL := issuer + "/protocol/openid-connect/token"

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", os.Getenv("OIDC_CLIENT_ID"))
	data.Set("client_secret", os.Getenv("OIDC_CLIENT_SECRET"))

	req, err := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("token endpoint returned %s: %s", resp.Status, string(body))
	}

	var tokenResp models.M2MTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	return tokenResp.AccessToken, tokenResp.ExpiresIn, nil
}
