package auth

import (
	"errors"
	"net/http"
	"strings"
)

// ExtractTokenFromRequest pulls the raw bearer token out of the
// Authorization header. The token is NOT verified here; callers hand it to
// the OIDC verifier before trusting any claim in it.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}
