package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	adminKey  contextKey = "is_admin"
)

func newVerifier() *oidc.IDTokenVerifier {
	issuer := os.Getenv("OIDC_ISSUER")
	if issuer == "" {
		panic("OIDC_ISSUER env var not set")
	}

	provider, err := oidc.NewProvider(context.Background(), issuer)
	if err != nil {
		panic(fmt.Sprintf("Failed to create OIDC provider: %v", err))
	}

	// SkipClientIDCheck → tokens from any platform client are accepted
	return provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})
}

// verifyToken checks the raw bearer token's signature against the issuer and
// extracts the subject and admin flag from the verified claims.
func verifyToken(ctx context.Context, verifier *oidc.IDTokenVerifier, rawToken string) (string, bool, error) {
	idToken, err := verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", false, err
	}

	var claims struct {
		Sub         string `json:"sub"`
		RealmAccess struct {
			Roles []string `json:"roles"`
		} `json:"realm_access"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", false, fmt.Errorf("failed to parse claims: %w", err)
	}

	isAdmin := false
	for _, role := range claims.RealmAccess.Roles {
		if role == "site-admin" {
			isAdmin = true
			break
		}
	}
	return claims.Sub, isAdmin, nil
}

// Middleware verifies bearer tokens against the platform's OIDC issuer and
// stashes the subject and admin flag in the request context. Requests without
// a valid token are rejected.
func Middleware() func(http.Handler) http.Handler {
	verifier := newVerifier()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			userID, isAdmin, err := verifyToken(r.Context(), verifier, rawToken)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, isAdmin)))
		})
	}
}

// OptionalMiddleware is the public-route variant: a valid bearer token
// populates the identity in the context, anything else (absent, malformed,
// forged, expired) leaves the request anonymous rather than rejecting it.
// Only claims that passed signature verification ever reach the context.
func OptionalMiddleware() func(http.Handler) http.Handler {
	verifier := newVerifier()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rawToken, err := ExtractTokenFromRequest(r); err == nil {
				if userID, isAdmin, err := verifyToken(r.Context(), verifier, rawToken); err == nil {
					r = r.WithContext(WithIdentity(r.Context(), userID, isAdmin))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity stashes an already-verified subject in the context, for
// callers that sit outside the HTTP middleware.
func WithIdentity(ctx context.Context, userID string, admin bool) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, adminKey, admin)
}

// UserID extracts the authenticated subject from the request context.
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}

// IsAdmin reports whether the authenticated subject carries the site-admin role.
func IsAdmin(ctx context.Context) bool {
	if admin, ok := ctx.Value(adminKey).(bool); ok {
		return admin
	}
	return false
}
