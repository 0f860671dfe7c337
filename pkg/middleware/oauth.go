package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"qr-scheduler/pkg/logging"

	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	ScopeDestinationsRead  = "destinations:read"
	ScopeDestinationsWrite = "destinations:write"
)

type OAuthConfig struct {
	IssuerURL string
	Audience  string
}

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*AuthClaims, error)
}

type OAuthMiddleware struct {
	verifier TokenVerifier
	audience string
	logger   *logging.Logger
}

type AuthClaims struct {
	Sub      string   `json:"sub"`
	Email    string   `json:"email"`
	Scope    string   `json:"scope"`
	Groups   []string `json:"groups,omitempty"`
	Audience []string `json:"-"`
}

type contextKey string

const (
	subKey   contextKey = "sub"
	emailKey contextKey = "email"
	scopeKey contextKey = "scope"
)

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (o *oidcVerifier) Verify(ctx context.Context, rawToken string) (*AuthClaims, error) {
	token, err := o.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	var claims AuthClaims
	if err := token.Claims(&claims); err != nil {
		return nil, err
	}
	claims.Audience = token.Audience
	return &claims, nil
}

func NewOAuthMiddleware(ctx context.Context, config OAuthConfig, logger *logging.Logger) (*OAuthMiddleware, error) {
	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: config.Audience,
	})
	return NewOAuthMiddlewareWithVerifier(&oidcVerifier{verifier: verifier}, config.Audience, logger), nil
}

// NewOAuthMiddlewareWithVerifier builds the middleware around any verifier.
func NewOAuthMiddlewareWithVerifier(verifier TokenVerifier, audience string, logger *logging.Logger) *OAuthMiddleware {
	if logger == nil {
		logger = logging.Nop()
	}
	return &OAuthMiddleware{verifier: verifier, audience: audience, logger: logger}
}

func (m *OAuthMiddleware) Authenticate(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := m.verifier.Verify(ctx, tokenString)
			if err != nil {
				m.logger.Warn(ctx, "token verification failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			if !m.checkAudience(claims.Audience) {
				m.logger.LogAuthEvent(ctx, "audience_mismatch", claims.Sub, false)
				http.Error(w, "invalid audience", http.StatusUnauthorized)
				return
			}

			if len(requiredScopes) > 0 && !m.checkScopes(claims.Scope, requiredScopes) {
				m.logger.LogAuthEvent(ctx, "insufficient_scope", claims.Sub, false)
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}

			m.logger.LogAuthEvent(ctx, "authenticated", claims.Sub, true)
			ctx = context.WithValue(ctx, subKey, claims.Sub)
			ctx = context.WithValue(ctx, emailKey, claims.Email)
			ctx = context.WithValue(ctx, scopeKey, claims.Scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *OAuthMiddleware) checkAudience(audience []string) bool {
	for _, a := range audience {
		if a == m.audience {
			return true
		}
	}
	return false
}

func (m *OAuthMiddleware) checkScopes(tokenScopes string, requiredScopes []string) bool {
	scopes := strings.Fields(tokenScopes)
	scopeMap := make(map[string]bool)
	for _, s := range scopes {
		scopeMap[s] = true
	}

	for _, required := range requiredScopes {
		if !scopeMap[required] {
			return false
		}
	}
	return true
}

// Helper functions to extract values from context
func GetSubFromContext(ctx context.Context) string {
	if sub, ok := ctx.Value(subKey).(string); ok {
		return sub
	}
	return ""
}

func GetEmailFromContext(ctx context.Context) string {
	if email, ok := ctx.Value(emailKey).(string); ok {
		return email
	}
	return ""
}

func GetScopeFromContext(ctx context.Context) string {
	if scope, ok := ctx.Value(scopeKey).(string); ok {
		return scope
	}
	return ""
}
