package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"waygate/internal/pkg/errors"
	"waygate/internal/platform/auth"
	"waygate/internal/platform/config"
)

// AuthMiddleware accepts either the static API key (Authorization bearer or
// X-API-Key header) or a JWT signed with the configured secret. The health
// endpoint is routed without it.
type AuthMiddleware struct {
	apiKey   string
	tokenSvc *auth.TokenService
}

func NewAuthMiddleware(cfg config.AuthConfig, tokenSvc *auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{apiKey: cfg.APIKey, tokenSvc: tokenSvc}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := r.Header.Get("X-API-Key")
		if credential == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing credentials", nil)
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
				return
			}
			credential = parts[1]
		}

		if m.apiKey != "" && subtle.ConstantTimeCompare([]byte(credential), []byte(m.apiKey)) == 1 {
			next(w, r)
			return
		}

		if m.tokenSvc.Enabled() {
			if _, err := m.tokenSvc.ValidateToken(credential); err == nil {
				next(w, r)
				return
			}
		}

		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired credentials", nil)
	}
}
