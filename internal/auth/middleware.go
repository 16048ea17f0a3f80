package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/prn-tf/meridian-vault/internal/domain"
)

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	// Authenticate returns the user behind a token, or an error if the
	// token is unknown, expired, or belongs to an inactive account.
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Config contains configuration for the auth middleware.
type Config struct {
	// SkipPaths are paths that skip authentication entirely.
	SkipPaths []string
}

// DefaultConfig returns the default auth configuration.
func DefaultConfig() Config {
	return Config{
		SkipPaths: []string{"/healthz", "/metrics"},
	}
}

// bearerToken extracts the token from an Authorization header.
// Returns "" when no bearer credentials are presented.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Middleware resolves bearer tokens and attaches the identity to the
// request context. Anonymous requests pass through with no identity; each
// handler decides whether that is acceptable.
func Middleware(authn Authenticator, config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range config.SkipPaths {
				if r.URL.Path == path {
					next.ServeHTTP(w, r)
					return
				}
			}

			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("bearer authentication failed")
				if errors.Is(err, domain.ErrUserInactive) {
					writeAuthError(w, ErrAccountInactive)
					return
				}
				writeAuthError(w, ErrInvalidToken)
				return
			}

			identity := &Identity{
				UserID:  user.ID,
				Email:   user.Email,
				IsAdmin: user.IsAdmin,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAuth rejects anonymous requests. Mount inside Middleware.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFrom(r.Context()) == nil {
			writeAuthError(w, ErrMissingToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests from non-admin identities.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		if id == nil {
			writeAuthError(w, ErrMissingToken)
			return
		}
		if !id.IsAdmin {
			writeAuthError(w, ErrAdminRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}
