package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Authentication errors.
var (
	// ErrMissingToken indicates no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken indicates the token is unknown, expired or revoked.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrAccountInactive indicates the token's account is deactivated.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrAdminRequired indicates the operation needs admin privileges.
	ErrAdminRequired = errors.New("administrator privileges required")
)

// writeAuthError writes a JSON authentication error response.
func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	switch {
	case errors.Is(err, ErrAdminRequired), errors.Is(err, ErrAccountInactive):
		status = http.StatusForbidden
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	})
}
