// Package handler provides HTTP handlers for the Meridian Vault API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/service"
)

// APIError is the JSON error envelope.
type APIError struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response body")
	}
}

// writeError maps a service or domain error to an HTTP status and writes
// the JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), APIError{Error: err.Error()})
}

// statusFor maps known error values to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrFileNotFound),
		errors.Is(err, domain.ErrBlobNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrUserInactive):
		return http.StatusForbidden

	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized

	case errors.Is(err, domain.ErrUserAlreadyExists):
		return http.StatusConflict

	case errors.Is(err, domain.ErrQuotaExceeded),
		errors.Is(err, domain.ErrStorageFull):
		return http.StatusInsufficientStorage

	case errors.Is(err, service.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, domain.ErrFilenameEmpty),
		errors.Is(err, domain.ErrFilenameTooLong),
		errors.Is(err, domain.ErrEmptyUpload),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrInvalidPassword),
		errors.Is(err, service.ErrInvalidSortKey),
		errors.Is(err, service.ErrBatchTooLarge):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
