// Package service provides business logic services for Meridian Vault.
package service

import "errors"

// Common service errors.
var (
	// User errors
	ErrInvalidPassword = errors.New("invalid password: must be at least 8 characters")
	ErrInvalidEmail    = errors.New("invalid email format")
	ErrInvalidToken    = errors.New("invalid or expired token")

	// Ingest errors
	ErrUploadTooLarge = errors.New("upload exceeds maximum allowed size")
	ErrBatchTooLarge  = errors.New("batch exceeds maximum file count")

	// Listing errors
	ErrInvalidSortKey = errors.New("invalid sort key")

	// General errors
	ErrInternalError = errors.New("internal server error")
)
