// Package domain contains the core business entities for Meridian Vault.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same email exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrUserInactive indicates the user account is disabled.
	ErrUserInactive = errors.New("user account is inactive")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ===========================================
	// File Errors
	// ===========================================

	// ErrFileNotFound indicates the requested file record does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrForbidden indicates the requester is neither the owner nor an admin.
	ErrForbidden = errors.New("access denied")

	// ErrFilenameEmpty indicates an upload or rename with an empty filename.
	ErrFilenameEmpty = errors.New("filename must not be empty")

	// ErrFilenameTooLong indicates the filename exceeds maximum length.
	ErrFilenameTooLong = errors.New("filename exceeds maximum length of 512 characters")

	// ErrEmptyUpload indicates the upload stream contained no bytes.
	ErrEmptyUpload = errors.New("upload stream is empty")

	// ErrQuotaExceeded indicates the upload would exceed the owner's quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ===========================================
	// Blob/Storage Errors
	// ===========================================

	// ErrBlobNotFound indicates the requested blob does not exist or is
	// pending deletion.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBlobInUse indicates a reclamation attempt on a blob whose reference
	// count is nonzero. This is an expected concurrent outcome, handled by
	// the garbage collector, never surfaced to callers.
	ErrBlobInUse = errors.New("blob is still referenced")

	// ErrBlobCorrupted indicates the blob content does not match its digest.
	ErrBlobCorrupted = errors.New("blob content is corrupted")

	// ErrRefCountNegative indicates a decrement was attempted on a blob whose
	// reference count is already zero. This is an invariant violation: it
	// signals a bookkeeping bug in the caller and must never be silently
	// corrected.
	ErrRefCountNegative = errors.New("reference count would go negative")

	// ErrStorageFull indicates the storage backend has no space.
	ErrStorageFull = errors.New("storage is full")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., file ID, digest).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}
