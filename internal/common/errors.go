// Package common defines shared constants and sentinel errors used across
// the server layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level error kinds. Each one maps onto a single HTTP status.
	ErrorValidation   = errors.New("validation error")
	ErrorConflict     = errors.New("conflict")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorInternal     = errors.New("internal error")

	// Auth errors (invalid, tampered or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors. Always reported together with ErrInvalidToken.
	ErrTokenExpired = errors.New("token expired")

	// Media upload errors.
	ErrNoFile       = errors.New("no file to upload")
	ErrUploadFailed = errors.New("upload failed")
)
