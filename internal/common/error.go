package common

import "fmt"

// Error is a classified failure carrying a client-facing message.
//
// Kind is one of the service-level sentinels (ErrorValidation, ErrorConflict,
// ErrorNotFound, ErrorUnauthorized, ErrorInternal). Details holds optional
// per-field messages rendered into the "errors" array of the response.
type Error struct {
	Kind    error
	Message string
	Details []string
	cause   error
}

// NewError returns an *Error of the given kind.
func NewError(kind error, message string, details ...string) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// Wrap returns an *Error of the given kind that also keeps cause in the chain.
func Wrap(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Kind, e.cause}
	}
	return []error{e.Kind}
}

func Validation(message string, details ...string) *Error {
	return NewError(ErrorValidation, message, details...)
}

func Conflict(message string) *Error { return NewError(ErrorConflict, message) }

func NotFound(message string) *Error { return NewError(ErrorNotFound, message) }

func Unauthorized(message string) *Error { return NewError(ErrorUnauthorized, message) }

func Internal(message string, cause error) *Error { return Wrap(ErrorInternal, message, cause) }
