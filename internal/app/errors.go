package app

import "errors"

var (
	ErrMissingSender      = errors.New("sender is required")
	ErrMissingReceiver    = errors.New("receiver is required")
	ErrEmptyContent       = errors.New("content is required")
	ErrSelfMessage        = errors.New("cannot send a message to yourself")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrRateLimited        = errors.New("too many messages, slow down")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already exists")
)

// IsValidation reports whether the error is a request-validation failure,
// rejected before any store mutation and safe to echo to the caller.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingSender) ||
		errors.Is(err, ErrMissingReceiver) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrSelfMessage) ||
		errors.Is(err, ErrWeakPassword)
}
