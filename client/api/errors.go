package api

import (
	"errors"
	"fmt"

	"readsync/server/common/transport/httpresp"
)

var (
	// ErrAuthRequired means the operation needs an authenticated identity
	// and none was available (no token, or the server refused the token).
	ErrAuthRequired = errors.New("sign-in required")

	ErrInvalidInviteCode = errors.New(httpresp.ErrInvalidInviteCode)
	ErrSessionFull       = errors.New(httpresp.ErrSessionFull)
	ErrSessionEnded      = errors.New(httpresp.ErrSessionEnded)
	ErrNotFound          = errors.New("not found")
)

// RejectedError is any 4xx the session service returned that the caller may
// surface verbatim to the user.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("session service rejected request (%d): %s", e.Status, e.Message)
}

// TransientError wraps timeouts, connection failures and 5xx responses.
// Callers on a timer log it and let the next tick retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejected reports whether err is any definitive 4xx outcome, including
// the named sentinels above.
func IsRejected(err error) bool {
	var re *RejectedError
	if errors.As(err, &re) {
		return true
	}
	return errors.Is(err, ErrAuthRequired) ||
		errors.Is(err, ErrInvalidInviteCode) ||
		errors.Is(err, ErrSessionFull) ||
		errors.Is(err, ErrSessionEnded) ||
		errors.Is(err, ErrNotFound)
}

func rejectionError(status int, message string) error {
	switch message {
	case httpresp.ErrInvalidInviteCode:
		return ErrInvalidInviteCode
	case httpresp.ErrSessionFull:
		return ErrSessionFull
	case httpresp.ErrSessionEnded:
		return ErrSessionEnded
	}
	if status == 404 {
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	}
	return &RejectedError{Status: status, Message: message}
}
