package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredentials is returned by a credential store when nothing
	// usable is persisted (absent or swept as partial).
	ErrNoCredentials = errors.New("no persisted credentials")

	// ErrUnauthorized marks a remote rejection that survived (or never
	// entered) the one-shot renewal path.
	ErrUnauthorized = errors.New("authorization rejected")

	// ErrIdentityMismatch marks a valid token whose server identity does
	// not match the locally cached one. Always forces logout.
	ErrIdentityMismatch = errors.New("identity mismatch")

	// ErrSessionExpired marks the inactivity-window expiry. It is a state
	// transition, not a user-visible error.
	ErrSessionExpired = errors.New("session expired by inactivity")

	// ErrUnreachable marks transport-level failures (no HTTP response).
	ErrUnreachable = errors.New("portal unreachable")
)

// APIError is a non-2xx response from the portal, carrying the HTTP status
// and the server-provided message ("detail"/"error"/"message" envelope).
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("portal returned status %d", e.Status)
	}
	return fmt.Sprintf("portal returned status %d: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match any 401 APIError.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == 401
}

// ValidationError is a locally detected bad input. It never reaches the
// Session; callers surface it next to the offending field.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid input"
	}
	msg := e.Fields[0]
	for _, f := range e.Fields[1:] {
		msg += "; " + f
	}
	return msg
}
