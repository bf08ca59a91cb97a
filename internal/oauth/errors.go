package oauth

import (
	"errors"
	"fmt"
)

// ErrLoginCanceled marks a login attempt that ended without an outcome:
// the user closed the browser, the deadline passed, or the client was
// disposed. Callers treat it as a non-error for reporting purposes.
var ErrLoginCanceled = errors.New("login canceled")

// IsCanceled reports whether err stems from a canceled login.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrLoginCanceled)
}

// LoginFailedError describes a login round trip that failed with a
// diagnosable cause, as opposed to one that was canceled.
type LoginFailedError struct {
	// Status is a short description of the failing step, usually the
	// HTTP status line of the rejecting response.
	Status string

	// Body is the response body of the rejecting response, if any.
	Body string

	// Err is the underlying error, if any.
	Err error
}

func (e *LoginFailedError) Error() string {
	msg := "login failed: " + e.Status
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *LoginFailedError) Unwrap() error {
	return e.Err
}
