package apierr

import "fmt"

// Error carries an HTTP status and a stable machine-readable code alongside
// the underlying cause. Handlers map it straight onto the response envelope.
type Error struct {
	Status    int
	Code      string
	Retryable bool
	// RetryAfter, in seconds, is set for rate-limit errors.
	RetryAfter int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func RateLimited(code string, retryAfter int, err error) *Error {
	return &Error{Status: 429, Code: code, Retryable: true, RetryAfter: retryAfter, Err: err}
}
