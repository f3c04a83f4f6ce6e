package reliability

import (
	"context"
	"errors"
	"fmt"
)

// Coder is implemented by errors that carry their own metric code.
type Coder interface {
	ErrorCode() string
}

// CodedError is a sentinel that carries its own metric code.
type CodedError struct {
	Msg  string
	Code string
}

func (e *CodedError) Error() string     { return e.Msg }
func (e *CodedError) ErrorCode() string { return e.Code }

// NewError returns a sentinel error classified as code.
func NewError(msg, code string) error {
	return &CodedError{Msg: msg, Code: code}
}

// HTTPStatusError is returned by HTTP-backed providers for non-2xx replies.
type HTTPStatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsRetryableHTTPStatus classifies transient HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify maps an error to a short, bounded metric label.
func Classify(err error) string {
	if err == nil {
		return "ok"
	}
	if IsTimeout(err) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var c Coder
	if errors.As(err, &c) {
		if code := c.ErrorCode(); code != "" {
			return code
		}
	}
	var he *HTTPStatusError
	if errors.As(err, &he) {
		if IsRetryableHTTPStatus(he.StatusCode) {
			return "unavailable"
		}
		return "http_error"
	}
	return "error"
}
