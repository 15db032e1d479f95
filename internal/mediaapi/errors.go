package mediaapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrTooManyFiles = errors.New("too many files")
	ErrNotFound     = errors.New("media not found")
)

// Error is every failure the client returns: transport problems (Status 0)
// and non-2xx responses.
type Error struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("media api: %s", e.Message)
	}
	return fmt.Sprintf("media api: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Message extracts the text worth showing to a user, or fallback.
func Message(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err != nil && fallback == "" {
		return err.Error()
	}
	return fallback
}

// errorBody covers the API's error JSON, where message may be a string or a
// list of validation messages.
type errorBody struct {
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
}

func (b errorBody) text() string {
	if len(b.Message) > 0 {
		var s string
		if err := json.Unmarshal(b.Message, &s); err == nil && s != "" {
			return s
		}
		var list []string
		if err := json.Unmarshal(b.Message, &list); err == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
	}
	return b.Error
}

func responseError(status int, body []byte) *Error {
	e := &Error{
		Status:    status,
		Code:      codeForStatus(status),
		Retryable: status == http.StatusTooManyRequests || status >= 500,
	}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		e.Message = parsed.text()
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func transportError(err error) *Error {
	return &Error{
		Code:      "NO_RESPONSE",
		Message:   "No response from server",
		Retryable: true,
		Err:       err,
	}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case status == http.StatusForbidden:
		return "FORBIDDEN"
	case status == http.StatusNotFound:
		return "NOT_FOUND"
	case status == http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case status >= 500:
		return "UPSTREAM_5XX"
	default:
		return "BAD_REQUEST"
	}
}
