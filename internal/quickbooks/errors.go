package quickbooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Failure classes. APIError and network failures unwrap to one of these.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrServerError  = errors.New("server error")
	ErrNetwork      = errors.New("network error")
	ErrClientError  = errors.New("client error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrMissingID marks a returned entity without an Id, which cannot be upserted
	ErrMissingID = errors.New("entity has no Id")
)

// APIError is a non-2xx response from the QuickBooks API.
type APIError struct {
	StatusCode int
	Detail     string
	class      error
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("quickbooks API error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("quickbooks API error (status %d): %s", e.StatusCode, e.Detail)
}

func (e *APIError) Unwrap() error {
	return e.class
}

// RetryExhaustedError is returned once every attempt failed with a retryable error.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is rate limiting, a server error or a network fault.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError) || errors.Is(err, ErrNetwork)
}

// IsUnauthorized reports whether the API rejected the access token.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status >= 500:
		return ErrServerError
	default:
		return ErrClientError
	}
}

func newAPIError(status int, body []byte) *APIError {
	return &APIError{
		StatusCode: status,
		Detail:     faultDetail(body),
		class:      classifyStatus(status),
	}
}

// faultDetail pulls the first Fault.Error entry out of an error body,
// falling back to the raw text.
func faultDetail(body []byte) string {
	var payload struct {
		Fault struct {
			Error []struct {
				Message string `json:"Message"`
				Detail  string `json:"Detail"`
				Code    string `json:"code"`
			} `json:"Error"`
		} `json:"Fault"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Fault.Error) > 0 {
		e := payload.Fault.Error[0]
		if e.Detail != "" {
			return e.Detail
		}
		return e.Message
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}
