// Package api is the authenticated client for the CloudStack file-storage
// API: header construction, token issue and refresh, the single-retry
// request gateway, and the fixed set of file operations built on it.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error kinds, matched with errors.Is. Local session-storage failures are the
// one exception: they surface as *credstore.Error.
var (
	ErrAuthentication = errors.New("api: authentication failed")
	ErrNoRefreshToken = errors.New("api: no refresh token available")
	ErrRefreshFailed  = errors.New("api: token refresh failed")
	ErrRequestFailed  = errors.New("api: request failed")
	ErrTransport      = errors.New("api: transport failure")
)

// Sentinel errors for HTTP status classification. An *Error for a 404
// matches both ErrRequestFailed and ErrNotFound.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrThrottled    = errors.New("api: throttled")
	ErrServerError  = errors.New("api: server error")
)

// Generic messages used when the server supplies no detail.
const (
	msgLoginFailed        = "Login failed"
	msgLoginMissingTokens = "Login response missing tokens"
	msgNoRefreshToken     = "No refresh token available"
	msgRefreshFailed      = "Token refresh failed"
	msgRequestFailed      = "Request failed"
	msgRetryFailed        = "Request failed after retry"
)

// maxErrorBody caps how much of an error response is read for its detail.
const maxErrorBody = 64 << 10

// Error is a server-reported or session-level failure. Kind is one of the
// Err* kinds above; Status is the status-class sentinel when an HTTP
// response was involved.
type Error struct {
	Kind       error
	Status     error
	StatusCode int
	Message    string // server detail, or a generic fallback
	RequestID  string
	Retried    bool // failure came from the retried attempt
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(e.Kind.Error())

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}

	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request-id: %s)", e.RequestID)
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Status == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Status}
}

// IsSessionExpired reports whether err means the user must log in again:
// either no refresh token was present or the server rejected it.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrNoRefreshToken) || errors.Is(err, ErrRefreshFailed)
}

// ErrorMessage returns the user-facing text of err: the server detail or generic
// message for *Error, err.Error() otherwise.
func ErrorMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}

	return err.Error()
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// errorBody is the failure payload shape. DRF uses "detail"; some custom
// views answer with "error" or "message" instead.
type errorBody struct {
	Detail  string `json:"detail"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// readDetail drains and closes an error response body and extracts the
// server-supplied message. Unparseable bodies yield "" (an empty detail
// object), never an error.
func readDetail(resp *http.Response) string {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}

	var body errorBody
	if json.Unmarshal(data, &body) != nil {
		return ""
	}

	switch {
	case body.Detail != "":
		return body.Detail
	case body.Error != "":
		return body.Error
	default:
		return body.Message
	}
}

// newHTTPError builds an *Error for a non-2xx response. fallback is used when
// the server gave no message.
func newHTTPError(kind error, resp *http.Response, requestID, fallback string) *Error {
	msg := readDetail(resp)
	if msg == "" {
		msg = fallback
	}

	return &Error{
		Kind:       kind,
		Status:     classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    msg,
		RequestID:  requestID,
	}
}

// transportError wraps a network-level or decoding failure so it matches
// both ErrTransport and the underlying cause.
func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
