package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// requestIDHeader carries a per-call ID shared by the original attempt and
// its retry so both show up together in server logs.
const requestIDHeader = "X-Request-ID"

// BodyFunc produces a fresh request body for each attempt. contentType is
// applied only to file uploads, where it carries the multipart boundary.
// length is the exact body size in bytes; streamed bodies must report it so
// the request carries a Content-Length instead of chunked encoding.
type BodyFunc func() (body io.Reader, contentType string, length int64, err error)

// Request describes one logical API call. Path is relative to the base URL.
// Body may be nil.
type Request struct {
	Method       string
	Path         string
	Body         BodyFunc
	IsFileUpload bool
}

// JSONBody marshals v once and returns a BodyFunc replaying those bytes.
func JSONBody(v any) (BodyFunc, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("api: encoding request body: %w", err)
	}

	return func() (io.Reader, string, int64, error) {
		return bytes.NewReader(data), "application/json", int64(len(data)), nil
	}, nil
}

// Refresher obtains a new access token. Satisfied by *TokenService.
type Refresher interface {
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// callState is the per-call retry state. A call starts in stateInitial and
// moves to stateRetried at most once; stateRetried is terminal.
type callState int

const (
	stateInitial callState = iota
	stateRetried
)

func (s callState) String() string {
	if s == stateRetried {
		return "retried"
	}

	return "initial"
}

// Gateway issues authenticated API requests. A 401 triggers exactly one
// refresh followed by exactly one retry; a 401 on the retry is terminal.
// Transport failures are never retried.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	headers    *HeaderBuilder
	tokens     Refresher
	logger     *slog.Logger

	// newRequestID generates the per-call ID. Tests override it.
	newRequestID func() string
}

// NewGateway creates a Gateway for the API at baseURL.
func NewGateway(
	baseURL string, httpClient *http.Client, headers *HeaderBuilder, tokens Refresher, logger *slog.Logger,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Gateway{
		baseURL:      baseURL,
		httpClient:   httpClient,
		headers:      headers,
		tokens:       tokens,
		logger:       logger,
		newRequestID: uuid.NewString,
	}
}

// Do executes req. On success the caller owns the response body. Failures
// are *Error with Kind ErrRequestFailed, the unchanged refresh error when a
// refresh was needed and failed, or an ErrTransport wrap.
func (g *Gateway) Do(ctx context.Context, req *Request) (*http.Response, error) {
	requestID := g.newRequestID()
	state := stateInitial

	for {
		resp, sent, err := g.send(ctx, req, requestID)
		if err != nil {
			g.logger.Error("request transport failure",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.String("state", state.String()),
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)

			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized && state == stateInitial {
			g.logger.Info("received 401, refreshing access token",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.String("request_id", requestID),
			)

			readDetail(resp)
			closeBody(sent)

			if _, err := g.tokens.Refresh(ctx); err != nil {
				g.logger.Error("token refresh failed, not retrying",
					slog.String("path", req.Path),
					slog.String("request_id", requestID),
					slog.String("error", err.Error()),
				)

				return nil, err
			}

			state = stateRetried

			continue
		}

		if isSuccess(resp.StatusCode) {
			g.logger.Debug("request succeeded",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("status", resp.StatusCode),
				slog.String("state", state.String()),
			)

			return resp, nil
		}

		return nil, g.failure(req, resp, requestID, state)
	}
}

// failure turns a terminal non-2xx response into an ErrRequestFailed error.
func (g *Gateway) failure(req *Request, resp *http.Response, requestID string, state callState) error {
	fallback := msgRequestFailed
	if state == stateRetried {
		fallback = msgRetryFailed
	}

	apiErr := newHTTPError(ErrRequestFailed, resp, requestID, fallback)
	apiErr.Retried = state == stateRetried

	g.logger.Error("request failed",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode),
		slog.String("state", state.String()),
		slog.String("request_id", requestID),
		slog.String("detail", apiErr.Message),
	)

	return apiErr
}

// send performs a single attempt with freshly built headers. It returns the
// body reader it sent so the caller can release it before a retry.
func (g *Gateway) send(ctx context.Context, req *Request, requestID string) (*http.Response, io.Reader, error) {
	var (
		body        io.Reader
		contentType string
		length      int64
	)

	if req.Body != nil {
		var err error

		body, contentType, length, err = req.Body()
		if err != nil {
			return nil, nil, transportError("preparing body", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, g.baseURL+req.Path, body)
	if err != nil {
		closeBody(body)
		return nil, nil, fmt.Errorf("api: creating request: %w", err)
	}

	if body != nil {
		httpReq.ContentLength = length
	}

	httpReq.Header = g.headers.Build(ctx, req.IsFileUpload)
	httpReq.Header.Set(requestIDHeader, requestID)

	if req.IsFileUpload && contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, transportError(req.Method+" "+req.Path, err)
	}

	return resp, body, nil
}

func closeBody(body io.Reader) {
	if c, ok := body.(io.Closer); ok {
		_ = c.Close()
	}
}
