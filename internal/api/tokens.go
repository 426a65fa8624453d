package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/cloudstack-files/cloudstack-go/internal/credstore"
)

// Token endpoints, relative to the API base URL.
const (
	tokenPath        = "/token/"
	tokenRefreshPath = "/token/refresh/"
)

const refreshFlightKey = "refresh"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// TokenService exchanges credentials for a token pair and refreshes the
// access token. It is the only writer of the credential store.
type TokenService struct {
	baseURL    string
	httpClient *http.Client
	store      credstore.Store
	headers    *HeaderBuilder
	logger     *slog.Logger

	// flight coalesces concurrent refreshes: callers that arrive while one is
	// in progress wait for its outcome instead of issuing their own.
	flight singleflight.Group
}

// NewTokenService creates a TokenService for the API at baseURL.
func NewTokenService(
	baseURL string, httpClient *http.Client, store credstore.Store, headers *HeaderBuilder, logger *slog.Logger,
) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &TokenService{
		baseURL:    baseURL,
		httpClient: httpClient,
		store:      store,
		headers:    headers,
		logger:     logger,
	}
}

// Login exchanges username and password for a token pair and stores both
// tokens. Rejected credentials fail with ErrAuthentication carrying the
// server detail, or "Login failed". Login never retries.
func (s *TokenService) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	s.logger.Info("sending login request", slog.String("username", username))

	resp, err := s.postJSON(ctx, tokenPath, loginRequest{Username: username, Password: password})
	if err != nil {
		s.logger.Error("login request failed", slog.String("error", err.Error()))
		return nil, err
	}

	if !isSuccess(resp.StatusCode) {
		apiErr := newHTTPError(ErrAuthentication, resp, "", msgLoginFailed)
		s.logger.Error("login failed",
			slog.Int("status", resp.StatusCode),
			slog.String("detail", apiErr.Message),
		)

		return nil, apiErr
	}

	var tr tokenResponse
	if err := decodeJSON(resp, &tr); err != nil {
		s.logger.Error("decoding login response failed", slog.String("error", err.Error()))
		return nil, err
	}

	if tr.Access == "" || tr.Refresh == "" {
		s.logger.Error("login response missing tokens")

		return nil, &Error{Kind: ErrAuthentication, StatusCode: resp.StatusCode, Message: msgLoginMissingTokens}
	}

	if err := s.store.Set(ctx, credstore.KeyAccessToken, tr.Access); err != nil {
		return nil, fmt.Errorf("api: storing access token: %w", err)
	}

	if err := s.store.Set(ctx, credstore.KeyRefreshToken, tr.Refresh); err != nil {
		// An access token without its refresh token cannot be renewed.
		s.clearSession(ctx)
		return nil, fmt.Errorf("api: storing refresh token: %w", err)
	}

	s.logger.Info("login successful, tokens stored")

	return newToken(tr.Access, tr.Refresh), nil
}

// Refresh obtains a new access token using the stored refresh token and
// overwrites only the access token. With no refresh token it fails with
// ErrNoRefreshToken before any network call. A rejected refresh clears both
// tokens and fails with ErrRefreshFailed. Concurrent calls share one
// in-flight refresh.
func (s *TokenService) Refresh(ctx context.Context) (*oauth2.Token, error) {
	v, err, shared := s.flight.Do(refreshFlightKey, func() (any, error) {
		// Detached from the first caller's cancellation: other callers may be
		// waiting on this flight. The HTTP client timeout still bounds it.
		return s.refresh(context.WithoutCancel(ctx))
	})

	if shared {
		s.logger.Debug("token refresh shared between concurrent callers")
	}

	if err != nil {
		return nil, err
	}

	tok, ok := v.(*oauth2.Token)
	if !ok {
		return nil, fmt.Errorf("api: unexpected refresh result %T", v)
	}

	return tok, nil
}

func (s *TokenService) refresh(ctx context.Context) (*oauth2.Token, error) {
	refresh, err := s.store.Get(ctx, credstore.KeyRefreshToken)
	if err != nil {
		s.logger.Error("reading refresh token failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("api: reading refresh token: %w", err)
	}

	if refresh == "" {
		s.logger.Error("no refresh token available")
		return nil, &Error{Kind: ErrNoRefreshToken, Message: msgNoRefreshToken}
	}

	s.logger.Info("sending token refresh request")

	resp, err := s.postJSON(ctx, tokenRefreshPath, refreshRequest{Refresh: refresh})
	if err != nil {
		s.logger.Error("token refresh request failed", slog.String("error", err.Error()))
		return nil, err
	}

	if !isSuccess(resp.StatusCode) {
		detail := readDetail(resp)
		s.logger.Error("token refresh failed, clearing session",
			slog.Int("status", resp.StatusCode),
			slog.String("detail", detail),
		)

		s.clearSession(ctx)

		return nil, &Error{
			Kind:       ErrRefreshFailed,
			Status:     classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    msgRefreshFailed,
		}
	}

	var tr tokenResponse
	if err := decodeJSON(resp, &tr); err != nil {
		s.logger.Error("decoding refresh response failed", slog.String("error", err.Error()))
		return nil, err
	}

	if tr.Access == "" {
		s.logger.Error("refresh response missing access token, clearing session")
		s.clearSession(ctx)

		return nil, &Error{Kind: ErrRefreshFailed, StatusCode: resp.StatusCode, Message: msgRefreshFailed}
	}

	if err := s.store.Set(ctx, credstore.KeyAccessToken, tr.Access); err != nil {
		return nil, fmt.Errorf("api: storing access token: %w", err)
	}

	s.logger.Info("access token refreshed")

	return newToken(tr.Access, refresh), nil
}

// Logout removes both tokens.
func (s *TokenService) Logout(ctx context.Context) error {
	if err := s.store.Clear(ctx, credstore.KeyAccessToken, credstore.KeyRefreshToken); err != nil {
		return fmt.Errorf("api: clearing session: %w", err)
	}

	s.logger.Info("session cleared")

	return nil
}

// Authenticated reports whether an access token is present. This is the
// protected-route check: presence, not validity.
func (s *TokenService) Authenticated(ctx context.Context) bool {
	access, err := s.store.Get(ctx, credstore.KeyAccessToken)

	return err == nil && access != ""
}

// Current returns the stored pair, or nil when no access token is stored.
func (s *TokenService) Current(ctx context.Context) (*oauth2.Token, error) {
	access, err := s.store.Get(ctx, credstore.KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("api: reading access token: %w", err)
	}

	if access == "" {
		return nil, nil //nolint:nilnil // nil token means logged out
	}

	refresh, err := s.store.Get(ctx, credstore.KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("api: reading refresh token: %w", err)
	}

	return newToken(access, refresh), nil
}

func (s *TokenService) clearSession(ctx context.Context) {
	if err := s.store.Clear(ctx, credstore.KeyAccessToken, credstore.KeyRefreshToken); err != nil {
		s.logger.Warn("clearing session failed", slog.String("error", err.Error()))
	}
}

// postJSON sends body as JSON to path with the current session headers.
func (s *TokenService) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("api: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("api: creating request: %w", err)
	}

	req.Header = s.headers.Build(ctx, false)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError("POST "+path, err)
	}

	return resp, nil
}

func newToken(access, refresh string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       tokenExpiry(access),
	}
}
