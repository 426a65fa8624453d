package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudstack-files/cloudstack-go/internal/credstore"
)

func TestLogin_StoresBothTokens(t *testing.T) {
	exp := time.Date(2031, 6, 1, 12, 0, 0, 0, time.UTC)
	access := makeJWT(t, jwt.MapClaims{"user_id": 7, "exp": exp.Unix()})

	var got loginRequest

	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, tokenPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": "refresh-1"})
	}))

	tok, err := env.tokens.Login(context.Background(), "alice", "s3cret")
	require.NoError(t, err)

	assert.Equal(t, loginRequest{Username: "alice", Password: "s3cret"}, got)
	assert.Equal(t, access, tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(exp))

	assert.Equal(t, access, env.stored(t, credstore.KeyAccessToken))
	assert.Equal(t, "refresh-1", env.stored(t, credstore.KeyRefreshToken))
	assert.True(t, env.tokens.Authenticated(context.Background()))
}

func TestLogin_StoreFailureLeavesNoSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access": "access-1", "refresh": "refresh-1"})
	}))
	t.Cleanup(srv.Close)

	mem := credstore.NewMemory()
	store := refreshWriteFails{Memory: mem}
	logger := discardLogger()
	tokens := NewTokenService(srv.URL, srv.Client(), store, NewHeaderBuilder(store, "test-agent", logger), logger)

	_, err := tokens.Login(context.Background(), "alice", "s3cret")
	require.ErrorIs(t, err, errStoreBroken)

	access, err := mem.Get(context.Background(), credstore.KeyAccessToken)
	require.NoError(t, err)
	assert.Empty(t, access)
	assert.False(t, tokens.Authenticated(context.Background()))
}

func TestLogin_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{
			name:    "server detail",
			status:  http.StatusUnauthorized,
			body:    `{"detail":"No active account found with the given credentials"}`,
			wantMsg: "No active account found with the given credentials",
		},
		{name: "empty body", status: http.StatusUnauthorized, wantMsg: msgLoginFailed},
		{name: "html body", status: http.StatusBadGateway, body: "<html>bad gateway</html>", wantMsg: msgLoginFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := env.tokens.Login(context.Background(), "alice", "wrong")
			require.Error(t, err)

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.ErrorIs(t, err, ErrAuthentication)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMsg, ErrorMessage(err))

			assert.Equal(t, int32(1), calls.Load(), "login must not retry")
			assert.Empty(t, env.stored(t, credstore.KeyAccessToken))
			assert.Empty(t, env.stored(t, credstore.KeyRefreshToken))
		})
	}
}

func TestLogin_MissingTokens(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"access": "only-access"})
	}))

	_, err := env.tokens.Login(context.Background(), "alice", "pw")
	require.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, msgLoginMissingTokens, ErrorMessage(err))
	assert.Empty(t, env.stored(t, credstore.KeyAccessToken))
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	var calls atomic.Int32

	env := newTestEnv(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	env.seed(t, "stale", "")

	_, err := env.tokens.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, msgNoRefreshToken, ErrorMessage(err))
	assert.Zero(t, calls.Load(), "no network call without a refresh token")
}

func TestRefresh_OverwritesOnlyAccessToken(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tokenRefreshPath, r.URL.Path)

		var req refreshRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refresh-1", req.Refresh)

		// A rotated refresh token in the response is ignored.
		writeJSON(w, http.StatusOK, map[string]string{"access": "access-2", "refresh": "refresh-2"})
	}))
	env.seed(t, "access-1", "refresh-1")

	tok, err := env.tokens.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "access-2", env.stored(t, credstore.KeyAccessToken))
	assert.Equal(t, "refresh-1", env.stored(t, credstore.KeyRefreshToken))
}

func TestRefresh_RejectedClearsSession(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is blacklisted"})
	}))
	env.seed(t, "access-1", "refresh-1")

	_, err := env.tokens.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.True(t, IsSessionExpired(err))
	assert.Equal(t, msgRefreshFailed, ErrorMessage(err))

	assert.Empty(t, env.stored(t, credstore.KeyAccessToken))
	assert.Empty(t, env.stored(t, credstore.KeyRefreshToken))
	assert.False(t, env.tokens.Authenticated(context.Background()))
}

func TestRefresh_MissingAccessClearsSession(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	}))
	env.seed(t, "access-1", "refresh-1")

	_, err := env.tokens.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Empty(t, env.stored(t, credstore.KeyRefreshToken))
}

func TestRefresh_TransportFailureKeepsTokens(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	env.seed(t, "access-1", "refresh-1")
	env.srv.Close()

	_, err := env.tokens.Refresh(context.Background())
	require.ErrorIs(t, err, ErrTransport)
	assert.False(t, IsSessionExpired(err))

	assert.Equal(t, "access-1", env.stored(t, credstore.KeyAccessToken))
	assert.Equal(t, "refresh-1", env.stored(t, credstore.KeyRefreshToken))
}

func TestLogout_ClearsSession(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	env.seed(t, "access-1", "refresh-1")

	ctx := context.Background()

	cur, err := env.tokens.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "refresh-1", cur.RefreshToken)

	require.NoError(t, env.tokens.Logout(ctx))

	assert.False(t, env.tokens.Authenticated(ctx))

	cur, err = env.tokens.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
}
