package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/cloudstack-files/cloudstack-go/internal/credstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv wires the full stack against an httptest server.
type testEnv struct {
	srv    *httptest.Server
	store  *credstore.Memory
	tokens *TokenService
	gw     *Gateway
	client *Client
}

func newTestEnv(t *testing.T, h http.Handler) *testEnv {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := credstore.NewMemory()
	logger := discardLogger()
	headers := NewHeaderBuilder(store, "test-agent", logger)
	tokens := NewTokenService(srv.URL, srv.Client(), store, headers, logger)
	gw := NewGateway(srv.URL, srv.Client(), headers, tokens, logger)

	return &testEnv{
		srv:    srv,
		store:  store,
		tokens: tokens,
		gw:     gw,
		client: NewClient(gw, logger),
	}
}

// seed stores the given tokens. An empty value leaves that key absent.
func (e *testEnv) seed(t *testing.T, access, refresh string) {
	t.Helper()

	ctx := context.Background()

	if access != "" {
		require.NoError(t, e.store.Set(ctx, credstore.KeyAccessToken, access))
	}

	if refresh != "" {
		require.NoError(t, e.store.Set(ctx, credstore.KeyRefreshToken, refresh))
	}
}

func (e *testEnv) stored(t *testing.T, key string) string {
	t.Helper()

	v, err := e.store.Get(context.Background(), key)
	require.NoError(t, err)

	return v
}

// fakeBackend is a minimal CloudStack API. Resource endpoints accept only
// the current valid access token; the refresh endpoint hands out a new one.
type fakeBackend struct {
	mu         sync.Mutex
	validToken string
	// refreshStatus, when non-zero, makes the refresh endpoint fail with it.
	refreshStatus int
	// refreshGate, when set, is called before the refresh endpoint answers.
	refreshGate func()

	refreshCalls atomic.Int32
	apiCalls     atomic.Int32
	lastRefresh  atomic.Value // string: refresh token the client sent

	resources http.Handler
}

func newFakeBackend(validToken string, resources http.HandlerFunc) *fakeBackend {
	return &fakeBackend{validToken: validToken, resources: resources}
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == tokenRefreshPath {
		b.serveRefresh(w, r)
		return
	}

	b.apiCalls.Add(1)

	b.mu.Lock()
	valid := b.validToken
	b.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+valid {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
		return
	}

	b.resources.ServeHTTP(w, r)
}

func (b *fakeBackend) serveRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)

	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.lastRefresh.Store(req.Refresh)

	if b.refreshGate != nil {
		b.refreshGate()
	}

	if b.refreshStatus != 0 {
		writeJSON(w, b.refreshStatus, map[string]string{"detail": "Token is invalid or expired"})
		return
	}

	b.mu.Lock()
	b.validToken = "fresh-access"
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"access": "fresh-access"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func makeJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return s
}

// failingStore is a credstore.Store whose every operation fails.
type failingStore struct{}

var errStoreBroken = errors.New("store broken")

func (failingStore) Get(context.Context, string) (string, error) { return "", errStoreBroken }
func (failingStore) Set(context.Context, string, string) error   { return errStoreBroken }
func (failingStore) Clear(context.Context, ...string) error      { return errStoreBroken }

// refreshWriteFails is a memory store that rejects writes of the refresh
// token.
type refreshWriteFails struct {
	*credstore.Memory
}

func (s refreshWriteFails) Set(ctx context.Context, key, value string) error {
	if key == credstore.KeyRefreshToken {
		return errStoreBroken
	}

	return s.Memory.Set(ctx, key, value)
}
