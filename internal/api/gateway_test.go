package api

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/cloudstack-files/cloudstack-go/internal/credstore"
)

const filesJSON = `[{"id":"1","name":"a.txt","type":"text/plain","size":"12 B","uploadDate":"just now"}]`

func serveFiles(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, filesJSON)
}

func listRequest() *Request {
	return &Request{Method: http.MethodGet, Path: filesPath}
}

func TestGateway_SuccessMakesNoRefresh(t *testing.T) {
	backend := newFakeBackend("good", serveFiles)
	env := newTestEnv(t, backend)
	env.seed(t, "good", "refresh-1")

	resp, err := env.gw.Do(context.Background(), listRequest())
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, filesJSON, string(body))
	assert.Zero(t, backend.refreshCalls.Load())
	assert.Equal(t, int32(1), backend.apiCalls.Load())
}

func TestGateway_401RefreshesAndRetriesOnce(t *testing.T) {
	backend := newFakeBackend("current", serveFiles)
	env := newTestEnv(t, backend)
	env.seed(t, "expired", "refresh-1")

	files, err := env.client.ListFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(2), backend.apiCalls.Load())
	assert.Equal(t, "refresh-1", backend.lastRefresh.Load())
	assert.Equal(t, "fresh-access", env.stored(t, credstore.KeyAccessToken))
	assert.Equal(t, "refresh-1", env.stored(t, credstore.KeyRefreshToken))
}

func TestGateway_401OnRetryIsTerminal(t *testing.T) {
	var calls atomic.Int32

	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenRefreshPath {
			writeJSON(w, http.StatusOK, map[string]string{"access": "still-rejected"})
			return
		}

		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	env.seed(t, "expired", "refresh-1")

	_, err := env.gw.Do(context.Background(), listRequest())
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, apiErr.Retried)
	assert.Equal(t, msgRetryFailed, apiErr.Message)
	assert.Equal(t, int32(2), calls.Load(), "exactly one retry")
}

func TestGateway_RetryFailureCarriesServerDetail(t *testing.T) {
	var calls atomic.Int32

	backend := newFakeBackend("current", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage offline"})
	})
	env := newTestEnv(t, backend)
	env.seed(t, "expired", "refresh-1")

	_, err := env.client.ListFiles(context.Background())
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, "storage offline", ErrorMessage(err))
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestGateway_NoRefreshTokenStopsWithoutRetry(t *testing.T) {
	backend := newFakeBackend("current", serveFiles)
	env := newTestEnv(t, backend)
	env.seed(t, "expired", "")

	_, err := env.client.ListFiles(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)
	assert.True(t, IsSessionExpired(err))

	assert.Zero(t, backend.refreshCalls.Load(), "refresh endpoint never contacted")
	assert.Equal(t, int32(1), backend.apiCalls.Load(), "no retry")
}

func TestGateway_RefreshRejectedClearsSessionWithoutRetry(t *testing.T) {
	backend := newFakeBackend("current", serveFiles)
	backend.refreshStatus = http.StatusUnauthorized
	env := newTestEnv(t, backend)
	env.seed(t, "expired", "revoked")

	_, err := env.client.ListFiles(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrRefreshFailed, apiErr.Kind, "refresh error propagates unchanged")

	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(1), backend.apiCalls.Load())
	assert.Empty(t, env.stored(t, credstore.KeyAccessToken))
	assert.Empty(t, env.stored(t, credstore.KeyRefreshToken))
}

func TestGateway_NonAuthFailureDoesNotRefresh(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus error
		wantMsg    string
	}{
		{"not found with detail", http.StatusNotFound, `{"detail":"Not found."}`, ErrNotFound, "Not found."},
		{"bad request with message", http.StatusBadRequest, `{"message":"Preview not available for this file type"}`, ErrBadRequest, "Preview not available for this file type"},
		{"forbidden no body", http.StatusForbidden, "", ErrForbidden, msgRequestFailed},
		{"server error unparseable", http.StatusBadGateway, "upstream timeout", ErrServerError, msgRequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend("good", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			env := newTestEnv(t, backend)
			env.seed(t, "good", "refresh-1")

			_, err := env.gw.Do(context.Background(), listRequest())
			require.Error(t, err)

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.ErrorIs(t, err, ErrRequestFailed)
			assert.ErrorIs(t, err, tt.wantStatus)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.False(t, apiErr.Retried)
			assert.NotEmpty(t, apiErr.RequestID)

			assert.Zero(t, backend.refreshCalls.Load())
			assert.Equal(t, int32(1), backend.apiCalls.Load())
		})
	}
}

func TestGateway_TransportFailureNotRetried(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(serveFiles))
	env.seed(t, "good", "refresh-1")
	env.srv.Close()

	_, err := env.gw.Do(context.Background(), listRequest())
	require.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, "good", env.stored(t, credstore.KeyAccessToken))
}

func TestGateway_RetryReissuesIdenticalRequest(t *testing.T) {
	type seen struct {
		method, path, body, requestID, ct string
	}

	var (
		mu   sync.Mutex
		reqs []seen
	)

	backend := newFakeBackend("current", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "9", "is_deleted": true})
	})

	record := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tokenRefreshPath {
			body, _ := io.ReadAll(r.Body)

			mu.Lock()
			reqs = append(reqs, seen{
				method:    r.Method,
				path:      r.URL.Path,
				body:      string(body),
				requestID: r.Header.Get(requestIDHeader),
				ct:        r.Header.Get("Content-Type"),
			})
			mu.Unlock()
		}

		backend.ServeHTTP(w, r)
	})

	env := newTestEnv(t, record)
	env.seed(t, "expired", "refresh-1")
	env.gw.newRequestID = func() string { return "req-fixed" }

	f, err := env.client.Delete(context.Background(), "9")
	require.NoError(t, err)
	assert.True(t, f.IsDeleted)

	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0], reqs[1])
	assert.Equal(t, http.MethodPatch, reqs[0].method)
	assert.Equal(t, "/files/9/", reqs[0].path)
	assert.JSONEq(t, `{"is_deleted":true}`, reqs[0].body)
	assert.Equal(t, "req-fixed", reqs[0].requestID)
	assert.Equal(t, "application/json", reqs[0].ct)
}

// countingRefresher records how many callers reached Refresh.
type countingRefresher struct {
	next    Refresher
	entered atomic.Int32
}

func (c *countingRefresher) Refresh(ctx context.Context) (*oauth2.Token, error) {
	c.entered.Add(1)
	return c.next.Refresh(ctx)
}

func TestGateway_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const callers = 8

	backend := newFakeBackend("current", serveFiles)
	env := newTestEnv(t, backend)
	env.seed(t, "expired", "refresh-1")

	counter := &countingRefresher{next: env.tokens}
	env.gw.tokens = counter

	// Hold the first refresh open until every caller is waiting on it.
	backend.refreshGate = func() {
		deadline := time.Now().Add(5 * time.Second)
		for counter.entered.Load() < callers && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		time.Sleep(50 * time.Millisecond)
	}

	var wg sync.WaitGroup

	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = env.client.ListFiles(context.Background())
		}()
	}

	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}

	assert.Equal(t, int32(callers), counter.entered.Load())
	assert.Equal(t, int32(1), backend.refreshCalls.Load(), "one shared refresh")
	assert.Equal(t, int32(2*callers), backend.apiCalls.Load())
}
