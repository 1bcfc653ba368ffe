package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitMiddleware(t *testing.T) {
	// 1 req/sec, burst 2
	limiter := NewGlobalRateLimiter(1, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ts := httptest.NewServer(handler)
	defer ts.Close()

	client := ts.Client()

	for i := 0; i < 2; i++ {
		resp, err := client.Get(ts.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "within burst limit")
		assert.NoError(t, resp.Body.Close())
	}

	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "exceeded burst")
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.NoError(t, resp.Body.Close())

	// Token refills after ~1s at 1 rps.
	time.Sleep(1100 * time.Millisecond)

	resp, err = client.Get(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "refilled token")
	assert.NoError(t, resp.Body.Close())
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID_PreservesCallerID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestIdempotencyMiddleware_ReplaysCachedResponse(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	calls := 0
	handler := IdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"exec-1"}`))
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/executions", nil)
		req.Header.Set("Idempotency-Key", "key-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.JSONEq(t, `{"id":"exec-1"}`, w.Body.String())
	}
	assert.Equal(t, 1, calls, "second request replayed from cache")
}

func TestIdempotencyMiddleware_SkipsFailures(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	calls := 0
	handler := IdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		WriteBadRequest(w, "nope")
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/api/executions", nil)
		req.Header.Set("Idempotency-Key", "key-2")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	assert.Equal(t, 2, calls, "failed responses are not cached")
}

func TestIdempotencyMiddleware_IgnoresReads(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	calls := 0
	handler := IdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/executions", nil)
		req.Header.Set("Idempotency-Key", "key-3")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}
	assert.Equal(t, 2, calls)
}
