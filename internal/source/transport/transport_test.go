package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_sync/internal/domain"
)

func TestDo_ReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	body, err := New(Config{}).Do(context.Background(), req)

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestDo_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter string
		kind       domain.FetchErrorKind
		wait       time.Duration
	}{
		{status: http.StatusTooManyRequests, retryAfter: "7", kind: domain.FetchRateLimited, wait: 7 * time.Second},
		{status: http.StatusTooManyRequests, kind: domain.FetchRateLimited},
		{status: http.StatusRequestTimeout, kind: domain.FetchTransient},
		{status: http.StatusInternalServerError, kind: domain.FetchTransient},
		{status: http.StatusBadGateway, kind: domain.FetchTransient},
		{status: http.StatusUnauthorized, kind: domain.FetchFatal},
		{status: http.StatusNotFound, kind: domain.FetchFatal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
			_, err := New(Config{}).Do(context.Background(), req)
			require.Error(t, err)

			kind, wait := domain.FetchErrorKindOf(err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.wait, wait)
		})
	}
}

func TestDo_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	_, err := New(Config{Timeout: time.Second}).Do(context.Background(), req)
	require.Error(t, err)

	kind, _ := domain.FetchErrorKindOf(err)
	assert.Equal(t, domain.FetchTransient, kind)
}

func TestDo_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := New(Config{}).Do(ctx, req)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	assert.Equal(t, 90*time.Second, ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, ParseRetryAfter("", now))
	assert.Zero(t, ParseRetryAfter("-5", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
	assert.Zero(t, ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
