package shopee

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_sync/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(baseURL string) *Client {
	c := NewClient(ClientConfig{
		PartnerID:  1001,
		PartnerKey: "pkey",
		ShopID:     2002,
		BaseURL:    baseURL,
	}, testLogger())
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestGet_SignsShopLevelCall(t *testing.T) {
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(`{"error":"","message":"","response":{}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Get(context.Background(), "/api/v2/product/get_item_list", "tok", url.Values{"offset": {"0"}})
	require.NoError(t, err)

	assert.Equal(t, "1001", query.Get("partner_id"))
	assert.Equal(t, "2002", query.Get("shop_id"))
	assert.Equal(t, "tok", query.Get("access_token"))
	assert.Equal(t, "1700000000", query.Get("timestamp"))
	assert.Equal(t, "0", query.Get("offset"))
	assert.Equal(t, "44e0faf7b4d33fcd3a3fa98f745daf335400643bc43af1824cb2f59ac5d40db8", query.Get("sign"))
}

func TestGet_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   domain.FetchErrorKind
	}{
		{name: "throttled body", status: http.StatusOK, body: `{"error":"error_too_many_request","message":"slow down"}`, kind: domain.FetchRateLimited},
		{name: "server error body", status: http.StatusOK, body: `{"error":"error_server","message":"oops"}`, kind: domain.FetchTransient},
		{name: "auth error body", status: http.StatusOK, body: `{"error":"error_auth","message":"Invalid access_token."}`, kind: domain.FetchFatal},
		{name: "429", status: http.StatusTooManyRequests, body: `{}`, kind: domain.FetchRateLimited},
		{name: "503", status: http.StatusServiceUnavailable, body: `{}`, kind: domain.FetchTransient},
		{name: "403", status: http.StatusForbidden, body: `{}`, kind: domain.FetchFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Get(context.Background(), itemListPath, "tok", nil)
			require.Error(t, err)

			kind, _ := domain.FetchErrorKindOf(err)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestRefresh(t *testing.T) {
	var (
		query url.Values
		req   tokenRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, tokenPath, r.URL.Path)
		query = r.URL.Query()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expire_in":14400}`))
	}))
	defer server.Close()

	grant, err := newTestClient(server.URL).Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "59e4e9cc831e0005735d49939c438c711b0ae638076667583674d74a002af437", query.Get("sign"))
	assert.Equal(t, "1001", query.Get("partner_id"))
	assert.Equal(t, tokenRequest{ShopID: 2002, PartnerID: 1001, RefreshToken: "old-refresh"}, req)

	assert.Equal(t, "new-access", grant.AccessToken)
	assert.Equal(t, "new-refresh", grant.RefreshToken)
	assert.Equal(t, 4*time.Hour, grant.AccessExpiresIn)
	assert.Equal(t, 30*24*time.Hour, grant.RefreshExpiresIn)
}

func TestRefresh_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"error_param","message":"refresh_token invalid"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Refresh(context.Background(), "old")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error_param")
}

func TestAuthorizationURL(t *testing.T) {
	raw := newTestClient("https://partner.example.com").AuthorizationURL("https://example.com/callback")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "partner.example.com", u.Host)
	assert.Equal(t, authPartnerPath, u.Path)

	q := u.Query()
	assert.Equal(t, "1001", q.Get("partner_id"))
	assert.Equal(t, "1700000000", q.Get("timestamp"))
	assert.Equal(t, "https://example.com/callback", q.Get("redirect"))
	assert.Equal(t, "b11cc83dc88f75956879cf948776e0b2317ab0dedca64cf1b122db9444ade18b", q.Get("sign"))
}

func TestExchangeCode(t *testing.T) {
	var (
		query url.Values
		req   map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, codeTokenPath, r.URL.Path)
		query = r.URL.Query()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Write([]byte(`{"access_token":"first-access","refresh_token":"first-refresh","expire_in":14400}`))
	}))
	defer server.Close()

	grant, err := newTestClient(server.URL).ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)

	assert.Equal(t, "46036408e3f7597de6c3352520f362d4e58240e3d0ba43f5afe2e176d5ad5d97", query.Get("sign"))
	assert.Equal(t, map[string]any{"shop_id": float64(2002), "partner_id": float64(1001), "code": "auth-code"}, req)

	assert.Equal(t, "first-access", grant.AccessToken)
	assert.Equal(t, "first-refresh", grant.RefreshToken)
	assert.Equal(t, 4*time.Hour, grant.AccessExpiresIn)
}

func TestExchangeCode_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"error_param","message":"code is invalid"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ExchangeCode(context.Background(), "used-code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code is invalid")
}
