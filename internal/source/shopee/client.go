package shopee

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"catalog_sync/internal/domain"
	"catalog_sync/internal/source/transport"
)

const (
	tokenPath       = "/api/v2/auth/access_token/get"
	codeTokenPath   = "/api/v2/auth/token/get"
	authPartnerPath = "/api/v2/shop/auth_partner"

	defaultAccessLifetime = 4 * time.Hour
	refreshLifetime       = 30 * 24 * time.Hour
)

var (
	rateLimitErrors = map[string]bool{
		"error_too_many_request": true,
	}
	transientErrors = map[string]bool{
		"error_server":  true,
		"error_inner":   true,
		"error_busy":    true,
		"error_network": true,
	}
)

type ClientConfig struct {
	PartnerID  int64
	PartnerKey string
	ShopID     int64
	BaseURL    string
	Transport  transport.Config
}

// Client signs and sends Open Platform v2 shop-level calls.
type Client struct {
	partnerID  int64
	partnerKey string
	shopID     int64
	baseURL    string
	httpClient *transport.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		partnerID:  cfg.PartnerID,
		partnerKey: cfg.PartnerKey,
		shopID:     cfg.ShopID,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: transport.New(cfg.Transport),
		logger:     logger,
		now:        time.Now,
	}
}

// Sign computes the lower-case hex HMAC-SHA256 of the concatenated parts,
// keyed with the partner key.
func (c *Client) Sign(parts ...string) string {
	mac := hmac.New(sha256.New, []byte(c.partnerKey))
	mac.Write([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Get performs a signed shop-level GET and returns the body once the
// envelope carries no error.
func (c *Client) Get(ctx context.Context, path, accessToken string, params url.Values) ([]byte, error) {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	partnerID := strconv.FormatInt(c.partnerID, 10)
	shopID := strconv.FormatInt(c.shopID, 10)

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("partner_id", partnerID)
	q.Set("shop_id", shopID)
	q.Set("access_token", accessToken)
	q.Set("timestamp", ts)
	q.Set("sign", c.Sign(partnerID, path, ts, accessToken, shopID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("create request: %w", err))
	}

	body, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(body); err != nil {
		return nil, err
	}
	return body, nil
}

// AuthorizationURL is the page a shop owner opens to grant the partner app
// access. Shopee redirects back with a one-time code and the shop id.
func (c *Client) AuthorizationURL(redirect string) string {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	partnerID := strconv.FormatInt(c.partnerID, 10)

	q := url.Values{}
	q.Set("partner_id", partnerID)
	q.Set("timestamp", ts)
	q.Set("sign", c.Sign(partnerID, authPartnerPath, ts))
	q.Set("redirect", redirect)
	return c.baseURL + authPartnerPath + "?" + q.Encode()
}

// ExchangeCode trades the code from the authorization redirect for the first
// token pair of the shop.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.TokenGrant, error) {
	return c.requestToken(ctx, codeTokenPath, tokenRequest{
		ShopID:    c.shopID,
		PartnerID: c.partnerID,
		Code:      code,
	})
}

// Refresh exchanges a refresh token for a new token pair. Shopee rotates the
// refresh token on every call.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
	grant, err := c.requestToken(ctx, tokenPath, tokenRequest{
		ShopID:       c.shopID,
		PartnerID:    c.partnerID,
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	c.logger.Debug("refreshed token", "expires_in", grant.AccessExpiresIn)
	return grant, nil
}

func (c *Client) requestToken(ctx context.Context, path string, body tokenRequest) (*domain.TokenGrant, error) {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	partnerID := strconv.FormatInt(c.partnerID, 10)

	q := url.Values{}
	q.Set("partner_id", partnerID)
	q.Set("timestamp", ts)
	q.Set("sign", c.Sign(partnerID, path, ts))

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+q.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s: %s", resp.Error, resp.Message)
	}

	grant := &domain.TokenGrant{
		AccessToken:      resp.AccessToken,
		AccessExpiresIn:  time.Duration(resp.ExpireIn) * time.Second,
		RefreshToken:     resp.RefreshToken,
		RefreshExpiresIn: refreshLifetime,
	}
	if resp.ExpireIn <= 0 {
		grant.AccessExpiresIn = defaultAccessLifetime
	}
	return grant, nil
}

func checkEnvelope(body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return transport.Malformed(err)
	}
	if env.Error == "" {
		return nil
	}

	err := errors.New(env.Error + ": " + env.Message)
	switch {
	case rateLimitErrors[env.Error]:
		return domain.RateLimited(0, err)
	case transientErrors[env.Error]:
		return domain.Transient(err)
	default:
		return domain.Fatal(err)
	}
}
