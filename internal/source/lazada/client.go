package lazada

import (
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
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"catalog_sync/internal/domain"
	"catalog_sync/internal/source/transport"
)

const (
	signMethod   = "sha256"
	refreshPath  = "/auth/token/refresh"
	createPath   = "/auth/token/create"
	authorizeURL = "https://auth.lazada.com/oauth/authorize"

	// defaultAccessLifetime applies when a refresh response omits expires_in.
	defaultAccessLifetime = 7 * 24 * time.Hour
)

var (
	rateLimitCodes = map[string]bool{
		"ApiCallLimit":    true,
		"AppCallLimit":    true,
		"SellerCallLimit": true,
	}
	transientCodes = map[string]bool{
		"ServiceTimeout":     true,
		"ServiceUnavailable": true,
		"InternalError":      true,
		"SystemBusy":         true,
	}
	banDuration = regexp.MustCompile(`ban will last (\d+) seconds?`)
)

// ClientConfig holds the application credentials of an Open Platform app.
// Redmart runs on the same gateway with its own app key.
type ClientConfig struct {
	AppKey    string
	AppSecret string
	APIURL    string
	AuthURL   string
	Transport transport.Config
}

// Client signs and sends Open Platform calls.
type Client struct {
	appKey     string
	appSecret  string
	apiURL     string
	authURL    string
	httpClient *transport.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		appKey:     cfg.AppKey,
		appSecret:  cfg.AppSecret,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		authURL:    strings.TrimRight(cfg.AuthURL, "/"),
		httpClient: transport.New(cfg.Transport),
		logger:     logger,
		now:        time.Now,
	}
}

// Sign computes the request signature: upper-case hex HMAC-SHA256 over the
// API path followed by every parameter as key+value in key order.
func (c *Client) Sign(apiPath string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(apiPath)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha256.New, []byte(c.appSecret))
	mac.Write([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// Get performs a signed GET against the API gateway and returns the body once
// the envelope code reports success.
func (c *Client) Get(ctx context.Context, apiPath, accessToken string, params map[string]string) ([]byte, error) {
	signed := c.systemParams()
	signed["access_token"] = accessToken
	for k, v := range params {
		signed[k] = v
	}
	signed["sign"] = c.Sign(apiPath, signed)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+apiPath+"?"+encode(signed), nil)
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

// AuthorizationURL is the consent page a seller opens to grant the app
// access. The seller is sent back to redirectURI with a one-time code.
func (c *Client) AuthorizationURL(redirectURI string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("force_auth", "true")
	q.Set("redirect_uri", redirectURI)
	q.Set("client_id", c.appKey)
	return authorizeURL + "?" + q.Encode()
}

// ExchangeCode trades the code from the consent redirect for the first token
// pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.TokenGrant, error) {
	return c.requestToken(ctx, createPath, "code", code)
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
	grant, err := c.requestToken(ctx, refreshPath, "refresh_token", refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	c.logger.Debug("refreshed token", "expires_in", grant.AccessExpiresIn)
	return grant, nil
}

func (c *Client) requestToken(ctx context.Context, path, key, value string) (*domain.TokenGrant, error) {
	params := c.systemParams()
	params[key] = value
	params["sign"] = c.Sign(path, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+path, strings.NewReader(encode(params)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if resp.Code != "" && resp.Code != "0" {
		return nil, fmt.Errorf("%s: %s", resp.Code, resp.Message)
	}

	grant := &domain.TokenGrant{
		AccessToken:      resp.AccessToken,
		AccessExpiresIn:  time.Duration(resp.ExpiresIn) * time.Second,
		RefreshToken:     resp.RefreshToken,
		RefreshExpiresIn: time.Duration(resp.RefreshExpiresIn) * time.Second,
	}
	if resp.ExpiresIn <= 0 {
		grant.AccessExpiresIn = defaultAccessLifetime
	}
	return grant, nil
}

func (c *Client) systemParams() map[string]string {
	return map[string]string{
		"app_key":     c.appKey,
		"sign_method": signMethod,
		"timestamp":   strconv.FormatInt(c.now().UnixMilli(), 10),
	}
}

func encode(params map[string]string) string {
	v := make(url.Values, len(params))
	for k, p := range params {
		v.Set(k, p)
	}
	return v.Encode()
}

// checkEnvelope maps a non-zero gateway code onto a fetch error kind.
func checkEnvelope(body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return transport.Malformed(err)
	}
	if env.Code == "" || env.Code == "0" {
		return nil
	}

	err := errors.New(env.Code + ": " + env.Message)
	switch {
	case rateLimitCodes[env.Code]:
		return domain.RateLimited(parseBan(env.Message), err)
	case transientCodes[env.Code]:
		return domain.Transient(err)
	default:
		return domain.Fatal(err)
	}
}

// parseBan extracts the ban length the gateway announces in throttle messages.
func parseBan(message string) time.Duration {
	m := banDuration.FindStringSubmatch(message)
	if m == nil {
		return 0
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}
