package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Redis       RedisConfig       `yaml:"redis"`
	HTTP        HTTPConfig        `yaml:"http"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Retry       RetryConfig       `yaml:"retry"`
	Sync        SyncConfig        `yaml:"sync"`
	Quality     QualityConfig     `yaml:"quality"`
	Platforms   PlatformsConfig   `yaml:"platforms"`
	LogLevel    string            `yaml:"log_level"`
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig enables the cross-process refresh lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type CredentialsConfig struct {
	// Backend is "postgres" or "envfile".
	Backend      string        `yaml:"backend"`
	OverlayPath  string        `yaml:"overlay_path"`
	SafetyMargin time.Duration `yaml:"safety_margin"`
}

// RetryConfig bounds page fetch retries. MaxRateLimitRetries may be set to 0
// to fail on the first throttle; leaving it out means 5.
type RetryConfig struct {
	MaxAttempts         int           `yaml:"max_attempts"`
	InitialBackoff      time.Duration `yaml:"initial_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
	MaxRateLimitRetries *int          `yaml:"max_rate_limit_retries"`
	DefaultRetryAfter   time.Duration `yaml:"default_retry_after"`
}

type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	PullTimeout time.Duration `yaml:"pull_timeout"`
}

type QualityConfig struct {
	CollapseRatio float64  `yaml:"collapse_ratio"`
	MinBaseline   int64    `yaml:"min_baseline"`
	FailOn        []string `yaml:"fail_on"`
}

type PlatformsConfig struct {
	Shopee  ShopeeConfig  `yaml:"shopee"`
	Lazada  LazadaConfig  `yaml:"lazada"`
	Redmart RedmartConfig `yaml:"redmart"`
}

// SeedTokens are the externally supplied tokens a credential starts from.
type SeedTokens struct {
	AccessToken           string    `yaml:"access_token"`
	AccessTokenExpiresAt  time.Time `yaml:"access_token_expires_at"`
	RefreshToken          string    `yaml:"refresh_token"`
	RefreshTokenExpiresAt time.Time `yaml:"refresh_token_expires_at"`
}

func (s SeedTokens) present() bool {
	return s.AccessToken != "" || s.RefreshToken != ""
}

type ClientConfig struct {
	PageSize          int           `yaml:"page_size"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type ShopeeConfig struct {
	PartnerID  int64  `yaml:"partner_id"`
	PartnerKey string `yaml:"partner_key"`
	ShopID     int64  `yaml:"shop_id"`
	BaseURL    string `yaml:"base_url"`
	SeedTokens `yaml:",inline"`
	Client     ClientConfig `yaml:"client"`
}

// Configured reports whether the app credentials are set. Enabled also needs
// tokens to start from.
func (c ShopeeConfig) Configured() bool {
	return c.PartnerID != 0 && c.PartnerKey != "" && c.ShopID != 0
}

func (c ShopeeConfig) Enabled() bool {
	return c.Configured() && c.present()
}

type LazadaConfig struct {
	AppKey     string `yaml:"app_key"`
	AppSecret  string `yaml:"app_secret"`
	APIURL     string `yaml:"api_url"`
	AuthURL    string `yaml:"auth_url"`
	SeedTokens `yaml:",inline"`
	Client     ClientConfig `yaml:"client"`
}

func (c LazadaConfig) Configured() bool {
	return c.AppKey != "" && c.AppSecret != ""
}

func (c LazadaConfig) Enabled() bool {
	return c.Configured() && c.present()
}

type RedmartConfig struct {
	AppKey     string `yaml:"app_key"`
	AppSecret  string `yaml:"app_secret"`
	StoreID    string `yaml:"store_id"`
	APIURL     string `yaml:"api_url"`
	AuthURL    string `yaml:"auth_url"`
	SeedTokens `yaml:",inline"`
	Client     ClientConfig `yaml:"client"`
}

func (c RedmartConfig) Configured() bool {
	return c.AppKey != "" && c.AppSecret != "" && c.StoreID != ""
}

func (c RedmartConfig) Enabled() bool {
	return c.Configured() && c.present()
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "catalog_sync"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "pull_reports"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "catalog_pull_reports"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Credentials.Backend == "" {
		c.Credentials.Backend = "postgres"
	}
	if c.Credentials.OverlayPath == "" {
		c.Credentials.OverlayPath = ".tokens.env"
	}
	if c.Credentials.SafetyMargin == 0 {
		c.Credentials.SafetyMargin = 30 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 1 * time.Second
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Retry.MaxRateLimitRetries == nil {
		n := 5
		c.Retry.MaxRateLimitRetries = &n
	}
	if c.Retry.DefaultRetryAfter == 0 {
		c.Retry.DefaultRetryAfter = 5 * time.Second
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 1 * time.Hour
	}
	if c.Sync.PullTimeout == 0 {
		c.Sync.PullTimeout = 30 * time.Minute
	}
	if c.Quality.CollapseRatio == 0 {
		c.Quality.CollapseRatio = 0.1
	}
	if c.Quality.MinBaseline == 0 {
		c.Quality.MinBaseline = 10
	}
	if c.Quality.FailOn == nil {
		c.Quality.FailOn = []string{"row_count_collapse"}
	}

	p := &c.Platforms
	if p.Shopee.BaseURL == "" {
		p.Shopee.BaseURL = "https://partner.shopeemobile.com"
	}
	if p.Lazada.APIURL == "" {
		p.Lazada.APIURL = "https://api.lazada.sg/rest"
	}
	if p.Lazada.AuthURL == "" {
		p.Lazada.AuthURL = "https://auth.lazada.com/rest"
	}
	if p.Redmart.APIURL == "" {
		p.Redmart.APIURL = "https://api.lazada.sg/rest"
	}
	if p.Redmart.AuthURL == "" {
		p.Redmart.AuthURL = "https://auth.lazada.com/rest"
	}
	setClientDefaults(&p.Shopee.Client, 50)
	setClientDefaults(&p.Lazada.Client, 100)
	setClientDefaults(&p.Redmart.Client, 100)

	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = defaultLockTTL(p.Shopee.Client, p.Lazada.Client, p.Redmart.Client)
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// defaultLockTTL outlives a refresh call, which may queue on the rate limiter
// before its own client timeout starts.
func defaultLockTTL(clients ...ClientConfig) time.Duration {
	ttl := 2 * time.Minute
	for _, c := range clients {
		ttl = max(ttl, 4*c.Timeout)
	}
	return ttl
}

func setClientDefaults(c *ClientConfig, pageSize int) {
	if c.PageSize == 0 {
		c.PageSize = pageSize
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}
}
