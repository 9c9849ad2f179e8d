// Package credential keeps one valid access token per platform, refreshing
// lazily and serialising refreshes per platform.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"catalog_sync/internal/domain"
	"catalog_sync/internal/metrics"
)

const DefaultSafetyMargin = 30 * time.Second

// Repository is the durable source of truth for credentials. Get returns
// domain.ErrCredentialAbsent when nothing is stored. Save replaces every token
// field in one atomic write.
type Repository interface {
	Get(ctx context.Context, platform string) (*domain.Credential, error)
	Save(ctx context.Context, cred *domain.Credential) error
}

// Refresher exchanges a refresh token at the platform's token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error)
}

type Option func(*Store)

func WithLocker(l Locker) Option {
	return func(s *Store) { s.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithSafetyMargin(d time.Duration) Option {
	return func(s *Store) { s.margin = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

type Store struct {
	repo       Repository
	refreshers map[string]Refresher
	locker     Locker
	cache      *ttlcache.Cache[string, domain.Credential]
	margin     time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewStore(repo Repository, refreshers map[string]Refresher, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		repo:       repo,
		refreshers: refreshers,
		locker:     NewLocalLocker(),
		cache: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, domain.Credential](),
		),
		margin: DefaultSafetyMargin,
		now:    time.Now,
		logger: logger.With("component", "credential_store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed stores the configured credentials of platforms that have none yet.
// Stored credentials win: they hold the rotated tokens.
func (s *Store) Seed(ctx context.Context, seeds []domain.Credential) error {
	for i := range seeds {
		seed := seeds[i]
		if err := s.seedOne(ctx, &seed); err != nil {
			return fmt.Errorf("seed %s: %w", seed.Platform, err)
		}
	}
	return nil
}

func (s *Store) seedOne(ctx context.Context, seed *domain.Credential) error {
	unlock, err := s.locker.Lock(ctx, seed.Platform)
	if err != nil {
		return fmt.Errorf("lock credential: %w", err)
	}
	defer unlock()

	_, err = s.repo.Get(ctx, seed.Platform)
	if err == nil {
		s.logger.Debug("credential already stored, seed ignored", "platform", seed.Platform)
		return nil
	}
	if !errors.Is(err, domain.ErrCredentialAbsent) {
		return fmt.Errorf("load credential: %w", err)
	}

	seed.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, seed); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.logger.Info("credential seeded", "platform", seed.Platform)
	return nil
}

// Save stores the token pair of a fresh authorization, replacing whatever the
// platform held before.
func (s *Store) Save(ctx context.Context, platform string, grant *domain.TokenGrant) (*domain.Credential, error) {
	if grant == nil || grant.AccessToken == "" || grant.RefreshToken == "" {
		return nil, &domain.CredentialError{
			Kind:     domain.CredentialUnconfigured,
			Platform: platform,
			Err:      errors.New("token response lacks access or refresh token"),
		}
	}

	unlock, err := s.locker.Lock(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("lock credential: %w", err)
	}
	defer unlock()

	cred := grant.Apply(domain.Credential{Platform: platform}, s.now())
	if err := s.repo.Save(ctx, &cred); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	s.remember(&cred)
	s.logger.Info("credential authorized",
		"platform", platform,
		"expires_at", cred.AccessTokenExpiresAt,
	)
	return &cred, nil
}

// GetValidToken returns an access token that stays valid for at least the
// safety margin, refreshing it first when needed.
func (s *Store) GetValidToken(ctx context.Context, platform string) (string, error) {
	if item := s.cache.Get(platform); item != nil {
		cred := item.Value()
		if cred.AccessValid(s.now(), s.margin) {
			return cred.AccessToken, nil
		}
	}

	unlock, err := s.locker.Lock(ctx, platform)
	if err != nil {
		return "", fmt.Errorf("lock credential: %w", err)
	}
	defer unlock()

	cred, err := s.load(ctx, platform)
	if err != nil {
		return "", err
	}
	if cred.AccessValid(s.now(), s.margin) {
		s.remember(cred)
		return cred.AccessToken, nil
	}

	cred, err = s.refresh(ctx, cred)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// ForceRefresh refreshes after the platform rejected staleToken. When another
// caller has already rotated past it, the current token is returned as is.
func (s *Store) ForceRefresh(ctx context.Context, platform, staleToken string) (string, error) {
	unlock, err := s.locker.Lock(ctx, platform)
	if err != nil {
		return "", fmt.Errorf("lock credential: %w", err)
	}
	defer unlock()

	cred, err := s.load(ctx, platform)
	if err != nil {
		return "", err
	}
	if cred.AccessToken != staleToken && cred.AccessValid(s.now(), s.margin) {
		s.remember(cred)
		return cred.AccessToken, nil
	}

	s.cache.Delete(platform)
	cred, err = s.refresh(ctx, cred)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

func (s *Store) load(ctx context.Context, platform string) (*domain.Credential, error) {
	cred, err := s.repo.Get(ctx, platform)
	if errors.Is(err, domain.ErrCredentialAbsent) {
		return nil, &domain.CredentialError{Kind: domain.CredentialUnconfigured, Platform: platform}
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return cred, nil
}

// refresh must run under the platform lock. The stored credential is only
// replaced once the grant is complete and persisted.
func (s *Store) refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	platform := cred.Platform
	now := s.now()

	if !cred.Renewable(now) {
		s.cache.Delete(platform)
		return nil, &domain.CredentialError{
			Kind:     domain.CredentialUnrenewable,
			Platform: platform,
			Err:      errors.New("refresh token missing or expired"),
		}
	}

	refresher, ok := s.refreshers[platform]
	if !ok {
		return nil, &domain.CredentialError{
			Kind:     domain.CredentialUnconfigured,
			Platform: platform,
			Err:      errors.New("no token endpoint configured"),
		}
	}

	grant, err := refresher.Refresh(ctx, cred.RefreshToken)
	if err == nil && (grant == nil || grant.AccessToken == "" || grant.RefreshToken == "") {
		err = errors.New("token response lacks access or refresh token")
	}
	if err != nil {
		s.metrics.RecordRefresh(platform, err)
		s.cache.Delete(platform)
		return nil, &domain.CredentialError{Kind: domain.CredentialRefreshFailed, Platform: platform, Err: err}
	}

	next := grant.Apply(*cred, now)
	if err := s.repo.Save(ctx, &next); err != nil {
		s.metrics.RecordRefresh(platform, err)
		s.cache.Delete(platform)
		s.logger.Error("refreshed token could not be stored", "platform", platform, "error", err)
		return nil, &domain.CredentialError{
			Kind:     domain.CredentialRefreshFailed,
			Platform: platform,
			Err:      fmt.Errorf("save credential: %w", err),
		}
	}

	s.metrics.RecordRefresh(platform, nil)
	s.remember(&next)
	s.logger.Info("access token refreshed",
		"platform", platform,
		"expires_at", next.AccessTokenExpiresAt,
	)
	return &next, nil
}

func (s *Store) remember(cred *domain.Credential) {
	ttl := cred.AccessTokenExpiresAt.Sub(s.now()) - s.margin
	if ttl <= 0 {
		s.cache.Delete(cred.Platform)
		return
	}
	s.cache.Set(cred.Platform, *cred, ttl)
}
