package credential

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"catalog_sync/internal/domain"
)

type memoryRepo struct {
	mu      sync.Mutex
	creds   map[string]domain.Credential
	saveErr error
	getErr  error
	saves   int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{creds: make(map[string]domain.Credential)}
}

func (r *memoryRepo) Get(_ context.Context, platform string) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	c, ok := r.creds[platform]
	if !ok {
		return nil, domain.ErrCredentialAbsent
	}
	return &c, nil
}

func (r *memoryRepo) Save(_ context.Context, cred *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.creds[cred.Platform] = *cred
	return nil
}

func (r *memoryRepo) stored(platform string) domain.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds[platform]
}

type fakeRefresher struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	grant func(n int32) *domain.TokenGrant
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.grant(n), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type StoreTestSuite struct {
	suite.Suite
	repo      *memoryRepo
	refresher *fakeRefresher
	clock     time.Time
	store     *Store
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.clock = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.repo = newMemoryRepo()
	s.refresher = &fakeRefresher{
		grant: func(n int32) *domain.TokenGrant {
			return &domain.TokenGrant{
				AccessToken:      "access-" + string(rune('0'+n)),
				AccessExpiresIn:  time.Hour,
				RefreshToken:     "refresh-" + string(rune('0'+n)),
				RefreshExpiresIn: 30 * 24 * time.Hour,
			}
		},
	}
	s.store = NewStore(s.repo, map[string]Refresher{"a": s.refresher}, testLogger(),
		WithClock(func() time.Time { return s.clock }),
		WithSafetyMargin(30*time.Second),
	)
}

func (s *StoreTestSuite) put(access string, accessExp time.Time, refresh string, refreshExp time.Time) {
	s.repo.creds["a"] = domain.Credential{
		Platform:              "a",
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: refreshExp,
	}
}

func (s *StoreTestSuite) credentialErrorKind(err error) domain.CredentialErrorKind {
	var ce *domain.CredentialError
	s.Require().ErrorAs(err, &ce)
	return ce.Kind
}

func (s *StoreTestSuite) TestGetValidToken_ReturnsValidToken() {
	s.put("current", s.clock.Add(time.Hour), "r", time.Time{})

	token, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().NoError(err)
	s.Equal("current", token)
	s.Zero(s.refresher.calls.Load())
}

func (s *StoreTestSuite) TestGetValidToken_RefreshesInsideMargin() {
	s.put("old", s.clock.Add(10*time.Second), "r", time.Time{})

	token, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().NoError(err)
	s.Equal("access-1", token)
	s.EqualValues(1, s.refresher.calls.Load())

	stored := s.repo.stored("a")
	s.Equal("access-1", stored.AccessToken)
	s.Equal("refresh-1", stored.RefreshToken)
	s.Equal(s.clock.Add(time.Hour), stored.AccessTokenExpiresAt)
	s.Equal(s.clock.Add(30*24*time.Hour), stored.RefreshTokenExpiresAt)
}

func (s *StoreTestSuite) TestGetValidToken_ExactlyAtMarginRefreshes() {
	s.put("old", s.clock.Add(30*time.Second), "r", time.Time{})

	token, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().NoError(err)
	s.Equal("access-1", token)
}

func (s *StoreTestSuite) TestGetValidToken_NeverReturnsExpiringToken() {
	s.put("seed", time.Time{}, "r", time.Time{})

	for i := 0; i < 200; i++ {
		token, err := s.store.GetValidToken(context.Background(), "a")
		s.Require().NoError(err)

		stored := s.repo.stored("a")
		s.Equal(stored.AccessToken, token)
		s.True(stored.AccessTokenExpiresAt.After(s.clock.Add(30*time.Second)),
			"token %s presented at %s expires at %s", token, s.clock, stored.AccessTokenExpiresAt)

		s.clock = s.clock.Add(7 * time.Minute)
	}
	s.Greater(s.refresher.calls.Load(), int32(1))
}

func (s *StoreTestSuite) TestGetValidToken_CachedTokenRevalidatedAgainstClock() {
	s.put("current", s.clock.Add(time.Hour), "r", time.Time{})

	token, err := s.store.GetValidToken(context.Background(), "a")
	s.Require().NoError(err)
	s.Equal("current", token)

	s.clock = s.clock.Add(time.Hour)

	token, err = s.store.GetValidToken(context.Background(), "a")
	s.Require().NoError(err)
	s.Equal("access-1", token)
}

func (s *StoreTestSuite) TestGetValidToken_Unconfigured() {
	_, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().Error(err)
	s.Equal(domain.CredentialUnconfigured, s.credentialErrorKind(err))
}

func (s *StoreTestSuite) TestGetValidToken_EmptyRefreshTokenIsUnrenewable() {
	s.put("old", s.clock.Add(-time.Minute), "", time.Time{})

	_, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().Error(err)
	s.Equal(domain.CredentialUnrenewable, s.credentialErrorKind(err))
	s.Zero(s.refresher.calls.Load())
}

func (s *StoreTestSuite) TestGetValidToken_ExpiredRefreshTokenIsUnrenewable() {
	s.put("old", s.clock.Add(-time.Minute), "r", s.clock.Add(-time.Second))

	_, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().Error(err)
	s.Equal(domain.CredentialUnrenewable, s.credentialErrorKind(err))
	s.Zero(s.refresher.calls.Load())
}

func (s *StoreTestSuite) TestGetValidToken_RefreshErrorLeavesStoreUntouched() {
	s.put("old", s.clock.Add(-time.Minute), "r", time.Time{})
	before := s.repo.stored("a")
	s.refresher.err = errors.New("invalid_grant")

	_, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().Error(err)
	s.Equal(domain.CredentialRefreshFailed, s.credentialErrorKind(err))
	s.Equal(before, s.repo.stored("a"))
	s.Zero(s.repo.saves)
}

func (s *StoreTestSuite) TestGetValidToken_IncompleteGrantLeavesStoreUntouched() {
	s.put("old", s.clock.Add(-time.Minute), "r", time.Time{})
	before := s.repo.stored("a")
	s.refresher.grant = func(int32) *domain.TokenGrant {
		return &domain.TokenGrant{AccessToken: "only-access", AccessExpiresIn: time.Hour}
	}

	_, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().Error(err)
	s.Equal(domain.CredentialRefreshFailed, s.credentialErrorKind(err))
	s.Equal(before, s.repo.stored("a"))
}

func (s *StoreTestSuite) TestGetValidToken_SaveFailureIsRefreshFailed() {
	s.put("old", s.clock.Add(-time.Minute), "r", time.Time{})
	before := s.repo.stored("a")
	s.repo.saveErr = errors.New("disk full")

	_, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().Error(err)
	s.Equal(domain.CredentialRefreshFailed, s.credentialErrorKind(err))
	s.Equal(before, s.repo.stored("a"))
}

func (s *StoreTestSuite) TestGetValidToken_RepositoryErrorPropagates() {
	s.repo.getErr = errors.New("connection refused")

	_, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().Error(err)
	s.Contains(err.Error(), "connection refused")
}

func (s *StoreTestSuite) TestGetValidToken_ConcurrentCallersRefreshOnce() {
	s.put("old", s.clock.Add(-time.Minute), "r", time.Time{})
	s.refresher.delay = 20 * time.Millisecond

	const callers = 16
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = s.store.GetValidToken(context.Background(), "a")
		}(i)
	}
	wg.Wait()

	s.EqualValues(1, s.refresher.calls.Load())
	for i := 0; i < callers; i++ {
		s.NoError(errs[i])
		s.Equal("access-1", tokens[i])
	}
}

func (s *StoreTestSuite) TestForceRefresh_RotatesStaleToken() {
	s.put("current", s.clock.Add(time.Hour), "r", time.Time{})

	token, err := s.store.ForceRefresh(context.Background(), "a", "current")

	s.Require().NoError(err)
	s.Equal("access-1", token)
	s.EqualValues(1, s.refresher.calls.Load())
}

func (s *StoreTestSuite) TestForceRefresh_SkipsWhenAlreadyRotated() {
	s.put("rotated", s.clock.Add(time.Hour), "r", time.Time{})

	token, err := s.store.ForceRefresh(context.Background(), "a", "stale")

	s.Require().NoError(err)
	s.Equal("rotated", token)
	s.Zero(s.refresher.calls.Load())
}

func (s *StoreTestSuite) TestForceRefresh_Unconfigured() {
	_, err := s.store.ForceRefresh(context.Background(), "a", "stale")

	s.Require().Error(err)
	s.Equal(domain.CredentialUnconfigured, s.credentialErrorKind(err))
}

func (s *StoreTestSuite) TestForceRefresh_NoRefresherIsUnconfigured() {
	s.repo.creds["b"] = domain.Credential{Platform: "b", AccessToken: "x", RefreshToken: "r"}

	_, err := s.store.ForceRefresh(context.Background(), "b", "x")

	s.Require().Error(err)
	s.Equal(domain.CredentialUnconfigured, s.credentialErrorKind(err))
}

func (s *StoreTestSuite) TestSeed_DoesNotOverwriteStoredCredential() {
	s.put("rotated", s.clock.Add(time.Hour), "rotated-refresh", time.Time{})

	err := s.store.Seed(context.Background(), []domain.Credential{
		{Platform: "a", AccessToken: "seed", RefreshToken: "seed-refresh"},
		{Platform: "b", AccessToken: "seed-b", RefreshToken: "seed-refresh-b"},
	})

	s.Require().NoError(err)
	s.Equal("rotated", s.repo.stored("a").AccessToken)
	s.Equal("seed-b", s.repo.stored("b").AccessToken)
	s.Equal(s.clock, s.repo.stored("b").UpdatedAt)
}

func (s *StoreTestSuite) TestSeed_UnknownExpiryForcesRefresh() {
	s.Require().NoError(s.store.Seed(context.Background(), []domain.Credential{
		{Platform: "a", AccessToken: "seed", RefreshToken: "seed-refresh"},
	}))

	token, err := s.store.GetValidToken(context.Background(), "a")

	s.Require().NoError(err)
	s.Equal("access-1", token)
}

func (s *StoreTestSuite) TestGetValidToken_CancelledWhileWaitingForLock() {
	s.put("old", s.clock.Add(-time.Minute), "r", time.Time{})
	unlock, err := s.store.locker.Lock(context.Background(), "a")
	s.Require().NoError(err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = s.store.GetValidToken(ctx, "a")

	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *StoreTestSuite) TestSave_ReplacesStoredCredential() {
	s.put("old", s.clock.Add(-time.Hour), "old-refresh", s.clock.Add(-time.Minute))

	cred, err := s.store.Save(context.Background(), "a", &domain.TokenGrant{
		AccessToken:      "granted",
		AccessExpiresIn:  4 * time.Hour,
		RefreshToken:     "granted-refresh",
		RefreshExpiresIn: 30 * 24 * time.Hour,
	})

	s.Require().NoError(err)
	s.Equal(s.clock.Add(4*time.Hour), cred.AccessTokenExpiresAt)
	stored := s.repo.stored("a")
	s.Equal("granted", stored.AccessToken)
	s.Equal("granted-refresh", stored.RefreshToken)
	s.Equal(s.clock.Add(30*24*time.Hour), stored.RefreshTokenExpiresAt)

	token, err := s.store.GetValidToken(context.Background(), "a")
	s.Require().NoError(err)
	s.Equal("granted", token)
	s.Zero(s.refresher.calls.Load())
}

func (s *StoreTestSuite) TestSave_RejectsIncompleteGrant() {
	_, err := s.store.Save(context.Background(), "a", &domain.TokenGrant{AccessToken: "only-access"})

	s.Require().Error(err)
	s.Equal(domain.CredentialUnconfigured, s.credentialErrorKind(err))
	s.Zero(s.repo.saves)
}

func (s *StoreTestSuite) TestSave_RepositoryError() {
	s.repo.saveErr = errors.New("disk full")

	_, err := s.store.Save(context.Background(), "a", &domain.TokenGrant{AccessToken: "x", RefreshToken: "y"})

	s.Require().Error(err)
	s.Contains(err.Error(), "disk full")
}
