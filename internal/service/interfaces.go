package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"catalog_sync/internal/domain"
)

// Adapter pages through one platform's catalog. An empty cursor starts from
// the beginning.
type Adapter interface {
	Platform() string
	FetchPage(ctx context.Context, accessToken, cursor string) (*domain.RawPage, error)
}

// DetailHydrator is implemented by adapters whose listing returns ids only.
type DetailHydrator interface {
	FetchDetails(ctx context.Context, accessToken string, ids []string) ([]domain.RawRecord, error)
}

type TokenProvider interface {
	GetValidToken(ctx context.Context, platform string) (string, error)
	ForceRefresh(ctx context.Context, platform, staleToken string) (string, error)
}

type Normalizer interface {
	Normalize(raw domain.RawRecord) (domain.Product, error)
}

type LoadSink interface {
	Upsert(ctx context.Context, batch []domain.Product) (int, error)
	QualityCheck(ctx context.Context, platform string, loaded int64, previous *domain.PullRun) ([]domain.Violation, error)
	Blocking(violations []domain.Violation) []domain.Violation
}

type CheckpointStore interface {
	Get(ctx context.Context, platform string) (*domain.Checkpoint, error)
	Save(ctx context.Context, cp *domain.Checkpoint) error
	Delete(ctx context.Context, platform string) error
}

type PullRunStore interface {
	Start(ctx context.Context, run *domain.PullRun) error
	Finish(ctx context.Context, run *domain.PullRun) error
	LastSuccessful(ctx context.Context, platform string) (*domain.PullRun, error)
	Latest(ctx context.Context, platform string) (*domain.PullRun, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	PublishReport(ctx context.Context, report *domain.PullReport) error
	Close() error
}
