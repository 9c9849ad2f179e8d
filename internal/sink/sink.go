// Package sink loads normalized products and checks the loaded catalog.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"catalog_sync/internal/domain"
	"catalog_sync/internal/storage/postgres"
)

type ProductRepository interface {
	Upsert(ctx context.Context, products []domain.Product) (int64, error)
	QualityCounts(ctx context.Context, platform string) (*postgres.QualityCounts, error)
}

type Config struct {
	// CollapseRatio flags a pull that loads fewer than this share of the
	// previous successful pull.
	CollapseRatio float64
	// MinBaseline is the smallest previous count the collapse check trusts.
	MinBaseline int64
	// FailOn lists the violation kinds that fail the pull.
	FailOn []domain.ViolationKind
}

type Sink struct {
	repo   ProductRepository
	cfg    Config
	logger *slog.Logger
}

func New(repo ProductRepository, cfg Config, logger *slog.Logger) *Sink {
	return &Sink{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With("component", "sink"),
	}
}

// Upsert writes one page of products. A key repeated within the batch keeps
// its last occurrence. It returns the number of distinct records written.
func (s *Sink) Upsert(ctx context.Context, batch []domain.Product) (int, error) {
	deduped := dedupe(batch)
	if len(deduped) == 0 {
		return 0, nil
	}
	if dup := len(batch) - len(deduped); dup > 0 {
		s.logger.Debug("collapsed duplicate keys in batch", "duplicates", dup)
	}

	if _, err := s.repo.Upsert(ctx, deduped); err != nil {
		return 0, fmt.Errorf("upsert products: %w", err)
	}
	return len(deduped), nil
}

func dedupe(batch []domain.Product) []domain.Product {
	last := make(map[string]int, len(batch))
	for i, p := range batch {
		last[p.Key()] = i
	}
	out := make([]domain.Product, 0, len(last))
	for i, p := range batch {
		if last[p.Key()] == i {
			out = append(out, p)
		}
	}
	return out
}

// QualityCheck inspects the platform's catalog after a pull loaded `loaded`
// records. previous is the last successful run, nil when there is none.
func (s *Sink) QualityCheck(ctx context.Context, platform string, loaded int64, previous *domain.PullRun) ([]domain.Violation, error) {
	counts, err := s.repo.QualityCounts(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("count anomalies: %w", err)
	}

	var violations []domain.Violation
	add := func(kind domain.ViolationKind, count int64, detail string) {
		violations = append(violations, domain.Violation{Kind: kind, Platform: platform, Count: count, Detail: detail})
	}

	if counts.NegativePrice > 0 {
		add(domain.ViolationNegativePrice, counts.NegativePrice, "products with a negative price")
	}
	if counts.NegativeStock > 0 {
		add(domain.ViolationNegativeStock, counts.NegativeStock, "products with negative stock")
	}
	if counts.EmptyName > 0 {
		add(domain.ViolationEmptyName, counts.EmptyName, "products with an empty name")
	}

	switch {
	case previous == nil && loaded == 0:
		add(domain.ViolationEmptyCatalog, 0, "first pull loaded no products")
	case previous != nil && previous.RecordsLoaded >= s.cfg.MinBaseline &&
		float64(loaded) < float64(previous.RecordsLoaded)*s.cfg.CollapseRatio:
		add(domain.ViolationRowCountCollapse, loaded,
			fmt.Sprintf("loaded %d, previous successful pull loaded %d", loaded, previous.RecordsLoaded))
	}

	for _, v := range violations {
		s.logger.Warn("quality violation",
			"platform", platform,
			"kind", v.Kind,
			"count", v.Count,
			"detail", v.Detail,
		)
	}
	return violations, nil
}

// Blocking returns the violations whose kind fails the pull.
func (s *Sink) Blocking(violations []domain.Violation) []domain.Violation {
	var out []domain.Violation
	for _, v := range violations {
		if slices.Contains(s.cfg.FailOn, v.Kind) {
			out = append(out, v)
		}
	}
	return out
}
