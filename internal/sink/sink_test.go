package sink

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/suite"

	"catalog_sync/internal/domain"
	"catalog_sync/internal/storage/postgres"
)

type fakeRepo struct {
	batches   [][]domain.Product
	upsertErr error
	counts    postgres.QualityCounts
	countsErr error
}

func (r *fakeRepo) Upsert(_ context.Context, products []domain.Product) (int64, error) {
	if r.upsertErr != nil {
		return 0, r.upsertErr
	}
	r.batches = append(r.batches, products)
	return int64(len(products)), nil
}

func (r *fakeRepo) QualityCounts(context.Context, string) (*postgres.QualityCounts, error) {
	if r.countsErr != nil {
		return nil, r.countsErr
	}
	c := r.counts
	return &c, nil
}

type SinkTestSuite struct {
	suite.Suite
	ctx  context.Context
	repo *fakeRepo
	sink *Sink
}

func TestSinkTestSuite(t *testing.T) {
	suite.Run(t, new(SinkTestSuite))
}

func (s *SinkTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = &fakeRepo{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.sink = New(s.repo, Config{
		CollapseRatio: 0.1,
		MinBaseline:   10,
		FailOn:        []domain.ViolationKind{domain.ViolationRowCountCollapse},
	}, logger)
}

func product(id, name string) domain.Product {
	return domain.Product{PlatformName: "a", PlatformID: id, ProductName: name, Status: domain.StatusActive}
}

func (s *SinkTestSuite) TestUpsert_DedupesLastWins() {
	n, err := s.sink.Upsert(s.ctx, []domain.Product{
		product("1", "first"),
		product("2", "other"),
		product("1", "second"),
	})

	s.Require().NoError(err)
	s.Equal(2, n)
	s.Require().Len(s.repo.batches, 1)
	s.Equal([]domain.Product{product("2", "other"), product("1", "second")}, s.repo.batches[0])
}

func (s *SinkTestSuite) TestUpsert_EmptyBatchSkipsRepository() {
	n, err := s.sink.Upsert(s.ctx, nil)

	s.Require().NoError(err)
	s.Zero(n)
	s.Empty(s.repo.batches)
}

func (s *SinkTestSuite) TestUpsert_PropagatesError() {
	s.repo.upsertErr = errors.New("connection reset")

	_, err := s.sink.Upsert(s.ctx, []domain.Product{product("1", "x")})

	s.Require().Error(err)
	s.ErrorIs(err, s.repo.upsertErr)
}

func (s *SinkTestSuite) TestQualityCheck_Clean() {
	violations, err := s.sink.QualityCheck(s.ctx, "a", 100, &domain.PullRun{RecordsLoaded: 100})

	s.Require().NoError(err)
	s.Empty(violations)
}

func (s *SinkTestSuite) TestQualityCheck_TableAnomalies() {
	s.repo.counts = postgres.QualityCounts{Total: 10, NegativePrice: 1, NegativeStock: 2, EmptyName: 3}

	violations, err := s.sink.QualityCheck(s.ctx, "a", 10, nil)

	s.Require().NoError(err)
	s.Require().Len(violations, 3)
	s.Equal(domain.ViolationNegativePrice, violations[0].Kind)
	s.EqualValues(1, violations[0].Count)
	s.Equal(domain.ViolationNegativeStock, violations[1].Kind)
	s.Equal(domain.ViolationEmptyName, violations[2].Kind)
	s.Empty(s.sink.Blocking(violations))
}

func (s *SinkTestSuite) TestQualityCheck_RowCountCollapse() {
	violations, err := s.sink.QualityCheck(s.ctx, "a", 3, &domain.PullRun{RecordsLoaded: 1000})

	s.Require().NoError(err)
	s.Require().Len(violations, 1)
	s.Equal(domain.ViolationRowCountCollapse, violations[0].Kind)
	s.EqualValues(3, violations[0].Count)
	s.Equal(violations, s.sink.Blocking(violations))
}

func (s *SinkTestSuite) TestQualityCheck_CollapseBoundary() {
	violations, err := s.sink.QualityCheck(s.ctx, "a", 100, &domain.PullRun{RecordsLoaded: 1000})

	s.Require().NoError(err)
	s.Empty(violations)
}

func (s *SinkTestSuite) TestQualityCheck_SmallBaselineIsTrusted() {
	violations, err := s.sink.QualityCheck(s.ctx, "a", 0, &domain.PullRun{RecordsLoaded: 9})

	s.Require().NoError(err)
	s.Empty(violations)
}

func (s *SinkTestSuite) TestQualityCheck_EmptyFirstPull() {
	violations, err := s.sink.QualityCheck(s.ctx, "a", 0, nil)

	s.Require().NoError(err)
	s.Require().Len(violations, 1)
	s.Equal(domain.ViolationEmptyCatalog, violations[0].Kind)
	s.Empty(s.sink.Blocking(violations))
}

func (s *SinkTestSuite) TestQualityCheck_CountError() {
	s.repo.countsErr = errors.New("timeout")

	_, err := s.sink.QualityCheck(s.ctx, "a", 10, nil)

	s.ErrorIs(err, s.repo.countsErr)
}
