package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"catalog_sync/internal/domain"
)

type PullRunStore struct {
	db *sqlx.DB
}

func NewPullRunStore(db *sqlx.DB) *PullRunStore {
	return &PullRunStore{db: db}
}

type pullRunRow struct {
	domain.PullRun
	ViolationsJSON []byte `db:"violations"`
}

const pullRunColumns = `id, platform, state, resumed, pages, records_fetched, records_loaded,
	records_dropped, violations, error, started_at, finished_at`

func (s *PullRunStore) Start(ctx context.Context, run *domain.PullRun) error {
	query := `
		INSERT INTO pull_runs (id, platform, state, resumed, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		run.ID,
		run.Platform,
		run.State,
		run.Resumed,
		run.StartedAt,
	)
	return err
}

func (s *PullRunStore) Finish(ctx context.Context, run *domain.PullRun) error {
	violations := run.Violations
	if violations == nil {
		violations = []domain.Violation{}
	}
	payload, err := json.Marshal(violations)
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}

	query := `
		UPDATE pull_runs SET
			state = $2,
			resumed = $3,
			pages = $4,
			records_fetched = $5,
			records_loaded = $6,
			records_dropped = $7,
			violations = $8,
			error = $9,
			finished_at = $10
		WHERE id = $1`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		run.ID,
		run.State,
		run.Resumed,
		run.Pages,
		run.RecordsFetched,
		run.RecordsLoaded,
		run.RecordsDropped,
		payload,
		run.Error,
		run.FinishedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pull run %s not found", run.ID)
	}
	return nil
}

// LastSuccessful returns the newest completed run, or nil.
func (s *PullRunStore) LastSuccessful(ctx context.Context, platform string) (*domain.PullRun, error) {
	return s.one(ctx, `
		SELECT `+pullRunColumns+`
		FROM pull_runs
		WHERE platform = $1 AND state = $2
		ORDER BY started_at DESC
		LIMIT 1`, platform, domain.StateCompleted)
}

// Latest returns the newest run in any state, or nil.
func (s *PullRunStore) Latest(ctx context.Context, platform string) (*domain.PullRun, error) {
	return s.one(ctx, `
		SELECT `+pullRunColumns+`
		FROM pull_runs
		WHERE platform = $1
		ORDER BY started_at DESC
		LIMIT 1`, platform)
}

func (s *PullRunStore) one(ctx context.Context, query string, args ...interface{}) (*domain.PullRun, error) {
	var row pullRunRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run := row.PullRun
	if len(row.ViolationsJSON) > 0 {
		if err := json.Unmarshal(row.ViolationsJSON, &run.Violations); err != nil {
			return nil, fmt.Errorf("unmarshal violations: %w", err)
		}
	}
	return &run, nil
}
