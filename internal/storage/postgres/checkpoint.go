package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"catalog_sync/internal/domain"
)

type CheckpointStore struct {
	db *sqlx.DB
}

func NewCheckpointStore(db *sqlx.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Get returns nil when the platform has no checkpoint.
func (s *CheckpointStore) Get(ctx context.Context, platform string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	query := `
		SELECT platform, run_id, cursor, pages_completed, records_fetched, records_loaded,
			records_dropped, started_at, updated_at, last_error
		FROM extraction_checkpoints
		WHERE platform = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &cp, query, platform)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *CheckpointStore) Save(ctx context.Context, cp *domain.Checkpoint) error {
	query := `
		INSERT INTO extraction_checkpoints (
			platform, run_id, cursor, pages_completed, records_fetched, records_loaded,
			records_dropped, started_at, updated_at, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (platform) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			cursor = EXCLUDED.cursor,
			pages_completed = EXCLUDED.pages_completed,
			records_fetched = EXCLUDED.records_fetched,
			records_loaded = EXCLUDED.records_loaded,
			records_dropped = EXCLUDED.records_dropped,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at,
			last_error = EXCLUDED.last_error`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		cp.Platform,
		cp.RunID,
		cp.Cursor,
		cp.PagesCompleted,
		cp.RecordsFetched,
		cp.RecordsLoaded,
		cp.RecordsDropped,
		cp.StartedAt,
		cp.UpdatedAt,
		cp.LastError,
	)
	return err
}

func (s *CheckpointStore) Delete(ctx context.Context, platform string) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM extraction_checkpoints WHERE platform = $1",
		platform,
	)
	return err
}
