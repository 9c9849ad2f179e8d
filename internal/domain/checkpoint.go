package domain

import (
	"database/sql"
	"time"
)

// Checkpoint marks the prefix of pages already committed by an in-flight pull.
type Checkpoint struct {
	Platform       string         `db:"platform"`
	RunID          string         `db:"run_id"`
	Cursor         string         `db:"cursor"`
	PagesCompleted int            `db:"pages_completed"`
	RecordsFetched int64          `db:"records_fetched"`
	RecordsLoaded  int64          `db:"records_loaded"`
	RecordsDropped int64          `db:"records_dropped"`
	StartedAt      time.Time      `db:"started_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	LastError      sql.NullString `db:"last_error"`
}
