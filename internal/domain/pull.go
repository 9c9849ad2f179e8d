package domain

import (
	"fmt"
	"time"
)

// PullState is a state of the extraction state machine.
type PullState string

const (
	StateIdle               PullState = "idle"
	StateAuthenticating     PullState = "authenticating"
	StateFetching           PullState = "fetching"
	StateRetrying           PullState = "retrying"
	StateNormalizingLoading PullState = "normalizing_loading"
	StateQualityCheck       PullState = "quality_check"
	StateCompleted          PullState = "completed"
	StateFailed             PullState = "failed"
)

type ViolationKind string

const (
	ViolationNegativePrice    ViolationKind = "negative_price"
	ViolationNegativeStock    ViolationKind = "negative_stock"
	ViolationEmptyName        ViolationKind = "empty_name"
	ViolationRowCountCollapse ViolationKind = "row_count_collapse"
	ViolationEmptyCatalog     ViolationKind = "empty_catalog"
)

type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Platform string        `json:"platform"`
	Count    int64         `json:"count"`
	Detail   string        `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%d)", v.Kind, v.Detail, v.Count)
}

// PullRun is the history row of one pull invocation.
type PullRun struct {
	ID             string      `db:"id" json:"id"`
	Platform       string      `db:"platform" json:"platform"`
	State          PullState   `db:"state" json:"state"`
	Resumed        bool        `db:"resumed" json:"resumed"`
	Pages          int         `db:"pages" json:"pages"`
	RecordsFetched int64       `db:"records_fetched" json:"records_fetched"`
	RecordsLoaded  int64       `db:"records_loaded" json:"records_loaded"`
	RecordsDropped int64       `db:"records_dropped" json:"records_dropped"`
	Violations     []Violation `db:"-" json:"violations"`
	Error          string      `db:"error" json:"error,omitempty"`
	StartedAt      time.Time   `db:"started_at" json:"started_at"`
	FinishedAt     *time.Time  `db:"finished_at" json:"finished_at,omitempty"`
}

const (
	OutcomeCompleted               = "completed"
	OutcomeCompletedWithViolations = "completed_with_violations"
	OutcomeFailed                  = "failed"
)

// PullReport is what a pull hands back to its caller.
type PullReport struct {
	PullRun
	Duration time.Duration `json:"duration"`
}

// Outcome distinguishes a clean completion from one that carried violations.
func (r *PullReport) Outcome() string {
	switch {
	case r.State != StateCompleted:
		return OutcomeFailed
	case len(r.Violations) > 0:
		return OutcomeCompletedWithViolations
	default:
		return OutcomeCompleted
	}
}
