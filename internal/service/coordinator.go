package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"catalog_sync/internal/domain"
	"catalog_sync/internal/metrics"
	"catalog_sync/internal/normalize"
)

type RetryPolicy struct {
	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	MaxRateLimitRetries int
	DefaultRetryAfter   time.Duration
}

// Deps are the collaborators shared by every platform's coordinator.
type Deps struct {
	Tokens      TokenProvider
	Sink        LoadSink
	Checkpoints CheckpointStore
	Runs        PullRunStore
	TxManager   TransactionManager
	Publisher   Publisher
	Metrics     *metrics.Metrics
}

// Coordinator drives full catalog pulls for one platform.
type Coordinator struct {
	adapter     Adapter
	hydrator    DetailHydrator
	normalizer  Normalizer
	tokens      TokenProvider
	sink        LoadSink
	checkpoints CheckpointStore
	runs        PullRunStore
	txManager   TransactionManager
	publisher   Publisher
	metrics     *metrics.Metrics
	retry       RetryPolicy
	logger      *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

func NewCoordinator(
	adapter Adapter,
	normalizer Normalizer,
	deps Deps,
	retry RetryPolicy,
	logger *slog.Logger,
) *Coordinator {
	hydrator, _ := adapter.(DetailHydrator)
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Coordinator{
		adapter:     adapter,
		hydrator:    hydrator,
		normalizer:  normalizer,
		tokens:      deps.Tokens,
		sink:        deps.Sink,
		checkpoints: deps.Checkpoints,
		runs:        deps.Runs,
		txManager:   deps.TxManager,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		retry:       retry,
		logger:      logger.With("platform", adapter.Platform()),
		now:         time.Now,
		sleep:       sleepContext,
		newID:       uuid.NewString,
	}
}

func (c *Coordinator) Platform() string {
	return c.adapter.Platform()
}

// pull is the mutable state of one invocation.
type pull struct {
	run    *domain.PullRun
	cp     *domain.Checkpoint
	logger *slog.Logger
}

// Pull runs one full catalog pull. A report is returned in every case; the
// error is non-nil when the pull ends Failed.
func (c *Coordinator) Pull(ctx context.Context) (*domain.PullReport, error) {
	started := c.now()
	p := &pull{
		run: &domain.PullRun{
			ID:        c.newID(),
			Platform:  c.Platform(),
			State:     domain.StateIdle,
			StartedAt: started,
		},
	}
	p.logger = c.logger.With("run_id", p.run.ID)

	if err := c.runs.Start(ctx, p.run); err != nil {
		return c.finish(ctx, p, started, fmt.Errorf("record pull start: %w", err), false)
	}

	p.logger.Info("pull started")
	err := c.execute(ctx, p)
	return c.finish(ctx, p, started, err, true)
}

func (c *Coordinator) execute(ctx context.Context, p *pull) error {
	platform := p.run.Platform

	cp, err := c.checkpoints.Get(ctx, platform)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp != nil {
		p.cp = cp
		p.run.Resumed = true
		p.run.Pages = cp.PagesCompleted
		p.run.RecordsFetched = cp.RecordsFetched
		p.run.RecordsLoaded = cp.RecordsLoaded
		p.run.RecordsDropped = cp.RecordsDropped
		p.logger.Info("resuming from checkpoint",
			"cursor", cp.Cursor,
			"pages_completed", cp.PagesCompleted,
			"previous_run_id", cp.RunID,
		)
	}

	c.transition(p, domain.StateAuthenticating)
	if _, err := c.tokens.GetValidToken(ctx, platform); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	if p.cp == nil {
		now := c.now()
		p.cp = &domain.Checkpoint{
			Platform:  platform,
			RunID:     p.run.ID,
			StartedAt: now,
			UpdatedAt: now,
		}
		if err := c.checkpoints.Save(ctx, p.cp); err != nil {
			return fmt.Errorf("create checkpoint: %w", err)
		}
	}

	cursor := p.cp.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.transition(p, domain.StateFetching)
		records, page, err := c.fetchPage(ctx, p, cursor)
		if err != nil {
			return err
		}

		c.transition(p, domain.StateNormalizingLoading)
		if err := c.loadPage(ctx, p, records, page); err != nil {
			return err
		}

		if page.Done {
			break
		}
		if page.NextCursor == cursor {
			return fmt.Errorf("cursor did not advance past %q", cursor)
		}
		cursor = page.NextCursor
	}

	// Every page is committed. A failed quality check must not leave a cursor
	// behind, or the next run would resume at the end of the catalog.
	if err := c.checkpoints.Delete(ctx, platform); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	p.cp = nil

	c.transition(p, domain.StateQualityCheck)
	previous, err := c.runs.LastSuccessful(ctx, platform)
	if err != nil {
		return fmt.Errorf("load previous run: %w", err)
	}
	violations, err := c.sink.QualityCheck(ctx, platform, p.run.RecordsLoaded, previous)
	if err != nil {
		return fmt.Errorf("quality check: %w", err)
	}
	p.run.Violations = violations

	if blocking := c.sink.Blocking(violations); len(blocking) > 0 {
		return fmt.Errorf("quality check failed: %s", blocking[0])
	}
	return nil
}

// fetchPage fetches and hydrates the page at cursor, retrying by failure kind.
// A fresh token is requested before every attempt.
func (c *Coordinator) fetchPage(ctx context.Context, p *pull, cursor string) ([]domain.RawRecord, *domain.RawPage, error) {
	platform := p.run.Platform
	bo := c.newBackoff()

	var (
		rateLimited int
		transient   int
		reauthed    bool
	)
	for {
		token, err := c.tokens.GetValidToken(ctx, platform)
		if err != nil {
			return nil, nil, fmt.Errorf("authenticate: %w", err)
		}

		records, page, err := c.fetchOnce(ctx, token, cursor)
		if err == nil {
			return records, page, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		kind, retryAfter := domain.FetchErrorKindOf(err)
		var wait time.Duration
		switch kind {
		case domain.FetchRateLimited:
			rateLimited++
			if rateLimited > c.retry.MaxRateLimitRetries {
				return nil, nil, fmt.Errorf("fetch page %q: still rate limited after %d waits: %w", cursor, rateLimited-1, err)
			}
			wait = retryAfter
			if wait <= 0 {
				wait = c.retry.DefaultRetryAfter
			}
		case domain.FetchTransient:
			transient++
			if transient >= c.retry.MaxAttempts {
				return nil, nil, fmt.Errorf("fetch page %q after %d attempts: %w", cursor, transient, err)
			}
			wait = bo.NextBackOff()
		default:
			if reauthed {
				return nil, nil, fmt.Errorf("fetch page %q: %w", cursor, err)
			}
			reauthed = true
			if _, ferr := c.tokens.ForceRefresh(ctx, platform, token); ferr != nil {
				return nil, nil, fmt.Errorf("re-authenticate after %v: %w", err, ferr)
			}
		}

		c.metrics.RecordRetry(platform, kind)
		c.transition(p, domain.StateRetrying)
		p.logger.Warn("page fetch failed, retrying",
			"cursor", cursor,
			"kind", kind,
			"wait", wait,
			"error", err,
		)
		if wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return nil, nil, err
			}
		}
	}
}

// fetchOnce is the retry unit: one listing call plus the detail calls for the
// ids it returned.
func (c *Coordinator) fetchOnce(ctx context.Context, token, cursor string) ([]domain.RawRecord, *domain.RawPage, error) {
	page, err := c.adapter.FetchPage(ctx, token, cursor)
	if err != nil {
		return nil, nil, err
	}

	records := page.Records
	if len(page.IDs) > 0 {
		if c.hydrator == nil {
			return nil, nil, domain.Fatal(errors.New("listing returned ids but adapter cannot fetch details"))
		}
		details, err := c.hydrator.FetchDetails(ctx, token, page.IDs)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, details...)
	}
	return records, page, nil
}

// loadPage normalizes the page and commits its products together with the
// advanced checkpoint.
func (c *Coordinator) loadPage(ctx context.Context, p *pull, records []domain.RawRecord, page *domain.RawPage) error {
	platform := p.run.Platform

	products := make([]domain.Product, 0, len(records))
	var dropped int64
	for _, raw := range records {
		product, err := c.normalizer.Normalize(raw)
		if err != nil {
			de, ok := normalize.AsDrop(err)
			if !ok {
				return fmt.Errorf("normalize: %w", err)
			}
			dropped++
			c.metrics.RecordDrop(platform, de.Reason)
			p.logger.Warn("record dropped", "reason", de.Reason, "error", de.Err)
			continue
		}
		products = append(products, product)
	}

	next := *p.cp
	next.RunID = p.run.ID
	if page.NextCursor != "" || !page.Done {
		next.Cursor = page.NextCursor
	}
	next.PagesCompleted++
	next.RecordsFetched += int64(len(records))
	next.RecordsDropped += dropped
	next.UpdatedAt = c.now()
	next.LastError = sql.NullString{}

	err := c.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		loaded, err := c.sink.Upsert(txCtx, products)
		if err != nil {
			return fmt.Errorf("upsert products: %w", err)
		}
		next.RecordsLoaded += int64(loaded)
		return c.checkpoints.Save(txCtx, &next)
	})
	if err != nil {
		return fmt.Errorf("commit page %d: %w", next.PagesCompleted, err)
	}

	*p.cp = next
	p.run.Pages = next.PagesCompleted
	p.run.RecordsFetched = next.RecordsFetched
	p.run.RecordsLoaded = next.RecordsLoaded
	p.run.RecordsDropped = next.RecordsDropped

	p.logger.Debug("page committed",
		"page", next.PagesCompleted,
		"fetched", len(records),
		"dropped", dropped,
		"next_cursor", next.Cursor,
	)
	return nil
}

func (c *Coordinator) finish(ctx context.Context, p *pull, started time.Time, err error, recorded bool) (*domain.PullReport, error) {
	// Bookkeeping must land even when the pull was cancelled.
	ctx = context.WithoutCancel(ctx)

	finished := c.now()
	p.run.FinishedAt = &finished
	if err != nil {
		p.run.State = domain.StateFailed
		p.run.Error = err.Error()
		if p.cp != nil {
			p.cp.LastError = sql.NullString{String: err.Error(), Valid: true}
			p.cp.UpdatedAt = finished
			if serr := c.checkpoints.Save(ctx, p.cp); serr != nil {
				p.logger.Error("failed to record checkpoint error", "error", serr)
			}
		}
	} else {
		p.run.State = domain.StateCompleted
	}

	if recorded {
		if ferr := c.runs.Finish(ctx, p.run); ferr != nil {
			p.logger.Error("failed to record pull run", "error", ferr)
		}
	}

	report := &domain.PullReport{PullRun: *p.run, Duration: finished.Sub(started)}
	c.metrics.ObservePull(report)

	if c.publisher != nil {
		if perr := c.publisher.PublishReport(ctx, report); perr != nil {
			p.logger.Warn("failed to publish pull report", "error", perr)
		}
	}

	attrs := []any{
		"outcome", report.Outcome(),
		"pages", report.Pages,
		"fetched", report.RecordsFetched,
		"loaded", report.RecordsLoaded,
		"dropped", report.RecordsDropped,
		"violations", len(report.Violations),
		"duration", report.Duration,
	}
	if err != nil {
		p.logger.Error("pull failed", append(attrs, "error", err)...)
	} else {
		p.logger.Info("pull completed", attrs...)
	}
	return report, err
}

func (c *Coordinator) transition(p *pull, state domain.PullState) {
	if p.run.State == state {
		return
	}
	p.logger.Debug("state transition", "from", p.run.State, "to", state)
	p.run.State = state
}

func (c *Coordinator) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialBackoff
	b.MaxInterval = c.retry.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
