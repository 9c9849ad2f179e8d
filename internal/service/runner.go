package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"catalog_sync/internal/domain"
)

// Puller runs full pulls for a single platform.
type Puller interface {
	Platform() string
	Pull(ctx context.Context) (*domain.PullReport, error)
}

// Runner dispatches pulls by platform name and refuses to start a second
// pull for a platform whose previous one has not finished.
type Runner struct {
	pullers map[string]Puller
	order   []string
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

func NewRunner(timeout time.Duration, logger *slog.Logger, pullers ...Puller) *Runner {
	r := &Runner{
		pullers:  make(map[string]Puller, len(pullers)),
		timeout:  timeout,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
	for _, p := range pullers {
		r.pullers[p.Platform()] = p
		r.order = append(r.order, p.Platform())
	}
	return r
}

// Platforms lists the configured platforms in registration order.
func (r *Runner) Platforms() []string {
	return append([]string(nil), r.order...)
}

// RunPlatform runs one pull for platform and waits for it.
func (r *Runner) RunPlatform(ctx context.Context, platform string) (*domain.PullReport, error) {
	p, err := r.acquire(platform)
	if err != nil {
		return nil, err
	}
	defer r.release(platform)

	return r.run(ctx, p)
}

// Start launches a pull in the background. Admission errors are returned
// synchronously; the pull's own outcome is only logged and recorded.
func (r *Runner) Start(ctx context.Context, platform string) error {
	p, err := r.acquire(platform)
	if err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(platform)
		_, _ = r.run(ctx, p)
	}()
	return nil
}

// RunAll pulls every platform concurrently. A failed platform does not cancel
// the others; the returned error joins every failure.
func (r *Runner) RunAll(ctx context.Context) ([]*domain.PullReport, error) {
	reports := make([]*domain.PullReport, len(r.order))
	errs := make([]error, len(r.order))

	var g errgroup.Group
	for i, platform := range r.order {
		i, platform := i, platform
		g.Go(func() error {
			report, err := r.RunPlatform(ctx, platform)
			reports[i] = report
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", platform, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	collected := make([]*domain.PullReport, 0, len(reports))
	for _, report := range reports {
		if report != nil {
			collected = append(collected, report)
		}
	}
	return collected, errors.Join(errs...)
}

// Wait blocks until every pull launched by Start has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, p Puller) (*domain.PullReport, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return p.Pull(ctx)
}

func (r *Runner) acquire(platform string) (Puller, error) {
	p, ok := r.pullers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPlatform, platform)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[platform] {
		r.logger.Warn("pull rejected, previous pull still running", "platform", platform)
		return nil, fmt.Errorf("%w: %s", domain.ErrPullInProgress, platform)
	}
	r.inFlight[platform] = true
	return p, nil
}

func (r *Runner) release(platform string) {
	r.mu.Lock()
	delete(r.inFlight, platform)
	r.mu.Unlock()
}
