package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_sync/internal/domain"
)

type stubPuller struct {
	platform string
	err      error
	release  chan struct{}
	started  chan struct{}
	deadline bool
}

func (p *stubPuller) Platform() string { return p.platform }

func (p *stubPuller) Pull(ctx context.Context) (*domain.PullReport, error) {
	_, p.deadline = ctx.Deadline()
	if p.started != nil {
		close(p.started)
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	state := domain.StateCompleted
	if p.err != nil {
		state = domain.StateFailed
	}
	return &domain.PullReport{PullRun: domain.PullRun{Platform: p.platform, State: state}}, p.err
}

func runnerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunner_RunPlatform(t *testing.T) {
	r := NewRunner(time.Minute, runnerLogger(), &stubPuller{platform: "shopee"})

	report, err := r.RunPlatform(context.Background(), "shopee")

	require.NoError(t, err)
	assert.Equal(t, "shopee", report.Platform)
	assert.Equal(t, []string{"shopee"}, r.Platforms())
}

func TestRunner_UnknownPlatform(t *testing.T) {
	r := NewRunner(0, runnerLogger(), &stubPuller{platform: "shopee"})

	_, err := r.RunPlatform(context.Background(), "amazon")

	assert.ErrorIs(t, err, domain.ErrUnknownPlatform)
	assert.ErrorIs(t, r.Start(context.Background(), "amazon"), domain.ErrUnknownPlatform)
}

func TestRunner_AppliesPullTimeout(t *testing.T) {
	p := &stubPuller{platform: "lazada"}
	r := NewRunner(time.Minute, runnerLogger(), p)

	_, err := r.RunPlatform(context.Background(), "lazada")

	require.NoError(t, err)
	assert.True(t, p.deadline)
}

func TestRunner_RejectsConcurrentPull(t *testing.T) {
	p := &stubPuller{
		platform: "lazada",
		release:  make(chan struct{}),
		started:  make(chan struct{}),
	}
	r := NewRunner(0, runnerLogger(), p)

	require.NoError(t, r.Start(context.Background(), "lazada"))
	<-p.started

	_, err := r.RunPlatform(context.Background(), "lazada")
	assert.ErrorIs(t, err, domain.ErrPullInProgress)
	assert.ErrorIs(t, r.Start(context.Background(), "lazada"), domain.ErrPullInProgress)

	close(p.release)
	r.Wait()

	p.release, p.started = nil, nil
	_, err = r.RunPlatform(context.Background(), "lazada")
	assert.NoError(t, err)
}

func TestRunner_RunAllIsolatesFailures(t *testing.T) {
	r := NewRunner(0, runnerLogger(),
		&stubPuller{platform: "shopee", err: errors.New("boom")},
		&stubPuller{platform: "lazada"},
		&stubPuller{platform: "redmart"},
	)

	reports, err := r.RunAll(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "shopee: boom")
	assert.NotContains(t, err.Error(), "lazada")
	require.Len(t, reports, 3)

	states := make(map[string]domain.PullState)
	for _, report := range reports {
		states[report.Platform] = report.State
	}
	assert.Equal(t, map[string]domain.PullState{
		"shopee":  domain.StateFailed,
		"lazada":  domain.StateCompleted,
		"redmart": domain.StateCompleted,
	}, states)
}

func TestRunner_RunAllSucceeds(t *testing.T) {
	r := NewRunner(0, runnerLogger(), &stubPuller{platform: "shopee"}, &stubPuller{platform: "lazada"})

	reports, err := r.RunAll(context.Background())

	require.NoError(t, err)
	assert.Len(t, reports, 2)
}
