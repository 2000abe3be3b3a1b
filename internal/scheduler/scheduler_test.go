package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"page_scraper/internal/domain"
)

type runnerFunc func(ctx context.Context) (*domain.ScrapeReport, error)

func (f runnerFunc) Run(ctx context.Context) (*domain.ScrapeReport, error) {
	return f(ctx)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := runnerFunc(func(runCtx context.Context) (*domain.ScrapeReport, error) {
		if runCtx.Err() != nil {
			return nil, runCtx.Err()
		}
		if runs.Add(1) == 3 {
			cancel()
		}
		return &domain.ScrapeReport{RunID: "run"}, nil
	})

	err := NewScheduler(runner, 10*time.Millisecond, time.Second, testLogger()).Start(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), runs.Load())
}

func TestScheduler_FailedRunDoesNotStopLoop(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := runnerFunc(func(runCtx context.Context) (*domain.ScrapeReport, error) {
		if runCtx.Err() != nil {
			return nil, runCtx.Err()
		}
		if runs.Add(1) == 2 {
			cancel()
		}
		return nil, errors.New("database unavailable")
	})

	err := NewScheduler(runner, 10*time.Millisecond, 0, testLogger()).Start(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(2), runs.Load())
}

func TestScheduler_RunTimeoutBoundsPass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deadlineSet atomic.Bool
	runner := runnerFunc(func(runCtx context.Context) (*domain.ScrapeReport, error) {
		_, ok := runCtx.Deadline()
		deadlineSet.Store(ok)
		<-runCtx.Done()
		cancel()
		return nil, runCtx.Err()
	})

	err := NewScheduler(runner, time.Hour, 20*time.Millisecond, testLogger()).Start(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, deadlineSet.Load())
}
