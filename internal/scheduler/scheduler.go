// Package scheduler runs ledger sweeps on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper is the part of ledger.Service the scheduler drives.
type Sweeper interface {
	RunSweep(ctx context.Context, request ledger.SweepRequest) (ledger.SweepReport, error)
}

// Scheduler triggers sweeps in UTC. A tick that fires while the previous
// sweep is still running is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	sweeper Sweeper
	request ledger.SweepRequest
	logger  *zap.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New parses spec (standard five-field cron or descriptors such as "@every 1h").
func New(sweeper Sweeper, spec string, request ledger.SweepRequest, logger *zap.Logger) (*Scheduler, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("scheduler: sweeper is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	scheduler := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		sweeper: sweeper,
		request: request,
		logger:  logger,
		ctx:     context.Background(),
	}
	entryID, err := scheduler.cron.AddFunc(spec, scheduler.tick)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	scheduler.entryID = entryID
	return scheduler, nil
}

// Start begins firing. Sweeps run under ctx, so cancelling it interrupts a
// sweep in progress between units.
func (scheduler *Scheduler) Start(ctx context.Context) {
	scheduler.mu.Lock()
	scheduler.ctx = ctx
	scheduler.mu.Unlock()
	scheduler.cron.Start()
	scheduler.logger.Info("sweep scheduler started", zap.Time("next_run", scheduler.Next()))
}

// Stop halts the schedule and waits for a running sweep to return or ctx to expire.
func (scheduler *Scheduler) Stop(ctx context.Context) error {
	stopped := scheduler.cron.Stop()
	select {
	case <-stopped.Done():
		scheduler.logger.Info("sweep scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when the next sweep fires; zero before Start.
func (scheduler *Scheduler) Next() time.Time {
	return scheduler.cron.Entry(scheduler.entryID).Next
}

func (scheduler *Scheduler) tick() {
	scheduler.mu.Lock()
	ctx := scheduler.ctx
	scheduler.mu.Unlock()
	scheduler.RunOnce(ctx)
}

// RunOnce performs one sweep and logs its outcome.
func (scheduler *Scheduler) RunOnce(ctx context.Context) {
	report, err := scheduler.sweeper.RunSweep(ctx, scheduler.request)
	if err != nil {
		scheduler.logger.Error("scheduled sweep failed", zap.Error(err))
		return
	}
	scheduler.logger.Info("scheduled sweep finished",
		zap.Int("earnings_created", report.EarningsCreated),
		zap.Int("earnings_credited", report.EarningsCredited),
		zap.Int("failures", len(report.Failures)),
		zap.Bool("interrupted", report.Interrupted),
		zap.Duration("duration", report.Duration()),
	)
}
