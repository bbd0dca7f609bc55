package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSweeper struct {
	calls    atomic.Int32
	requests chan ledger.SweepRequest
	release  chan struct{}
	err      error
}

func (sweeper *stubSweeper) RunSweep(ctx context.Context, request ledger.SweepRequest) (ledger.SweepReport, error) {
	sweeper.calls.Add(1)
	if sweeper.requests != nil {
		sweeper.requests <- request
	}
	if sweeper.release != nil {
		<-sweeper.release
	}
	if sweeper.err != nil {
		return ledger.SweepReport{}, sweeper.err
	}
	return ledger.SweepReport{EarningsCreated: 2, EarningsCredited: 2}, nil
}

func TestNewRejectsInvalidSchedules(test *testing.T) {
	test.Parallel()
	if _, err := New(&stubSweeper{}, "every day please", ledger.SweepRequest{}, zap.NewNop()); err == nil {
		test.Fatalf("expected invalid schedule error")
	}
	if _, err := New(nil, "@every 1h", ledger.SweepRequest{}, zap.NewNop()); err == nil {
		test.Fatalf("expected nil sweeper error")
	}
}

func TestRunOnceLogsOutcome(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	sweeper := &stubSweeper{requests: make(chan ledger.SweepRequest, 1)}
	scheduler, err := New(sweeper, "@every 1h", ledger.SweepRequest{BatchSize: 25}, zap.New(core))
	if err != nil {
		test.Fatalf("new: %v", err)
	}

	scheduler.RunOnce(context.Background())

	if request := <-sweeper.requests; request.BatchSize != 25 || request.Force {
		test.Fatalf("unexpected sweep request %+v", request)
	}
	entries := logs.FilterMessage("scheduled sweep finished").All()
	if len(entries) != 1 || entries[0].ContextMap()["earnings_credited"] != int64(2) {
		test.Fatalf("expected a finished entry, got %v", logs.All())
	}

	sweeper.err = errors.New("store down")
	scheduler.RunOnce(context.Background())
	if logs.FilterMessage("scheduled sweep failed").Len() != 1 {
		test.Fatalf("expected a failure entry")
	}
}

func TestOverlappingTicksAreSkipped(test *testing.T) {
	test.Parallel()
	sweeper := &stubSweeper{requests: make(chan ledger.SweepRequest, 4), release: make(chan struct{})}
	scheduler, err := New(sweeper, "@every 1h", ledger.SweepRequest{}, zap.NewNop())
	if err != nil {
		test.Fatalf("new: %v", err)
	}
	job := scheduler.cron.Entry(scheduler.entryID).WrappedJob

	var running sync.WaitGroup
	running.Add(1)
	go func() {
		defer running.Done()
		job.Run()
	}()
	<-sweeper.requests

	job.Run()
	if calls := sweeper.calls.Load(); calls != 1 {
		test.Fatalf("expected the overlapping tick to be skipped, got %d calls", calls)
	}

	close(sweeper.release)
	running.Wait()
	job.Run()
	if calls := sweeper.calls.Load(); calls != 2 {
		test.Fatalf("expected a tick after completion to run, got %d calls", calls)
	}
}

func TestStartSchedulesInUTCAndStops(test *testing.T) {
	test.Parallel()
	scheduler, err := New(&stubSweeper{}, "0 3 * * *", ledger.SweepRequest{}, zap.NewNop())
	if err != nil {
		test.Fatalf("new: %v", err)
	}
	if !scheduler.Next().IsZero() {
		test.Fatalf("expected no next run before start")
	}
	scheduler.Start(context.Background())
	next := scheduler.Next()
	if next.Location() != time.UTC || next.Hour() != 3 || next.Minute() != 0 {
		test.Fatalf("expected next run at 03:00 UTC, got %v", next)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := scheduler.Stop(ctx); err != nil {
		test.Fatalf("stop: %v", err)
	}
}
