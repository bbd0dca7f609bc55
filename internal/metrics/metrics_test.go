package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func TestRecorderCountsOperationsByStatus(test *testing.T) {
	test.Parallel()
	recorder := NewRecorder()
	ctx := context.Background()
	recorder.LogOperation(ctx, ledger.OperationLog{Operation: ledger.OperationCredit, Status: ledger.OperationStatusOK})
	recorder.LogOperation(ctx, ledger.OperationLog{Operation: ledger.OperationCredit, Status: ledger.OperationStatusOK})
	recorder.LogOperation(ctx, ledger.OperationLog{Operation: ledger.OperationBuy, Status: ledger.OperationStatusError})

	if got := testutil.ToFloat64(recorder.operations.WithLabelValues("credit", "ok")); got != 2 {
		test.Fatalf("expected 2 credits, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.operations.WithLabelValues("buy", "error")); got != 1 {
		test.Fatalf("expected 1 failed buy, got %v", got)
	}
}

func TestRecorderObservesSweeps(test *testing.T) {
	test.Parallel()
	recorder := NewRecorder()
	started := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	recorder.ObserveSweep(context.Background(), ledger.SweepReport{
		StartedAt:        started,
		FinishedAt:       started.Add(1500 * time.Millisecond),
		EarningsCreated:  4,
		EarningsCredited: 3,
		AmountCredited:   decimal.RequireFromString("37.5"),
		Failures: []ledger.SweepFailure{
			{Phase: ledger.SweepPhaseAccrual, SubjectID: "p-1", Err: errors.New("boom")},
			{Phase: ledger.SweepPhaseCrediting, SubjectID: "e-1", Err: errors.New("boom")},
			{Phase: ledger.SweepPhaseCrediting, SubjectID: "e-2", Err: errors.New("boom")},
		},
	})
	recorder.ObserveSweep(context.Background(), ledger.SweepReport{StartedAt: started, FinishedAt: started, Interrupted: true})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{name: "completed runs", got: testutil.ToFloat64(recorder.sweepRuns.WithLabelValues("false")), want: 1},
		{name: "interrupted runs", got: testutil.ToFloat64(recorder.sweepRuns.WithLabelValues("true")), want: 1},
		{name: "created", got: testutil.ToFloat64(recorder.earningsCreated), want: 4},
		{name: "credited", got: testutil.ToFloat64(recorder.earningsCredited), want: 3},
		{name: "amount", got: testutil.ToFloat64(recorder.amountCredited), want: 37.5},
		{name: "accrual failures", got: testutil.ToFloat64(recorder.sweepFailures.WithLabelValues(ledger.SweepPhaseAccrual)), want: 1},
		{name: "crediting failures", got: testutil.ToFloat64(recorder.sweepFailures.WithLabelValues(ledger.SweepPhaseCrediting)), want: 2},
	}
	for _, check := range checks {
		if check.got != check.want {
			test.Fatalf("%s: expected %v, got %v", check.name, check.want, check.got)
		}
	}
	if count := testutil.CollectAndCount(recorder.sweepDuration); count != 1 {
		test.Fatalf("expected one histogram series, got %d", count)
	}
}

func TestHandlerExposesLedgerMetrics(test *testing.T) {
	test.Parallel()
	recorder := NewRecorder()
	recorder.LogOperation(context.Background(), ledger.OperationLog{Operation: ledger.OperationAccrue, Status: ledger.OperationStatusSkipped})

	server := httptest.NewServer(recorder.Handler())
	test.Cleanup(server.Close)
	response, err := http.Get(server.URL)
	if err != nil {
		test.Fatalf("scrape failed: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		test.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(body), `yield_operations_total{operation="accrue",status="skipped"} 1`) {
		test.Fatalf("expected operations counter in scrape output:\n%s", body)
	}
}
