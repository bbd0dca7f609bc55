package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sweep phases reported on failures.
const (
	SweepPhaseAccrual   = "accrual"
	SweepPhaseCrediting = "crediting"
)

// SweepRequest parameterizes RunSweep. Zero BatchSize means DefaultSweepBatchSize.
type SweepRequest struct {
	BatchSize int
	Force     bool
}

// ProcessedPurchase records an earning created during a sweep.
type ProcessedPurchase struct {
	PurchaseID PurchaseID
	UserID     UserID
	EarningID  EarningID
	Amount     Amount
}

// SweepFailure records a unit of work that failed without aborting the sweep.
type SweepFailure struct {
	Phase     string
	SubjectID string
	Err       error
}

// SweepReport summarizes one RunSweep call.
type SweepReport struct {
	StartedAt         time.Time
	FinishedAt        time.Time
	BatchSize         int
	Force             bool
	PurchasesScanned  int
	EarningsCreated   int
	EarningsCredited  int
	AmountCredited    decimal.Decimal
	PurchasesExpired  int
	PurchasesSkipped  int
	DuplicateEarnings int
	Processed         []ProcessedPurchase
	Failures          []SweepFailure
	Interrupted       bool
}

// Duration returns how long the sweep ran.
func (report SweepReport) Duration() time.Duration {
	return report.FinishedAt.Sub(report.StartedAt)
}

func normalizeSweepRequest(request SweepRequest) (SweepRequest, error) {
	if request.BatchSize == 0 {
		request.BatchSize = DefaultSweepBatchSize
	}
	if request.BatchSize < 1 || request.BatchSize > MaxSweepBatchSize {
		return SweepRequest{}, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidBatchSize, MaxSweepBatchSize)
	}
	return request, nil
}

// RunSweep accrues every eligible active purchase and then credits pending
// earnings, both in pages of BatchSize. Each purchase and each earning is its
// own transaction; a failing unit is recorded and the sweep moves on.
// Cancelling ctx stops the sweep between units and marks the report interrupted.
func (service *Service) RunSweep(ctx context.Context, request SweepRequest) (SweepReport, error) {
	request, err := normalizeSweepRequest(request)
	if err != nil {
		return SweepReport{}, err
	}
	report := SweepReport{
		StartedAt:      service.now(),
		BatchSize:      request.BatchSize,
		Force:          request.Force,
		AmountCredited: decimal.Zero,
	}
	unitCtx := context.WithoutCancel(ctx)

	if err := service.accrualPhase(ctx, unitCtx, request, &report); err != nil {
		return SweepReport{}, err
	}
	if !report.Interrupted {
		if err := service.creditingPhase(ctx, unitCtx, request, &report); err != nil {
			return SweepReport{}, err
		}
	}

	report.FinishedAt = service.now()
	if service.sweepObserver != nil {
		service.sweepObserver.ObserveSweep(unitCtx, report)
	}
	return report, nil
}

func (service *Service) accrualPhase(ctx context.Context, unitCtx context.Context, request SweepRequest, report *SweepReport) error {
	cursor := ""
	for {
		if ctx.Err() != nil {
			report.Interrupted = true
			return nil
		}
		purchaseIDs, err := service.store.ListActivePurchaseIDs(unitCtx, cursor, request.BatchSize)
		if err != nil {
			return err
		}
		for _, purchaseID := range purchaseIDs {
			if ctx.Err() != nil {
				report.Interrupted = true
				return nil
			}
			cursor = purchaseID.String()
			report.PurchasesScanned++
			outcome, err := service.AccruePurchase(unitCtx, purchaseID, request.Force)
			if err != nil {
				report.Failures = append(report.Failures, SweepFailure{Phase: SweepPhaseAccrual, SubjectID: purchaseID.String(), Err: err})
				continue
			}
			switch outcome.Decision {
			case AccrualAccrue:
				report.EarningsCreated++
				report.Processed = append(report.Processed, ProcessedPurchase{
					PurchaseID: outcome.PurchaseID,
					UserID:     outcome.UserID,
					EarningID:  outcome.Earning.ID,
					Amount:     outcome.Earning.Amount,
				})
			case AccrualExpire:
				report.PurchasesExpired++
			case AccrualSkip:
				if outcome.Reason == SkipReasonLostRace {
					report.DuplicateEarnings++
				}
				report.PurchasesSkipped++
			}
		}
		if len(purchaseIDs) < request.BatchSize {
			return nil
		}
	}
}

func (service *Service) creditingPhase(ctx context.Context, unitCtx context.Context, request SweepRequest, report *SweepReport) error {
	cursor := ""
	for {
		if ctx.Err() != nil {
			report.Interrupted = true
			return nil
		}
		earningIDs, err := service.store.ListPendingEarningIDs(unitCtx, cursor, request.BatchSize)
		if err != nil {
			return err
		}
		for _, earningID := range earningIDs {
			if ctx.Err() != nil {
				report.Interrupted = true
				return nil
			}
			cursor = earningID.String()
			result, err := service.Credit(unitCtx, earningID)
			if err != nil {
				report.Failures = append(report.Failures, SweepFailure{Phase: SweepPhaseCrediting, SubjectID: earningID.String(), Err: err})
				continue
			}
			if result.Outcome == CreditOutcomeCredited {
				report.EarningsCredited++
				report.AmountCredited = report.AmountCredited.Add(result.Earning.Amount.Decimal())
			}
		}
		if len(earningIDs) < request.BatchSize {
			return nil
		}
	}
}

// StatusReport is a read-only view of accrual backlog.
type StatusReport struct {
	At                time.Time
	ActivePurchases   int64
	EligiblePurchases int64
	PendingEarnings   int64
	ActiveEarnings    int64
}

// EarningsStatus counts active purchases, purchases eligible for accrual now,
// and earnings waiting to be credited.
func (service *Service) EarningsStatus(ctx context.Context) (StatusReport, error) {
	now := service.now()
	report := StatusReport{At: now}
	var err error
	if report.ActivePurchases, err = service.store.CountActivePurchases(ctx); err != nil {
		return StatusReport{}, err
	}
	if report.EligiblePurchases, err = service.store.CountEligiblePurchases(ctx, now, now.Add(-AccrualInterval)); err != nil {
		return StatusReport{}, err
	}
	if report.PendingEarnings, err = service.store.CountEarnings(ctx, EarningStatusPending); err != nil {
		return StatusReport{}, err
	}
	if report.ActiveEarnings, err = service.store.CountEarnings(ctx, EarningStatusActive); err != nil {
		return StatusReport{}, err
	}
	return report, nil
}
