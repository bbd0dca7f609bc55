package ledger

import (
	"context"
	"errors"
	"time"
)

// AccrualDecision is the outcome of evaluating a purchase.
type AccrualDecision string

const (
	AccrualSkip   AccrualDecision = "skip"
	AccrualExpire AccrualDecision = "expire"
	AccrualAccrue AccrualDecision = "accrue"
)

// SkipReason explains an AccrualSkip decision.
type SkipReason string

const (
	SkipReasonNone       SkipReason = ""
	SkipReasonNotActive  SkipReason = "not_active"
	SkipReasonTooSoon    SkipReason = "too_soon"
	SkipReasonCapReached SkipReason = "cap_reached"
	SkipReasonLostRace   SkipReason = "lost_race"
)

// AccrualEvaluation is the pure result of EvaluateAccrual.
type AccrualEvaluation struct {
	Decision       AccrualDecision
	Amount         Amount
	Reason         SkipReason
	NextEligibleAt time.Time
}

// EvaluateAccrual decides whether purchase earns an increment at now.
// force bypasses the minimum spacing only; expiry and status still apply.
func EvaluateAccrual(purchase Purchase, now time.Time, force bool) AccrualEvaluation {
	if purchase.Status != PurchaseStatusActive {
		return AccrualEvaluation{Decision: AccrualSkip, Reason: SkipReasonNotActive}
	}
	now = now.UTC()
	if !now.Before(purchase.ExpiresAt.UTC()) {
		return AccrualEvaluation{Decision: AccrualExpire}
	}
	if purchase.LastEarningAt != nil && !force {
		nextEligibleAt := purchase.LastEarningAt.UTC().Add(AccrualInterval)
		if now.Before(nextEligibleAt) {
			return AccrualEvaluation{Decision: AccrualSkip, Reason: SkipReasonTooSoon, NextEligibleAt: nextEligibleAt}
		}
	}
	return AccrualEvaluation{Decision: AccrualAccrue, Amount: purchase.DailyAmount()}
}

// AccrualOutcome is what one accrual unit did to a purchase.
type AccrualOutcome struct {
	PurchaseID PurchaseID
	UserID     UserID
	Decision   AccrualDecision
	Reason     SkipReason
	Earning    *Earning
}

var capStatuses = []EarningStatus{EarningStatusPending, EarningStatusActive, EarningStatusCredited}

// AccruePurchase runs a single accrual unit in its own transaction.
// A lost race against a concurrent accrual is reported as a skip, not an error.
func (service *Service) AccruePurchase(ctx context.Context, purchaseID PurchaseID, force bool) (AccrualOutcome, error) {
	now := service.now()
	outcome := AccrualOutcome{PurchaseID: purchaseID}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		purchase, err := transactionStore.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		outcome.UserID = purchase.UserID
		evaluation := EvaluateAccrual(purchase, now, force)
		outcome.Decision = evaluation.Decision
		outcome.Reason = evaluation.Reason
		switch evaluation.Decision {
		case AccrualSkip:
			return nil
		case AccrualExpire:
			return transactionStore.UpdatePurchaseStatus(ctx, purchaseID, PurchaseStatusActive, PurchaseStatusCompleted)
		case AccrualAccrue:
			amount, capped, err := service.clampToCap(ctx, transactionStore, purchase, evaluation.Amount)
			if err != nil {
				return err
			}
			if capped {
				outcome.Decision = AccrualSkip
				outcome.Reason = SkipReasonCapReached
				return nil
			}
			earningID, err := NewEarningID(service.newID())
			if err != nil {
				return err
			}
			earning := Earning{
				ID:          earningID,
				UserID:      purchase.UserID,
				PurchaseID:  purchase.ID,
				Amount:      amount,
				EarningDate: now.Truncate(earningDatePrecision),
				Status:      service.policy.accrualStatus(),
				CreatedAt:   now,
			}
			if err := transactionStore.InsertEarning(ctx, earning); err != nil {
				return err
			}
			if err := transactionStore.AdvanceLastEarningAt(ctx, purchase.ID, purchase.LastEarningAt, now); err != nil {
				return err
			}
			outcome.Earning = &earning
			return nil
		default:
			return nil
		}
	})
	if errors.Is(operationError, ErrDuplicateEarning) || errors.Is(operationError, ErrStaleRecord) {
		outcome.Decision = AccrualSkip
		outcome.Reason = SkipReasonLostRace
		outcome.Earning = nil
		service.logOperation(ctx, OperationLog{
			Operation: OperationAccrue,
			UserID:    outcome.UserID,
			SubjectID: purchaseID.String(),
			Status:    OperationStatusSkipped,
			Reason:    string(SkipReasonLostRace),
			Error:     operationError,
		})
		return outcome, nil
	}
	if operationError != nil {
		outcome.Earning = nil
		service.logOperation(ctx, OperationLog{Operation: OperationAccrue, UserID: outcome.UserID, SubjectID: purchaseID.String(), Error: operationError})
		return outcome, operationError
	}
	switch outcome.Decision {
	case AccrualAccrue:
		service.logOperation(ctx, OperationLog{
			Operation: OperationAccrue,
			UserID:    outcome.UserID,
			SubjectID: purchaseID.String(),
			Amount:    outcome.Earning.Amount.Decimal(),
		})
	case AccrualExpire:
		service.logOperation(ctx, OperationLog{Operation: OperationExpire, UserID: outcome.UserID, SubjectID: purchaseID.String()})
		service.publish(ctx, Event{Kind: EventPurchaseCompleted, UserID: outcome.UserID, SubjectID: purchaseID.String(), OccurredAt: now})
	case AccrualSkip:
	}
	return outcome, nil
}

// clampToCap limits amount to what remains under the purchase lifetime ceiling.
// capped is true when nothing remains.
func (service *Service) clampToCap(ctx context.Context, transactionStore Store, purchase Purchase, amount Amount) (Amount, bool, error) {
	accrued, err := transactionStore.SumEarnings(ctx, purchase.ID, capStatuses)
	if err != nil {
		return Amount{}, false, err
	}
	remaining := purchase.MaxTotalEarnings().Sub(accrued)
	if !remaining.IsPositive() {
		return Amount{}, true, nil
	}
	if amount.value.LessThanOrEqual(remaining) {
		return amount, false, nil
	}
	clamped, err := NewAmount(remaining)
	if err != nil {
		return Amount{}, false, err
	}
	return clamped, false, nil
}
