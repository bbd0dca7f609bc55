package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

const subjectEarning = "earning"

// CreditOutcome reports what Credit did.
type CreditOutcome string

const (
	CreditOutcomeCredited CreditOutcome = "credited"
	CreditOutcomeNoop     CreditOutcome = "noop"
)

// CreditResult is returned by Credit.
type CreditResult struct {
	Outcome CreditOutcome
	Earning Earning
	Balance Balance
}

// Credit moves a PENDING earning into the owner's balance exactly once.
// Any other status is a no-op.
func (service *Service) Credit(ctx context.Context, earningID EarningID) (CreditResult, error) {
	now := service.now()
	result := CreditResult{Outcome: CreditOutcomeNoop}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		earning, err := transactionStore.GetEarning(ctx, earningID)
		if err != nil {
			return err
		}
		result.Earning = earning
		if earning.Status != EarningStatusPending {
			return nil
		}
		user, err := lockOwner(ctx, transactionStore, earning.UserID, subjectEarning, earningID.String())
		if err != nil {
			return err
		}
		earning, err = transactionStore.GetEarning(ctx, earningID)
		if err != nil {
			return err
		}
		result.Earning = earning
		if earning.Status != EarningStatusPending {
			return nil
		}
		creditedAt := now
		if err := transactionStore.UpdateEarningStatus(ctx, earningID, EarningStatusPending, EarningStatusCredited, &creditedAt); err != nil {
			return err
		}
		balance := user.Balance.Add(earning.Amount)
		if err := transactionStore.UpdateUserBalance(ctx, user.ID, balance, now); err != nil {
			return err
		}
		earning.Status = EarningStatusCredited
		earning.CreditedAt = &creditedAt
		result = CreditResult{Outcome: CreditOutcomeCredited, Earning: earning, Balance: balance}
		return nil
	})
	if errors.Is(operationError, ErrStaleRecord) {
		return CreditResult{Outcome: CreditOutcomeNoop, Earning: result.Earning}, nil
	}
	if operationError != nil {
		service.logOperation(ctx, OperationLog{Operation: OperationCredit, UserID: result.Earning.UserID, SubjectID: earningID.String(), Error: operationError})
		return CreditResult{}, operationError
	}
	if result.Outcome == CreditOutcomeNoop {
		return result, nil
	}
	service.logOperation(ctx, OperationLog{
		Operation: OperationCredit,
		UserID:    result.Earning.UserID,
		SubjectID: earningID.String(),
		Amount:    result.Earning.Amount.Decimal(),
	})
	service.publish(ctx, Event{
		Kind:       EventEarningCredited,
		UserID:     result.Earning.UserID,
		SubjectID:  earningID.String(),
		Amount:     result.Earning.Amount.Decimal(),
		OccurredAt: now,
	})
	return result, nil
}

// CreditTotalOutcome reports what CreditTotal did.
type CreditTotalOutcome string

const (
	CreditTotalOutcomeCredited      CreditTotalOutcome = "credited"
	CreditTotalOutcomeCapNotReached CreditTotalOutcome = "cap_not_reached"
)

// CreditTotalResult is returned by CreditTotal.
type CreditTotalResult struct {
	Outcome          CreditTotalOutcome
	PurchaseID       PurchaseID
	MaxTotal         decimal.Decimal
	AccruedTotal     decimal.Decimal
	CreditedAmount   decimal.Decimal
	CreditedEarnings int
	Balance          Balance
}

// CreditTotal pays out the ACTIVE earnings of a purchase once they reach the
// purchase lifetime ceiling. Below the ceiling nothing changes.
func (service *Service) CreditTotal(ctx context.Context, userID UserID, purchaseID PurchaseID) (CreditTotalResult, error) {
	now := service.now()
	result := CreditTotalResult{PurchaseID: purchaseID, CreditedAmount: decimal.Zero}
	var completedPurchase bool
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		user, err := transactionStore.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		purchase, err := transactionStore.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.UserID != userID {
			return ErrPurchaseOwnershipDenied
		}
		result.MaxTotal = purchase.MaxTotalEarnings()
		earnings, err := transactionStore.ListEarningsByPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		activeTotal := decimal.Zero
		activeEarnings := make([]Earning, 0, len(earnings))
		for _, earning := range earnings {
			if earning.Status == EarningStatusActive {
				activeTotal = activeTotal.Add(earning.Amount.Decimal())
				activeEarnings = append(activeEarnings, earning)
			}
		}
		result.AccruedTotal = activeTotal
		if activeTotal.LessThan(result.MaxTotal) {
			result.Outcome = CreditTotalOutcomeCapNotReached
			result.Balance = user.Balance
			return nil
		}
		creditedAt := now
		for _, earning := range activeEarnings {
			if err := transactionStore.UpdateEarningStatus(ctx, earning.ID, EarningStatusActive, EarningStatusCredited, &creditedAt); err != nil {
				return err
			}
		}
		credited, err := NewAmount(activeTotal)
		if err != nil {
			return err
		}
		balance := user.Balance.Add(credited)
		if err := transactionStore.UpdateUserBalance(ctx, user.ID, balance, now); err != nil {
			return err
		}
		if purchase.Status == PurchaseStatusActive {
			if err := transactionStore.UpdatePurchaseStatus(ctx, purchaseID, PurchaseStatusActive, PurchaseStatusCompleted); err != nil {
				return err
			}
			completedPurchase = true
		}
		result.Outcome = CreditTotalOutcomeCredited
		result.CreditedAmount = activeTotal
		result.CreditedEarnings = len(activeEarnings)
		result.Balance = balance
		return nil
	})
	if operationError != nil {
		service.logOperation(ctx, OperationLog{Operation: OperationCreditTotal, UserID: userID, SubjectID: purchaseID.String(), Error: operationError})
		return CreditTotalResult{}, operationError
	}
	if result.Outcome == CreditTotalOutcomeCapNotReached {
		service.logOperation(ctx, OperationLog{
			Operation: OperationCreditTotal,
			UserID:    userID,
			SubjectID: purchaseID.String(),
			Amount:    result.AccruedTotal,
			Status:    OperationStatusSkipped,
			Reason:    string(CreditTotalOutcomeCapNotReached),
		})
		return result, nil
	}
	service.logOperation(ctx, OperationLog{Operation: OperationCreditTotal, UserID: userID, SubjectID: purchaseID.String(), Amount: result.CreditedAmount})
	events := []Event{{
		Kind:       EventEarningsTotalCredited,
		UserID:     userID,
		SubjectID:  purchaseID.String(),
		Amount:     result.CreditedAmount,
		OccurredAt: now,
	}}
	if completedPurchase {
		events = append(events, Event{Kind: EventPurchaseCompleted, UserID: userID, SubjectID: purchaseID.String(), OccurredAt: now})
	}
	service.publish(ctx, events...)
	return result, nil
}

// CancelOutcome reports what Cancel did.
type CancelOutcome string

const (
	CancelOutcomeReversed  CancelOutcome = "reversed"
	CancelOutcomeCancelled CancelOutcome = "cancelled"
	CancelOutcomeNoop      CancelOutcome = "noop"
)

// CancelResult is returned by Cancel.
type CancelResult struct {
	Outcome CancelOutcome
	Earning Earning
	Balance Balance
}

// Cancel voids an earning. Cancelling a CREDITED earning takes its amount back
// out of the balance and fails with ErrInsufficientFunds rather than going negative.
func (service *Service) Cancel(ctx context.Context, earningID EarningID) (CancelResult, error) {
	now := service.now()
	result := CancelResult{Outcome: CancelOutcomeNoop}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		earning, err := transactionStore.GetEarning(ctx, earningID)
		if err != nil {
			return err
		}
		result.Earning = earning
		user, err := lockOwner(ctx, transactionStore, earning.UserID, subjectEarning, earningID.String())
		if err != nil {
			return err
		}
		result.Balance = user.Balance
		earning, err = transactionStore.GetEarning(ctx, earningID)
		if err != nil {
			return err
		}
		result.Earning = earning
		switch earning.Status {
		case EarningStatusCancelled:
			return nil
		case EarningStatusCredited:
			balance, err := user.Balance.Subtract(earning.Amount)
			if err != nil {
				return err
			}
			if err := transactionStore.UpdateUserBalance(ctx, user.ID, balance, now); err != nil {
				return err
			}
			if err := transactionStore.UpdateEarningStatus(ctx, earningID, EarningStatusCredited, EarningStatusCancelled, nil); err != nil {
				return err
			}
			result.Outcome = CancelOutcomeReversed
			result.Balance = balance
		case EarningStatusPending, EarningStatusActive:
			if err := transactionStore.UpdateEarningStatus(ctx, earningID, earning.Status, EarningStatusCancelled, nil); err != nil {
				return err
			}
			result.Outcome = CancelOutcomeCancelled
		default:
			return ErrInvalidEarningStatus
		}
		result.Earning.Status = EarningStatusCancelled
		return nil
	})
	if operationError != nil {
		service.logOperation(ctx, OperationLog{Operation: OperationCancelEarning, UserID: result.Earning.UserID, SubjectID: earningID.String(), Error: operationError})
		return CancelResult{}, operationError
	}
	if result.Outcome == CancelOutcomeNoop {
		return result, nil
	}
	var reversed decimal.Decimal
	if result.Outcome == CancelOutcomeReversed {
		reversed = result.Earning.Amount.Decimal()
	}
	service.logOperation(ctx, OperationLog{Operation: OperationCancelEarning, UserID: result.Earning.UserID, SubjectID: earningID.String(), Amount: reversed})
	service.publish(ctx, Event{
		Kind:       EventEarningCancelled,
		UserID:     result.Earning.UserID,
		SubjectID:  earningID.String(),
		Amount:     reversed,
		OccurredAt: now,
	})
	return result, nil
}
