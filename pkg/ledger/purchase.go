package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxProductNameLength = 100

// Buy debits the product price from the user and opens an ACTIVE purchase.
func (service *Service) Buy(ctx context.Context, userID UserID, order PurchaseOrder) (Purchase, error) {
	now := service.now()
	var purchase Purchase
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		productName := strings.TrimSpace(order.ProductName)
		if productName == "" || len(productName) > maxProductNameLength {
			return fmt.Errorf("%w: %q", ErrInvalidProductName, order.ProductName)
		}
		if _, err := NewPrice(order.Price.Decimal()); err != nil {
			return err
		}
		if _, err := NewDailyRate(order.DailyRate.Decimal()); err != nil {
			return err
		}
		durationDays, err := NewDurationDays(order.DurationDays.Int())
		if err != nil {
			return err
		}
		user, err := transactionStore.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		balance, err := user.Balance.Subtract(order.Price.Amount())
		if err != nil {
			return err
		}
		purchaseID, err := NewPurchaseID(service.newID())
		if err != nil {
			return err
		}
		purchase = Purchase{
			ID:           purchaseID,
			Reference:    service.reference(referencePrefixPurchase, purchaseID.String(), now),
			UserID:       userID,
			ProductName:  productName,
			Price:        order.Price,
			DailyRate:    order.DailyRate,
			DurationDays: durationDays,
			Status:       PurchaseStatusActive,
			PurchasedAt:  now,
			ExpiresAt:    now.AddDate(0, 0, durationDays.Int()),
			CreatedAt:    now,
		}
		if err := transactionStore.UpdateUserBalance(ctx, userID, balance, now); err != nil {
			return err
		}
		return transactionStore.CreatePurchase(ctx, purchase)
	})
	service.logOperation(ctx, OperationLog{
		Operation: OperationBuy,
		UserID:    userID,
		SubjectID: purchase.ID.String(),
		Amount:    order.Price.Decimal(),
		Error:     operationError,
	})
	if operationError != nil {
		return Purchase{}, operationError
	}
	service.publish(ctx, Event{Kind: EventPurchaseCreated, UserID: userID, SubjectID: purchase.ID.String(), Amount: order.Price.Decimal(), OccurredAt: now})
	return purchase, nil
}

// CancelPurchase stops an ACTIVE purchase from accruing. The price is not refunded.
func (service *Service) CancelPurchase(ctx context.Context, purchaseID PurchaseID) (Purchase, error) {
	now := service.now()
	var purchase Purchase
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		purchase, err = transactionStore.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.Status != PurchaseStatusActive {
			return fmt.Errorf("%w: purchase is %s", ErrInvalidTransition, purchase.Status)
		}
		if err := transactionStore.UpdatePurchaseStatus(ctx, purchaseID, PurchaseStatusActive, PurchaseStatusCancelled); err != nil {
			return err
		}
		purchase.Status = PurchaseStatusCancelled
		return nil
	})
	service.logOperation(ctx, OperationLog{Operation: OperationCancelPurchase, UserID: purchase.UserID, SubjectID: purchaseID.String(), Error: operationError})
	if operationError != nil {
		return Purchase{}, operationError
	}
	service.publish(ctx, Event{Kind: EventPurchaseCancelled, UserID: purchase.UserID, SubjectID: purchaseID.String(), OccurredAt: now})
	return purchase, nil
}

// ListPurchases returns the purchases of a user, newest first.
func (service *Service) ListPurchases(ctx context.Context, userID UserID) ([]Purchase, error) {
	return service.store.ListPurchasesByUser(ctx, userID)
}

// UserPurchase returns a purchase owned by userID.
func (service *Service) UserPurchase(ctx context.Context, userID UserID, purchaseID PurchaseID) (Purchase, error) {
	purchase, err := service.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return Purchase{}, err
	}
	if purchase.UserID != userID {
		return Purchase{}, ErrPurchaseOwnershipDenied
	}
	return purchase, nil
}

// PurchaseEarnings returns the earnings of a purchase owned by userID.
func (service *Service) PurchaseEarnings(ctx context.Context, userID UserID, purchaseID PurchaseID) ([]Earning, error) {
	if _, err := service.UserPurchase(ctx, userID, purchaseID); err != nil {
		return nil, err
	}
	return service.store.ListEarningsByPurchase(ctx, purchaseID)
}

// ListEarnings returns a user's earnings, newest first.
func (service *Service) ListEarnings(ctx context.Context, query EarningQuery) ([]Earning, error) {
	return service.store.ListEarnings(ctx, query)
}

// EarningsSummary aggregates a user's earnings by status.
type EarningsSummary struct {
	Total          decimal.Decimal
	Credited       decimal.Decimal
	Pending        decimal.Decimal
	Active         decimal.Decimal
	Today          decimal.Decimal
	EarningsCount  int
	CreditedCount  int
	PendingCount   int
	ActiveCount    int
	CancelledCount int
}

// EarningsSummary totals the non-cancelled earnings of a user. Today is the current UTC day.
func (service *Service) EarningsSummary(ctx context.Context, userID UserID) (EarningsSummary, error) {
	earnings, err := service.store.ListEarnings(ctx, EarningQuery{UserID: userID})
	if err != nil {
		return EarningsSummary{}, err
	}
	return summarizeEarnings(earnings, service.now()), nil
}

func summarizeEarnings(earnings []Earning, now time.Time) EarningsSummary {
	summary := EarningsSummary{
		Total:    decimal.Zero,
		Credited: decimal.Zero,
		Pending:  decimal.Zero,
		Active:   decimal.Zero,
		Today:    decimal.Zero,
	}
	dayStart := now.UTC().Truncate(24 * time.Hour)
	for _, earning := range earnings {
		amount := earning.Amount.Decimal()
		switch earning.Status {
		case EarningStatusCredited:
			summary.Credited = summary.Credited.Add(amount)
			summary.CreditedCount++
		case EarningStatusPending:
			summary.Pending = summary.Pending.Add(amount)
			summary.PendingCount++
		case EarningStatusActive:
			summary.Active = summary.Active.Add(amount)
			summary.ActiveCount++
		case EarningStatusCancelled:
			summary.CancelledCount++
			continue
		}
		summary.EarningsCount++
		summary.Total = summary.Total.Add(amount)
		if !earning.EarningDate.UTC().Before(dayStart) {
			summary.Today = summary.Today.Add(amount)
		}
	}
	return summary
}
