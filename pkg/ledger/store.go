package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence contract used by Service.
//
// Lock methods take a row lock that lasts until the enclosing WithTx returns.
// Backends without row locks (sqlite) rely on the conditional updates below.
// Conditional updates return ErrStaleRecord when no row matched.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID UserID) (User, error)
	LockUser(ctx context.Context, userID UserID) (User, error)
	UpdateUserBalance(ctx context.Context, userID UserID, balance Balance, updatedAt time.Time) error

	CreatePurchase(ctx context.Context, purchase Purchase) error
	GetPurchase(ctx context.Context, purchaseID PurchaseID) (Purchase, error)
	LockPurchase(ctx context.Context, purchaseID PurchaseID) (Purchase, error)
	ListPurchasesByUser(ctx context.Context, userID UserID) ([]Purchase, error)
	ListActivePurchaseIDs(ctx context.Context, after string, limit int) ([]PurchaseID, error)
	UpdatePurchaseStatus(ctx context.Context, purchaseID PurchaseID, from PurchaseStatus, to PurchaseStatus) error
	AdvanceLastEarningAt(ctx context.Context, purchaseID PurchaseID, previous *time.Time, next time.Time) error
	CountActivePurchases(ctx context.Context) (int64, error)
	CountEligiblePurchases(ctx context.Context, now time.Time, spacingCutoff time.Time) (int64, error)

	InsertEarning(ctx context.Context, earning Earning) error
	GetEarning(ctx context.Context, earningID EarningID) (Earning, error)
	ListPendingEarningIDs(ctx context.Context, after string, limit int) ([]EarningID, error)
	ListEarningsByPurchase(ctx context.Context, purchaseID PurchaseID) ([]Earning, error)
	ListEarnings(ctx context.Context, query EarningQuery) ([]Earning, error)
	SumEarnings(ctx context.Context, purchaseID PurchaseID, statuses []EarningStatus) (decimal.Decimal, error)
	UpdateEarningStatus(ctx context.Context, earningID EarningID, from EarningStatus, to EarningStatus, creditedAt *time.Time) error
	CountEarnings(ctx context.Context, status EarningStatus) (int64, error)

	CreateDeposit(ctx context.Context, deposit Deposit) error
	GetDeposit(ctx context.Context, depositID DepositID) (Deposit, error)
	UpdateDepositStatus(ctx context.Context, depositID DepositID, decision RequestDecision) error

	CreateWithdrawal(ctx context.Context, withdrawal Withdrawal) error
	GetWithdrawal(ctx context.Context, withdrawalID WithdrawalID) (Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, withdrawalID WithdrawalID, decision RequestDecision) error
}
