package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus defines the purchase lifecycle.
type PurchaseStatus string

const (
	PurchaseStatusActive    PurchaseStatus = "ACTIVE"
	PurchaseStatusCompleted PurchaseStatus = "COMPLETED"
	PurchaseStatusCancelled PurchaseStatus = "CANCELLED"
)

// ParsePurchaseStatus rejects values outside the closed set.
func ParsePurchaseStatus(raw string) (PurchaseStatus, error) {
	switch status := PurchaseStatus(strings.ToUpper(strings.TrimSpace(raw))); status {
	case PurchaseStatusActive, PurchaseStatusCompleted, PurchaseStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPurchaseStatus, raw)
	}
}

func (status PurchaseStatus) String() string {
	return string(status)
}

// EarningStatus defines the earning lifecycle.
type EarningStatus string

const (
	EarningStatusPending   EarningStatus = "PENDING"
	EarningStatusActive    EarningStatus = "ACTIVE"
	EarningStatusCredited  EarningStatus = "CREDITED"
	EarningStatusCancelled EarningStatus = "CANCELLED"
)

// ParseEarningStatus rejects values outside the closed set.
func ParseEarningStatus(raw string) (EarningStatus, error) {
	switch status := EarningStatus(strings.ToUpper(strings.TrimSpace(raw))); status {
	case EarningStatusPending, EarningStatusActive, EarningStatusCredited, EarningStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEarningStatus, raw)
	}
}

func (status EarningStatus) String() string {
	return string(status)
}

// countsTowardCap reports whether an earning consumes the purchase lifetime ceiling.
func (status EarningStatus) countsTowardCap() bool {
	switch status {
	case EarningStatusPending, EarningStatusActive, EarningStatusCredited:
		return true
	case EarningStatusCancelled:
		return false
	default:
		return false
	}
}

// RequestStatus defines the deposit and withdrawal lifecycle.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCompleted RequestStatus = "COMPLETED"
)

// ParseRequestStatus rejects values outside the closed set.
func ParseRequestStatus(raw string) (RequestStatus, error) {
	switch status := RequestStatus(strings.ToUpper(strings.TrimSpace(raw))); status {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected, RequestStatusCompleted:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRequestStatus, raw)
	}
}

func (status RequestStatus) String() string {
	return string(status)
}

func (status RequestStatus) canTransitionTo(next RequestStatus) bool {
	switch status {
	case RequestStatusPending:
		return next == RequestStatusApproved || next == RequestStatusRejected || next == RequestStatusCompleted
	case RequestStatusApproved:
		return next == RequestStatusCompleted
	case RequestStatusRejected, RequestStatusCompleted:
		return false
	default:
		return false
	}
}

// User owns a spendable balance.
type User struct {
	ID        UserID
	Username  string
	Email     string
	Balance   Balance
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserProfile carries the descriptive fields used when a user is first seen.
type UserProfile struct {
	Username string
	Email    string
}

// Purchase is an investment product bought by a user that accrues daily earnings.
type Purchase struct {
	ID            PurchaseID
	Reference     string
	UserID        UserID
	ProductName   string
	Price         Price
	DailyRate     DailyRate
	DurationDays  DurationDays
	Status        PurchaseStatus
	PurchasedAt   time.Time
	ExpiresAt     time.Time
	LastEarningAt *time.Time
	CreatedAt     time.Time
}

// DailyAmount is price times rate, exact.
func (purchase Purchase) DailyAmount() Amount {
	return Amount{value: purchase.Price.value.Mul(purchase.DailyRate.value)}
}

// MaxTotalEarnings is the lifetime ceiling of non-cancelled earnings.
func (purchase Purchase) MaxTotalEarnings() decimal.Decimal {
	return purchase.DailyAmount().value.Mul(decimal.NewFromInt(int64(purchase.DurationDays)))
}

// PurchaseProgress summarizes how far a purchase is through its term.
type PurchaseProgress struct {
	DailyAmount    Amount
	PotentialTotal decimal.Decimal
	DaysElapsed    int
	DaysRemaining  int
	Expired        bool
}

// Progress reports the purchase term position at now.
func (purchase Purchase) Progress(now time.Time) PurchaseProgress {
	now = now.UTC()
	purchasedAt := purchase.PurchasedAt.UTC()
	expiresAt := purchase.ExpiresAt.UTC()
	elapsed := 0
	if now.After(purchasedAt) {
		elapsed = int(now.Sub(purchasedAt) / (24 * time.Hour))
	}
	if elapsed > purchase.DurationDays.Int() {
		elapsed = purchase.DurationDays.Int()
	}
	remaining := 0
	if expiresAt.After(now) {
		remaining = int(expiresAt.Sub(now) / (24 * time.Hour))
	}
	return PurchaseProgress{
		DailyAmount:    purchase.DailyAmount(),
		PotentialTotal: purchase.MaxTotalEarnings(),
		DaysElapsed:    elapsed,
		DaysRemaining:  remaining,
		Expired:        !now.Before(expiresAt),
	}
}

// PurchaseOrder describes a product a user wants to buy.
type PurchaseOrder struct {
	ProductName  string
	Price        Price
	DailyRate    DailyRate
	DurationDays DurationDays
}

// Earning is a single accrued increment of a purchase.
type Earning struct {
	ID          EarningID
	UserID      UserID
	PurchaseID  PurchaseID
	Amount      Amount
	EarningDate time.Time
	Status      EarningStatus
	CreditedAt  *time.Time
	CreatedAt   time.Time
	Notes       string
}

// Deposit is a user request to add funds, decided by an administrator.
type Deposit struct {
	ID              DepositID
	Reference       string
	UserID          UserID
	Amount          Amount
	Currency        string
	Status          RequestStatus
	Metadata        MetadataJSON
	AdminNotes      string
	RejectionReason string
	ProcessedAt     *time.Time
	CreatedAt       time.Time
}

// Withdrawal is a user request to take funds out, decided by an administrator.
type Withdrawal struct {
	ID              WithdrawalID
	Reference       string
	UserID          UserID
	Amount          Amount
	Currency        string
	Status          RequestStatus
	Metadata        MetadataJSON
	AdminNotes      string
	RejectionReason string
	ProcessedAt     *time.Time
	CreatedAt       time.Time
}

// RequestDecision is a conditional status change of a deposit or withdrawal.
type RequestDecision struct {
	From            RequestStatus
	To              RequestStatus
	AdminNotes      string
	RejectionReason string
	ProcessedAt     time.Time
}

// FundsRequest carries the user-supplied fields of a deposit or withdrawal.
type FundsRequest struct {
	Amount   Amount
	Currency string
	Metadata MetadataJSON
}

// EarningQuery filters a user's earnings. Limit <= 0 means no limit.
type EarningQuery struct {
	UserID UserID
	Status *EarningStatus
	Limit  int
}

func normalizeCurrency(raw string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		return defaultCurrency, nil
	}
	if len(currency) > maxCurrencyLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	return currency, nil
}
