package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// UserID identifies an account owner.
type UserID struct {
	value string
}

// PurchaseID identifies a purchase.
type PurchaseID struct {
	value string
}

// EarningID identifies an earning row.
type EarningID struct {
	value string
}

// DepositID identifies a deposit request.
type DepositID struct {
	value string
}

// WithdrawalID identifies a withdrawal request.
type WithdrawalID struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	normalized, err := normalizeIdentifier(raw, ErrInvalidUserID)
	if err != nil {
		return UserID{}, err
	}
	return UserID{value: normalized}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewPurchaseID validates and normalizes a purchase id.
func NewPurchaseID(raw string) (PurchaseID, error) {
	normalized, err := normalizeIdentifier(raw, ErrInvalidPurchaseID)
	if err != nil {
		return PurchaseID{}, err
	}
	return PurchaseID{value: normalized}, nil
}

// String returns the normalized identifier.
func (id PurchaseID) String() string {
	return id.value
}

// NewEarningID validates and normalizes an earning id.
func NewEarningID(raw string) (EarningID, error) {
	normalized, err := normalizeIdentifier(raw, ErrInvalidEarningID)
	if err != nil {
		return EarningID{}, err
	}
	return EarningID{value: normalized}, nil
}

// String returns the normalized identifier.
func (id EarningID) String() string {
	return id.value
}

// NewDepositID validates and normalizes a deposit id.
func NewDepositID(raw string) (DepositID, error) {
	normalized, err := normalizeIdentifier(raw, ErrInvalidDepositID)
	if err != nil {
		return DepositID{}, err
	}
	return DepositID{value: normalized}, nil
}

// String returns the normalized identifier.
func (id DepositID) String() string {
	return id.value
}

// NewWithdrawalID validates and normalizes a withdrawal id.
func NewWithdrawalID(raw string) (WithdrawalID, error) {
	normalized, err := normalizeIdentifier(raw, ErrInvalidWithdrawalID)
	if err != nil {
		return WithdrawalID{}, err
	}
	return WithdrawalID{value: normalized}, nil
}

// String returns the normalized identifier.
func (id WithdrawalID) String() string {
	return id.value
}

func normalizeIdentifier(raw string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", sentinel)
	}
	return trimmed, nil
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Amount is a strictly positive monetary value with at most six fractional digits.
type Amount struct {
	value decimal.Decimal
}

// NewAmount validates a positive amount.
func NewAmount(value decimal.Decimal) (Amount, error) {
	if !value.IsPositive() {
		return Amount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !hasScaleAtMost(value, amountScale) {
		return Amount{}, fmt.Errorf("%w: at most %d fractional digits", ErrInvalidAmount, amountScale)
	}
	return Amount{value: value}, nil
}

// ParseAmount parses a decimal string into an Amount.
func ParseAmount(raw string) (Amount, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewAmount(value)
}

// Decimal returns the underlying value.
func (amount Amount) Decimal() decimal.Decimal {
	return amount.value
}

// String renders the amount without trailing zeros.
func (amount Amount) String() string {
	return amount.value.String()
}

// Balance is a non-negative spendable balance.
type Balance struct {
	value decimal.Decimal
}

// NewBalance validates a stored or computed balance.
func NewBalance(value decimal.Decimal) (Balance, error) {
	if value.IsNegative() {
		return Balance{}, fmt.Errorf("%w: must not be negative", ErrInvalidBalance)
	}
	if !hasScaleAtMost(value, amountScale) {
		return Balance{}, fmt.Errorf("%w: at most %d fractional digits", ErrInvalidBalance, amountScale)
	}
	return Balance{value: value}, nil
}

// ZeroBalance returns an empty balance.
func ZeroBalance() Balance {
	return Balance{value: decimal.Zero}
}

// Decimal returns the underlying value.
func (balance Balance) Decimal() decimal.Decimal {
	return balance.value
}

// String renders the balance without trailing zeros.
func (balance Balance) String() string {
	return balance.value.String()
}

// Covers reports whether the balance can pay amount.
func (balance Balance) Covers(amount Amount) bool {
	return balance.value.GreaterThanOrEqual(amount.value)
}

// Add returns the balance increased by amount.
func (balance Balance) Add(amount Amount) Balance {
	return Balance{value: balance.value.Add(amount.value)}
}

// Subtract returns the balance decreased by amount, failing rather than going negative.
func (balance Balance) Subtract(amount Amount) (Balance, error) {
	if !balance.Covers(amount) {
		return Balance{}, ErrInsufficientFunds
	}
	return Balance{value: balance.value.Sub(amount.value)}, nil
}

// Price is the purchase price of a product: positive, at most two fractional digits.
type Price struct {
	value decimal.Decimal
}

// NewPrice validates a product price.
func NewPrice(value decimal.Decimal) (Price, error) {
	if !value.IsPositive() {
		return Price{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPrice)
	}
	if !hasScaleAtMost(value, priceScale) {
		return Price{}, fmt.Errorf("%w: at most %d fractional digits", ErrInvalidPrice, priceScale)
	}
	return Price{value: value}, nil
}

// ParsePrice parses a decimal string into a Price.
func ParsePrice(raw string) (Price, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Price{}, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	return NewPrice(value)
}

// Decimal returns the underlying value.
func (price Price) Decimal() decimal.Decimal {
	return price.value
}

// Amount converts the price into a debit amount.
func (price Price) Amount() Amount {
	return Amount{value: price.value}
}

func (price Price) String() string {
	return price.value.StringFixed(priceScale)
}

// DailyRate is the fraction of the price earned per accrual: 0 < rate <= 0.5.
type DailyRate struct {
	value decimal.Decimal
}

// NewDailyRate validates a daily rate.
func NewDailyRate(value decimal.Decimal) (DailyRate, error) {
	if !value.IsPositive() || value.GreaterThan(maxDailyRate) {
		return DailyRate{}, fmt.Errorf("%w: must be in (0, %s]", ErrInvalidDailyRate, maxDailyRate.String())
	}
	if !hasScaleAtMost(value, rateScale) {
		return DailyRate{}, fmt.Errorf("%w: at most %d fractional digits", ErrInvalidDailyRate, rateScale)
	}
	return DailyRate{value: value}, nil
}

// ParseDailyRate parses a decimal string into a DailyRate.
func ParseDailyRate(raw string) (DailyRate, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return DailyRate{}, fmt.Errorf("%w: %v", ErrInvalidDailyRate, err)
	}
	return NewDailyRate(value)
}

// Decimal returns the underlying value.
func (rate DailyRate) Decimal() decimal.Decimal {
	return rate.value
}

func (rate DailyRate) String() string {
	return rate.value.StringFixed(rateScale)
}

// DurationDays is the number of days a purchase accrues.
type DurationDays int

// NewDurationDays validates a purchase duration.
func NewDurationDays(raw int) (DurationDays, error) {
	if raw < MinDurationDays || raw > MaxDurationDays {
		return 0, fmt.Errorf("%w: must be between %d and %d", ErrInvalidDurationDays, MinDurationDays, MaxDurationDays)
	}
	return DurationDays(raw), nil
}

// Int returns the number of days.
func (days DurationDays) Int() int {
	return int(days)
}

func hasScaleAtMost(value decimal.Decimal, scale int32) bool {
	return value.Equal(value.Truncate(scale))
}
