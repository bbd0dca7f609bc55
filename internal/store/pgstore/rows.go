package pgstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/shopspring/decimal"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func mapUser(id, username, email, balanceText string, active bool, createdAt, updatedAt time.Time) (ledger.User, error) {
	userID, err := ledger.NewUserID(id)
	if err != nil {
		return ledger.User{}, err
	}
	balanceValue, err := decimal.NewFromString(balanceText)
	if err != nil {
		return ledger.User{}, err
	}
	balance, err := ledger.NewBalance(balanceValue)
	if err != nil {
		return ledger.User{}, err
	}
	return ledger.User{
		ID:        userID,
		Username:  username,
		Email:     email,
		Balance:   balance,
		Active:    active,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

// scanPurchase returns pgx errors unchanged and mapping errors marked as invalid stored values.
func scanPurchase(row rowScanner) (ledger.Purchase, error) {
	var (
		id, reference, userIDText, productName, priceText, rateText, statusText string
		durationDays                                                            int
		purchasedAt, expiresAt, createdAt                                       time.Time
		lastEarningAt                                                           *time.Time
	)
	if err := row.Scan(&id, &reference, &userIDText, &productName, &priceText, &rateText, &durationDays, &statusText, &purchasedAt, &expiresAt, &lastEarningAt, &createdAt); err != nil {
		return ledger.Purchase{}, err
	}
	purchase, err := buildPurchase(id, userIDText, priceText, rateText, statusText, durationDays)
	if err != nil {
		return ledger.Purchase{}, ledger.InvalidStoredValue(err)
	}
	purchase.Reference = reference
	purchase.ProductName = productName
	purchase.PurchasedAt = purchasedAt.UTC()
	purchase.ExpiresAt = expiresAt.UTC()
	purchase.LastEarningAt = utcPointer(lastEarningAt)
	purchase.CreatedAt = createdAt.UTC()
	return purchase, nil
}

func buildPurchase(id, userIDText, priceText, rateText, statusText string, durationDays int) (ledger.Purchase, error) {
	purchaseID, err := ledger.NewPurchaseID(id)
	if err != nil {
		return ledger.Purchase{}, err
	}
	userID, err := ledger.NewUserID(userIDText)
	if err != nil {
		return ledger.Purchase{}, err
	}
	price, err := ledger.ParsePrice(priceText)
	if err != nil {
		return ledger.Purchase{}, err
	}
	rate, err := ledger.ParseDailyRate(rateText)
	if err != nil {
		return ledger.Purchase{}, err
	}
	days, err := ledger.NewDurationDays(durationDays)
	if err != nil {
		return ledger.Purchase{}, err
	}
	status, err := ledger.ParsePurchaseStatus(statusText)
	if err != nil {
		return ledger.Purchase{}, err
	}
	return ledger.Purchase{ID: purchaseID, UserID: userID, Price: price, DailyRate: rate, DurationDays: days, Status: status}, nil
}

func scanEarning(row rowScanner) (ledger.Earning, error) {
	var (
		id, userIDText, purchaseIDText, amountText, statusText, notes string
		earningDate, createdAt                                        time.Time
		creditedAt                                                    *time.Time
	)
	if err := row.Scan(&id, &userIDText, &purchaseIDText, &amountText, &earningDate, &statusText, &creditedAt, &createdAt, &notes); err != nil {
		return ledger.Earning{}, err
	}
	earning, err := buildEarning(id, userIDText, purchaseIDText, amountText, statusText)
	if err != nil {
		return ledger.Earning{}, ledger.InvalidStoredValue(err)
	}
	earning.EarningDate = earningDate.UTC()
	earning.CreditedAt = utcPointer(creditedAt)
	earning.CreatedAt = createdAt.UTC()
	earning.Notes = notes
	return earning, nil
}

func buildEarning(id, userIDText, purchaseIDText, amountText, statusText string) (ledger.Earning, error) {
	earningID, err := ledger.NewEarningID(id)
	if err != nil {
		return ledger.Earning{}, err
	}
	userID, err := ledger.NewUserID(userIDText)
	if err != nil {
		return ledger.Earning{}, err
	}
	purchaseID, err := ledger.NewPurchaseID(purchaseIDText)
	if err != nil {
		return ledger.Earning{}, err
	}
	amount, err := ledger.ParseAmount(amountText)
	if err != nil {
		return ledger.Earning{}, err
	}
	status, err := ledger.ParseEarningStatus(statusText)
	if err != nil {
		return ledger.Earning{}, err
	}
	return ledger.Earning{ID: earningID, UserID: userID, PurchaseID: purchaseID, Amount: amount, Status: status}, nil
}

// requestFields holds the shared columns of deposits and withdrawals.
type requestFields struct {
	id, reference, userID, amount, currency, status, metadata, adminNotes, rejectionReason string
	processedAt                                                                           *time.Time
	createdAt                                                                             time.Time
}

func scanRequest(row rowScanner) (requestFields, error) {
	var fields requestFields
	err := row.Scan(
		&fields.id,
		&fields.reference,
		&fields.userID,
		&fields.amount,
		&fields.currency,
		&fields.status,
		&fields.metadata,
		&fields.adminNotes,
		&fields.rejectionReason,
		&fields.processedAt,
		&fields.createdAt,
	)
	return fields, err
}

func (fields requestFields) common() (ledger.UserID, ledger.Amount, ledger.RequestStatus, ledger.MetadataJSON, error) {
	userID, err := ledger.NewUserID(fields.userID)
	if err != nil {
		return ledger.UserID{}, ledger.Amount{}, "", ledger.MetadataJSON{}, err
	}
	amount, err := ledger.ParseAmount(fields.amount)
	if err != nil {
		return ledger.UserID{}, ledger.Amount{}, "", ledger.MetadataJSON{}, err
	}
	status, err := ledger.ParseRequestStatus(fields.status)
	if err != nil {
		return ledger.UserID{}, ledger.Amount{}, "", ledger.MetadataJSON{}, err
	}
	metadata, err := ledger.NewMetadataJSON(fields.metadata)
	if err != nil {
		return ledger.UserID{}, ledger.Amount{}, "", ledger.MetadataJSON{}, err
	}
	return userID, amount, status, metadata, nil
}

func (fields requestFields) deposit() (ledger.Deposit, error) {
	depositID, err := ledger.NewDepositID(fields.id)
	if err != nil {
		return ledger.Deposit{}, err
	}
	userID, amount, status, metadata, err := fields.common()
	if err != nil {
		return ledger.Deposit{}, err
	}
	return ledger.Deposit{
		ID:              depositID,
		Reference:       fields.reference,
		UserID:          userID,
		Amount:          amount,
		Currency:        fields.currency,
		Status:          status,
		Metadata:        metadata,
		AdminNotes:      fields.adminNotes,
		RejectionReason: fields.rejectionReason,
		ProcessedAt:     utcPointer(fields.processedAt),
		CreatedAt:       fields.createdAt.UTC(),
	}, nil
}

func (fields requestFields) withdrawal() (ledger.Withdrawal, error) {
	withdrawalID, err := ledger.NewWithdrawalID(fields.id)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	userID, amount, status, metadata, err := fields.common()
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	return ledger.Withdrawal{
		ID:              withdrawalID,
		Reference:       fields.reference,
		UserID:          userID,
		Amount:          amount,
		Currency:        fields.currency,
		Status:          status,
		Metadata:        metadata,
		AdminNotes:      fields.adminNotes,
		RejectionReason: fields.rejectionReason,
		ProcessedAt:     utcPointer(fields.processedAt),
		CreatedAt:       fields.createdAt.UTC(),
	}, nil
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}
