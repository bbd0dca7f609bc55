package gormstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
)

func mapUser(row User) (ledger.User, error) {
	userID, err := ledger.NewUserID(row.ID)
	if err != nil {
		return ledger.User{}, err
	}
	balance, err := ledger.NewBalance(row.Balance)
	if err != nil {
		return ledger.User{}, err
	}
	return ledger.User{
		ID:        userID,
		Username:  row.Username,
		Email:     row.Email,
		Balance:   balance,
		Active:    row.Active,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

func mapPurchase(row Purchase) (ledger.Purchase, error) {
	purchaseID, err := ledger.NewPurchaseID(row.ID)
	if err != nil {
		return ledger.Purchase{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Purchase{}, err
	}
	price, err := ledger.NewPrice(row.Price)
	if err != nil {
		return ledger.Purchase{}, err
	}
	dailyRate, err := ledger.NewDailyRate(row.DailyRate)
	if err != nil {
		return ledger.Purchase{}, err
	}
	durationDays, err := ledger.NewDurationDays(row.DurationDays)
	if err != nil {
		return ledger.Purchase{}, err
	}
	status, err := ledger.ParsePurchaseStatus(row.Status)
	if err != nil {
		return ledger.Purchase{}, err
	}
	return ledger.Purchase{
		ID:            purchaseID,
		Reference:     row.Reference,
		UserID:        userID,
		ProductName:   row.ProductName,
		Price:         price,
		DailyRate:     dailyRate,
		DurationDays:  durationDays,
		Status:        status,
		PurchasedAt:   row.PurchasedAt.UTC(),
		ExpiresAt:     row.ExpiresAt.UTC(),
		LastEarningAt: utcPointer(row.LastEarningAt),
		CreatedAt:     row.CreatedAt.UTC(),
	}, nil
}

func mapEarning(row Earning) (ledger.Earning, error) {
	earningID, err := ledger.NewEarningID(row.ID)
	if err != nil {
		return ledger.Earning{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Earning{}, err
	}
	purchaseID, err := ledger.NewPurchaseID(row.PurchaseID)
	if err != nil {
		return ledger.Earning{}, err
	}
	amount, err := ledger.NewAmount(row.Amount)
	if err != nil {
		return ledger.Earning{}, err
	}
	status, err := ledger.ParseEarningStatus(row.Status)
	if err != nil {
		return ledger.Earning{}, err
	}
	return ledger.Earning{
		ID:          earningID,
		UserID:      userID,
		PurchaseID:  purchaseID,
		Amount:      amount,
		EarningDate: row.EarningDate.UTC(),
		Status:      status,
		CreditedAt:  utcPointer(row.CreditedAt),
		CreatedAt:   row.CreatedAt.UTC(),
		Notes:       row.Notes,
	}, nil
}

func mapDeposit(row Deposit) (ledger.Deposit, error) {
	depositID, err := ledger.NewDepositID(row.ID)
	if err != nil {
		return ledger.Deposit{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Deposit{}, err
	}
	amount, err := ledger.NewAmount(row.Amount)
	if err != nil {
		return ledger.Deposit{}, err
	}
	status, err := ledger.ParseRequestStatus(row.Status)
	if err != nil {
		return ledger.Deposit{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Deposit{}, err
	}
	return ledger.Deposit{
		ID:              depositID,
		Reference:       row.Reference,
		UserID:          userID,
		Amount:          amount,
		Currency:        row.Currency,
		Status:          status,
		Metadata:        metadata,
		AdminNotes:      row.AdminNotes,
		RejectionReason: row.RejectionReason,
		ProcessedAt:     utcPointer(row.ProcessedAt),
		CreatedAt:       row.CreatedAt.UTC(),
	}, nil
}

func mapWithdrawal(row Withdrawal) (ledger.Withdrawal, error) {
	withdrawalID, err := ledger.NewWithdrawalID(row.ID)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	amount, err := ledger.NewAmount(row.Amount)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	status, err := ledger.ParseRequestStatus(row.Status)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	return ledger.Withdrawal{
		ID:              withdrawalID,
		Reference:       row.Reference,
		UserID:          userID,
		Amount:          amount,
		Currency:        row.Currency,
		Status:          status,
		Metadata:        metadata,
		AdminNotes:      row.AdminNotes,
		RejectionReason: row.RejectionReason,
		ProcessedAt:     utcPointer(row.ProcessedAt),
		CreatedAt:       row.CreatedAt.UTC(),
	}, nil
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}
