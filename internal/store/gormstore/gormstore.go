package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintUserPrimary       = "users_pkey"
	constraintEarningPerDate    = "uniq_earning_purchase_date"
	defaultMetadataJSON         = "{}"
	pgUniqueViolationCode       = "23505"
	sqliteConstraintCode        = 19
	errorOperationStore         = "store"
	errorSubjectUser            = "user"
	errorSubjectPurchase        = "purchase"
	errorSubjectEarning         = "earning"
	errorSubjectDeposit         = "deposit"
	errorSubjectWithdrawal      = "withdrawal"
	errorCodeCount              = "count"
	errorCodeCreate             = "create"
	errorCodeDuplicate          = "duplicate"
	errorCodeGet                = "get"
	errorCodeInsert             = "insert"
	errorCodeInvalid            = "invalid"
	errorCodeList               = "list"
	errorCodeLock               = "lock"
	errorCodeSum                = "sum"
	errorCodeUpdateBalance      = "update_balance"
	errorCodeUpdateStatus       = "update_status"
	errorCodeAdvanceLastEarning = "advance_last_earning"
	lockStrengthUpdate          = "UPDATE"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateUser(ctx context.Context, user ledger.User) error {
	model := User{
		ID:        user.ID.String(),
		Username:  user.Username,
		Email:     user.Email,
		Balance:   user.Balance.Decimal(),
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintUserPrimary) {
		return wrapStoreError(errorSubjectUser, errorCodeDuplicate, ledger.ErrUserExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetUser(ctx context.Context, userID ledger.UserID) (ledger.User, error) {
	return store.findUser(store.db.WithContext(ctx), userID, errorCodeGet)
}

// LockUser reads the user row with FOR UPDATE. SQLite ignores the locking clause
// and relies on its database-level write lock instead.
func (store *Store) LockUser(ctx context.Context, userID ledger.UserID) (ledger.User, error) {
	return store.findUser(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: lockStrengthUpdate}), userID, errorCodeLock)
}

func (store *Store) findUser(query *gorm.DB, userID ledger.UserID, code string) (ledger.User, error) {
	var model User
	err := query.Where("id = ?", userID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.User{}, wrapStoreError(errorSubjectUser, code, ledger.ErrUnknownUser)
	}
	if err != nil {
		return ledger.User{}, wrapStoreError(errorSubjectUser, code, err)
	}
	user, err := mapUser(model)
	if err != nil {
		return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, ledger.InvalidStoredValue(err))
	}
	return user, nil
}

func (store *Store) UpdateUserBalance(ctx context.Context, userID ledger.UserID, balance ledger.Balance, updatedAt time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID.String()).
		Updates(map[string]interface{}{"balance": balance.Decimal(), "updated_at": updatedAt})
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdateBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdateBalance, ledger.ErrUnknownUser)
	}
	return nil
}

func (store *Store) CreatePurchase(ctx context.Context, purchase ledger.Purchase) error {
	model := Purchase{
		ID:            purchase.ID.String(),
		Reference:     purchase.Reference,
		UserID:        purchase.UserID.String(),
		ProductName:   purchase.ProductName,
		Price:         purchase.Price.Decimal(),
		DailyRate:     purchase.DailyRate.Decimal(),
		DurationDays:  purchase.DurationDays.Int(),
		Status:        purchase.Status.String(),
		PurchasedAt:   purchase.PurchasedAt,
		ExpiresAt:     purchase.ExpiresAt,
		LastEarningAt: purchase.LastEarningAt,
		CreatedAt:     purchase.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPurchase(ctx context.Context, purchaseID ledger.PurchaseID) (ledger.Purchase, error) {
	return store.findPurchase(store.db.WithContext(ctx), purchaseID, errorCodeGet)
}

func (store *Store) LockPurchase(ctx context.Context, purchaseID ledger.PurchaseID) (ledger.Purchase, error) {
	return store.findPurchase(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: lockStrengthUpdate}), purchaseID, errorCodeLock)
}

func (store *Store) findPurchase(query *gorm.DB, purchaseID ledger.PurchaseID, code string) (ledger.Purchase, error) {
	var model Purchase
	err := query.Where("id = ?", purchaseID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Purchase{}, wrapStoreError(errorSubjectPurchase, code, ledger.ErrUnknownPurchase)
	}
	if err != nil {
		return ledger.Purchase{}, wrapStoreError(errorSubjectPurchase, code, err)
	}
	purchase, err := mapPurchase(model)
	if err != nil {
		return ledger.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, ledger.InvalidStoredValue(err))
	}
	return purchase, nil
}

func (store *Store) ListPurchasesByUser(ctx context.Context, userID ledger.UserID) ([]ledger.Purchase, error) {
	var rows []Purchase
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	purchases := make([]ledger.Purchase, 0, len(rows))
	for _, row := range rows {
		purchase, err := mapPurchase(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, ledger.InvalidStoredValue(err))
		}
		purchases = append(purchases, purchase)
	}
	return purchases, nil
}

func (store *Store) ListActivePurchaseIDs(ctx context.Context, after string, limit int) ([]ledger.PurchaseID, error) {
	var values []string
	err := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Where("status = ? AND id > ?", ledger.PurchaseStatusActive.String(), after).
		Order("id").
		Limit(limit).
		Pluck("id", &values).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	ids := make([]ledger.PurchaseID, 0, len(values))
	for _, value := range values {
		id, err := ledger.NewPurchaseID(value)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, ledger.InvalidStoredValue(err))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (store *Store) UpdatePurchaseStatus(ctx context.Context, purchaseID ledger.PurchaseID, from ledger.PurchaseStatus, to ledger.PurchaseStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Where("id = ? AND status = ?", purchaseID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, ledger.ErrStaleRecord)
	}
	return nil
}

// AdvanceLastEarningAt moves last_earning_at forward only if it still holds previous.
func (store *Store) AdvanceLastEarningAt(ctx context.Context, purchaseID ledger.PurchaseID, previous *time.Time, next time.Time) error {
	query := store.db.WithContext(ctx).Model(&Purchase{}).Where("id = ?", purchaseID.String())
	if previous == nil {
		query = query.Where("last_earning_at IS NULL")
	} else {
		query = query.Where("last_earning_at = ?", *previous)
	}
	result := query.Update("last_earning_at", next)
	if result.Error != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeAdvanceLastEarning, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPurchase, errorCodeAdvanceLastEarning, ledger.ErrStaleRecord)
	}
	return nil
}

func (store *Store) CountActivePurchases(ctx context.Context) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Where("status = ?", ledger.PurchaseStatusActive.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectPurchase, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) CountEligiblePurchases(ctx context.Context, now time.Time, spacingCutoff time.Time) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Where("status = ? AND expires_at > ?", ledger.PurchaseStatusActive.String(), now).
		Where("(last_earning_at IS NULL OR last_earning_at <= ?)", spacingCutoff).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectPurchase, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) InsertEarning(ctx context.Context, earning ledger.Earning) error {
	model := Earning{
		ID:          earning.ID.String(),
		UserID:      earning.UserID.String(),
		PurchaseID:  earning.PurchaseID.String(),
		Amount:      earning.Amount.Decimal(),
		EarningDate: earning.EarningDate,
		Status:      earning.Status.String(),
		CreditedAt:  earning.CreditedAt,
		CreatedAt:   earning.CreatedAt,
		Notes:       earning.Notes,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintEarningPerDate) {
		return wrapStoreError(errorSubjectEarning, errorCodeDuplicate, ledger.ErrDuplicateEarning)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEarning, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetEarning(ctx context.Context, earningID ledger.EarningID) (ledger.Earning, error) {
	var model Earning
	err := store.db.WithContext(ctx).Where("id = ?", earningID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Earning{}, wrapStoreError(errorSubjectEarning, errorCodeGet, ledger.ErrUnknownEarning)
	}
	if err != nil {
		return ledger.Earning{}, wrapStoreError(errorSubjectEarning, errorCodeGet, err)
	}
	earning, err := mapEarning(model)
	if err != nil {
		return ledger.Earning{}, wrapStoreError(errorSubjectEarning, errorCodeInvalid, ledger.InvalidStoredValue(err))
	}
	return earning, nil
}

func (store *Store) ListPendingEarningIDs(ctx context.Context, after string, limit int) ([]ledger.EarningID, error) {
	var values []string
	err := store.db.WithContext(ctx).
		Model(&Earning{}).
		Where("status = ? AND id > ?", ledger.EarningStatusPending.String(), after).
		Order("id").
		Limit(limit).
		Pluck("id", &values).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEarning, errorCodeList, err)
	}
	ids := make([]ledger.EarningID, 0, len(values))
	for _, value := range values {
		id, err := ledger.NewEarningID(value)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEarning, errorCodeInvalid, ledger.InvalidStoredValue(err))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (store *Store) ListEarningsByPurchase(ctx context.Context, purchaseID ledger.PurchaseID) ([]ledger.Earning, error) {
	return store.listEarnings(store.db.WithContext(ctx).Where("purchase_id = ?", purchaseID.String()))
}

func (store *Store) ListEarnings(ctx context.Context, query ledger.EarningQuery) ([]ledger.Earning, error) {
	scoped := store.db.WithContext(ctx).Where("user_id = ?", query.UserID.String())
	if query.Status != nil {
		scoped = scoped.Where("status = ?", query.Status.String())
	}
	if query.Limit > 0 {
		scoped = scoped.Limit(query.Limit)
	}
	return store.listEarnings(scoped)
}

func (store *Store) listEarnings(query *gorm.DB) ([]ledger.Earning, error) {
	var rows []Earning
	if err := query.Order("earning_date DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEarning, errorCodeList, err)
	}
	earnings := make([]ledger.Earning, 0, len(rows))
	for _, row := range rows {
		earning, err := mapEarning(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEarning, errorCodeInvalid, ledger.InvalidStoredValue(err))
		}
		earnings = append(earnings, earning)
	}
	return earnings, nil
}

// SumEarnings adds amounts in Go so SQLite's floating point NUMERIC arithmetic never
// touches the cap computation.
func (store *Store) SumEarnings(ctx context.Context, purchaseID ledger.PurchaseID, statuses []ledger.EarningStatus) (decimal.Decimal, error) {
	if len(statuses) == 0 {
		return decimal.Zero, nil
	}
	statusValues := make([]string, 0, len(statuses))
	for _, status := range statuses {
		statusValues = append(statusValues, status.String())
	}
	var amounts []decimal.Decimal
	err := store.db.WithContext(ctx).
		Model(&Earning{}).
		Where("purchase_id = ? AND status IN ?", purchaseID.String(), statusValues).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectEarning, errorCodeSum, err)
	}
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total, nil
}

func (store *Store) UpdateEarningStatus(ctx context.Context, earningID ledger.EarningID, from ledger.EarningStatus, to ledger.EarningStatus, creditedAt *time.Time) error {
	updates := map[string]interface{}{"status": to.String()}
	if creditedAt != nil {
		updates["credited_at"] = *creditedAt
	}
	result := store.db.WithContext(ctx).
		Model(&Earning{}).
		Where("id = ? AND status = ?", earningID.String(), from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectEarning, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEarning, errorCodeUpdateStatus, ledger.ErrStaleRecord)
	}
	return nil
}

func (store *Store) CountEarnings(ctx context.Context, status ledger.EarningStatus) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).Model(&Earning{}).Where("status = ?", status.String()).Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectEarning, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) CreateDeposit(ctx context.Context, deposit ledger.Deposit) error {
	model := Deposit{
		ID:              deposit.ID.String(),
		Reference:       deposit.Reference,
		UserID:          deposit.UserID.String(),
		Amount:          deposit.Amount.Decimal(),
		Currency:        deposit.Currency,
		Status:          deposit.Status.String(),
		Metadata:        datatypesJSON(deposit.Metadata.String()),
		AdminNotes:      deposit.AdminNotes,
		RejectionReason: deposit.RejectionReason,
		ProcessedAt:     deposit.ProcessedAt,
		CreatedAt:       deposit.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectDeposit, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetDeposit(ctx context.Context, depositID ledger.DepositID) (ledger.Deposit, error) {
	var model Deposit
	err := store.db.WithContext(ctx).Where("id = ?", depositID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Deposit{}, wrapStoreError(errorSubjectDeposit, errorCodeGet, ledger.ErrUnknownDeposit)
	}
	if err != nil {
		return ledger.Deposit{}, wrapStoreError(errorSubjectDeposit, errorCodeGet, err)
	}
	deposit, err := mapDeposit(model)
	if err != nil {
		return ledger.Deposit{}, wrapStoreError(errorSubjectDeposit, errorCodeInvalid, ledger.InvalidStoredValue(err))
	}
	return deposit, nil
}

func (store *Store) UpdateDepositStatus(ctx context.Context, depositID ledger.DepositID, decision ledger.RequestDecision) error {
	result := store.db.WithContext(ctx).
		Model(&Deposit{}).
		Where("id = ? AND status = ?", depositID.String(), decision.From.String()).
		Updates(decisionUpdates(decision))
	if result.Error != nil {
		return wrapStoreError(errorSubjectDeposit, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectDeposit, errorCodeUpdateStatus, ledger.ErrStaleRecord)
	}
	return nil
}

func (store *Store) CreateWithdrawal(ctx context.Context, withdrawal ledger.Withdrawal) error {
	model := Withdrawal{
		ID:              withdrawal.ID.String(),
		Reference:       withdrawal.Reference,
		UserID:          withdrawal.UserID.String(),
		Amount:          withdrawal.Amount.Decimal(),
		Currency:        withdrawal.Currency,
		Status:          withdrawal.Status.String(),
		Metadata:        datatypesJSON(withdrawal.Metadata.String()),
		AdminNotes:      withdrawal.AdminNotes,
		RejectionReason: withdrawal.RejectionReason,
		ProcessedAt:     withdrawal.ProcessedAt,
		CreatedAt:       withdrawal.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetWithdrawal(ctx context.Context, withdrawalID ledger.WithdrawalID) (ledger.Withdrawal, error) {
	var model Withdrawal
	err := store.db.WithContext(ctx).Where("id = ?", withdrawalID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeGet, ledger.ErrUnknownWithdrawal)
	}
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeGet, err)
	}
	withdrawal, err := mapWithdrawal(model)
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeInvalid, ledger.InvalidStoredValue(err))
	}
	return withdrawal, nil
}

func (store *Store) UpdateWithdrawalStatus(ctx context.Context, withdrawalID ledger.WithdrawalID, decision ledger.RequestDecision) error {
	result := store.db.WithContext(ctx).
		Model(&Withdrawal{}).
		Where("id = ? AND status = ?", withdrawalID.String(), decision.From.String()).
		Updates(decisionUpdates(decision))
	if result.Error != nil {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeUpdateStatus, ledger.ErrStaleRecord)
	}
	return nil
}

func decisionUpdates(decision ledger.RequestDecision) map[string]interface{} {
	return map[string]interface{}{
		"status":           decision.To.String(),
		"admin_notes":      decision.AdminNotes,
		"rejection_reason": decision.RejectionReason,
		"processed_at":     decision.ProcessedAt,
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isUniqueViolation reports a unique constraint failure. On Postgres the
// constraint name must match; SQLite only exposes the generic constraint code.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
