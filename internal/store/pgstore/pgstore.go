package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const (
	constraintUserPrimary       = "users_pkey"
	constraintEarningPerDate    = "uniq_earning_purchase_date"
	pgUniqueViolationCode       = "23505"
	errorOperationStore         = "store"
	errorSubjectSchema          = "schema"
	errorSubjectTransaction     = "transaction"
	errorSubjectUser            = "user"
	errorSubjectPurchase        = "purchase"
	errorSubjectEarning         = "earning"
	errorSubjectDeposit         = "deposit"
	errorSubjectWithdrawal      = "withdrawal"
	errorCodeApply              = "apply"
	errorCodeBegin              = "begin"
	errorCodeCommit             = "commit"
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

	sqlInsertUser = `
		insert into users(id, username, email, balance, active, created_at, updated_at)
		values ($1, $2, $3, $4::numeric, $5, $6, $7)
	`

	sqlSelectUser = `
		select id, username, email, balance::text, active, created_at, updated_at
		from users
		where id = $1
	`

	sqlUpdateUserBalance = `
		update users set balance = $2::numeric, updated_at = $3
		where id = $1
	`

	sqlInsertPurchase = `
		insert into purchases(
			id, reference, user_id, product_name, price, daily_rate, duration_days,
			status, purchased_at, expires_at, last_earning_at, created_at
		)
		values ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12)
	`

	sqlPurchaseColumns = `
		select id, reference, user_id, product_name, price::text, daily_rate::text, duration_days,
			status, purchased_at, expires_at, last_earning_at, created_at
		from purchases
	`

	sqlSelectPurchase = sqlPurchaseColumns + ` where id = $1`

	sqlListPurchasesByUser = sqlPurchaseColumns + ` where user_id = $1 order by created_at desc, id desc`

	sqlListActivePurchaseIDs = `
		select id from purchases
		where status = 'ACTIVE' and id > $1
		order by id
		limit $2
	`

	sqlUpdatePurchaseStatus = `
		update purchases set status = $3
		where id = $1 and status = $2
	`

	sqlAdvanceFirstEarning = `
		update purchases set last_earning_at = $2
		where id = $1 and last_earning_at is null
	`

	sqlAdvanceLastEarning = `
		update purchases set last_earning_at = $3
		where id = $1 and last_earning_at = $2
	`

	sqlCountActivePurchases = `select count(*) from purchases where status = 'ACTIVE'`

	sqlCountEligiblePurchases = `
		select count(*) from purchases
		where status = 'ACTIVE' and expires_at > $1
		and (last_earning_at is null or last_earning_at <= $2)
	`

	sqlInsertEarning = `
		insert into earnings(id, user_id, purchase_id, amount, earning_date, status, credited_at, created_at, notes)
		values ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)
	`

	sqlEarningColumns = `
		select id, user_id, purchase_id, amount::text, earning_date, status, credited_at, created_at, notes
		from earnings
	`

	sqlSelectEarning = sqlEarningColumns + ` where id = $1`

	sqlListEarningsByPurchase = sqlEarningColumns + ` where purchase_id = $1 order by earning_date desc, id desc`

	sqlListEarnings = sqlEarningColumns + `
		where user_id = $1 and ($2 = '' or status = $2)
		order by earning_date desc, id desc
		limit nullif($3, 0)
	`

	sqlListPendingEarningIDs = `
		select id from earnings
		where status = 'PENDING' and id > $1
		order by id
		limit $2
	`

	sqlSumEarnings = `
		select coalesce(sum(amount), 0)::text from earnings
		where purchase_id = $1 and status = any($2)
	`

	sqlUpdateEarningStatus = `
		update earnings set status = $3, credited_at = coalesce($4, credited_at)
		where id = $1 and status = $2
	`

	sqlCountEarnings = `select count(*) from earnings where status = $1`

	sqlInsertDeposit = `
		insert into deposits(id, reference, user_id, amount, currency, status, metadata, admin_notes, rejection_reason, processed_at, created_at)
		values ($1, $2, $3, $4::numeric, $5, $6, coalesce(nullif($7,''),'{}')::jsonb, $8, $9, $10, $11)
	`

	sqlSelectDeposit = `
		select id, reference, user_id, amount::text, currency, status, metadata::text,
			admin_notes, rejection_reason, processed_at, created_at
		from deposits
		where id = $1
	`

	sqlUpdateDepositStatus = `
		update deposits set status = $3, admin_notes = $4, rejection_reason = $5, processed_at = $6
		where id = $1 and status = $2
	`

	sqlInsertWithdrawal = `
		insert into withdrawals(id, reference, user_id, amount, currency, status, metadata, admin_notes, rejection_reason, processed_at, created_at)
		values ($1, $2, $3, $4::numeric, $5, $6, coalesce(nullif($7,''),'{}')::jsonb, $8, $9, $10, $11)
	`

	sqlSelectWithdrawal = `
		select id, reference, user_id, amount::text, currency, status, metadata::text,
			admin_notes, rejection_reason, processed_at, created_at
		from withdrawals
		where id = $1
	`

	sqlUpdateWithdrawalStatus = `
		update withdrawals set status = $3, admin_notes = $4, rejection_reason = $5, processed_at = $6
		where id = $1 and status = $2
	`

	sqlForUpdate = ` for update`
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// ApplySchema creates the tables and indexes when they do not exist yet.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeApply, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx reuses the open transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

type queries struct {
	db querier
}

func (store queries) CreateUser(ctx context.Context, user ledger.User) error {
	_, err := store.db.Exec(ctx, sqlInsertUser,
		user.ID.String(),
		user.Username,
		user.Email,
		user.Balance.String(),
		user.Active,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err, constraintUserPrimary) {
		return wrapStoreError(errorSubjectUser, errorCodeDuplicate, ledger.ErrUserExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	return nil
}

func (store queries) GetUser(ctx context.Context, userID ledger.UserID) (ledger.User, error) {
	return store.findUser(ctx, sqlSelectUser, userID, errorCodeGet)
}

func (store queries) LockUser(ctx context.Context, userID ledger.UserID) (ledger.User, error) {
	return store.findUser(ctx, sqlSelectUser+sqlForUpdate, userID, errorCodeLock)
}

func (store queries) findUser(ctx context.Context, query string, userID ledger.UserID, code string) (ledger.User, error) {
	var (
		id, username, email, balanceText string
		active                           bool
		createdAt, updatedAt             time.Time
	)
	err := store.db.QueryRow(ctx, query, userID.String()).Scan(&id, &username, &email, &balanceText, &active, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.User{}, wrapStoreError(errorSubjectUser, code, ledger.ErrUnknownUser)
	}
	if err != nil {
		return ledger.User{}, wrapStoreError(errorSubjectUser, code, err)
	}
	user, err := mapUser(id, username, email, balanceText, active, createdAt, updatedAt)
	if err != nil {
		return ledger.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, ledger.InvalidStoredValue(err))
	}
	return user, nil
}

func (store queries) UpdateUserBalance(ctx context.Context, userID ledger.UserID, balance ledger.Balance, updatedAt time.Time) error {
	tag, err := store.db.Exec(ctx, sqlUpdateUserBalance, userID.String(), balance.String(), updatedAt)
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdateBalance, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdateBalance, ledger.ErrUnknownUser)
	}
	return nil
}

func (store queries) CreatePurchase(ctx context.Context, purchase ledger.Purchase) error {
	_, err := store.db.Exec(ctx, sqlInsertPurchase,
		purchase.ID.String(),
		purchase.Reference,
		purchase.UserID.String(),
		purchase.ProductName,
		purchase.Price.Decimal().String(),
		purchase.DailyRate.Decimal().String(),
		purchase.DurationDays.Int(),
		purchase.Status.String(),
		purchase.PurchasedAt,
		purchase.ExpiresAt,
		purchase.LastEarningAt,
		purchase.CreatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeCreate, err)
	}
	return nil
}

func (store queries) GetPurchase(ctx context.Context, purchaseID ledger.PurchaseID) (ledger.Purchase, error) {
	return store.findPurchase(ctx, sqlSelectPurchase, purchaseID, errorCodeGet)
}

func (store queries) LockPurchase(ctx context.Context, purchaseID ledger.PurchaseID) (ledger.Purchase, error) {
	return store.findPurchase(ctx, sqlSelectPurchase+sqlForUpdate, purchaseID, errorCodeLock)
}

func (store queries) findPurchase(ctx context.Context, query string, purchaseID ledger.PurchaseID, code string) (ledger.Purchase, error) {
	purchase, err := scanPurchase(store.db.QueryRow(ctx, query, purchaseID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Purchase{}, wrapStoreError(errorSubjectPurchase, code, ledger.ErrUnknownPurchase)
	}
	if errors.Is(err, ledger.ErrInvalidStoredValue) {
		return ledger.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	if err != nil {
		return ledger.Purchase{}, wrapStoreError(errorSubjectPurchase, code, err)
	}
	return purchase, nil
}

func (store queries) ListPurchasesByUser(ctx context.Context, userID ledger.UserID) ([]ledger.Purchase, error) {
	rows, err := store.db.Query(ctx, sqlListPurchasesByUser, userID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	defer rows.Close()
	purchases := make([]ledger.Purchase, 0)
	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
		}
		purchases = append(purchases, purchase)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	return purchases, nil
}

func (store queries) ListActivePurchaseIDs(ctx context.Context, after string, limit int) ([]ledger.PurchaseID, error) {
	values, err := store.listIDs(ctx, sqlListActivePurchaseIDs, after, limit)
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

func (store queries) listIDs(ctx context.Context, query string, after string, limit int) ([]string, error) {
	rows, err := store.db.Query(ctx, query, after, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (store queries) UpdatePurchaseStatus(ctx context.Context, purchaseID ledger.PurchaseID, from ledger.PurchaseStatus, to ledger.PurchaseStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdatePurchaseStatus, purchaseID.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, ledger.ErrStaleRecord)
	}
	return nil
}

func (store queries) AdvanceLastEarningAt(ctx context.Context, purchaseID ledger.PurchaseID, previous *time.Time, next time.Time) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if previous == nil {
		tag, err = store.db.Exec(ctx, sqlAdvanceFirstEarning, purchaseID.String(), next)
	} else {
		tag, err = store.db.Exec(ctx, sqlAdvanceLastEarning, purchaseID.String(), *previous, next)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeAdvanceLastEarning, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPurchase, errorCodeAdvanceLastEarning, ledger.ErrStaleRecord)
	}
	return nil
}

func (store queries) CountActivePurchases(ctx context.Context) (int64, error) {
	var count int64
	if err := store.db.QueryRow(ctx, sqlCountActivePurchases).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectPurchase, errorCodeCount, err)
	}
	return count, nil
}

func (store queries) CountEligiblePurchases(ctx context.Context, now time.Time, spacingCutoff time.Time) (int64, error) {
	var count int64
	if err := store.db.QueryRow(ctx, sqlCountEligiblePurchases, now, spacingCutoff).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectPurchase, errorCodeCount, err)
	}
	return count, nil
}

func (store queries) InsertEarning(ctx context.Context, earning ledger.Earning) error {
	_, err := store.db.Exec(ctx, sqlInsertEarning,
		earning.ID.String(),
		earning.UserID.String(),
		earning.PurchaseID.String(),
		earning.Amount.String(),
		earning.EarningDate,
		earning.Status.String(),
		earning.CreditedAt,
		earning.CreatedAt,
		earning.Notes,
	)
	if isUniqueViolation(err, constraintEarningPerDate) {
		return wrapStoreError(errorSubjectEarning, errorCodeDuplicate, ledger.ErrDuplicateEarning)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEarning, errorCodeInsert, err)
	}
	return nil
}

func (store queries) GetEarning(ctx context.Context, earningID ledger.EarningID) (ledger.Earning, error) {
	earning, err := scanEarning(store.db.QueryRow(ctx, sqlSelectEarning, earningID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Earning{}, wrapStoreError(errorSubjectEarning, errorCodeGet, ledger.ErrUnknownEarning)
	}
	if errors.Is(err, ledger.ErrInvalidStoredValue) {
		return ledger.Earning{}, wrapStoreError(errorSubjectEarning, errorCodeInvalid, err)
	}
	if err != nil {
		return ledger.Earning{}, wrapStoreError(errorSubjectEarning, errorCodeGet, err)
	}
	return earning, nil
}

func (store queries) ListPendingEarningIDs(ctx context.Context, after string, limit int) ([]ledger.EarningID, error) {
	values, err := store.listIDs(ctx, sqlListPendingEarningIDs, after, limit)
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

func (store queries) ListEarningsByPurchase(ctx context.Context, purchaseID ledger.PurchaseID) ([]ledger.Earning, error) {
	return store.listEarnings(ctx, sqlListEarningsByPurchase, purchaseID.String())
}

func (store queries) ListEarnings(ctx context.Context, query ledger.EarningQuery) ([]ledger.Earning, error) {
	status := ""
	if query.Status != nil {
		status = query.Status.String()
	}
	limit := query.Limit
	if limit < 0 {
		limit = 0
	}
	return store.listEarnings(ctx, sqlListEarnings, query.UserID.String(), status, limit)
}

func (store queries) listEarnings(ctx context.Context, query string, arguments ...any) ([]ledger.Earning, error) {
	rows, err := store.db.Query(ctx, query, arguments...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEarning, errorCodeList, err)
	}
	defer rows.Close()
	earnings := make([]ledger.Earning, 0)
	for rows.Next() {
		earning, err := scanEarning(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEarning, errorCodeInvalid, err)
		}
		earnings = append(earnings, earning)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEarning, errorCodeList, err)
	}
	return earnings, nil
}

func (store queries) SumEarnings(ctx context.Context, purchaseID ledger.PurchaseID, statuses []ledger.EarningStatus) (decimal.Decimal, error) {
	statusValues := make([]string, 0, len(statuses))
	for _, status := range statuses {
		statusValues = append(statusValues, status.String())
	}
	var totalText string
	if err := store.db.QueryRow(ctx, sqlSumEarnings, purchaseID.String(), statusValues).Scan(&totalText); err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectEarning, errorCodeSum, err)
	}
	total, err := decimal.NewFromString(totalText)
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectEarning, errorCodeInvalid, ledger.InvalidStoredValue(err))
	}
	return total, nil
}

func (store queries) UpdateEarningStatus(ctx context.Context, earningID ledger.EarningID, from ledger.EarningStatus, to ledger.EarningStatus, creditedAt *time.Time) error {
	tag, err := store.db.Exec(ctx, sqlUpdateEarningStatus, earningID.String(), from.String(), to.String(), creditedAt)
	if err != nil {
		return wrapStoreError(errorSubjectEarning, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectEarning, errorCodeUpdateStatus, ledger.ErrStaleRecord)
	}
	return nil
}

func (store queries) CountEarnings(ctx context.Context, status ledger.EarningStatus) (int64, error) {
	var count int64
	if err := store.db.QueryRow(ctx, sqlCountEarnings, status.String()).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectEarning, errorCodeCount, err)
	}
	return count, nil
}

func (store queries) CreateDeposit(ctx context.Context, deposit ledger.Deposit) error {
	_, err := store.db.Exec(ctx, sqlInsertDeposit,
		deposit.ID.String(),
		deposit.Reference,
		deposit.UserID.String(),
		deposit.Amount.String(),
		deposit.Currency,
		deposit.Status.String(),
		deposit.Metadata.String(),
		deposit.AdminNotes,
		deposit.RejectionReason,
		deposit.ProcessedAt,
		deposit.CreatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectDeposit, errorCodeCreate, err)
	}
	return nil
}

func (store queries) GetDeposit(ctx context.Context, depositID ledger.DepositID) (ledger.Deposit, error) {
	fields, err := scanRequest(store.db.QueryRow(ctx, sqlSelectDeposit, depositID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Deposit{}, wrapStoreError(errorSubjectDeposit, errorCodeGet, ledger.ErrUnknownDeposit)
	}
	if err != nil {
		return ledger.Deposit{}, wrapStoreError(errorSubjectDeposit, errorCodeGet, err)
	}
	deposit, err := fields.deposit()
	if err != nil {
		return ledger.Deposit{}, wrapStoreError(errorSubjectDeposit, errorCodeInvalid, ledger.InvalidStoredValue(err))
	}
	return deposit, nil
}

func (store queries) UpdateDepositStatus(ctx context.Context, depositID ledger.DepositID, decision ledger.RequestDecision) error {
	tag, err := store.db.Exec(ctx, sqlUpdateDepositStatus,
		depositID.String(),
		decision.From.String(),
		decision.To.String(),
		decision.AdminNotes,
		decision.RejectionReason,
		decision.ProcessedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectDeposit, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectDeposit, errorCodeUpdateStatus, ledger.ErrStaleRecord)
	}
	return nil
}

func (store queries) CreateWithdrawal(ctx context.Context, withdrawal ledger.Withdrawal) error {
	_, err := store.db.Exec(ctx, sqlInsertWithdrawal,
		withdrawal.ID.String(),
		withdrawal.Reference,
		withdrawal.UserID.String(),
		withdrawal.Amount.String(),
		withdrawal.Currency,
		withdrawal.Status.String(),
		withdrawal.Metadata.String(),
		withdrawal.AdminNotes,
		withdrawal.RejectionReason,
		withdrawal.ProcessedAt,
		withdrawal.CreatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeCreate, err)
	}
	return nil
}

func (store queries) GetWithdrawal(ctx context.Context, withdrawalID ledger.WithdrawalID) (ledger.Withdrawal, error) {
	fields, err := scanRequest(store.db.QueryRow(ctx, sqlSelectWithdrawal, withdrawalID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeGet, ledger.ErrUnknownWithdrawal)
	}
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeGet, err)
	}
	withdrawal, err := fields.withdrawal()
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeInvalid, ledger.InvalidStoredValue(err))
	}
	return withdrawal, nil
}

func (store queries) UpdateWithdrawalStatus(ctx context.Context, withdrawalID ledger.WithdrawalID, decision ledger.RequestDecision) error {
	tag, err := store.db.Exec(ctx, sqlUpdateWithdrawalStatus,
		withdrawalID.String(),
		decision.From.String(),
		decision.To.String(),
		decision.AdminNotes,
		decision.RejectionReason,
		decision.ProcessedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeUpdateStatus, ledger.ErrStaleRecord)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
