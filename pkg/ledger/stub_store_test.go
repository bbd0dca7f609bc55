package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// stubStore is an in-memory Store. WithTx snapshots the maps and restores them
// when fn fails, which is enough to observe all-or-nothing units in tests.
type stubStore struct {
	users       map[UserID]User
	purchases   map[PurchaseID]Purchase
	earnings    map[EarningID]Earning
	deposits    map[DepositID]Deposit
	withdrawals map[WithdrawalID]Withdrawal
	failures    map[string]error
	calls       []string
	beforeLock  func(purchaseID PurchaseID)
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		users:       make(map[UserID]User),
		purchases:   make(map[PurchaseID]Purchase),
		earnings:    make(map[EarningID]Earning),
		deposits:    make(map[DepositID]Deposit),
		withdrawals: make(map[WithdrawalID]Withdrawal),
		failures:    make(map[string]error),
	}
}

func (store *stubStore) fail(method string) error {
	store.calls = append(store.calls, method)
	return store.failures[method]
}

type stubSnapshot struct {
	users       map[UserID]User
	purchases   map[PurchaseID]Purchase
	earnings    map[EarningID]Earning
	deposits    map[DepositID]Deposit
	withdrawals map[WithdrawalID]Withdrawal
}

func copyMap[K comparable, V any](source map[K]V) map[K]V {
	copied := make(map[K]V, len(source))
	for key, value := range source {
		copied[key] = value
	}
	return copied
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if err := store.fail("WithTx"); err != nil {
		return err
	}
	snapshot := stubSnapshot{
		users:       copyMap(store.users),
		purchases:   copyMap(store.purchases),
		earnings:    copyMap(store.earnings),
		deposits:    copyMap(store.deposits),
		withdrawals: copyMap(store.withdrawals),
	}
	if err := fn(ctx, store); err != nil {
		store.users = snapshot.users
		store.purchases = snapshot.purchases
		store.earnings = snapshot.earnings
		store.deposits = snapshot.deposits
		store.withdrawals = snapshot.withdrawals
		return err
	}
	return nil
}

func (store *stubStore) CreateUser(_ context.Context, user User) error {
	if err := store.fail("CreateUser"); err != nil {
		return err
	}
	if _, exists := store.users[user.ID]; exists {
		return ErrUserExists
	}
	store.users[user.ID] = user
	return nil
}

func (store *stubStore) GetUser(_ context.Context, userID UserID) (User, error) {
	if err := store.fail("GetUser"); err != nil {
		return User{}, err
	}
	user, ok := store.users[userID]
	if !ok {
		return User{}, ErrUnknownUser
	}
	return user, nil
}

func (store *stubStore) LockUser(ctx context.Context, userID UserID) (User, error) {
	if err := store.fail("LockUser"); err != nil {
		return User{}, err
	}
	user, ok := store.users[userID]
	if !ok {
		return User{}, ErrUnknownUser
	}
	return user, nil
}

func (store *stubStore) UpdateUserBalance(_ context.Context, userID UserID, balance Balance, updatedAt time.Time) error {
	if err := store.fail("UpdateUserBalance"); err != nil {
		return err
	}
	user, ok := store.users[userID]
	if !ok {
		return ErrUnknownUser
	}
	user.Balance = balance
	user.UpdatedAt = updatedAt
	store.users[userID] = user
	return nil
}

func (store *stubStore) CreatePurchase(_ context.Context, purchase Purchase) error {
	if err := store.fail("CreatePurchase"); err != nil {
		return err
	}
	store.purchases[purchase.ID] = purchase
	return nil
}

func (store *stubStore) GetPurchase(_ context.Context, purchaseID PurchaseID) (Purchase, error) {
	if err := store.fail("GetPurchase"); err != nil {
		return Purchase{}, err
	}
	purchase, ok := store.purchases[purchaseID]
	if !ok {
		return Purchase{}, ErrUnknownPurchase
	}
	return purchase, nil
}

func (store *stubStore) LockPurchase(_ context.Context, purchaseID PurchaseID) (Purchase, error) {
	if store.beforeLock != nil {
		store.beforeLock(purchaseID)
	}
	if err := store.fail("LockPurchase"); err != nil {
		return Purchase{}, err
	}
	purchase, ok := store.purchases[purchaseID]
	if !ok {
		return Purchase{}, ErrUnknownPurchase
	}
	return purchase, nil
}

func (store *stubStore) ListPurchasesByUser(_ context.Context, userID UserID) ([]Purchase, error) {
	if err := store.fail("ListPurchasesByUser"); err != nil {
		return nil, err
	}
	purchases := make([]Purchase, 0)
	for _, purchase := range store.purchases {
		if purchase.UserID == userID {
			purchases = append(purchases, purchase)
		}
	}
	sort.Slice(purchases, func(left, right int) bool {
		return purchases[left].CreatedAt.After(purchases[right].CreatedAt)
	})
	return purchases, nil
}

func (store *stubStore) ListActivePurchaseIDs(_ context.Context, after string, limit int) ([]PurchaseID, error) {
	if err := store.fail("ListActivePurchaseIDs"); err != nil {
		return nil, err
	}
	ids := make([]PurchaseID, 0)
	for id, purchase := range store.purchases {
		if purchase.Status == PurchaseStatusActive && id.String() > after {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(left, right int) bool { return ids[left].String() < ids[right].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (store *stubStore) UpdatePurchaseStatus(_ context.Context, purchaseID PurchaseID, from PurchaseStatus, to PurchaseStatus) error {
	if err := store.fail("UpdatePurchaseStatus"); err != nil {
		return err
	}
	purchase, ok := store.purchases[purchaseID]
	if !ok || purchase.Status != from {
		return ErrStaleRecord
	}
	purchase.Status = to
	store.purchases[purchaseID] = purchase
	return nil
}

func (store *stubStore) AdvanceLastEarningAt(_ context.Context, purchaseID PurchaseID, previous *time.Time, next time.Time) error {
	if err := store.fail("AdvanceLastEarningAt"); err != nil {
		return err
	}
	purchase, ok := store.purchases[purchaseID]
	if !ok {
		return ErrStaleRecord
	}
	switch {
	case previous == nil && purchase.LastEarningAt != nil:
		return ErrStaleRecord
	case previous != nil && (purchase.LastEarningAt == nil || !purchase.LastEarningAt.Equal(*previous)):
		return ErrStaleRecord
	}
	advanced := next
	purchase.LastEarningAt = &advanced
	store.purchases[purchaseID] = purchase
	return nil
}

func (store *stubStore) CountActivePurchases(_ context.Context) (int64, error) {
	if err := store.fail("CountActivePurchases"); err != nil {
		return 0, err
	}
	var count int64
	for _, purchase := range store.purchases {
		if purchase.Status == PurchaseStatusActive {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) CountEligiblePurchases(_ context.Context, now time.Time, spacingCutoff time.Time) (int64, error) {
	if err := store.fail("CountEligiblePurchases"); err != nil {
		return 0, err
	}
	var count int64
	for _, purchase := range store.purchases {
		if purchase.Status != PurchaseStatusActive || !purchase.ExpiresAt.After(now) {
			continue
		}
		if purchase.LastEarningAt == nil || !purchase.LastEarningAt.After(spacingCutoff) {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) InsertEarning(_ context.Context, earning Earning) error {
	if err := store.fail("InsertEarning"); err != nil {
		return err
	}
	for _, existing := range store.earnings {
		if existing.PurchaseID == earning.PurchaseID && existing.EarningDate.Equal(earning.EarningDate) {
			return ErrDuplicateEarning
		}
	}
	store.earnings[earning.ID] = earning
	return nil
}

func (store *stubStore) GetEarning(_ context.Context, earningID EarningID) (Earning, error) {
	if err := store.fail("GetEarning"); err != nil {
		return Earning{}, err
	}
	earning, ok := store.earnings[earningID]
	if !ok {
		return Earning{}, ErrUnknownEarning
	}
	return earning, nil
}

func (store *stubStore) ListPendingEarningIDs(_ context.Context, after string, limit int) ([]EarningID, error) {
	if err := store.fail("ListPendingEarningIDs"); err != nil {
		return nil, err
	}
	ids := make([]EarningID, 0)
	for id, earning := range store.earnings {
		if earning.Status == EarningStatusPending && id.String() > after {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(left, right int) bool { return ids[left].String() < ids[right].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (store *stubStore) ListEarningsByPurchase(_ context.Context, purchaseID PurchaseID) ([]Earning, error) {
	if err := store.fail("ListEarningsByPurchase"); err != nil {
		return nil, err
	}
	earnings := make([]Earning, 0)
	for _, earning := range store.earnings {
		if earning.PurchaseID == purchaseID {
			earnings = append(earnings, earning)
		}
	}
	sortEarnings(earnings)
	return earnings, nil
}

func (store *stubStore) ListEarnings(_ context.Context, query EarningQuery) ([]Earning, error) {
	if err := store.fail("ListEarnings"); err != nil {
		return nil, err
	}
	earnings := make([]Earning, 0)
	for _, earning := range store.earnings {
		if earning.UserID != query.UserID {
			continue
		}
		if query.Status != nil && earning.Status != *query.Status {
			continue
		}
		earnings = append(earnings, earning)
	}
	sortEarnings(earnings)
	if query.Limit > 0 && len(earnings) > query.Limit {
		earnings = earnings[:query.Limit]
	}
	return earnings, nil
}

func sortEarnings(earnings []Earning) {
	sort.Slice(earnings, func(left, right int) bool {
		return earnings[left].EarningDate.After(earnings[right].EarningDate)
	})
}

func (store *stubStore) SumEarnings(_ context.Context, purchaseID PurchaseID, statuses []EarningStatus) (decimal.Decimal, error) {
	if err := store.fail("SumEarnings"); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, earning := range store.earnings {
		if earning.PurchaseID != purchaseID {
			continue
		}
		for _, status := range statuses {
			if earning.Status == status {
				total = total.Add(earning.Amount.Decimal())
			}
		}
	}
	return total, nil
}

func (store *stubStore) UpdateEarningStatus(_ context.Context, earningID EarningID, from EarningStatus, to EarningStatus, creditedAt *time.Time) error {
	if err := store.fail("UpdateEarningStatus"); err != nil {
		return err
	}
	earning, ok := store.earnings[earningID]
	if !ok || earning.Status != from {
		return ErrStaleRecord
	}
	earning.Status = to
	if creditedAt != nil {
		stamped := *creditedAt
		earning.CreditedAt = &stamped
	}
	store.earnings[earningID] = earning
	return nil
}

func (store *stubStore) CountEarnings(_ context.Context, status EarningStatus) (int64, error) {
	if err := store.fail("CountEarnings"); err != nil {
		return 0, err
	}
	var count int64
	for _, earning := range store.earnings {
		if earning.Status == status {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) CreateDeposit(_ context.Context, deposit Deposit) error {
	if err := store.fail("CreateDeposit"); err != nil {
		return err
	}
	store.deposits[deposit.ID] = deposit
	return nil
}

func (store *stubStore) GetDeposit(_ context.Context, depositID DepositID) (Deposit, error) {
	if err := store.fail("GetDeposit"); err != nil {
		return Deposit{}, err
	}
	deposit, ok := store.deposits[depositID]
	if !ok {
		return Deposit{}, ErrUnknownDeposit
	}
	return deposit, nil
}

func (store *stubStore) UpdateDepositStatus(_ context.Context, depositID DepositID, decision RequestDecision) error {
	if err := store.fail("UpdateDepositStatus"); err != nil {
		return err
	}
	deposit, ok := store.deposits[depositID]
	if !ok || deposit.Status != decision.From {
		return ErrStaleRecord
	}
	processedAt := decision.ProcessedAt
	deposit.Status = decision.To
	deposit.AdminNotes = decision.AdminNotes
	deposit.RejectionReason = decision.RejectionReason
	deposit.ProcessedAt = &processedAt
	store.deposits[depositID] = deposit
	return nil
}

func (store *stubStore) CreateWithdrawal(_ context.Context, withdrawal Withdrawal) error {
	if err := store.fail("CreateWithdrawal"); err != nil {
		return err
	}
	store.withdrawals[withdrawal.ID] = withdrawal
	return nil
}

func (store *stubStore) GetWithdrawal(_ context.Context, withdrawalID WithdrawalID) (Withdrawal, error) {
	if err := store.fail("GetWithdrawal"); err != nil {
		return Withdrawal{}, err
	}
	withdrawal, ok := store.withdrawals[withdrawalID]
	if !ok {
		return Withdrawal{}, ErrUnknownWithdrawal
	}
	return withdrawal, nil
}

func (store *stubStore) UpdateWithdrawalStatus(_ context.Context, withdrawalID WithdrawalID, decision RequestDecision) error {
	if err := store.fail("UpdateWithdrawalStatus"); err != nil {
		return err
	}
	withdrawal, ok := store.withdrawals[withdrawalID]
	if !ok || withdrawal.Status != decision.From {
		return ErrStaleRecord
	}
	processedAt := decision.ProcessedAt
	withdrawal.Status = decision.To
	withdrawal.AdminNotes = decision.AdminNotes
	withdrawal.RejectionReason = decision.RejectionReason
	withdrawal.ProcessedAt = &processedAt
	store.withdrawals[withdrawalID] = withdrawal
	return nil
}

// Test fixtures.

var stubEpoch = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

type manualClock struct {
	now time.Time
}

func (clock *manualClock) Now() time.Time {
	return clock.now
}

func (clock *manualClock) Advance(duration time.Duration) {
	clock.now = clock.now.Add(duration)
}

func sequentialIDs(prefix string) func() string {
	counter := 0
	return func() string {
		counter++
		return fmt.Sprintf("%s-%04d", prefix, counter)
	}
}

func mustNewService(test *testing.T, store Store, clock *manualClock, options ...ServiceOption) *Service {
	test.Helper()
	options = append([]ServiceOption{WithIDGenerator(sequentialIDs("id"))}, options...)
	service, err := NewService(store, clock.Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustPurchaseID(test *testing.T, raw string) PurchaseID {
	test.Helper()
	value, err := NewPurchaseID(raw)
	if err != nil {
		test.Fatalf("purchase id: %v", err)
	}
	return value
}

func mustEarningID(test *testing.T, raw string) EarningID {
	test.Helper()
	value, err := NewEarningID(raw)
	if err != nil {
		test.Fatalf("earning id: %v", err)
	}
	return value
}

func mustAmount(test *testing.T, raw string) Amount {
	test.Helper()
	value, err := ParseAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustBalance(test *testing.T, raw string) Balance {
	test.Helper()
	value, err := NewBalance(decimal.RequireFromString(raw))
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return value
}

func mustPrice(test *testing.T, raw string) Price {
	test.Helper()
	value, err := ParsePrice(raw)
	if err != nil {
		test.Fatalf("price: %v", err)
	}
	return value
}

func mustDailyRate(test *testing.T, raw string) DailyRate {
	test.Helper()
	value, err := ParseDailyRate(raw)
	if err != nil {
		test.Fatalf("daily rate: %v", err)
	}
	return value
}

func mustDurationDays(test *testing.T, raw int) DurationDays {
	test.Helper()
	value, err := NewDurationDays(raw)
	if err != nil {
		test.Fatalf("duration days: %v", err)
	}
	return value
}

func seedUser(test *testing.T, store *stubStore, rawID string, balance string) UserID {
	test.Helper()
	userID := mustUserID(test, rawID)
	store.users[userID] = User{
		ID:        userID,
		Username:  rawID,
		Balance:   mustBalance(test, balance),
		Active:    true,
		CreatedAt: stubEpoch,
		UpdatedAt: stubEpoch,
	}
	return userID
}

type purchaseSeed struct {
	id            string
	userID        UserID
	price         string
	rate          string
	days          int
	purchasedAt   time.Time
	lastEarningAt *time.Time
	status        PurchaseStatus
}

func seedPurchase(test *testing.T, store *stubStore, seed purchaseSeed) Purchase {
	test.Helper()
	if seed.status == "" {
		seed.status = PurchaseStatusActive
	}
	if seed.purchasedAt.IsZero() {
		seed.purchasedAt = stubEpoch
	}
	purchase := Purchase{
		ID:            mustPurchaseID(test, seed.id),
		Reference:     "PUR-" + seed.id,
		UserID:        seed.userID,
		ProductName:   "Growth Plan",
		Price:         mustPrice(test, seed.price),
		DailyRate:     mustDailyRate(test, seed.rate),
		DurationDays:  mustDurationDays(test, seed.days),
		Status:        seed.status,
		PurchasedAt:   seed.purchasedAt,
		ExpiresAt:     seed.purchasedAt.AddDate(0, 0, seed.days),
		LastEarningAt: seed.lastEarningAt,
		CreatedAt:     seed.purchasedAt,
	}
	store.purchases[purchase.ID] = purchase
	return purchase
}

func seedEarning(test *testing.T, store *stubStore, rawID string, purchase Purchase, amount string, status EarningStatus, earningDate time.Time) Earning {
	test.Helper()
	earning := Earning{
		ID:          mustEarningID(test, rawID),
		UserID:      purchase.UserID,
		PurchaseID:  purchase.ID,
		Amount:      mustAmount(test, amount),
		EarningDate: earningDate,
		Status:      status,
		CreatedAt:   earningDate,
	}
	if status == EarningStatusCredited {
		creditedAt := earningDate
		earning.CreditedAt = &creditedAt
	}
	store.earnings[earning.ID] = earning
	return earning
}

func requireDecimal(test *testing.T, label string, want string, got decimal.Decimal) {
	test.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		test.Fatalf("%s: expected %s, got %s", label, want, got.String())
	}
}

func timePointer(value time.Time) *time.Time {
	return &value
}

var errStubFailure = errors.New("stub failure")
