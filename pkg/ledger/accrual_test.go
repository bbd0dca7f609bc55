package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEvaluateAccrual(test *testing.T) {
	test.Parallel()
	base := Purchase{
		Price:        mustPrice(test, "1000"),
		DailyRate:    mustDailyRate(test, "0.10"),
		DurationDays: mustDurationDays(test, 30),
		Status:       PurchaseStatusActive,
		PurchasedAt:  stubEpoch,
		ExpiresAt:    stubEpoch.AddDate(0, 0, 30),
	}
	withLast := func(last time.Time) Purchase {
		purchase := base
		purchase.LastEarningAt = timePointer(last)
		return purchase
	}
	withStatus := func(status PurchaseStatus) Purchase {
		purchase := base
		purchase.Status = status
		return purchase
	}
	localZone := time.FixedZone("UTC+3", 3*60*60)

	testCases := []struct {
		name         string
		purchase     Purchase
		now          time.Time
		force        bool
		wantDecision AccrualDecision
		wantReason   SkipReason
	}{
		{name: "first accrual is immediate", purchase: base, now: stubEpoch, wantDecision: AccrualAccrue},
		{name: "completed purchase", purchase: withStatus(PurchaseStatusCompleted), now: stubEpoch.Add(time.Hour), wantDecision: AccrualSkip, wantReason: SkipReasonNotActive},
		{name: "cancelled purchase", purchase: withStatus(PurchaseStatusCancelled), now: stubEpoch.Add(time.Hour), force: true, wantDecision: AccrualSkip, wantReason: SkipReasonNotActive},
		{name: "within spacing", purchase: withLast(stubEpoch), now: stubEpoch.Add(23 * time.Hour), wantDecision: AccrualSkip, wantReason: SkipReasonTooSoon},
		{name: "exactly at spacing", purchase: withLast(stubEpoch), now: stubEpoch.Add(24 * time.Hour), wantDecision: AccrualAccrue},
		{name: "force bypasses spacing", purchase: withLast(stubEpoch), now: stubEpoch.Add(time.Minute), force: true, wantDecision: AccrualAccrue},
		{name: "at expiry", purchase: withLast(stubEpoch.AddDate(0, 0, 29)), now: stubEpoch.AddDate(0, 0, 30), wantDecision: AccrualExpire},
		{name: "force does not bypass expiry", purchase: base, now: stubEpoch.AddDate(0, 0, 31), force: true, wantDecision: AccrualExpire},
		{name: "non utc clock", purchase: withLast(stubEpoch), now: stubEpoch.Add(25 * time.Hour).In(localZone), wantDecision: AccrualAccrue},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			evaluation := EvaluateAccrual(testCase.purchase, testCase.now, testCase.force)
			if evaluation.Decision != testCase.wantDecision {
				test.Fatalf("expected %s, got %s", testCase.wantDecision, evaluation.Decision)
			}
			if evaluation.Reason != testCase.wantReason {
				test.Fatalf("expected reason %q, got %q", testCase.wantReason, evaluation.Reason)
			}
			if evaluation.Decision == AccrualAccrue {
				requireDecimal(test, "amount", "100", evaluation.Amount.Decimal())
			}
		})
	}
}

func TestAccruePurchaseInsertsEarningAndAdvancesLastEarning(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &manualClock{now: stubEpoch.Add(90 * time.Minute).Add(123 * time.Nanosecond)}
	service := mustNewService(test, store, clock)
	userID := seedUser(test, store, "user-1", "0")
	purchase := seedPurchase(test, store, purchaseSeed{id: "p-1", userID: userID, price: "1000", rate: "0.10", days: 30})

	outcome, err := service.AccruePurchase(context.Background(), purchase.ID, false)
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if outcome.Decision != AccrualAccrue || outcome.Earning == nil {
		test.Fatalf("expected accrual, got %+v", outcome)
	}
	earning := store.earnings[outcome.Earning.ID]
	if earning.Status != EarningStatusPending {
		test.Fatalf("expected pending earning, got %s", earning.Status)
	}
	requireDecimal(test, "earning amount", "100", earning.Amount.Decimal())
	if !earning.EarningDate.Equal(stubEpoch.Add(90 * time.Minute)) {
		test.Fatalf("expected earning date truncated to the second, got %s", earning.EarningDate)
	}
	stored := store.purchases[purchase.ID]
	if stored.LastEarningAt == nil || !stored.LastEarningAt.Equal(clock.now.Truncate(time.Microsecond)) {
		test.Fatalf("expected last earning advanced to now, got %v", stored.LastEarningAt)
	}
	if !store.users[userID].Balance.Decimal().IsZero() {
		test.Fatalf("accrual must not touch the balance")
	}
}

func TestAccruePurchaseMaturityPolicyCreatesActiveEarnings(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &manualClock{now: stubEpoch}
	service := mustNewService(test, store, clock, WithCreditingPolicy(CreditingPolicyMaturity))
	userID := seedUser(test, store, "user-1", "0")
	purchase := seedPurchase(test, store, purchaseSeed{id: "p-1", userID: userID, price: "100", rate: "0.01", days: 10})

	outcome, err := service.AccruePurchase(context.Background(), purchase.ID, false)
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if outcome.Earning == nil || outcome.Earning.Status != EarningStatusActive {
		test.Fatalf("expected active earning, got %+v", outcome.Earning)
	}
}

func TestAccruePurchaseExpiresWithoutEarning(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &manualClock{now: stubEpoch.AddDate(0, 0, 5)}
	publisher := &recordingPublisher{}
	service := mustNewService(test, store, clock, WithEventPublisher(publisher))
	userID := seedUser(test, store, "user-1", "0")
	purchase := seedPurchase(test, store, purchaseSeed{id: "p-1", userID: userID, price: "50", rate: "0.02", days: 5})

	outcome, err := service.AccruePurchase(context.Background(), purchase.ID, true)
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if outcome.Decision != AccrualExpire {
		test.Fatalf("expected expire, got %s", outcome.Decision)
	}
	if store.purchases[purchase.ID].Status != PurchaseStatusCompleted {
		test.Fatalf("expected completed purchase, got %s", store.purchases[purchase.ID].Status)
	}
	if len(store.earnings) != 0 {
		test.Fatalf("expected no earnings, got %d", len(store.earnings))
	}
	if len(publisher.events) != 1 || publisher.events[0].Kind != EventPurchaseCompleted {
		test.Fatalf("expected purchase_completed event, got %+v", publisher.events)
	}
}

func TestAccruePurchaseClampsToRemainingCap(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &manualClock{now: stubEpoch.AddDate(0, 0, 2)}
	service := mustNewService(test, store, clock)
	userID := seedUser(test, store, "user-1", "0")
	purchase := seedPurchase(test, store, purchaseSeed{id: "p-1", userID: userID, price: "100", rate: "0.10", days: 3})
	seedEarning(test, store, "e-1", purchase, "10", EarningStatusCredited, stubEpoch)
	seedEarning(test, store, "e-2", purchase, "15", EarningStatusPending, stubEpoch.Add(time.Hour))
	seedEarning(test, store, "e-3", purchase, "99", EarningStatusCancelled, stubEpoch.Add(2*time.Hour))

	outcome, err := service.AccruePurchase(context.Background(), purchase.ID, true)
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if outcome.Earning == nil {
		test.Fatalf("expected clamped earning, got %+v", outcome)
	}
	requireDecimal(test, "clamped amount", "5", outcome.Earning.Amount.Decimal())

	clock.Advance(time.Minute)
	outcome, err = service.AccruePurchase(context.Background(), purchase.ID, true)
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if outcome.Decision != AccrualSkip || outcome.Reason != SkipReasonCapReached {
		test.Fatalf("expected cap_reached skip, got %+v", outcome)
	}
}

func TestAccruePurchaseTreatsDuplicateAsLostRace(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &manualClock{now: stubEpoch}
	logger := &recorderLogger{}
	service := mustNewService(test, store, clock, WithOperationLogger(logger))
	userID := seedUser(test, store, "user-1", "0")
	purchase := seedPurchase(test, store, purchaseSeed{id: "p-1", userID: userID, price: "100", rate: "0.10", days: 3})
	store.failures["InsertEarning"] = WrapError("store", "earning", "duplicate", ErrDuplicateEarning)

	outcome, err := service.AccruePurchase(context.Background(), purchase.ID, false)
	if err != nil {
		test.Fatalf("expected lost race to be swallowed, got %v", err)
	}
	if outcome.Decision != AccrualSkip || outcome.Reason != SkipReasonLostRace {
		test.Fatalf("expected lost race skip, got %+v", outcome)
	}
	if store.purchases[purchase.ID].LastEarningAt != nil {
		test.Fatalf("expected last earning untouched")
	}
	if len(logger.entries) != 1 || logger.entries[0].Status != OperationStatusSkipped {
		test.Fatalf("expected one skipped log entry, got %+v", logger.entries)
	}
}

func TestAccruePurchaseRollsBackWhenLastEarningMoved(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &manualClock{now: stubEpoch.Add(48 * time.Hour)}
	service := mustNewService(test, store, clock)
	userID := seedUser(test, store, "user-1", "0")
	purchase := seedPurchase(test, store, purchaseSeed{id: "p-1", userID: userID, price: "100", rate: "0.10", days: 3, lastEarningAt: timePointer(stubEpoch)})
	store.failures["AdvanceLastEarningAt"] = ErrStaleRecord

	outcome, err := service.AccruePurchase(context.Background(), purchase.ID, false)
	if err != nil {
		test.Fatalf("accrue: %v", err)
	}
	if outcome.Reason != SkipReasonLostRace {
		test.Fatalf("expected lost race, got %+v", outcome)
	}
	if len(store.earnings) != 0 {
		test.Fatalf("expected earning insert rolled back, got %d earnings", len(store.earnings))
	}
}

func TestAccruePurchaseUnknownPurchase(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, &manualClock{now: stubEpoch})
	_, err := service.AccruePurchase(context.Background(), mustPurchaseID(test, "missing"), false)
	if !errors.Is(err, ErrUnknownPurchase) {
		test.Fatalf("expected ErrUnknownPurchase, got %v", err)
	}
}

func TestRepeatedAccrualWithinIntervalCreatesOneEarning(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &manualClock{now: stubEpoch}
	service := mustNewService(test, store, clock)
	userID := seedUser(test, store, "user-1", "0")
	purchase := seedPurchase(test, store, purchaseSeed{id: "p-1", userID: userID, price: "1000", rate: "0.10", days: 30})

	for attempt := 0; attempt < 5; attempt++ {
		if _, err := service.AccruePurchase(context.Background(), purchase.ID, false); err != nil {
			test.Fatalf("accrue attempt %d: %v", attempt, err)
		}
		clock.Advance(time.Hour)
	}
	if len(store.earnings) != 1 {
		test.Fatalf("expected a single earning inside one interval, got %d", len(store.earnings))
	}
}
