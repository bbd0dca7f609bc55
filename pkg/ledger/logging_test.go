package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

type recordingPublisher struct {
	events []Event
}

func (publisher *recordingPublisher) Publish(_ context.Context, event Event) {
	publisher.events = append(publisher.events, event)
}

func TestServiceLogsBuyOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, &manualClock{now: stubEpoch}, WithOperationLogger(logger))
	userID := seedUser(test, store, "user-1", "500")

	purchase, err := service.Buy(context.Background(), userID, PurchaseOrder{
		ProductName:  "Growth Plan",
		Price:        mustPrice(test, "100"),
		DailyRate:    mustDailyRate(test, "0.01"),
		DurationDays: mustDurationDays(test, 30),
	})
	if err != nil {
		test.Fatalf("buy: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != OperationBuy || entry.UserID != userID || entry.SubjectID != purchase.ID.String() {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	requireDecimal(test, "logged amount", "100", entry.Amount)
	if entry.Error != nil || entry.Status != OperationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.failures["WithTx"] = errStubFailure
	logger := &recorderLogger{}
	publisher := &recordingPublisher{}
	service := mustNewService(test, store, &manualClock{now: stubEpoch}, WithOperationLogger(logger), WithEventPublisher(publisher))
	userID := seedUser(test, store, "user-1", "500")

	_, err := service.Buy(context.Background(), userID, PurchaseOrder{
		ProductName:  "Growth Plan",
		Price:        mustPrice(test, "100"),
		DailyRate:    mustDailyRate(test, "0.01"),
		DurationDays: mustDurationDays(test, 30),
	})
	if !errors.Is(err, errStubFailure) {
		test.Fatalf("expected stub failure, got %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != OperationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
	if len(publisher.events) != 0 {
		test.Fatalf("expected no events for a failed operation, got %+v", publisher.events)
	}
}

func TestNewServiceValidatesDependencies(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &manualClock{now: stubEpoch}
	testCases := []struct {
		name    string
		store   Store
		now     func() time.Time
		options []ServiceOption
	}{
		{name: "nil store", now: clock.Now},
		{name: "nil clock", store: store},
		{name: "nil id generator", store: store, now: clock.Now, options: []ServiceOption{WithIDGenerator(nil)}},
		{name: "unknown policy", store: store, now: clock.Now, options: []ServiceOption{WithCreditingPolicy("weekly")}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := NewService(testCase.store, testCase.now, testCase.options...); !errors.Is(err, ErrInvalidServiceConfig) {
				test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
			}
		})
	}

	service, err := NewService(store, clock.Now)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	if service.CreditingPolicy() != CreditingPolicyIncremental {
		test.Fatalf("expected incremental default, got %s", service.CreditingPolicy())
	}
}
