package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation string
	UserID    UserID
	SubjectID string
	Amount    decimal.Decimal
	Status    string
	Reason    string
	Error     error
}

// SweepObserver receives the report of every completed sweep.
type SweepObserver interface {
	ObserveSweep(ctx context.Context, report SweepReport)
}

// EventKind names a committed ledger change.
type EventKind string

const (
	EventDepositApproved       EventKind = "deposit_approved"
	EventDepositRejected       EventKind = "deposit_rejected"
	EventWithdrawalRequested   EventKind = "withdrawal_requested"
	EventWithdrawalApproved    EventKind = "withdrawal_approved"
	EventWithdrawalRejected    EventKind = "withdrawal_rejected"
	EventWithdrawalCompleted   EventKind = "withdrawal_completed"
	EventPurchaseCreated       EventKind = "purchase_created"
	EventPurchaseCompleted     EventKind = "purchase_completed"
	EventPurchaseCancelled     EventKind = "purchase_cancelled"
	EventEarningCredited       EventKind = "earning_credited"
	EventEarningCancelled      EventKind = "earning_cancelled"
	EventEarningsTotalCredited EventKind = "earnings_total_credited"
)

// Event is published after the transaction that produced it commits.
type Event struct {
	Kind       EventKind
	UserID     UserID
	SubjectID  string
	Amount     decimal.Decimal
	OccurredAt time.Time
}

// EventPublisher receives committed ledger events. Implementations must not block.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEventPublisher wires a publisher for committed ledger events.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithSweepObserver wires an observer notified after each sweep.
func WithSweepObserver(observer SweepObserver) ServiceOption {
	return func(service *Service) {
		service.sweepObserver = observer
	}
}

// WithCreditingPolicy fixes how accrued earnings reach the balance.
func WithCreditingPolicy(policy CreditingPolicy) ServiceOption {
	return func(service *Service) {
		service.policy = policy
	}
}

// WithIDGenerator overrides the identifier source (uuid by default).
func WithIDGenerator(generator func() string) ServiceOption {
	return func(service *Service) {
		service.newID = generator
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = OperationStatusError
		} else {
			entry.Status = OperationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) publish(ctx context.Context, events ...Event) {
	if service.publisher == nil {
		return
	}
	for _, event := range events {
		service.publisher.Publish(ctx, event)
	}
}
