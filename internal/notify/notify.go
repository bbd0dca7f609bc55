// Package notify delivers committed ledger events off the request path.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"go.uber.org/zap"
)

const defaultBufferSize = 256

// ErrDispatcherClosed is returned by Close when called twice.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Notifier receives events on the dispatcher worker goroutine.
type Notifier interface {
	Notify(ctx context.Context, event ledger.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event ledger.Event) error

// Notify calls fn.
func (fn NotifierFunc) Notify(ctx context.Context, event ledger.Event) error {
	return fn(ctx, event)
}

// Dispatcher implements ledger.EventPublisher with a bounded queue and one worker.
// Publish never blocks: a full queue drops the event with a warning.
type Dispatcher struct {
	notifier Notifier
	logger   *zap.Logger
	queue    chan ledger.Event
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the worker. bufferSize <= 0 selects the default.
func NewDispatcher(notifier Notifier, logger *zap.Logger, bufferSize int) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	dispatcher := &Dispatcher{
		notifier: notifier,
		logger:   logger,
		queue:    make(chan ledger.Event, bufferSize),
		done:     make(chan struct{}),
	}
	go dispatcher.run()
	return dispatcher
}

// Publish implements ledger.EventPublisher.
func (dispatcher *Dispatcher) Publish(_ context.Context, event ledger.Event) {
	dispatcher.mu.RLock()
	defer dispatcher.mu.RUnlock()
	if dispatcher.closed {
		dispatcher.logger.Warn("event dropped after close", zap.String("kind", string(event.Kind)), zap.String("subject_id", event.SubjectID))
		return
	}
	select {
	case dispatcher.queue <- event:
	default:
		dispatcher.logger.Warn("event queue full, dropping event", zap.String("kind", string(event.Kind)), zap.String("subject_id", event.SubjectID))
	}
}

// Close stops accepting events and waits until the queued ones are delivered
// or ctx expires.
func (dispatcher *Dispatcher) Close(ctx context.Context) error {
	dispatcher.mu.Lock()
	if dispatcher.closed {
		dispatcher.mu.Unlock()
		return ErrDispatcherClosed
	}
	dispatcher.closed = true
	close(dispatcher.queue)
	dispatcher.mu.Unlock()

	select {
	case <-dispatcher.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (dispatcher *Dispatcher) run() {
	defer close(dispatcher.done)
	for event := range dispatcher.queue {
		if err := dispatcher.notifier.Notify(context.Background(), event); err != nil {
			dispatcher.logger.Error("event delivery failed",
				zap.String("kind", string(event.Kind)),
				zap.String("subject_id", event.SubjectID),
				zap.Error(err),
			)
		}
	}
}

// LogNotifier writes events to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("events")}
}

// Notify implements Notifier. Withdrawal requests log at warn so administrators see them.
func (notifier *LogNotifier) Notify(_ context.Context, event ledger.Event) error {
	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("user_id", event.UserID.String()),
		zap.String("subject_id", event.SubjectID),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if !event.Amount.IsZero() {
		fields = append(fields, zap.String("amount", event.Amount.String()))
	}
	if event.Kind == ledger.EventWithdrawalRequested {
		notifier.logger.Warn("withdrawal awaiting approval", fields...)
		return nil
	}
	notifier.logger.Info("ledger event", fields...)
	return nil
}
