package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/yield/internal/metrics"
	"github.com/MarkoPoloResearchLab/yield/internal/notify"
	"github.com/MarkoPoloResearchLab/yield/internal/oplog"
	"github.com/MarkoPoloResearchLab/yield/internal/yieldapi"
	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"go.uber.org/zap"
)

const dispatcherDrainTimeout = 5 * time.Second

// application holds the ledger service and the sinks wired into it.
type application struct {
	service    *ledger.Service
	recorder   *metrics.Recorder
	dispatcher *notify.Dispatcher
	closeStore func() error
}

func openApplication(ctx context.Context, cfg yieldapi.Config, logger *zap.Logger) (*application, error) {
	policy, err := ledger.ParseCreditingPolicy(cfg.CreditingPolicy)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	recorder := metrics.NewRecorder()
	dispatcher := notify.NewDispatcher(notify.NewLogNotifier(logger), logger, 0)
	sinks := oplog.NewFanout(oplog.NewZapLogger(logger), recorder)
	service, err := ledger.NewService(store, time.Now,
		ledger.WithOperationLogger(sinks),
		ledger.WithSweepObserver(sinks),
		ledger.WithEventPublisher(dispatcher),
		ledger.WithCreditingPolicy(policy),
	)
	if err != nil {
		_ = dispatcher.Close(context.Background())
		_ = closeStore()
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	return &application{
		service:    service,
		recorder:   recorder,
		dispatcher: dispatcher,
		closeStore: closeStore,
	}, nil
}

// Close drains pending events, then closes the store.
func (app *application) Close() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), dispatcherDrainTimeout)
	defer cancel()
	return errors.Join(app.dispatcher.Close(drainCtx), app.closeStore())
}
