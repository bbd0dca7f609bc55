// Package oplog adapts ledger operation callbacks to structured loggers.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger writes every ledger operation as one structured zap entry.
// Failed operations log at error level, skips at debug, the rest at info.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps logger. A nil logger discards entries.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("subject_id", entry.SubjectID),
	}
	if !entry.UserID.IsZero() {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.Reason != "" {
		fields = append(fields, zap.String("reason", entry.Reason))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	zapLogger.logger.Log(levelFor(entry.Status), "ledger operation", fields...)
}

// ObserveSweep implements ledger.SweepObserver.
func (zapLogger *ZapLogger) ObserveSweep(_ context.Context, report ledger.SweepReport) {
	level := zapcore.InfoLevel
	if len(report.Failures) > 0 || report.Interrupted {
		level = zapcore.WarnLevel
	}
	zapLogger.logger.Log(level, "sweep finished",
		zap.Int("batch_size", report.BatchSize),
		zap.Bool("force", report.Force),
		zap.Int("purchases_scanned", report.PurchasesScanned),
		zap.Int("earnings_created", report.EarningsCreated),
		zap.Int("earnings_credited", report.EarningsCredited),
		zap.String("amount_credited", report.AmountCredited.String()),
		zap.Int("purchases_expired", report.PurchasesExpired),
		zap.Int("purchases_skipped", report.PurchasesSkipped),
		zap.Int("duplicate_earnings", report.DuplicateEarnings),
		zap.Int("failures", len(report.Failures)),
		zap.Bool("interrupted", report.Interrupted),
		zap.Duration("duration", report.Duration()),
	)
	for _, failure := range report.Failures {
		zapLogger.logger.Warn("sweep unit failed",
			zap.String("phase", failure.Phase),
			zap.String("subject_id", failure.SubjectID),
			zap.Error(failure.Err),
		)
	}
}

func levelFor(status string) zapcore.Level {
	switch status {
	case ledger.OperationStatusError:
		return zapcore.ErrorLevel
	case ledger.OperationStatusSkipped:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Fanout forwards operations and sweep reports to several sinks.
type Fanout struct {
	loggers   []ledger.OperationLogger
	observers []ledger.SweepObserver
}

// NewFanout collects sinks; each argument is registered for every interface it implements.
func NewFanout(sinks ...any) *Fanout {
	fanout := &Fanout{}
	for _, sink := range sinks {
		if logger, ok := sink.(ledger.OperationLogger); ok {
			fanout.loggers = append(fanout.loggers, logger)
		}
		if observer, ok := sink.(ledger.SweepObserver); ok {
			fanout.observers = append(fanout.observers, observer)
		}
	}
	return fanout
}

// LogOperation implements ledger.OperationLogger.
func (fanout *Fanout) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	for _, logger := range fanout.loggers {
		logger.LogOperation(ctx, entry)
	}
}

// ObserveSweep implements ledger.SweepObserver.
func (fanout *Fanout) ObserveSweep(ctx context.Context, report ledger.SweepReport) {
	for _, observer := range fanout.observers {
		observer.ObserveSweep(ctx, report)
	}
}
