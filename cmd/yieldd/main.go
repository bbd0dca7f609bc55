package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/yield/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/yield/internal/scheduler"
	"github.com/MarkoPoloResearchLab/yield/internal/yieldapi"
	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix = "YIELDD"

	flagDatabaseURL       = "database-url"
	flagStoreDriver       = "store-driver"
	flagCreditingPolicy   = "crediting-policy"
	flagListenAddr        = "listen-addr"
	flagGRPCAddr          = "grpc-addr"
	flagSweepSchedule     = "sweep-schedule"
	flagSweepBatchSize    = "sweep-batch-size"
	flagAllowedOrigins    = "allowed-origins"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookie     = "session-cookie"
	flagAdminRole         = "admin-role"
	flagRequestTimeout    = "request-timeout"
	flagMetricsEnabled    = "metrics-enabled"
	flagBatchSize         = "batch-size"
	flagForce             = "force"

	schedulerStopTimeout = 30 * time.Second
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "yieldd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	settings := viper.New()
	cfg := &yieldapi.Config{}
	cmd := &cobra.Command{
		Use:           "yieldd",
		Short:         "Investment ledger with daily earnings accrual",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, settings, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, "", "database url (postgres://... or sqlite://path)")
	flags.String(flagStoreDriver, yieldapi.StoreDriverGorm, "store implementation: gorm or pgx")
	flags.String(flagCreditingPolicy, ledger.CreditingPolicyIncremental.String(), "crediting policy: incremental or maturity")
	flags.String(flagListenAddr, "", "HTTP listen address")
	flags.String(flagGRPCAddr, "", "gRPC health listen address")
	flags.String(flagSweepSchedule, "", `cron schedule for sweeps, "off" disables`)
	flags.Int(flagSweepBatchSize, ledger.DefaultSweepBatchSize, "purchases and earnings per sweep page")
	flags.String(flagAllowedOrigins, "", "comma-separated CORS origins")
	flags.String(flagSessionSigningKey, "", "tauth session signing key")
	flags.String(flagSessionIssuer, "", "tauth session issuer")
	flags.String(flagSessionCookie, "", "tauth session cookie name")
	flags.String(flagAdminRole, "", "session role allowed on admin routes")
	flags.Duration(flagRequestTimeout, 0, "per-request ledger timeout")
	flags.Bool(flagMetricsEnabled, true, "serve Prometheus metrics on /metrics")

	cmd.AddCommand(newServeCommand(cfg), newSweepCommand(cfg), newStatusCommand(cfg))
	return cmd
}

func loadConfig(cmd *cobra.Command, settings *viper.Viper, cfg *yieldapi.Config) error {
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	if err := settings.BindEnv(flagDatabaseURL, envPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return err
	}
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = settings.GetString(flagDatabaseURL)
	cfg.StoreDriver = settings.GetString(flagStoreDriver)
	cfg.CreditingPolicy = settings.GetString(flagCreditingPolicy)
	cfg.ListenAddr = settings.GetString(flagListenAddr)
	cfg.GRPCAddr = settings.GetString(flagGRPCAddr)
	cfg.SweepSchedule = settings.GetString(flagSweepSchedule)
	cfg.SweepBatchSize = settings.GetInt(flagSweepBatchSize)
	cfg.AllowedOrigins = yieldapi.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = settings.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = settings.GetString(flagSessionIssuer)
	cfg.SessionCookieName = settings.GetString(flagSessionCookie)
	cfg.AdminRole = settings.GetString(flagAdminRole)
	cfg.RequestTimeout = settings.GetDuration(flagRequestTimeout)
	cfg.MetricsEnabled = settings.GetBool(flagMetricsEnabled)

	if cmd.Name() != "serve" && cfg.SessionSigningKey == "" {
		// Offline commands never validate sessions.
		cfg.SessionSigningKey = "unused"
	}
	return cfg.Validate()
}

func newServeCommand(cfg *yieldapi.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, the gRPC health endpoint and scheduled sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *cfg)
		},
	}
}

func newSweepCommand(cfg *yieldapi.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one accrual and crediting sweep and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			batchSize, err := cmd.Flags().GetInt(flagBatchSize)
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool(flagForce)
			if err != nil {
				return err
			}
			if batchSize == 0 {
				batchSize = cfg.SweepBatchSize
			}
			return runSweep(ctx, *cfg, ledger.SweepRequest{BatchSize: batchSize, Force: force}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int(flagBatchSize, 0, "page size for this sweep (defaults to --sweep-batch-size)")
	cmd.Flags().Bool(flagForce, false, "accrue even when the 24h spacing has not elapsed")
	return cmd
}

func newStatusCommand(cfg *yieldapi.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the accrual backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), *cfg, cmd.OutOrStdout())
		},
	}
}

func newLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return logger, nil
}

func runServe(ctx context.Context, cfg yieldapi.Config) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := openApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Warn("shutdown cleanup failed", zap.Error(closeErr))
		}
	}()

	validator, err := yieldapi.NewSessionValidator(cfg)
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		metricsHandler = app.recorder.Handler()
	}
	handler := yieldapi.NewHandler(app.service, logger, cfg, time.Now)
	router := yieldapi.NewRouter(cfg, handler, validator, metricsHandler)

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	health := grpcserver.NewHealthServer(logger, grpcserver.WithProbe(func(ctx context.Context) error {
		_, err := app.service.EarningsStatus(ctx)
		return err
	}, 0))

	if cfg.SweepSchedule != "" {
		sweepScheduler, err := scheduler.New(app.service, cfg.SweepSchedule, ledger.SweepRequest{BatchSize: cfg.SweepBatchSize}, logger)
		if err != nil {
			_ = listener.Close()
			return err
		}
		sweepScheduler.Start(ctx)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), schedulerStopTimeout)
			defer cancel()
			if stopErr := sweepScheduler.Stop(stopCtx); stopErr != nil {
				logger.Warn("scheduler stop timed out", zap.Error(stopErr))
			}
		}()
	} else {
		logger.Info("sweep scheduler disabled")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return yieldapi.Serve(groupCtx, cfg, router, logger) })
	group.Go(func() error { return health.Serve(groupCtx, listener) })
	return group.Wait()
}

func runSweep(ctx context.Context, cfg yieldapi.Config, request ledger.SweepRequest, out io.Writer) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := openApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	report, err := app.service.RunSweep(ctx, request)
	if err != nil {
		return err
	}
	return writeJSON(out, sweepSummary(report))
}

func runStatus(ctx context.Context, cfg yieldapi.Config, out io.Writer) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := openApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	report, err := app.service.EarningsStatus(ctx)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"at":                 report.At,
		"active_purchases":   report.ActivePurchases,
		"eligible_purchases": report.EligiblePurchases,
		"pending_earnings":   report.PendingEarnings,
		"active_earnings":    report.ActiveEarnings,
	})
}

func sweepSummary(report ledger.SweepReport) map[string]any {
	failures := make([]map[string]string, 0, len(report.Failures))
	for _, failure := range report.Failures {
		failures = append(failures, map[string]string{
			"phase":      failure.Phase,
			"subject_id": failure.SubjectID,
			"error":      failure.Err.Error(),
		})
	}
	return map[string]any{
		"batch_size":         report.BatchSize,
		"force":              report.Force,
		"purchases_scanned":  report.PurchasesScanned,
		"earnings_created":   report.EarningsCreated,
		"earnings_credited":  report.EarningsCredited,
		"amount_credited":    report.AmountCredited.String(),
		"purchases_expired":  report.PurchasesExpired,
		"purchases_skipped":  report.PurchasesSkipped,
		"duplicate_earnings": report.DuplicateEarnings,
		"interrupted":        report.Interrupted,
		"duration":           report.Duration().String(),
		"failures":           failures,
	}
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
