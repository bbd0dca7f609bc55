package yieldapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
)

const (
	defaultListenAddr     = ":8080"
	defaultGRPCAddr       = ":7000"
	defaultDatabaseURL    = "sqlite:///tmp/yield.db"
	defaultStoreDriver    = StoreDriverGorm
	defaultSweepSchedule  = "@every 1h"
	defaultAllowedOrigin  = "http://localhost:8000"
	defaultSessionIssuer  = "tauth"
	defaultSessionCookie  = "app_session"
	defaultAdminRole      = "admin"
	defaultRequestTimeout = 5 * time.Second
	earningsPageLimit     = 100
)

// Store drivers accepted by the daemon.
const (
	StoreDriverGorm = "gorm"
	StoreDriverPgx  = "pgx"
)

// Config aggregates runtime settings for the yield daemon.
type Config struct {
	ListenAddr        string
	GRPCAddr          string
	DatabaseURL       string
	StoreDriver       string
	SweepSchedule     string
	SweepBatchSize    int
	CreditingPolicy   string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	AdminRole         string
	RequestTimeout    time.Duration
	MetricsEnabled    bool
}

// Validate ensures the configuration contains sane values.
// An empty SweepSchedule after defaults means the caller set it to "off".
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.GRPCAddr = defaultIfEmpty(cfg.GRPCAddr, defaultGRPCAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, defaultStoreDriver))
	if strings.EqualFold(strings.TrimSpace(cfg.SweepSchedule), "off") {
		cfg.SweepSchedule = ""
	} else {
		cfg.SweepSchedule = defaultIfEmpty(cfg.SweepSchedule, defaultSweepSchedule)
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = ledger.DefaultSweepBatchSize
	}
	cfg.CreditingPolicy = defaultIfEmpty(cfg.CreditingPolicy, ledger.CreditingPolicyIncremental.String())
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.AdminRole = defaultIfEmpty(cfg.AdminRole, defaultAdminRole)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if cfg.StoreDriver != StoreDriverGorm && cfg.StoreDriver != StoreDriverPgx {
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == StoreDriverPgx && !IsPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("store driver %s requires a postgres database url", StoreDriverPgx)
	}
	if cfg.SweepBatchSize < 1 || cfg.SweepBatchSize > ledger.MaxSweepBatchSize {
		return fmt.Errorf("sweep batch size must be between 1 and %d", ledger.MaxSweepBatchSize)
	}
	if _, err := ledger.ParseCreditingPolicy(cfg.CreditingPolicy); err != nil {
		return err
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

// IsPostgresURL reports whether raw names a postgres database.
func IsPostgresURL(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
