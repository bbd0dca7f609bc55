package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/yield/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/yield/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/yield/internal/yieldapi"
	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	databasePostgres = "postgres"
	databaseSQLite   = "sqlite"
)

// openStore opens the configured backend, prepares its schema and returns the
// store with a cleanup function.
func openStore(ctx context.Context, cfg yieldapi.Config) (ledger.Store, func() error, error) {
	if cfg.StoreDriver == yieldapi.StoreDriverPgx {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("pgx pool: %w", err)
		}
		if err := pgstore.ApplySchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.New(pool), func() error { pool.Close(); return nil }, nil
	}

	gormDB, cleanup, database, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := prepareSchema(ctx, gormDB, database, cfg.DatabaseURL); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return gormstore.New(gormDB), cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	database, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch database {
	case databasePostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case databaseSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", database)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if database == databaseSQLite {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY under concurrent sweeps.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, database, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if yieldapi.IsPostgresURL(dsn) {
		return databasePostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "yield.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return databaseSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return databaseSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// prepareSchema migrates sqlite through gorm models and postgres through the
// SQL schema shared with the pgx store.
func prepareSchema(ctx context.Context, db *gorm.DB, database string, dsn string) error {
	if database == databaseSQLite {
		if err := gormstore.AutoMigrate(db); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	defer pool.Close()
	return pgstore.ApplySchema(ctx, pool)
}
