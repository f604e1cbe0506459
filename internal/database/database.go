package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options tunes the store. The zero value is usable: every field falls back
// to its default.
type Options struct {
	// PriceChangeThreshold is the relative price change that forces a new
	// price observation on save (0.001 = 0.1%).
	PriceChangeThreshold float64

	// PriceRefreshInterval is the maximum age of the latest observation
	// before an unchanged price is recorded again.
	PriceRefreshInterval time.Duration

	// BusyTimeout is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY.
	BusyTimeout time.Duration

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions returns the thresholds and pool settings used in
// production.
func DefaultOptions() Options {
	return Options{
		PriceChangeThreshold: 0.001,
		PriceRefreshInterval: 168 * time.Hour,
		BusyTimeout:          5 * time.Second,
		MaxOpenConns:         4,
		MaxIdleConns:         2,
		ConnMaxLifetime:      time.Hour,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.PriceChangeThreshold <= 0 {
		o.PriceChangeThreshold = def.PriceChangeThreshold
	}
	if o.PriceRefreshInterval <= 0 {
		o.PriceRefreshInterval = def.PriceRefreshInterval
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = def.BusyTimeout
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = def.MaxOpenConns
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = def.MaxIdleConns
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = def.ConnMaxLifetime
	}
	return o
}

// Database is the single handle to the listing catalog. It holds no mutable
// state of its own; all invariants are enforced by SQLite's constraints and
// transactions, so any number of Database values may point at the same file.
type Database struct {
	db     *gorm.DB
	opts   Options
	logger *logrus.Logger
}

// NewDatabase opens (creating directories and the file if needed) the
// database at dbPath and brings the schema up to date.
func NewDatabase(dbPath string, opts Options, logger *logrus.Logger) (*Database, error) {
	d, err := openDatabase(dbPath, opts, logger)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return d, nil
}

// NewDatabaseWithoutMigrations opens the database for inspection without
// touching the schema. Intended for tooling that must look at a file as-is.
func NewDatabaseWithoutMigrations(dbPath string, opts Options, logger *logrus.Logger) (*Database, error) {
	return openDatabase(dbPath, opts, logger)
}

func openDatabase(dbPath string, opts Options, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	opts = opts.withDefaults()

	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d",
		dbPath, opts.BusyTimeout.Milliseconds())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", classify(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	return &Database{db: db, opts: opts, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB exposes the underlying gorm handle for tooling that needs raw
// access to the file.
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// transaction runs fn inside exactly one transaction; the commit is the
// atomicity boundary for every multi-step operation in this package.
func (d *Database) transaction(fn func(tx *gorm.DB) error) error {
	if err := d.db.Transaction(fn); err != nil {
		return classify(err)
	}
	return nil
}
