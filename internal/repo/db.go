// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for the
// supported dialects (SQLite via a pure Go driver, PostgreSQL, MySQL) and
// schema migrations.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-newsletter/internal/domain"
)

// Supported DB_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// sqlitePragmas are applied through the DSN so that every pooled connection
// gets them, not only the first one.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// Open connects to the database selected by driver. For sqlite, dsn is a
// file path; for postgres and mysql it is the driver's native DSN.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		return OpenSQLite(dsn)
	case DriverPostgres:
		return openPooled(postgres.Open(dsn))
	case DriverMySQL:
		return openPooled(mysql.Open(dsn))
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}
	return openPooled(sqlite.Open(sqliteDSN(path)))
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

func openPooled(d gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(d, gormConfig())
	if err != nil {
		return nil, err
	}

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(DefaultMaxOpenConns)
		sqlDB.SetMaxIdleConns(DefaultMaxOpenConns)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// DefaultMaxOpenConns is the pool size Open starts with.
const DefaultMaxOpenConns = 10

// SetPoolSize resizes the connection pool; n <= 0 keeps the current size.
func SetPoolSize(db *gorm.DB, n int) error {
	if n <= 0 {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(n)
	sqlDB.SetMaxIdleConns(n)
	return nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// EnableTracing installs the GORM OpenTelemetry plugin so queries show up as
// child spans of the calling request or worker iteration.
func EnableTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// SupportsSkipLocked reports whether the dialect has row-level
// FOR UPDATE SKIP LOCKED.
func SupportsSkipLocked(db *gorm.DB) bool {
	switch db.Dialector.Name() {
	case DriverPostgres, DriverMySQL:
		return true
	default:
		return false
	}
}

// AutoMigrate creates or updates the schema for all persisted models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Subscriber{},
		&domain.Issue{},
		&domain.DeliveryTask{},
		&domain.IdempotencyRecord{},
	)
}
