// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. Reads and writes are
// batch-oriented: the pipeline reads one bounded window and writes derived rows
// in single bulk operations.
type Repository interface {
	// Entity seeding
	SaveAccounts(ctx context.Context, accounts []*Account) error
	SaveCards(ctx context.Context, cards []*Card) error
	SaveMerchants(ctx context.Context, merchants []*Merchant) error
	ListCards(ctx context.Context) ([]*Card, error)
	ListMerchants(ctx context.Context) ([]*Merchant, error)

	// Transaction operations
	SaveTransactions(ctx context.Context, txs []*Transaction) (int, error)
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// ScoringBatch returns transactions joined with merchant attributes.
	// A nil since means all transactions.
	ScoringBatch(ctx context.Context, since *time.Time) ([]ScoringRow, error)

	// FeatureSourceRows returns transactions joined with card brand and
	// merchant risk tier, for the feature pipeline.
	FeatureSourceRows(ctx context.Context) ([]ScoringRow, error)

	// Derived-row sinks: append-only bulk writes.
	SaveFeatureRows(ctx context.Context, rows []*FeatureRow) error
	SaveAlerts(ctx context.Context, alerts []*Alert) error

	// Alert reads for the API and reporting.
	ListAlerts(ctx context.Context, limit int) ([]*Alert, error)
	CountAlerts(ctx context.Context) (int64, error)

	// DailyKPIs aggregates per-day transaction and alert counts.
	DailyKPIs(ctx context.Context, days int) ([]DailyKPI, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// BatchSize bounds rows per bulk-insert statement. 0 uses a default.
	BatchSize int
}
