package domain

import (
	"context"
	"time"
)

// Warehouse is the append-only transaction store. Store deduplicates by
// transaction ID with last-write-wins semantics and keeps the aggregate
// snapshot in step with the persisted set. An empty warehouse is a valid
// state, never an error.
//
// Store is a full read-modify-write of the persisted set and must be
// serialized by the caller; Get and Statistics are safe to call concurrently.
type Warehouse interface {
	// Store stamps the batch with the source tag and ingestion time, merges
	// it into the persisted set, and recomputes the aggregate snapshot.
	Store(ctx context.Context, batch []Transaction, source string) error

	// Get returns rows matching the filter, ordered by timestamp descending.
	Get(ctx context.Context, filter Filter) ([]Transaction, error)

	// Statistics returns the last persisted aggregate snapshot, or nil when
	// the warehouse is empty.
	Statistics(ctx context.Context) (*WarehouseStats, error)

	// SaveRule upserts a screening rule by ID.
	SaveRule(ctx context.Context, rule ScreeningRule) error

	// ListRules returns screening rules, optionally restricted to enabled ones.
	ListRules(ctx context.Context, enabledOnly bool) ([]ScreeningRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Filter narrows a Get query. Date bounds are inclusive; UserID is an exact
// match; Limit truncates the ordered result when positive.
type Filter struct {
	StartDate *time.Time
	EndDate   *time.Time
	UserID    string
	Limit     int
}

// WarehouseConfig holds configuration for warehouse initialization.
type WarehouseConfig struct {
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
}
