// Package warehouse provides the durable append-only transaction store with
// dedup-on-merge semantics.
package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// statsKey is the metadata row holding the aggregate snapshot.
const statsKey = "stats"

// SQLWarehouse implements domain.Warehouse using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLWarehouse struct {
	db     *sql.DB
	driver string
}

// New creates a new warehouse based on configuration.
func New(cfg domain.WarehouseConfig) (domain.Warehouse, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	w := &SQLWarehouse{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := w.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return w, nil
}

func (w *SQLWarehouse) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := w.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Store merges a batch into the persisted set. Every row is stamped with the
// source tag and the current ingestion time, upserted by transaction ID with
// last-write-wins, and the aggregate snapshot is recomputed from the merged
// set inside the same database transaction. Storing the same batch twice is
// idempotent apart from the ingestion timestamps.
func (w *SQLWarehouse) Store(ctx context.Context, batch []domain.Transaction, source string) error {
	if len(batch) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	if source == "" {
		source = "upload"
	}
	now := time.Now().UTC()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin store transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO transactions (
			transaction_id, user_id, amount, timestamp,
			merchant_category, location, device_type, source, ingestion_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			user_id = excluded.user_id,
			amount = excluded.amount,
			timestamp = excluded.timestamp,
			merchant_category = excluded.merchant_category,
			location = excluded.location,
			device_type = excluded.device_type,
			source = excluded.source,
			ingestion_time = excluded.ingestion_time
	`
	upsert = w.rebind(upsert)

	for _, record := range batch {
		record.Normalize()
		_, err := tx.ExecContext(ctx, upsert,
			record.ID, record.UserID, record.Amount, record.Timestamp.UTC(),
			record.MerchantCategory, record.Location, record.DeviceType,
			source, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert transaction %s: %w", record.ID, err)
		}
	}

	// Aggregate snapshot is derived from the merged persisted state, never
	// from the incoming batch alone.
	stats, err := w.computeStats(ctx, tx, now)
	if err != nil {
		return fmt.Errorf("failed to recompute statistics: %w", err)
	}
	if err := w.saveStats(ctx, tx, stats); err != nil {
		return fmt.Errorf("failed to persist statistics: %w", err)
	}

	return tx.Commit()
}

// Get returns rows matching the filter, newest first. An empty warehouse or
// an unmatched filter yields an empty result, not an error.
func (w *SQLWarehouse) Get(ctx context.Context, filter domain.Filter) ([]domain.Transaction, error) {
	query := `
		SELECT transaction_id, user_id, amount, timestamp,
			   merchant_category, location, device_type, source, ingestion_time
		FROM transactions
	`
	var clauses []string
	var args []any

	if filter.StartDate != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.EndDate.UTC())
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}

	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := w.db.QueryContext(ctx, w.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Amount, &t.Timestamp,
			&t.MerchantCategory, &t.Location, &t.DeviceType,
			&t.Source, &t.IngestionTime,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

// Statistics returns the last persisted aggregate snapshot, or nil when the
// warehouse has never stored a batch.
func (w *SQLWarehouse) Statistics(ctx context.Context) (*domain.WarehouseStats, error) {
	query := w.rebind(`SELECT value FROM warehouse_meta WHERE key = ?`)

	var raw string
	err := w.db.QueryRowContext(ctx, query, statsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stats domain.WarehouseStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, fmt.Errorf("failed to parse statistics snapshot: %w", err)
	}
	return &stats, nil
}

func (w *SQLWarehouse) saveStats(ctx context.Context, tx *sql.Tx, stats *domain.WarehouseStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}

	query := w.rebind(`
		INSERT INTO warehouse_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`)
	_, err = tx.ExecContext(ctx, query, statsKey, string(payload), stats.LastUpdated)
	return err
}

// Ping checks database connectivity.
func (w *SQLWarehouse) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes the database connection.
func (w *SQLWarehouse) Close() error {
	return w.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (w *SQLWarehouse) rebind(query string) string {
	if w.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
