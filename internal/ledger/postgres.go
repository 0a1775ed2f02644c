package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresTracker persists usage records to Postgres for durable billing
// data across restarts and instances.
type PostgresTracker struct {
	db *sql.DB
}

func NewPostgresTracker(databaseURL string) (*PostgresTracker, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresTracker{db: db}, nil
}

func NewPostgresTrackerWithDB(db *sql.DB) *PostgresTracker {
	return &PostgresTracker{db: db}
}

func (t *PostgresTracker) Record(ctx context.Context, record UsageRecord) error {
	query := `
		INSERT INTO usage_records (principal, request_id, provider, capability, input_tokens, output_tokens, cost_usd, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := t.db.ExecContext(ctx, query,
		record.Principal,
		record.RequestID,
		record.Provider,
		record.Capability,
		record.InputTokens,
		record.OutputTokens,
		record.CostUSD,
		record.LatencyMs,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	return nil
}

func (t *PostgresTracker) Usage(ctx context.Context, principal string, since time.Time) ([]UsageRecord, error) {
	query := `
		SELECT principal, request_id, provider, capability, input_tokens, output_tokens, cost_usd, latency_ms, created_at
		FROM usage_records
		WHERE principal = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := t.db.QueryContext(ctx, query, principal, since)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var r UsageRecord
		err := rows.Scan(
			&r.Principal,
			&r.RequestID,
			&r.Provider,
			&r.Capability,
			&r.InputTokens,
			&r.OutputTokens,
			&r.CostUSD,
			&r.LatencyMs,
			&r.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (t *PostgresTracker) TotalCost(ctx context.Context, principal string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE principal = $1 AND created_at >= $2
	`

	var total float64
	if err := t.db.QueryRowContext(ctx, query, principal, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("query total cost: %w", err)
	}

	return total, nil
}

func (t *PostgresTracker) Close() error {
	return t.db.Close()
}
