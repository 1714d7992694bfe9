package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/keyline-lab/keyline/internal/core/storage"
	"github.com/shopspring/decimal"
)

const defaultWriteBatchSize = 500

// AggregatesAdapter implements storage.AggregateWriter and
// storage.AggregateReader on PostgreSQL.
//
// Writes are batched: rows are chunked by batchSize and each chunk runs as one
// transaction over a single prepared statement. The upsert is last-write-wins
// per (stream, window, kind, key), so re-delivering an already flushed window
// is harmless.
type AggregatesAdapter struct {
	db        *sql.DB
	batchSize int
}

// NewAggregatesAdapter creates an adapter sharing the given connection.
// batchSize caps rows per transaction; values <= 0 fall back to the default.
func NewAggregatesAdapter(db *sql.DB, batchSize int) *AggregatesAdapter {
	if batchSize <= 0 {
		batchSize = defaultWriteBatchSize
	}
	return &AggregatesAdapter{db: db, batchSize: batchSize}
}

// WriteWindow persists one finalized window's rows.
func (a *AggregatesAdapter) WriteWindow(ctx context.Context, rows []storage.AggregateRow) error {
	if len(rows) == 0 {
		return nil
	}

	writtenAt := time.Now().UTC()
	for start := 0; start < len(rows); start += a.batchSize {
		end := start + a.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := a.writeChunk(ctx, rows[start:end], writtenAt); err != nil {
			return err
		}
	}

	slog.Info("[AggregatesAdapter] Window flushed",
		"stream", rows[0].Stream,
		"window_id", rows[0].WindowID,
		"rows", len(rows),
		"batch_size", a.batchSize,
	)
	return nil
}

func (a *AggregatesAdapter) writeChunk(ctx context.Context, rows []storage.AggregateRow, writtenAt time.Time) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("aggregate write: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, queryUpsertAggregate)
	if err != nil {
		return fmt.Errorf("aggregate write: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.Stream,
			int64(row.WindowID),
			row.Kind,
			row.Key,
			row.Value,
			row.Partitions,
			row.ProfileFingerprint,
			writtenAt,
		); err != nil {
			return fmt.Errorf("aggregate write: upsert stream=%s window=%d kind=%s key=%s: %w",
				row.Stream, row.WindowID, row.Kind, row.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("aggregate write: commit: %w", err)
	}
	return nil
}

// QueryWindow returns all rows for one (stream, window, kind), ordered by key.
func (a *AggregatesAdapter) QueryWindow(ctx context.Context, stream string, windowID uint64, kind string) ([]storage.AggregateRow, error) {
	rows, err := a.db.QueryContext(ctx, queryQueryWindow, stream, int64(windowID), kind)
	if err != nil {
		return nil, fmt.Errorf("query window aggregates: %w", err)
	}
	defer rows.Close()

	var results []storage.AggregateRow
	for rows.Next() {
		var row storage.AggregateRow
		var windowID int64
		var valueStr string

		if err := rows.Scan(
			&row.Stream,
			&windowID,
			&row.Kind,
			&row.Key,
			&valueStr,
			&row.Partitions,
			&row.ProfileFingerprint,
		); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}

		value, err := decimal.NewFromString(valueStr)
		if err != nil {
			return nil, fmt.Errorf("parse value %q: %w", valueStr, err)
		}
		row.Value = value
		row.WindowID = uint64(windowID)

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate rows: %w", err)
	}
	return results, nil
}
