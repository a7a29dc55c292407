// Package db provides shared database helpers for bulk upsert and copy operations.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultCopyBatchSize = 5000

// copier is anything that speaks the COPY protocol: a pool, a
// transaction, or a pgxmock pool in tests.
type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// CopyInBatches bulk-inserts rows into a table using the PostgreSQL
// COPY protocol, chunked so one oversized import cannot hold a
// connection in a single giant copy (batchSize 0 = default 5,000).
func CopyInBatches(ctx context.Context, dst copier, table pgx.Identifier, columns []string, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if batchSize <= 0 {
		batchSize = defaultCopyBatchSize
	}

	log := zap.L().With(
		zap.String("component", "db.copy"),
		zap.String("table", table.Sanitize()),
		zap.Int("total_rows", len(rows)),
	)

	var total int64
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[i:end]

		n, err := dst.CopyFrom(ctx, table, columns, pgx.CopyFromRows(batch))
		if err != nil {
			return total, eris.Wrapf(err, "db: COPY INTO %s (batch %d-%d)", table.Sanitize(), i, end)
		}
		total += n

		log.Debug("batch copied",
			zap.Int("batch_start", i),
			zap.Int("batch_end", end),
			zap.Int64("batch_rows", n),
		)
	}

	return total, nil
}
