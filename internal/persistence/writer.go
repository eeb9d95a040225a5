package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// OperationLogWriter writes committed ledger operations to Postgres using
// batch inserts. Multi-row INSERT keeps this portable; switch to pgx
// CopyFrom if write throughput ever becomes the bottleneck.
type OperationLogWriter struct {
	db *sql.DB
}

// OperationRow represents a row in event_log.operations.
type OperationRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	UserAddr       string
	Asset          string
	Payload        []byte // JSON-encoded event payload
	Timestamp      time.Time
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// WriteBatch writes a batch of operations inside the given transaction.
// ON CONFLICT (sequence) DO NOTHING makes replays after a crash idempotent.
func (w *OperationLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.operations
		(sequence, event_type, idempotency_key, user_addr, asset, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*7)

	for i, op := range ops {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			op.Sequence, op.EventType, op.IdempotencyKey,
			op.UserAddr, op.Asset, op.Payload, op.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MaxSequence returns the highest persisted sequence, or -1 on an empty log.
func (w *OperationLogWriter) MaxSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.operations`,
	).Scan(&seq)
	if err != nil {
		return -1, fmt.Errorf("query max sequence: %w", err)
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
