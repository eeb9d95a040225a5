package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"StakeVault/internal/observability"
)

// ProjectionOutput carries the post-operation absolute values a committed
// event produced. The orchestrator bridges between engine output and this.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Record    *StakeBalanceRow // nil when the event touches no record
	Global    *GlobalRow       // nil when the event touches no global state
	Timestamp time.Time
}

// StakeBalanceRow is the absolute per-(user, asset) state after an operation.
type StakeBalanceRow struct {
	UserAddr      string
	Asset         string
	TotalStaked   uint64
	InGameBalance uint64
}

// GlobalRow is the absolute global state after an operation.
type GlobalRow struct {
	Authority   string
	TotalStaked uint64
}

// ProjectionWorker updates projection tables from committed events. The
// projection channel is non-blocking with drop: if projections fall behind,
// they can be rebuilt from the operation log. Because events carry absolute
// post-operation values, a dropped event is healed by the next one touching
// the same record.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue: projections are eventually consistent and can
				// be rebuilt from the operation log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	start := time.Now()
	if pw.metrics != nil {
		defer func() {
			pw.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
		}()
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Record != nil {
		if err := pw.upsertStakeBalance(ctx, tx, output.Sequence, *output.Record, output.Timestamp); err != nil {
			return fmt.Errorf("stake balance projection: %w", err)
		}
	}

	if output.Global != nil {
		if err := pw.upsertGlobalState(ctx, tx, output.Sequence, *output.Global); err != nil {
			return fmt.Errorf("global state projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET
			last_sequence = GREATEST(projections.watermark.last_sequence, $1),
			updated_at    = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// upsertStakeBalance writes absolute values. A stale out-of-order update is
// rejected by the last_sequence guard.
func (pw *ProjectionWorker) upsertStakeBalance(ctx context.Context, tx *sql.Tx, seq int64, row StakeBalanceRow, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.stake_balances
			(user_addr, asset, total_staked, in_game_balance, last_update, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_addr, asset) DO UPDATE SET
			total_staked    = EXCLUDED.total_staked,
			in_game_balance = EXCLUDED.in_game_balance,
			last_update     = EXCLUDED.last_update,
			last_sequence   = EXCLUDED.last_sequence
		WHERE projections.stake_balances.last_sequence < EXCLUDED.last_sequence
	`, row.UserAddr, row.Asset, int64(row.TotalStaked), int64(row.InGameBalance), ts, seq)
	return err
}

// upsertGlobalState updates the aggregate. Only Initialized events carry an
// authority; rows from stake traffic leave it empty and must not blank the
// stored value, or recovery would restore an empty authority and lock the
// real one out of the authority-gated operations.
func (pw *ProjectionWorker) upsertGlobalState(ctx context.Context, tx *sql.Tx, seq int64, row GlobalRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.global_state (singleton, authority, total_staked, last_sequence)
		VALUES (TRUE, $1, $2, $3)
		ON CONFLICT (singleton) DO UPDATE SET
			authority     = COALESCE(NULLIF(EXCLUDED.authority, ''), projections.global_state.authority),
			total_staked  = EXCLUDED.total_staked,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.global_state.last_sequence < EXCLUDED.last_sequence
	`, row.Authority, int64(row.TotalStaked), seq)
	return err
}

// RebuildProjections rebuilds the projection tables from the operation log.
// Events store absolute post-operation values, so the latest event per
// (user, asset) is the current state.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.stake_balances`,
		`TRUNCATE projections.global_state`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.stake_balances
			(user_addr, asset, total_staked, in_game_balance, last_update, last_sequence)
		SELECT DISTINCT ON (user_addr, asset)
			user_addr,
			asset,
			CASE event_type
				WHEN 'Unstaked' THEN (payload->>'remaining_staked')::BIGINT
				ELSE (payload->>'total_staked')::BIGINT
			END,
			CASE event_type
				WHEN 'Staked'         THEN (payload->>'in_game_balance')::BIGINT
				WHEN 'Unstaked'       THEN (payload->>'remaining_balance')::BIGINT
				WHEN 'EntitlementSet' THEN (payload->>'balance')::BIGINT
			END,
			timestamp,
			sequence
		FROM event_log.operations
		WHERE event_type IN ('Staked', 'Unstaked', 'EntitlementSet')
		ORDER BY user_addr, asset, sequence DESC
	`)
	if err != nil {
		return fmt.Errorf("rebuild stake balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.global_state (singleton, authority, total_staked, last_sequence)
		SELECT TRUE,
			(SELECT payload->>'authority' FROM event_log.operations
			  WHERE event_type = 'Initialized' ORDER BY sequence LIMIT 1),
			COALESCE((SELECT (payload->>'global_staked')::BIGINT FROM event_log.operations
			  WHERE event_type IN ('Staked', 'Unstaked') ORDER BY sequence DESC LIMIT 1), 0),
			COALESCE((SELECT MAX(sequence) FROM event_log.operations), 0)
		WHERE EXISTS (SELECT 1 FROM event_log.operations WHERE event_type = 'Initialized')
	`)
	if err != nil {
		return fmt.Errorf("rebuild global state: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
