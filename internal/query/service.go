package query

import (
	"context"
	"database/sql"
	"fmt"
)

// QueryService provides read-only access to the projection tables. All
// responses include as_of_sequence so callers can reason about freshness
// relative to the engine's live state.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetStakeInfo returns the projected stake record for (user, asset).
// Returns sql.ErrNoRows when no record has ever been projected.
func (qs *QueryService) GetStakeInfo(ctx context.Context, user, asset string) (*StakeInfoResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var resp StakeInfoResponse
	resp.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT user_addr, asset, total_staked, in_game_balance, last_update
		FROM projections.stake_balances
		WHERE user_addr = $1 AND asset = $2
	`, user, asset).Scan(
		&resp.UserAddr, &resp.Asset, &resp.TotalStaked, &resp.InGameBalance, &resp.LastUpdate,
	)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// GetGlobalState returns the projected program-wide state.
// Returns sql.ErrNoRows before the ledger has been initialized.
func (qs *QueryService) GetGlobalState(ctx context.Context) (*GlobalStateResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var resp GlobalStateResponse
	resp.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT authority, total_staked
		FROM projections.global_state
		WHERE singleton = TRUE
	`).Scan(&resp.Authority, &resp.TotalStaked)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// GetOperationHistory returns committed operations for a user with
// cursor-based pagination (sequence descending).
func (qs *QueryService) GetOperationHistory(
	ctx context.Context,
	user string,
	asset *string,
	limit int,
	beforeSequence *int64,
) ([]OperationHistoryEntry, error) {
	query := `
		SELECT sequence, event_type, idempotency_key, user_addr, asset, payload, timestamp
		FROM event_log.operations
		WHERE user_addr = $1
	`
	args := []interface{}{user}
	argIdx := 2

	if asset != nil {
		query += fmt.Sprintf(" AND asset = $%d", argIdx)
		args = append(args, *asset)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []OperationHistoryEntry
	for rows.Next() {
		var e OperationHistoryEntry
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey,
			&e.UserAddr, &e.Asset, &e.Payload, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity compares the projected global total against the sum of
// projected per-record principals. A mismatch means a projection bug (the
// engine enforces the live invariant itself).
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (bool, error) {
	var globalTotal, recordSum sql.NullInt64

	err := qs.db.QueryRowContext(ctx, `
		SELECT total_staked FROM projections.global_state WHERE singleton = TRUE
	`).Scan(&globalTotal)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_staked), 0) FROM projections.stake_balances
	`).Scan(&recordSum)
	if err != nil {
		return false, err
	}

	return globalTotal.Int64 == recordSum.Int64, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
