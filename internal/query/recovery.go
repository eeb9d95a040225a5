package query

import (
	"context"
	"database/sql"
	"fmt"

	"StakeVault/internal/ledger"
)

// RecoveredState is everything needed to restore the in-memory ledger at
// boot: the projected records, the authority, and the watermark sequence
// the projections were consistent at. LastSeq is -1 when nothing has been
// projected yet; sequences start at 0, so 0 means "projected through the
// first operation", not "empty".
type RecoveredState struct {
	Initialized bool
	Authority   string
	Records     []ledger.StakeInfo
	LastSeq     int64
}

// LoadState reads the projection tables for startup recovery. Projections
// may trail the operation log (the projection channel drops under
// pressure); the caller replays the tail of the log on top of this.
func LoadState(ctx context.Context, db *sql.DB) (*RecoveredState, error) {
	state := &RecoveredState{LastSeq: -1}

	err := db.QueryRowContext(ctx, `
		SELECT authority FROM projections.global_state WHERE singleton = TRUE
	`).Scan(&state.Authority)
	if err == sql.ErrNoRows {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load global state: %w", err)
	}
	state.Initialized = true

	rows, err := db.QueryContext(ctx, `
		SELECT user_addr, asset, total_staked, in_game_balance, last_update
		FROM projections.stake_balances
	`)
	if err != nil {
		return nil, fmt.Errorf("load stake balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var info ledger.StakeInfo
		if err := rows.Scan(
			&info.User, &info.Asset, &info.TotalStaked, &info.InGameBalance, &info.LastUpdate,
		); err != nil {
			return nil, fmt.Errorf("scan stake balance: %w", err)
		}
		state.Records = append(state.Records, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&state.LastSeq)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load watermark: %w", err)
	}

	return state, nil
}
