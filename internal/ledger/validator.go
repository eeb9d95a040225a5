package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	store *Store
}

func NewInvariantValidator(store *Store) *InvariantValidator {
	return &InvariantValidator{
		store: store,
	}
}

// ValidateAggregate verifies GlobalState.TotalStaked equals the sum of
// TotalStaked over all records. Quiesces the store so no operation is
// in flight while the cross-record sum is taken.
func (v *InvariantValidator) ValidateAggregate() error {
	release := v.store.quiesce()
	defer release()

	var sum uint64
	for _, info := range v.store.Snapshot() {
		sum += info.TotalStaked
	}

	global := v.store.TotalStaked()
	if sum != global {
		return fmt.Errorf("aggregate mismatch: global total_staked=%d, sum over records=%d", global, sum)
	}

	return nil
}

// ValidateRecord checks per-record invariants on a copy of a record.
// Both fields are unsigned so negativity cannot be represented; what can go
// wrong is wraparound, which shows up as an absurdly large value.
func (v *InvariantValidator) ValidateRecord(info StakeInfo) error {
	const wrapGuard = uint64(1) << 62

	if info.TotalStaked >= wrapGuard {
		return fmt.Errorf("record %s total_staked wrapped: %d", info.Key().RecordPath(), info.TotalStaked)
	}
	if info.InGameBalance >= wrapGuard {
		return fmt.Errorf("record %s in_game_balance wrapped: %d", info.Key().RecordPath(), info.InGameBalance)
	}
	return nil
}
