package event

import (
	"time"

	"github.com/google/uuid"
)

// Initialized is emitted once when the GlobalState singleton is created.
type Initialized struct {
	OpID      uuid.UUID `json:"op_id"`
	Authority string    `json:"authority"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Initialized) IdempotencyKey() string { return e.OpID.String() }
func (e *Initialized) EventType() EventType   { return EventTypeInitialized }
func (e *Initialized) User() string           { return "" }
func (e *Initialized) Asset() string          { return "" }

// Staked is emitted after a successful stake. TotalStaked and GlobalStaked
// carry the post-operation values so projections can upsert absolutes.
type Staked struct {
	OpID          uuid.UUID `json:"op_id"`
	UserAddr      string    `json:"user"`
	AssetSymbol   string    `json:"asset"`
	Amount        uint64    `json:"amount"`
	TotalStaked   uint64    `json:"total_staked"`
	InGameBalance uint64    `json:"in_game_balance"`
	GlobalStaked  uint64    `json:"global_staked"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e *Staked) IdempotencyKey() string { return e.OpID.String() }
func (e *Staked) EventType() EventType   { return EventTypeStaked }
func (e *Staked) User() string           { return e.UserAddr }
func (e *Staked) Asset() string          { return e.AssetSymbol }

// Unstaked covers both withdrawal paths; Authorized marks the
// backend-approved, uncapped one. PrincipalDelta is how much of the amount
// came out of recognized principal (the rest was reward liquidity).
type Unstaked struct {
	OpID             uuid.UUID `json:"op_id"`
	UserAddr         string    `json:"user"`
	AssetSymbol      string    `json:"asset"`
	Amount           uint64    `json:"amount"`
	PrincipalDelta   uint64    `json:"principal_delta"`
	RemainingStaked  uint64    `json:"remaining_staked"`
	RemainingBalance uint64    `json:"remaining_balance"`
	GlobalStaked     uint64    `json:"global_staked"`
	Authorized       bool      `json:"authorized"`
	Timestamp        time.Time `json:"timestamp"`
}

func (e *Unstaked) IdempotencyKey() string { return e.OpID.String() }
func (e *Unstaked) EventType() EventType   { return EventTypeUnstaked }
func (e *Unstaked) User() string           { return e.UserAddr }
func (e *Unstaked) Asset() string          { return e.AssetSymbol }

// RewardsDeposited is a pure liquidity top-up of the vault. No StakeInfo or
// aggregate changes.
type RewardsDeposited struct {
	OpID        uuid.UUID `json:"op_id"`
	Authority   string    `json:"authority"`
	AssetSymbol string    `json:"asset"`
	Amount      uint64    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *RewardsDeposited) IdempotencyKey() string { return e.OpID.String() }
func (e *RewardsDeposited) EventType() EventType   { return EventTypeRewardsDeposited }
func (e *RewardsDeposited) User() string           { return "" }
func (e *RewardsDeposited) Asset() string          { return e.AssetSymbol }

// EntitlementSet records an authority overwrite of a user's in-game balance.
type EntitlementSet struct {
	OpID        uuid.UUID `json:"op_id"`
	UserAddr    string    `json:"user"`
	AssetSymbol string    `json:"asset"`
	Balance     uint64    `json:"balance"`
	TotalStaked uint64    `json:"total_staked"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *EntitlementSet) IdempotencyKey() string { return e.OpID.String() }
func (e *EntitlementSet) EventType() EventType   { return EventTypeEntitlementSet }
func (e *EntitlementSet) User() string           { return e.UserAddr }
func (e *EntitlementSet) Asset() string          { return e.AssetSymbol }
