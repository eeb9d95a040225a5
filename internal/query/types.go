package query

import (
	"encoding/json"
	"time"
)

// StakeInfoResponse represents a (user, asset) stake record for API queries.
type StakeInfoResponse struct {
	UserAddr      string    `json:"user"`
	Asset         string    `json:"asset"`
	TotalStaked   uint64    `json:"total_staked"`
	InGameBalance uint64    `json:"in_game_balance"`
	LastUpdate    time.Time `json:"last_update"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// GlobalStateResponse represents the program-wide state for API queries.
type GlobalStateResponse struct {
	Authority    string `json:"authority"`
	TotalStaked  uint64 `json:"total_staked"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// OperationHistoryEntry represents one committed operation for API queries.
type OperationHistoryEntry struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	UserAddr       string          `json:"user,omitempty"`
	Asset          string          `json:"asset,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}
