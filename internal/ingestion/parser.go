package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Command is a validated backend instruction ready for the ledger engine.
type Command interface {
	CommandName() string
	Caller() string
}

// SetEntitlementCommand overwrites a user's in-game balance for one asset.
type SetEntitlementCommand struct {
	CommandID uuid.UUID
	Authority string
	User      string
	Asset     string
	Balance   uint64
}

func (c *SetEntitlementCommand) CommandName() string { return "set_entitlement" }
func (c *SetEntitlementCommand) Caller() string      { return c.Authority }

// DepositRewardsCommand tops up an asset vault from the authority's account.
type DepositRewardsCommand struct {
	CommandID uuid.UUID
	Authority string
	Asset     string
	Amount    uint64
}

func (c *DepositRewardsCommand) CommandName() string { return "deposit_rewards" }
func (c *DepositRewardsCommand) Caller() string      { return c.Authority }

// ParseRawCommand converts a RawCommand (JSON bytes + command type string)
// into a typed Command. The ingestion shell validates and converts before
// anything reaches the engine.
func ParseRawCommand(raw RawCommand, commandType string) (Command, error) {
	switch commandType {
	case "SetEntitlement":
		return parseSetEntitlement(raw.Data)
	case "DepositRewards":
		return parseDepositRewards(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match the backend producer.

type setEntitlementJSON struct {
	CommandID string `json:"command_id"`
	Authority string `json:"authority"`
	User      string `json:"user"`
	Asset     string `json:"asset"`
	Balance   uint64 `json:"balance"`
}

func parseSetEntitlement(data []byte) (*SetEntitlementCommand, error) {
	var j setEntitlementJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetEntitlement: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	if j.Authority == "" {
		return nil, fmt.Errorf("parse SetEntitlement: empty authority")
	}
	if j.User == "" {
		return nil, fmt.Errorf("parse SetEntitlement: empty user")
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("parse SetEntitlement: empty asset")
	}

	return &SetEntitlementCommand{
		CommandID: commandID,
		Authority: j.Authority,
		User:      j.User,
		Asset:     j.Asset,
		Balance:   j.Balance,
	}, nil
}

type depositRewardsJSON struct {
	CommandID string `json:"command_id"`
	Authority string `json:"authority"`
	Asset     string `json:"asset"`
	Amount    uint64 `json:"amount"`
}

func parseDepositRewards(data []byte) (*DepositRewardsCommand, error) {
	var j depositRewardsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositRewards: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w", err)
	}
	if j.Authority == "" {
		return nil, fmt.Errorf("parse DepositRewards: empty authority")
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("parse DepositRewards: empty asset")
	}
	if j.Amount == 0 {
		return nil, fmt.Errorf("parse DepositRewards: zero amount")
	}

	return &DepositRewardsCommand{
		CommandID: commandID,
		Authority: j.Authority,
		Asset:     j.Asset,
		Amount:    j.Amount,
	}, nil
}
