package ingestion_test

import (
	"testing"

	"StakeVault/internal/ingestion"
)

func rawWith(data string) ingestion.RawCommand {
	return ingestion.RawCommand{Subject: "vault.backend.test", Data: []byte(data)}
}

func TestParseRawCommand_SetEntitlement(t *testing.T) {
	raw := rawWith(`{
		"command_id": "a2f1c9be-1b2d-4f6e-9c3a-5d8e7f001122",
		"authority": "authority-acct",
		"user": "alice",
		"asset": "GT",
		"balance": 250
	}`)

	cmd, err := ingestion.ParseRawCommand(raw, "SetEntitlement")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ent, ok := cmd.(*ingestion.SetEntitlementCommand)
	if !ok {
		t.Fatalf("wrong command type: %T", cmd)
	}
	if ent.Authority != "authority-acct" || ent.User != "alice" || ent.Asset != "GT" || ent.Balance != 250 {
		t.Errorf("fields mismatch: %+v", ent)
	}
	if cmd.CommandName() != "set_entitlement" {
		t.Errorf("command name: %q", cmd.CommandName())
	}
	if cmd.Caller() != "authority-acct" {
		t.Errorf("caller: %q", cmd.Caller())
	}
}

func TestParseRawCommand_SetEntitlement_ZeroBalance(t *testing.T) {
	// Zero is a legal entitlement: the backend clears a user's withdrawable
	// balance by setting it to 0.
	raw := rawWith(`{
		"command_id": "a2f1c9be-1b2d-4f6e-9c3a-5d8e7f001122",
		"authority": "authority-acct",
		"user": "alice",
		"asset": "GT",
		"balance": 0
	}`)

	cmd, err := ingestion.ParseRawCommand(raw, "SetEntitlement")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ent := cmd.(*ingestion.SetEntitlementCommand); ent.Balance != 0 {
		t.Errorf("balance: got %d, want 0", ent.Balance)
	}
}

func TestParseRawCommand_DepositRewards(t *testing.T) {
	raw := rawWith(`{
		"command_id": "b3e2d8cf-2c3e-4a7f-8d4b-6e9f80112233",
		"authority": "authority-acct",
		"asset": "GT",
		"amount": 1000
	}`)

	cmd, err := ingestion.ParseRawCommand(raw, "DepositRewards")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dep, ok := cmd.(*ingestion.DepositRewardsCommand)
	if !ok {
		t.Fatalf("wrong command type: %T", cmd)
	}
	if dep.Authority != "authority-acct" || dep.Asset != "GT" || dep.Amount != 1000 {
		t.Errorf("fields mismatch: %+v", dep)
	}
	if cmd.CommandName() != "deposit_rewards" {
		t.Errorf("command name: %q", cmd.CommandName())
	}
}

func TestParseRawCommand_UnknownType(t *testing.T) {
	if _, err := ingestion.ParseRawCommand(rawWith(`{}`), "TransferFunds"); err == nil {
		t.Fatal("expected error for unknown command type")
	}
}

func TestParseRawCommand_Invalid(t *testing.T) {
	cases := []struct {
		name        string
		commandType string
		data        string
	}{
		{"malformed json", "SetEntitlement", `{"command_id": `},
		{"bad uuid", "SetEntitlement", `{"command_id": "not-a-uuid", "authority": "a", "user": "u", "asset": "GT", "balance": 1}`},
		{"missing authority", "SetEntitlement", `{"command_id": "a2f1c9be-1b2d-4f6e-9c3a-5d8e7f001122", "user": "u", "asset": "GT", "balance": 1}`},
		{"missing user", "SetEntitlement", `{"command_id": "a2f1c9be-1b2d-4f6e-9c3a-5d8e7f001122", "authority": "a", "asset": "GT", "balance": 1}`},
		{"missing asset", "SetEntitlement", `{"command_id": "a2f1c9be-1b2d-4f6e-9c3a-5d8e7f001122", "authority": "a", "user": "u", "balance": 1}`},
		{"malformed json", "DepositRewards", `not json`},
		{"bad uuid", "DepositRewards", `{"command_id": "xyz", "authority": "a", "asset": "GT", "amount": 1}`},
		{"missing authority", "DepositRewards", `{"command_id": "b3e2d8cf-2c3e-4a7f-8d4b-6e9f80112233", "asset": "GT", "amount": 1}`},
		{"missing asset", "DepositRewards", `{"command_id": "b3e2d8cf-2c3e-4a7f-8d4b-6e9f80112233", "authority": "a", "amount": 1}`},
		{"zero amount", "DepositRewards", `{"command_id": "b3e2d8cf-2c3e-4a7f-8d4b-6e9f80112233", "authority": "a", "asset": "GT", "amount": 0}`},
	}
	for _, tc := range cases {
		if _, err := ingestion.ParseRawCommand(rawWith(tc.data), tc.commandType); err == nil {
			t.Errorf("%s/%s: expected error", tc.commandType, tc.name)
		}
	}
}
