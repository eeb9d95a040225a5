package ledger

import (
	"fmt"
	"time"
)

// RecordKey addresses a StakeInfo record. One record exists per (user, asset)
// pair, created lazily on first stake.
type RecordKey struct {
	User  string
	Asset string
}

// RecordPath returns the string representation for storage/logging
func (k RecordKey) RecordPath() string {
	return fmt.Sprintf("stake:%s:%s", k.User, k.Asset)
}

// GlobalState is the program-wide singleton created by Initialize.
// TotalStaked is the sum of TotalStaked over all StakeInfo records.
type GlobalState struct {
	Authority   string
	TotalStaked uint64
}

// StakeInfo is the per-(user, asset) ledger record.
//
// TotalStaked is the on-ledger recognized principal. InGameBalance is the
// authority-set withdrawable entitlement and the binding ceiling for
// self-service unstakes; it may exceed TotalStaked once rewards accrue.
// A record at {0, 0} is dormant but stays addressable for future stakes.
type StakeInfo struct {
	User          string
	Asset         string
	TotalStaked   uint64
	InGameBalance uint64
	LastUpdate    time.Time
	Version       int64
}

// Key returns the record's address.
func (si *StakeInfo) Key() RecordKey {
	return RecordKey{User: si.User, Asset: si.Asset}
}

// Dormant reports whether both fields are zero.
func (si *StakeInfo) Dormant() bool {
	return si.TotalStaked == 0 && si.InGameBalance == 0
}
