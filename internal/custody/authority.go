package custody

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// AuthorityHandle is the deterministic, non-key-holding identity the bank
// recognizes as the sole signer able to move funds out of a vault. It is a
// pure derivation from (program, asset); no secret key exists for it.
type AuthorityHandle struct {
	ID string
}

// DeriveVaultAuthority computes the authority handle for an asset's vault.
// Deterministic: the same (programID, asset) pair always yields the same
// handle, so the engine and the bank derive it independently and agree.
func DeriveVaultAuthority(programID, asset string) AuthorityHandle {
	sum := sha256.Sum256([]byte(fmt.Sprintf("vault-authority:%s:%s", programID, asset)))
	return AuthorityHandle{ID: hex.EncodeToString(sum[:16])}
}

// DeriveVaultAddress computes the shared custody account for an asset.
// Derived from the asset alone: all users of an asset stake into one vault.
func DeriveVaultAddress(asset string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("vault:%s", asset)))
	return "vault:" + hex.EncodeToString(sum[:16])
}
