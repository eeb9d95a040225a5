package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when the source account cannot cover
	// the transfer. The vault balance check at withdrawal time surfaces as
	// this error too: the bank, not the ledger, enforces vault solvency.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnauthorizedVault is returned when a transfer out of a vault account
	// is attempted without the vault's derived authority.
	ErrUnauthorizedVault = errors.New("transfer not authorized by vault authority")

	// ErrUnknownAsset is returned for assets with no registered vault.
	ErrUnknownAsset = errors.New("unknown asset")
)

// Transferer is the asset custody primitive: an opaque capability to move
// units of a fungible asset between accounts. Outbound vault transfers must
// present the vault's AuthorityHandle; transfers from ordinary accounts pass
// the zero handle (the caller's own authorization is the API layer's concern).
type Transferer interface {
	Transfer(ctx context.Context, asset, from, to string, amount uint64, auth AuthorityHandle) error
}

// Bank is the in-process custody primitive. It keeps per-asset account
// balances and recognizes, per vault, exactly one derived authority as
// allowed to move funds out. A real chain adapter would implement Transferer
// against an actual token program instead.
type Bank struct {
	programID string

	mu       sync.Mutex
	balances map[string]map[string]uint64 // asset -> account -> balance
	vaults   map[string]vaultEntry        // asset -> vault account + authority
}

type vaultEntry struct {
	address   string
	authority AuthorityHandle
}

func NewBank(programID string) *Bank {
	return &Bank{
		programID: programID,
		balances:  make(map[string]map[string]uint64),
		vaults:    make(map[string]vaultEntry),
	}
}

// RegisterVault creates (idempotently) the custody account for an asset and
// binds it to the derived vault authority. Returns the vault address.
func (b *Bank) RegisterVault(asset string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry, ok := b.vaults[asset]; ok {
		return entry.address
	}

	entry := vaultEntry{
		address:   DeriveVaultAddress(asset),
		authority: DeriveVaultAuthority(b.programID, asset),
	}
	b.vaults[asset] = entry
	return entry.address
}

// VaultAddress returns the custody account for an asset.
func (b *Bank) VaultAddress(asset string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.vaults[asset]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return entry.address, nil
}

// Mint credits an account out of thin air. Test and bootstrap helper; the
// bank is the asset issuer in-process.
func (b *Bank) Mint(asset, account string, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts(asset)[account] += amount
}

// Balance returns an account's balance for an asset.
func (b *Bank) Balance(asset, account string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts(asset)[account]
}

// Transfer moves amount from one account to another. All-or-nothing: on any
// error no balance changes. Transfers out of a vault account require the
// vault's derived authority handle.
func (b *Bank) Transfer(ctx context.Context, asset, from, to string, amount uint64, auth AuthorityHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if entry, ok := b.vaults[asset]; ok && entry.address == from {
		if auth.ID != entry.authority.ID {
			return ErrUnauthorizedVault
		}
	}

	accounts := b.accounts(asset)
	if accounts[from] < amount {
		return fmt.Errorf("%w: account %s has %d, need %d", ErrInsufficientFunds, from, accounts[from], amount)
	}

	accounts[from] -= amount
	accounts[to] += amount
	return nil
}

// accounts returns the balance map for an asset, creating it if absent.
// Caller must hold b.mu.
func (b *Bank) accounts(asset string) map[string]uint64 {
	m, ok := b.balances[asset]
	if !ok {
		m = make(map[string]uint64)
		b.balances[asset] = m
	}
	return m
}
