package engine

import (
	"errors"
)

var (
	// ErrInvalidAmount is returned for zero (or otherwise malformed) amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned on the self-service path when the
	// requested amount exceeds the user's in-game balance. The entitlement
	// is the binding ceiling there, independent of staked principal.
	ErrInsufficientBalance = errors.New("amount exceeds in-game balance")

	// ErrUnauthorized is returned when a caller who is not the configured
	// authority invokes an authority-only operation.
	ErrUnauthorized = errors.New("caller is not the authority")
)
