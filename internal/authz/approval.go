package authz

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ActionUnstake is the only approval action the ledger consumes today.
const ActionUnstake = "unstake"

var (
	// ErrMalformedApproval is returned when the message bytes do not decode
	// to the expected action:user:amount:timestamp layout.
	ErrMalformedApproval = errors.New("malformed approval message")

	// ErrApprovalMismatch is returned when the decoded fields disagree with
	// the caller-supplied arguments. A valid signature over a different
	// amount or user must never authorize this call.
	ErrApprovalMismatch = errors.New("approval does not match request")
)

// Approval is a decoded backend approval message.
//
// Wire layout is the UTF-8 string "unstake:<user>:<amount>:<unix-ms>".
// The signature covers these exact bytes, so Encode must reproduce the
// input byte-for-byte.
type Approval struct {
	Action    string
	User      string
	Amount    uint64
	Timestamp time.Time
}

// ParseApproval decodes a backend approval message. Rejects empty or
// truncated messages rather than treating them as vacuously valid.
func ParseApproval(message []byte) (*Approval, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedApproval)
	}

	parts := strings.Split(string(message), ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformedApproval, len(parts))
	}

	action, user := parts[0], parts[1]
	if action == "" || user == "" {
		return nil, fmt.Errorf("%w: empty action or user", ErrMalformedApproval)
	}

	amount, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount %q", ErrMalformedApproval, parts[2])
	}

	millis, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedApproval, parts[3])
	}

	return &Approval{
		Action:    action,
		User:      user,
		Amount:    amount,
		Timestamp: time.UnixMilli(millis),
	}, nil
}

// Encode produces the exact byte representation the backend signs.
func (a *Approval) Encode() []byte {
	return []byte(fmt.Sprintf("%s:%s:%d:%d", a.Action, a.User, a.Amount, a.Timestamp.UnixMilli()))
}

// Matches checks the decoded fields against the caller-supplied arguments.
func (a *Approval) Matches(action, user string, amount uint64) error {
	if a.Action != action {
		return fmt.Errorf("%w: action %q, want %q", ErrApprovalMismatch, a.Action, action)
	}
	if a.User != user {
		return fmt.Errorf("%w: user %q, want %q", ErrApprovalMismatch, a.User, user)
	}
	if a.Amount != amount {
		return fmt.Errorf("%w: amount %d, want %d", ErrApprovalMismatch, a.Amount, amount)
	}
	return nil
}
