package authz

import (
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUntrustedBackend is returned when the presented key is not the
	// configured trusted signer.
	ErrUntrustedBackend = errors.New("untrusted backend key")

	// ErrInvalidSignature is returned when the signature does not verify
	// over the message bytes.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrStaleApproval is returned when the embedded timestamp falls outside
	// the freshness window.
	ErrStaleApproval = errors.New("stale approval")

	// ErrReplayedApproval is returned when a previously consumed approval is
	// presented again inside the freshness window.
	ErrReplayedApproval = errors.New("approval already consumed")
)

// Verifier decides whether signature is an authentic signing of message by
// key. Implementations must reject empty or truncated inputs rather than
// treat them as vacuously valid.
type Verifier interface {
	Verify(key, message, signature []byte) bool
}

// Ed25519Verifier verifies backend approvals under Ed25519, the scheme the
// game backend signs with.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(key, message, signature []byte) bool {
	if len(key) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	if len(message) == 0 {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(key), message, signature)
}

// ApprovalChecker validates a presented (backendKey, signature, message)
// triple as a fresh, unconsumed approval for a specific (action, user,
// amount) tuple. The trusted key comes from configuration, never from the
// caller.
type ApprovalChecker struct {
	trustedKey []byte
	verifier   Verifier
	window     time.Duration
	replay     *ReplayCache
	now        func() time.Time
}

// NewApprovalChecker builds a checker with the given trusted signer, scheme
// and freshness window. replayCapacity bounds the consumed-approval cache;
// entries older than the window are unusable anyway, so eviction is safe.
func NewApprovalChecker(trustedKey []byte, verifier Verifier, window time.Duration, replayCapacity int) *ApprovalChecker {
	return &ApprovalChecker{
		trustedKey: trustedKey,
		verifier:   verifier,
		window:     window,
		replay:     NewReplayCache(replayCapacity),
		now:        time.Now,
	}
}

// SetClock overrides the freshness clock. Test hook.
func (c *ApprovalChecker) SetClock(now func() time.Time) {
	c.now = now
}

// CacheSize returns the consumed-approval cache occupancy.
func (c *ApprovalChecker) CacheSize() int {
	return c.replay.Size()
}

// Check validates the full approval chain: trusted key, signature, field
// match, freshness, replay. On success the approval is marked consumed and
// a second presentation of the same message fails with ErrReplayedApproval.
func (c *ApprovalChecker) Check(backendKey, signature, message []byte, user string, amount uint64) error {
	if len(c.trustedKey) == 0 {
		return fmt.Errorf("%w: no trusted backend configured", ErrUntrustedBackend)
	}
	if subtle.ConstantTimeCompare(backendKey, c.trustedKey) != 1 {
		return ErrUntrustedBackend
	}

	if !c.verifier.Verify(backendKey, message, signature) {
		return ErrInvalidSignature
	}

	approval, err := ParseApproval(message)
	if err != nil {
		return err
	}
	if err := approval.Matches(ActionUnstake, user, amount); err != nil {
		return err
	}

	age := c.now().Sub(approval.Timestamp)
	if age > c.window || age < -c.window {
		return fmt.Errorf("%w: signed %s ago, window %s", ErrStaleApproval, age, c.window)
	}

	if !c.replay.Consume(message) {
		return ErrReplayedApproval
	}

	return nil
}
