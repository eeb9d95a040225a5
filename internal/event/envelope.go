package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitialized
	EventTypeStaked
	EventTypeUnstaked
	EventTypeRewardsDeposited
	EventTypeEntitlementSet
)

// Envelope wraps every committed operation in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key (operation ID)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// User context (empty for global events like Initialized)
	User string

	// Asset context (empty for Initialized)
	Asset string

	// Commit timestamp
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// User returns the user context (empty for global events)
	User() string

	// Asset returns the asset context (empty for global events)
	Asset() string
}

func (et EventType) String() string {
	switch et {
	case EventTypeInitialized:
		return "Initialized"
	case EventTypeStaked:
		return "Staked"
	case EventTypeUnstaked:
		return "Unstaked"
	case EventTypeRewardsDeposited:
		return "RewardsDeposited"
	case EventTypeEntitlementSet:
		return "EntitlementSet"
	default:
		return "Unknown"
	}
}
