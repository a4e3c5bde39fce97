// Package subscriptionconst contains constants shared by the Subscription
// contract and its off-chain clients.
package subscriptionconst

// Storage tiers of subscription records.
const (
	// TierDurable keeps records until they are cancelled.
	TierDurable = 0
	// TierEphemeral keeps records for a bounded lifetime that must be
	// refreshed by subscribing again or by extendLifetime.
	TierEphemeral = 1
)

// DefaultEphemeralLifetime is the storage lifetime (in seconds) of
// ephemeral records when the deployment does not specify one.
const DefaultEphemeralLifetime = 30 * 24 * 60 * 60

// Exception messages thrown by the contract.
const (
	ErrAlreadyInitialized = "already initialized"
	ErrNotInitialized     = "not initialized"
	ErrUnauthorized       = "unauthorized"
	ErrInvalidAmount      = "invalid amount"
	ErrDurationOverflow   = "duration overflow"
	ErrTransferFailed     = "transfer failed"

	ErrInvalidPlanID            = "invalid plan id"
	ErrInvalidDuration          = "invalid duration"
	ErrSubscriptionNotFound     = "subscription not found"
	ErrDurableTier              = "storage tier is durable"
	ErrInvalidTier              = "invalid storage tier"
	ErrInvalidEphemeralLifetime = "invalid ephemeral lifetime"
	ErrInvalidHashLength        = "invalid hash length"
)

// Notification names.
const (
	InitializedEvent      = "Initialized"
	SubscribedEvent       = "Subscribed"
	CancelledEvent        = "Cancelled"
	LifetimeExtendedEvent = "LifetimeExtended"
)
