package subscription

import (
	"github.com/nspcc-dev/neo-go/pkg/interop"
	"github.com/nspcc-dev/neo-go/pkg/interop/contract"
	"github.com/nspcc-dev/neo-go/pkg/interop/math"
	"github.com/nspcc-dev/neo-go/pkg/interop/native/management"
	"github.com/nspcc-dev/neo-go/pkg/interop/runtime"
	"github.com/nspcc-dev/neo-go/pkg/interop/storage"
	"github.com/nspcc-dev/subscription-contract/common"
	"github.com/nspcc-dev/subscription-contract/contracts/subscription/subscriptionconst"
)

type (
	// Config is a write-once contract configuration set by Initialize.
	Config struct {
		Admin        interop.Hash160
		PaymentToken interop.Hash160
		Treasury     interop.Hash160
	}

	// Policy is a deployment-time behaviour of the contract. It is stored
	// by _deploy and never changes afterwards.
	Policy struct {
		// Storage tier of subscription records, see subscriptionconst.Tier*.
		Tier int
		// Subscribing charges a fee if set.
		Paid bool
		// Zero durations are rejected if set.
		RejectZeroDuration bool
		// Storage lifetime of ephemeral records in seconds.
		EphemeralLifetime int
	}

	// Subscription is a per-user subscription record.
	Subscription struct {
		PlanID int
		// Seconds since the ledger epoch.
		ExpiresAt int
	}
)

const (
	configKey          = 'c'
	policyKey          = 'p'
	subscriptionPrefix = 's'
	liveUntilPrefix    = 'e'
)

// nolint:deadcode,unused
func _deploy(data any, isUpdate bool) {
	ctx := storage.GetContext()
	if isUpdate {
		args := data.([]any)
		common.CheckVersion(args[len(args)-1].(int))
		return
	}

	p := Policy{
		Tier:              subscriptionconst.TierDurable,
		Paid:              true,
		EphemeralLifetime: subscriptionconst.DefaultEphemeralLifetime,
	}

	if data != nil {
		args := data.(struct {
			tier               int
			paid               bool
			rejectZeroDuration bool
			ephemeralLifetime  int
		})

		p.Tier = args.tier
		p.Paid = args.paid
		p.RejectZeroDuration = args.rejectZeroDuration
		if args.ephemeralLifetime != 0 {
			p.EphemeralLifetime = args.ephemeralLifetime
		}
	}

	if p.Tier != subscriptionconst.TierDurable && p.Tier != subscriptionconst.TierEphemeral {
		panic(subscriptionconst.ErrInvalidTier)
	}

	if p.EphemeralLifetime < 0 {
		panic(subscriptionconst.ErrInvalidEphemeralLifetime)
	}

	common.SetSerialized(ctx, []byte{policyKey}, p)

	runtime.Log("subscription contract initialized")
}

// Update method updates contract source code and manifest. It can be invoked
// only by committee.
func Update(nefFile, manifest []byte, data any) {
	if !common.HasUpdateAccess() {
		panic("only committee can update contract")
	}

	contract.Call(interop.Hash160(management.Hash), "update",
		contract.All, nefFile, manifest, common.AppendVersion(data))
	runtime.Log("subscription contract updated")
}

// Initialize stores contract configuration. It can be invoked only once and
// only with the witness of the admin.
//
// It produces Initialized notification.
func Initialize(admin, paymentToken, treasury interop.Hash160) {
	ctx := storage.GetContext()

	if storage.Get(ctx, []byte{configKey}) != nil {
		panic(subscriptionconst.ErrAlreadyInitialized)
	}

	common.CheckWitness(admin, subscriptionconst.ErrUnauthorized)

	if len(paymentToken) != interop.Hash160Len || len(treasury) != interop.Hash160Len {
		panic(subscriptionconst.ErrInvalidHashLength)
	}

	common.SetSerialized(ctx, []byte{configKey}, Config{
		Admin:        admin,
		PaymentToken: paymentToken,
		Treasury:     treasury,
	})

	runtime.Notify(subscriptionconst.InitializedEvent, admin, paymentToken, treasury)
}

// GetConfig returns contract configuration. It panics if the contract has
// not been initialized yet.
func GetConfig() Config {
	return getConfig(storage.GetReadOnlyContext())
}

// GetPolicy returns deployment policy of the contract.
func GetPolicy() Policy {
	return getPolicy(storage.GetReadOnlyContext())
}

// Subscribe activates plan for the user until current ledger time plus
// durationSeconds, replacing any previous subscription of the user. It can
// be invoked only with the witness of the user.
//
// If the contract charges for subscriptions, amount of the payment token is
// transferred from the user to the treasury before the record is written,
// the contract must be initialized for this. Otherwise amount must be zero
// and no configuration is required.
//
// It produces Subscribed notification.
func Subscribe(user interop.Hash160, planID int, durationSeconds int, amount int) {
	common.CheckWitness(user, subscriptionconst.ErrUnauthorized)

	if !math.Within(planID, 0, math.Pow(2, 32)) {
		panic(subscriptionconst.ErrInvalidPlanID)
	}

	ctx := storage.GetContext()
	p := getPolicy(ctx)

	if p.Paid {
		if !math.Within(amount, 1, math.Pow(2, 127)) {
			panic(subscriptionconst.ErrInvalidAmount)
		}
	} else if amount != 0 {
		panic(subscriptionconst.ErrInvalidAmount)
	}

	var cfg Config
	if p.Paid {
		cfg = getConfig(ctx)
	}

	now := ledgerTime()
	expiresAt := expiry(p, now, durationSeconds)

	if p.Paid {
		common.TransferNEP17(cfg.PaymentToken, user, cfg.Treasury, amount, subscriptionconst.ErrTransferFailed)
	}

	common.SetSerialized(ctx, subscriptionKey(user), Subscription{
		PlanID:    planID,
		ExpiresAt: expiresAt,
	})
	if p.Tier == subscriptionconst.TierEphemeral {
		storage.Put(ctx, liveUntilKey(user), now+p.EphemeralLifetime)
	}

	runtime.Notify(subscriptionconst.SubscribedEvent, user, planID, expiresAt, amount)
}

// Cancel removes subscription of the user. Cancelling of a missing
// subscription is not an error. It can be invoked only with the witness of
// the user.
//
// It produces Cancelled notification.
func Cancel(user interop.Hash160) {
	common.CheckWitness(user, subscriptionconst.ErrUnauthorized)

	ctx := storage.GetContext()
	storage.Delete(ctx, subscriptionKey(user))
	storage.Delete(ctx, liveUntilKey(user))

	runtime.Notify(subscriptionconst.CancelledEvent, user)
}

// GetSubscription returns Subscription of the user or nil if the user has no
// subscription. Records of the ephemeral tier whose storage lifetime has
// passed are reported as missing.
func GetSubscription(user interop.Hash160) any {
	ctx := storage.GetReadOnlyContext()

	s, ok := getSubscription(ctx, getPolicy(ctx), user, ledgerTime())
	if !ok {
		return nil
	}

	return s
}

// IsActive checks whether the user has a subscription which has not expired
// yet.
func IsActive(user interop.Hash160) bool {
	ctx := storage.GetReadOnlyContext()
	now := ledgerTime()

	s, ok := getSubscription(ctx, getPolicy(ctx), user, now)

	return ok && s.ExpiresAt > now
}

// ExtendLifetime refreshes storage lifetime of the user's record in the
// ephemeral tier. Anyone can pay for the extension. It panics for durable
// deployments and for missing records.
//
// It produces LifetimeExtended notification.
func ExtendLifetime(user interop.Hash160) {
	ctx := storage.GetContext()
	p := getPolicy(ctx)

	if p.Tier != subscriptionconst.TierEphemeral {
		panic(subscriptionconst.ErrDurableTier)
	}

	now := ledgerTime()
	if _, ok := getSubscription(ctx, p, user, now); !ok {
		panic(subscriptionconst.ErrSubscriptionNotFound)
	}

	liveUntil := now + p.EphemeralLifetime
	storage.Put(ctx, liveUntilKey(user), liveUntil)

	runtime.Notify(subscriptionconst.LifetimeExtendedEvent, user, liveUntil)
}

// Version returns the version of the contract.
func Version() int {
	return common.Version
}

// ledgerTime returns timestamp of the current block in seconds.
func ledgerTime() int {
	return runtime.GetTime() / 1000
}

// expiry calculates expiration time of a subscription started at now. It
// panics if the result does not fit into unsigned 64-bit integer.
func expiry(p Policy, now, durationSeconds int) int {
	limit := math.Pow(2, 64)

	if !math.Within(durationSeconds, 0, limit) {
		panic(subscriptionconst.ErrDurationOverflow)
	}

	if durationSeconds == 0 && p.RejectZeroDuration {
		panic(subscriptionconst.ErrInvalidDuration)
	}

	expiresAt := now + durationSeconds
	if expiresAt >= limit {
		panic(subscriptionconst.ErrDurationOverflow)
	}

	return expiresAt
}

func getSubscription(ctx storage.Context, p Policy, user interop.Hash160, now int) (Subscription, bool) {
	data := common.GetSerialized(ctx, subscriptionKey(user))
	if data == nil {
		return Subscription{}, false
	}

	if p.Tier == subscriptionconst.TierEphemeral {
		liveUntil := storage.Get(ctx, liveUntilKey(user))
		if liveUntil == nil || liveUntil.(int) <= now {
			return Subscription{}, false
		}
	}

	return data.(Subscription), true
}

func getConfig(ctx storage.Context) Config {
	data := common.GetSerialized(ctx, []byte{configKey})
	if data == nil {
		panic(subscriptionconst.ErrNotInitialized)
	}

	return data.(Config)
}

func getPolicy(ctx storage.Context) Policy {
	return common.GetSerialized(ctx, []byte{policyKey}).(Policy)
}

func subscriptionKey(user interop.Hash160) []byte {
	return append([]byte{subscriptionPrefix}, user...)
}

func liveUntilKey(user interop.Hash160) []byte {
	return append([]byte{liveUntilPrefix}, user...)
}
