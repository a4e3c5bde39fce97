/*
Package subscription implements Subscription contract.

Subscription contract is an on-chain registry of time-bounded subscriptions
to numbered plans. A user activates a plan by calling subscribe with the
plan number and the duration; the contract records the expiration time
computed from the current block timestamp. Subscribing again replaces the
previous record, remaining time is not accumulated. The contract never
expires records on its own, readers interpret ExpiresAt themselves.

Contract behaviour is fixed at deployment by Policy:
  - storage tier: durable records live until cancelled, ephemeral records
    are evicted when their storage lifetime passes unless the lifetime is
    extended with extendLifetime or by subscribing again;
  - paid or free mode: in paid mode subscribe transfers the specified amount
    of the NEP-17 payment token from the user to the treasury;
  - zero duration policy.

Payment token and treasury are configured once by the admin with
initialize.

# Contract notifications

Initialized notification. This notification is produced when the contract
is initialized by the admin.

	Initialized:
	  - name: admin
	    type: Hash160
	  - name: paymentToken
	    type: Hash160
	  - name: treasury
	    type: Hash160

Subscribed notification. This notification is produced when a user
subscribes. Amount is zero in free mode.

	Subscribed:
	  - name: user
	    type: Hash160
	  - name: planID
	    type: Integer
	  - name: expiresAt
	    type: Integer
	  - name: amount
	    type: Integer

Cancelled notification. This notification is produced when a user cancels
the subscription.

	Cancelled:
	  - name: user
	    type: Hash160

LifetimeExtended notification. This notification is produced when storage
lifetime of an ephemeral record is extended.

	LifetimeExtended:
	  - name: user
	    type: Hash160
	  - name: liveUntil
	    type: Integer
*/
package subscription

/*
Contract storage model.

# Summary
Key-value storage format:
  - 'c' -> std.Serialize(Config)
    admin, payment token and treasury; written once
  - 'p' -> std.Serialize(Policy)
    deployment policy; written once by _deploy
  - 's'<interop.Hash160> -> std.Serialize(Subscription)
    subscription of the user
  - 'e'<interop.Hash160> -> int
    storage lifetime of the user's record in the ephemeral tier, seconds
*/
