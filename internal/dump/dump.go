// Package dump decodes raw storage of the Subscription contract into
// human-readable form.
package dump

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
	"github.com/nspcc-dev/subscription-contract/contracts/subscription/subscriptionconst"
	"github.com/nspcc-dev/subscription-contract/rpc/subscription"
)

// Storage key prefixes of the Subscription contract.
const (
	configKey          = 'c'
	policyKey          = 'p'
	subscriptionPrefix = 's'
	liveUntilPrefix    = 'e'
)

// Config is a JSON view of the contract configuration.
type Config struct {
	Admin        string `json:"admin"`
	PaymentToken string `json:"paymentToken"`
	Treasury     string `json:"treasury"`
}

// Policy is a JSON view of the contract deployment policy.
type Policy struct {
	Tier               string   `json:"tier"`
	Paid               bool     `json:"paid"`
	RejectZeroDuration bool     `json:"rejectZeroDuration"`
	EphemeralLifetime  *big.Int `json:"ephemeralLifetime"`
}

// Record is a JSON view of a single subscription.
type Record struct {
	User      string   `json:"user"`
	PlanID    *big.Int `json:"planId"`
	ExpiresAt *big.Int `json:"expiresAt"`
	// Only for the ephemeral storage tier.
	LiveUntil *big.Int `json:"liveUntil,omitempty"`
}

// State is a decoded storage of the contract.
type State struct {
	Config        *Config  `json:"config"`
	Policy        *Policy  `json:"policy"`
	Subscriptions []Record `json:"subscriptions"`
}

// ErrUnknownKey is returned by Decoder.Add for keys that do not belong to
// the contract storage scheme.
var ErrUnknownKey = errors.New("unknown storage key")

// Decoder accumulates storage items of the contract. Zero value is ready to
// use.
type Decoder struct {
	cfg     *Config
	policy  *Policy
	records map[util.Uint160]*Record
}

// Add decodes the storage item and adds it to the resulting State.
func (d *Decoder) Add(key, value []byte) error {
	if len(key) == 0 {
		return ErrUnknownKey
	}

	switch key[0] {
	case configKey:
		if len(key) != 1 {
			return fmt.Errorf("%w: %x", ErrUnknownKey, key)
		}

		var cfg subscription.Config
		if err := decode(value, &cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}

		d.cfg = &Config{
			Admin:        address.Uint160ToString(cfg.Admin),
			PaymentToken: cfg.PaymentToken.StringLE(),
			Treasury:     address.Uint160ToString(cfg.Treasury),
		}
	case policyKey:
		if len(key) != 1 {
			return fmt.Errorf("%w: %x", ErrUnknownKey, key)
		}

		var p subscription.Policy
		if err := decode(value, &p); err != nil {
			return fmt.Errorf("decode policy: %w", err)
		}

		d.policy = &Policy{
			Tier:               tierName(p.Tier),
			Paid:               p.Paid,
			RejectZeroDuration: p.RejectZeroDuration,
			EphemeralLifetime:  p.EphemeralLifetime,
		}
	case subscriptionPrefix:
		user, err := userFromKey(key)
		if err != nil {
			return err
		}

		var s subscription.Subscription
		if err := decode(value, &s); err != nil {
			return fmt.Errorf("decode subscription of %s: %w", address.Uint160ToString(user), err)
		}

		r := d.record(user)
		r.PlanID = s.PlanID
		r.ExpiresAt = s.ExpiresAt
	case liveUntilPrefix:
		user, err := userFromKey(key)
		if err != nil {
			return err
		}

		// Plain integers are stored as is, not serialized.
		liveUntil, err := stackitem.NewByteArray(value).TryInteger()
		if err != nil {
			return fmt.Errorf("decode live until of %s: %w", address.Uint160ToString(user), err)
		}

		d.record(user).LiveUntil = liveUntil
	default:
		return fmt.Errorf("%w: %x", ErrUnknownKey, key)
	}

	return nil
}

// State returns accumulated contract state. Subscriptions are sorted by
// user address. Lifetime entries without subscription record are omitted.
func (d *Decoder) State() State {
	res := State{
		Config:        d.cfg,
		Policy:        d.policy,
		Subscriptions: make([]Record, 0, len(d.records)),
	}

	for _, r := range d.records {
		if r.PlanID == nil {
			continue
		}
		res.Subscriptions = append(res.Subscriptions, *r)
	}

	sort.Slice(res.Subscriptions, func(i, j int) bool {
		return res.Subscriptions[i].User < res.Subscriptions[j].User
	})

	return res
}

func (d *Decoder) record(user util.Uint160) *Record {
	if d.records == nil {
		d.records = make(map[util.Uint160]*Record)
	}

	r, ok := d.records[user]
	if !ok {
		r = &Record{User: address.Uint160ToString(user)}
		d.records[user] = r
	}

	return r
}

type stackItemDecoder interface {
	FromStackItem(stackitem.Item) error
}

func decode(value []byte, v stackItemDecoder) error {
	item, err := stackitem.Deserialize(value)
	if err != nil {
		return err
	}
	return v.FromStackItem(item)
}

func userFromKey(key []byte) (util.Uint160, error) {
	user, err := util.Uint160DecodeBytesBE(key[1:])
	if err != nil {
		return util.Uint160{}, fmt.Errorf("%w: %x", ErrUnknownKey, key)
	}
	return user, nil
}

func tierName(tier *big.Int) string {
	switch {
	case !tier.IsInt64():
	case tier.Int64() == subscriptionconst.TierDurable:
		return "durable"
	case tier.Int64() == subscriptionconst.TierEphemeral:
		return "ephemeral"
	}
	return tier.String()
}
