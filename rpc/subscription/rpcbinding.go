// Package subscription contains RPC wrappers for Subscription contract.
package subscription

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/unwrap"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
)

// Config is a contract-specific subscription.Config type used by its methods.
type Config struct {
	Admin        util.Uint160
	PaymentToken util.Uint160
	Treasury     util.Uint160
}

// Policy is a contract-specific subscription.Policy type used by its methods.
type Policy struct {
	Tier               *big.Int
	Paid               bool
	RejectZeroDuration bool
	EphemeralLifetime  *big.Int
}

// Subscription is a contract-specific subscription.Subscription type used by its methods.
type Subscription struct {
	PlanID    *big.Int
	ExpiresAt *big.Int
}

// InitializedEvent represents "Initialized" event emitted by the contract.
type InitializedEvent struct {
	Admin        util.Uint160
	PaymentToken util.Uint160
	Treasury     util.Uint160
}

// SubscribedEvent represents "Subscribed" event emitted by the contract.
type SubscribedEvent struct {
	User      util.Uint160
	PlanID    *big.Int
	ExpiresAt *big.Int
	Amount    *big.Int
}

// CancelledEvent represents "Cancelled" event emitted by the contract.
type CancelledEvent struct {
	User util.Uint160
}

// LifetimeExtendedEvent represents "LifetimeExtended" event emitted by the contract.
type LifetimeExtendedEvent struct {
	User      util.Uint160
	LiveUntil *big.Int
}

// Invoker is used by ContractReader to call various safe methods.
type Invoker interface {
	Call(contract util.Uint160, operation string, params ...any) (*result.Invoke, error)
}

// Actor is used by Contract to call state-changing methods.
type Actor interface {
	Invoker

	MakeCall(contract util.Uint160, method string, params ...any) (*transaction.Transaction, error)
	MakeUnsignedCall(contract util.Uint160, method string, attrs []transaction.Attribute, params ...any) (*transaction.Transaction, error)
	SendCall(contract util.Uint160, method string, params ...any) (util.Uint256, uint32, error)
}

// ContractReader implements safe contract methods.
type ContractReader struct {
	invoker Invoker
	hash    util.Uint160
}

// Contract implements all contract methods.
type Contract struct {
	ContractReader
	actor Actor
	hash  util.Uint160
}

// NewReader creates an instance of ContractReader using provided contract hash and the given Invoker.
func NewReader(invoker Invoker, hash util.Uint160) *ContractReader {
	return &ContractReader{invoker, hash}
}

// New creates an instance of Contract using provided contract hash and the given Actor.
func New(actor Actor, hash util.Uint160) *Contract {
	return &Contract{ContractReader{actor, hash}, actor, hash}
}

// Hash returns address of the contract.
func (c *ContractReader) Hash() util.Uint160 {
	return c.hash
}

// GetConfig invokes `getConfig` method of contract.
func (c *ContractReader) GetConfig() (*Config, error) {
	return itemToConfig(unwrap.Item(c.invoker.Call(c.hash, "getConfig")))
}

// GetPolicy invokes `getPolicy` method of contract.
func (c *ContractReader) GetPolicy() (*Policy, error) {
	return itemToPolicy(unwrap.Item(c.invoker.Call(c.hash, "getPolicy")))
}

// GetSubscription invokes `getSubscription` method of contract. It returns
// nil without an error if the user has no subscription.
func (c *ContractReader) GetSubscription(user util.Uint160) (*Subscription, error) {
	item, err := unwrap.Item(c.invoker.Call(c.hash, "getSubscription", user))
	if err != nil {
		return nil, err
	}
	if _, ok := item.(stackitem.Null); ok {
		return nil, nil
	}
	return itemToSubscription(item, nil)
}

// IsActive invokes `isActive` method of contract.
func (c *ContractReader) IsActive(user util.Uint160) (bool, error) {
	return unwrap.Bool(c.invoker.Call(c.hash, "isActive", user))
}

// Version invokes `version` method of contract.
func (c *ContractReader) Version() (*big.Int, error) {
	return unwrap.BigInt(c.invoker.Call(c.hash, "version"))
}

// Initialize creates a transaction invoking `initialize` method of the contract.
// This transaction is signed and immediately sent to the network.
// The values returned are its hash, ValidUntilBlock value and error if any.
func (c *Contract) Initialize(admin util.Uint160, paymentToken util.Uint160, treasury util.Uint160) (util.Uint256, uint32, error) {
	return c.actor.SendCall(c.hash, "initialize", admin, paymentToken, treasury)
}

// InitializeTransaction creates a transaction invoking `initialize` method of the contract.
// This transaction is signed, but not sent to the network, instead it's
// returned to the caller.
func (c *Contract) InitializeTransaction(admin util.Uint160, paymentToken util.Uint160, treasury util.Uint160) (*transaction.Transaction, error) {
	return c.actor.MakeCall(c.hash, "initialize", admin, paymentToken, treasury)
}

// InitializeUnsigned creates a transaction invoking `initialize` method of the contract.
// This transaction is not signed, it's simply returned to the caller.
// Any fields of it that do not affect fees can be changed (ValidUntilBlock,
// Nonce), fee values (NetworkFee, SystemFee) can be increased as well.
func (c *Contract) InitializeUnsigned(admin util.Uint160, paymentToken util.Uint160, treasury util.Uint160) (*transaction.Transaction, error) {
	return c.actor.MakeUnsignedCall(c.hash, "initialize", nil, admin, paymentToken, treasury)
}

// Subscribe creates a transaction invoking `subscribe` method of the contract.
// This transaction is signed and immediately sent to the network.
// The values returned are its hash, ValidUntilBlock value and error if any.
func (c *Contract) Subscribe(user util.Uint160, planID *big.Int, durationSeconds *big.Int, amount *big.Int) (util.Uint256, uint32, error) {
	return c.actor.SendCall(c.hash, "subscribe", user, planID, durationSeconds, amount)
}

// SubscribeTransaction creates a transaction invoking `subscribe` method of the contract.
// This transaction is signed, but not sent to the network, instead it's
// returned to the caller.
func (c *Contract) SubscribeTransaction(user util.Uint160, planID *big.Int, durationSeconds *big.Int, amount *big.Int) (*transaction.Transaction, error) {
	return c.actor.MakeCall(c.hash, "subscribe", user, planID, durationSeconds, amount)
}

// SubscribeUnsigned creates a transaction invoking `subscribe` method of the contract.
// This transaction is not signed, it's simply returned to the caller.
// Any fields of it that do not affect fees can be changed (ValidUntilBlock,
// Nonce), fee values (NetworkFee, SystemFee) can be increased as well.
func (c *Contract) SubscribeUnsigned(user util.Uint160, planID *big.Int, durationSeconds *big.Int, amount *big.Int) (*transaction.Transaction, error) {
	return c.actor.MakeUnsignedCall(c.hash, "subscribe", nil, user, planID, durationSeconds, amount)
}

// Cancel creates a transaction invoking `cancel` method of the contract.
// This transaction is signed and immediately sent to the network.
// The values returned are its hash, ValidUntilBlock value and error if any.
func (c *Contract) Cancel(user util.Uint160) (util.Uint256, uint32, error) {
	return c.actor.SendCall(c.hash, "cancel", user)
}

// CancelTransaction creates a transaction invoking `cancel` method of the contract.
// This transaction is signed, but not sent to the network, instead it's
// returned to the caller.
func (c *Contract) CancelTransaction(user util.Uint160) (*transaction.Transaction, error) {
	return c.actor.MakeCall(c.hash, "cancel", user)
}

// CancelUnsigned creates a transaction invoking `cancel` method of the contract.
// This transaction is not signed, it's simply returned to the caller.
// Any fields of it that do not affect fees can be changed (ValidUntilBlock,
// Nonce), fee values (NetworkFee, SystemFee) can be increased as well.
func (c *Contract) CancelUnsigned(user util.Uint160) (*transaction.Transaction, error) {
	return c.actor.MakeUnsignedCall(c.hash, "cancel", nil, user)
}

// ExtendLifetime creates a transaction invoking `extendLifetime` method of the contract.
// This transaction is signed and immediately sent to the network.
// The values returned are its hash, ValidUntilBlock value and error if any.
func (c *Contract) ExtendLifetime(user util.Uint160) (util.Uint256, uint32, error) {
	return c.actor.SendCall(c.hash, "extendLifetime", user)
}

// ExtendLifetimeTransaction creates a transaction invoking `extendLifetime` method of the contract.
// This transaction is signed, but not sent to the network, instead it's
// returned to the caller.
func (c *Contract) ExtendLifetimeTransaction(user util.Uint160) (*transaction.Transaction, error) {
	return c.actor.MakeCall(c.hash, "extendLifetime", user)
}

// ExtendLifetimeUnsigned creates a transaction invoking `extendLifetime` method of the contract.
// This transaction is not signed, it's simply returned to the caller.
// Any fields of it that do not affect fees can be changed (ValidUntilBlock,
// Nonce), fee values (NetworkFee, SystemFee) can be increased as well.
func (c *Contract) ExtendLifetimeUnsigned(user util.Uint160) (*transaction.Transaction, error) {
	return c.actor.MakeUnsignedCall(c.hash, "extendLifetime", nil, user)
}

// Update creates a transaction invoking `update` method of the contract.
// This transaction is signed and immediately sent to the network.
// The values returned are its hash, ValidUntilBlock value and error if any.
func (c *Contract) Update(nefFile []byte, manifest []byte, data any) (util.Uint256, uint32, error) {
	return c.actor.SendCall(c.hash, "update", nefFile, manifest, data)
}

// UpdateTransaction creates a transaction invoking `update` method of the contract.
// This transaction is signed, but not sent to the network, instead it's
// returned to the caller.
func (c *Contract) UpdateTransaction(nefFile []byte, manifest []byte, data any) (*transaction.Transaction, error) {
	return c.actor.MakeCall(c.hash, "update", nefFile, manifest, data)
}

// UpdateUnsigned creates a transaction invoking `update` method of the contract.
// This transaction is not signed, it's simply returned to the caller.
// Any fields of it that do not affect fees can be changed (ValidUntilBlock,
// Nonce), fee values (NetworkFee, SystemFee) can be increased as well.
func (c *Contract) UpdateUnsigned(nefFile []byte, manifest []byte, data any) (*transaction.Transaction, error) {
	return c.actor.MakeUnsignedCall(c.hash, "update", nil, nefFile, manifest, data)
}

// itemToConfig converts stack item into *Config.
func itemToConfig(item stackitem.Item, err error) (*Config, error) {
	if err != nil {
		return nil, err
	}
	var res = new(Config)
	err = res.FromStackItem(item)
	return res, err
}

// FromStackItem retrieves fields of Config from the given
// [stackitem.Item] or returns an error if it's not compatible.
func (res *Config) FromStackItem(item stackitem.Item) error {
	arr, err := structFields(item, 3)
	if err != nil {
		return err
	}

	res.Admin, err = itemToUint160(arr[0])
	if err != nil {
		return fmt.Errorf("field Admin: %w", err)
	}

	res.PaymentToken, err = itemToUint160(arr[1])
	if err != nil {
		return fmt.Errorf("field PaymentToken: %w", err)
	}

	res.Treasury, err = itemToUint160(arr[2])
	if err != nil {
		return fmt.Errorf("field Treasury: %w", err)
	}

	return nil
}

// itemToPolicy converts stack item into *Policy.
func itemToPolicy(item stackitem.Item, err error) (*Policy, error) {
	if err != nil {
		return nil, err
	}
	var res = new(Policy)
	err = res.FromStackItem(item)
	return res, err
}

// FromStackItem retrieves fields of Policy from the given
// [stackitem.Item] or returns an error if it's not compatible.
func (res *Policy) FromStackItem(item stackitem.Item) error {
	arr, err := structFields(item, 4)
	if err != nil {
		return err
	}

	res.Tier, err = arr[0].TryInteger()
	if err != nil {
		return fmt.Errorf("field Tier: %w", err)
	}

	res.Paid, err = arr[1].TryBool()
	if err != nil {
		return fmt.Errorf("field Paid: %w", err)
	}

	res.RejectZeroDuration, err = arr[2].TryBool()
	if err != nil {
		return fmt.Errorf("field RejectZeroDuration: %w", err)
	}

	res.EphemeralLifetime, err = arr[3].TryInteger()
	if err != nil {
		return fmt.Errorf("field EphemeralLifetime: %w", err)
	}

	return nil
}

// itemToSubscription converts stack item into *Subscription.
func itemToSubscription(item stackitem.Item, err error) (*Subscription, error) {
	if err != nil {
		return nil, err
	}
	var res = new(Subscription)
	err = res.FromStackItem(item)
	return res, err
}

// FromStackItem retrieves fields of Subscription from the given
// [stackitem.Item] or returns an error if it's not compatible.
func (res *Subscription) FromStackItem(item stackitem.Item) error {
	arr, err := structFields(item, 2)
	if err != nil {
		return err
	}

	res.PlanID, err = arr[0].TryInteger()
	if err != nil {
		return fmt.Errorf("field PlanID: %w", err)
	}

	res.ExpiresAt, err = arr[1].TryInteger()
	if err != nil {
		return fmt.Errorf("field ExpiresAt: %w", err)
	}

	return nil
}

// InitializedEventsFromApplicationLog retrieves a set of all emitted events
// with "Initialized" name from the provided [result.ApplicationLog].
func InitializedEventsFromApplicationLog(log *result.ApplicationLog) ([]*InitializedEvent, error) {
	if log == nil {
		return nil, errors.New("nil application log")
	}

	var res []*InitializedEvent
	for i, ex := range log.Executions {
		for j, e := range ex.Events {
			if e.Name != "Initialized" {
				continue
			}
			event := new(InitializedEvent)
			err := event.FromStackItem(e.Item)
			if err != nil {
				return nil, fmt.Errorf("failed to deserialize InitializedEvent from stackitem (execution #%d, event #%d): %w", i, j, err)
			}
			res = append(res, event)
		}
	}

	return res, nil
}

// FromStackItem converts provided [stackitem.Array] to InitializedEvent or
// returns an error if it's not possible to do to so.
func (e *InitializedEvent) FromStackItem(item *stackitem.Array) error {
	arr, err := eventFields(item, 3)
	if err != nil {
		return err
	}

	e.Admin, err = itemToUint160(arr[0])
	if err != nil {
		return fmt.Errorf("field Admin: %w", err)
	}

	e.PaymentToken, err = itemToUint160(arr[1])
	if err != nil {
		return fmt.Errorf("field PaymentToken: %w", err)
	}

	e.Treasury, err = itemToUint160(arr[2])
	if err != nil {
		return fmt.Errorf("field Treasury: %w", err)
	}

	return nil
}

// SubscribedEventsFromApplicationLog retrieves a set of all emitted events
// with "Subscribed" name from the provided [result.ApplicationLog].
func SubscribedEventsFromApplicationLog(log *result.ApplicationLog) ([]*SubscribedEvent, error) {
	if log == nil {
		return nil, errors.New("nil application log")
	}

	var res []*SubscribedEvent
	for i, ex := range log.Executions {
		for j, e := range ex.Events {
			if e.Name != "Subscribed" {
				continue
			}
			event := new(SubscribedEvent)
			err := event.FromStackItem(e.Item)
			if err != nil {
				return nil, fmt.Errorf("failed to deserialize SubscribedEvent from stackitem (execution #%d, event #%d): %w", i, j, err)
			}
			res = append(res, event)
		}
	}

	return res, nil
}

// FromStackItem converts provided [stackitem.Array] to SubscribedEvent or
// returns an error if it's not possible to do to so.
func (e *SubscribedEvent) FromStackItem(item *stackitem.Array) error {
	arr, err := eventFields(item, 4)
	if err != nil {
		return err
	}

	e.User, err = itemToUint160(arr[0])
	if err != nil {
		return fmt.Errorf("field User: %w", err)
	}

	e.PlanID, err = arr[1].TryInteger()
	if err != nil {
		return fmt.Errorf("field PlanID: %w", err)
	}

	e.ExpiresAt, err = arr[2].TryInteger()
	if err != nil {
		return fmt.Errorf("field ExpiresAt: %w", err)
	}

	e.Amount, err = arr[3].TryInteger()
	if err != nil {
		return fmt.Errorf("field Amount: %w", err)
	}

	return nil
}

// CancelledEventsFromApplicationLog retrieves a set of all emitted events
// with "Cancelled" name from the provided [result.ApplicationLog].
func CancelledEventsFromApplicationLog(log *result.ApplicationLog) ([]*CancelledEvent, error) {
	if log == nil {
		return nil, errors.New("nil application log")
	}

	var res []*CancelledEvent
	for i, ex := range log.Executions {
		for j, e := range ex.Events {
			if e.Name != "Cancelled" {
				continue
			}
			event := new(CancelledEvent)
			err := event.FromStackItem(e.Item)
			if err != nil {
				return nil, fmt.Errorf("failed to deserialize CancelledEvent from stackitem (execution #%d, event #%d): %w", i, j, err)
			}
			res = append(res, event)
		}
	}

	return res, nil
}

// FromStackItem converts provided [stackitem.Array] to CancelledEvent or
// returns an error if it's not possible to do to so.
func (e *CancelledEvent) FromStackItem(item *stackitem.Array) error {
	arr, err := eventFields(item, 1)
	if err != nil {
		return err
	}

	e.User, err = itemToUint160(arr[0])
	if err != nil {
		return fmt.Errorf("field User: %w", err)
	}

	return nil
}

// LifetimeExtendedEventsFromApplicationLog retrieves a set of all emitted events
// with "LifetimeExtended" name from the provided [result.ApplicationLog].
func LifetimeExtendedEventsFromApplicationLog(log *result.ApplicationLog) ([]*LifetimeExtendedEvent, error) {
	if log == nil {
		return nil, errors.New("nil application log")
	}

	var res []*LifetimeExtendedEvent
	for i, ex := range log.Executions {
		for j, e := range ex.Events {
			if e.Name != "LifetimeExtended" {
				continue
			}
			event := new(LifetimeExtendedEvent)
			err := event.FromStackItem(e.Item)
			if err != nil {
				return nil, fmt.Errorf("failed to deserialize LifetimeExtendedEvent from stackitem (execution #%d, event #%d): %w", i, j, err)
			}
			res = append(res, event)
		}
	}

	return res, nil
}

// FromStackItem converts provided [stackitem.Array] to LifetimeExtendedEvent or
// returns an error if it's not possible to do to so.
func (e *LifetimeExtendedEvent) FromStackItem(item *stackitem.Array) error {
	arr, err := eventFields(item, 2)
	if err != nil {
		return err
	}

	e.User, err = itemToUint160(arr[0])
	if err != nil {
		return fmt.Errorf("field User: %w", err)
	}

	e.LiveUntil, err = arr[1].TryInteger()
	if err != nil {
		return fmt.Errorf("field LiveUntil: %w", err)
	}

	return nil
}

func structFields(item stackitem.Item, n int) ([]stackitem.Item, error) {
	arr, ok := item.Value().([]stackitem.Item)
	if !ok {
		return nil, errors.New("not an array")
	}
	if len(arr) != n {
		return nil, errors.New("wrong number of structure elements")
	}
	return arr, nil
}

func eventFields(item *stackitem.Array, n int) ([]stackitem.Item, error) {
	if item == nil {
		return nil, errors.New("nil item")
	}
	return structFields(item, n)
}

func itemToUint160(item stackitem.Item) (util.Uint160, error) {
	b, err := item.TryBytes()
	if err != nil {
		return util.Uint160{}, err
	}
	u, err := util.Uint160DecodeBytesBE(b)
	if err != nil {
		return util.Uint160{}, err
	}
	return u, nil
}
