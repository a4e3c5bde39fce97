package api

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/core/block"
	"github.com/nspcc-dev/neo-go/pkg/core/state"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/invoker"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/nep17"
	"github.com/nspcc-dev/neo-go/pkg/smartcontract/trigger"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/subscription-contract/contracts/subscription/subscriptionconst"
	"github.com/nspcc-dev/subscription-contract/rpc/subscription"
)

// ErrNotInitialized is returned by Chain.Config for the deployed contract
// whose configuration has not been set yet.
var ErrNotInitialized = errors.New("contract is not initialized")

// Chain provides on-chain data of the Subscription contract.
//
// Only RecentEvents accepts context since it issues many requests. Other
// methods are single RPC calls bounded by the timeout of the RPC client.
type Chain interface {
	// Config returns configuration of the contract or ErrNotInitialized.
	Config() (*subscription.Config, error)

	// Subscription returns subscription of the user or nil if there is none.
	Subscription(user util.Uint160) (*subscription.Subscription, error)

	// IsActive checks whether the user has unexpired subscription.
	IsActive(user util.Uint160) (bool, error)

	// Balance returns NEP-17 token balance of the account.
	Balance(token, account util.Uint160) (*big.Int, error)

	// RecentEvents returns notifications of the contract emitted within the
	// given number of the latest blocks, newest first. At most limit events
	// are returned.
	RecentEvents(ctx context.Context, blocks uint32, limit int) ([]Event, error)
}

// Event is a contract notification. Only fields of the particular event are
// set.
type Event struct {
	Name        string   `json:"name"`
	Block       uint32   `json:"block"`
	Transaction string   `json:"transaction"`
	User        string   `json:"user,omitempty"`
	PlanID      *big.Int `json:"planId,omitempty"`
	ExpiresAt   *big.Int `json:"expiresAt,omitempty"`
	Amount      *big.Int `json:"amount,omitempty"`
	LiveUntil   *big.Int `json:"liveUntil,omitempty"`
	Admin       string   `json:"admin,omitempty"`
	Token       string   `json:"paymentToken,omitempty"`
	Treasury    string   `json:"treasury,omitempty"`
}

// RPCClient groups Neo RPC methods used by RPCChain. It is implemented by
// [rpcclient.Client].
type RPCClient interface {
	invoker.RPCInvoke

	GetBlockCount() (uint32, error)
	GetBlockByIndex(uint32) (*block.Block, error)
	GetApplicationLog(util.Uint256, *trigger.Type) (*result.ApplicationLog, error)
}

// RPCChain is a Chain provided by Neo RPC server.
type RPCChain struct {
	client   RPCClient
	invoker  *invoker.Invoker
	contract *subscription.ContractReader
}

// NewRPCChain returns Chain of the Subscription contract deployed at the
// given address.
func NewRPCChain(c RPCClient, contract util.Uint160) *RPCChain {
	inv := invoker.New(c, nil)

	return &RPCChain{
		client:   c,
		invoker:  inv,
		contract: subscription.NewReader(inv, contract),
	}
}

// Config implements Chain.
func (x *RPCChain) Config() (*subscription.Config, error) {
	cfg, err := x.contract.GetConfig()
	if err != nil && strings.Contains(err.Error(), subscriptionconst.ErrNotInitialized) {
		return nil, ErrNotInitialized
	}
	return cfg, err
}

// Subscription implements Chain.
func (x *RPCChain) Subscription(user util.Uint160) (*subscription.Subscription, error) {
	return x.contract.GetSubscription(user)
}

// IsActive implements Chain.
func (x *RPCChain) IsActive(user util.Uint160) (bool, error) {
	return x.contract.IsActive(user)
}

// Balance implements Chain.
func (x *RPCChain) Balance(token, account util.Uint160) (*big.Int, error) {
	return nep17.NewReader(x.invoker, token).BalanceOf(account)
}

// RecentEvents implements Chain.
func (x *RPCChain) RecentEvents(ctx context.Context, blocks uint32, limit int) ([]Event, error) {
	count, err := x.client.GetBlockCount()
	if err != nil {
		return nil, fmt.Errorf("get block count: %w", err)
	}

	var (
		res    []Event
		lowest uint32
	)

	if count > blocks {
		lowest = count - blocks
	}

	for i := count; i > lowest && len(res) < limit; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := x.client.GetBlockByIndex(i - 1)
		if err != nil {
			return nil, fmt.Errorf("get block #%d: %w", i-1, err)
		}

		// Transactions are walked backwards to keep the newest first order.
		for j := len(b.Transactions) - 1; j >= 0 && len(res) < limit; j-- {
			txHash := b.Transactions[j].Hash()

			log, err := x.client.GetApplicationLog(txHash, nil)
			if err != nil {
				return nil, fmt.Errorf("get application log of %s: %w", txHash.StringLE(), err)
			}

			evs, err := x.contractEvents(b.Index, txHash, log)
			if err != nil {
				return nil, err
			}

			for k := len(evs) - 1; k >= 0 && len(res) < limit; k-- {
				res = append(res, evs[k])
			}
		}
	}

	return res, nil
}

func (x *RPCChain) contractEvents(index uint32, txHash util.Uint256, log *result.ApplicationLog) ([]Event, error) {
	var res []Event

	for _, ex := range log.Executions {
		for _, ne := range ex.Events {
			if !ne.ScriptHash.Equals(x.contract.Hash()) {
				continue
			}

			ev, err := decodeEvent(ne)
			if err != nil {
				return nil, fmt.Errorf("decode %s event of %s: %w", ne.Name, txHash.StringLE(), err)
			}

			ev.Block = index
			ev.Transaction = txHash.StringLE()
			res = append(res, ev)
		}
	}

	return res, nil
}

func decodeEvent(ne state.NotificationEvent) (Event, error) {
	res := Event{Name: ne.Name}

	switch ne.Name {
	case subscriptionconst.InitializedEvent:
		var ev subscription.InitializedEvent
		if err := ev.FromStackItem(ne.Item); err != nil {
			return res, err
		}
		res.Admin = address.Uint160ToString(ev.Admin)
		res.Token = ev.PaymentToken.StringLE()
		res.Treasury = address.Uint160ToString(ev.Treasury)
	case subscriptionconst.SubscribedEvent:
		var ev subscription.SubscribedEvent
		if err := ev.FromStackItem(ne.Item); err != nil {
			return res, err
		}
		res.User = address.Uint160ToString(ev.User)
		res.PlanID = ev.PlanID
		res.ExpiresAt = ev.ExpiresAt
		res.Amount = ev.Amount
	case subscriptionconst.CancelledEvent:
		var ev subscription.CancelledEvent
		if err := ev.FromStackItem(ne.Item); err != nil {
			return res, err
		}
		res.User = address.Uint160ToString(ev.User)
	case subscriptionconst.LifetimeExtendedEvent:
		var ev subscription.LifetimeExtendedEvent
		if err := ev.FromStackItem(ne.Item); err != nil {
			return res, err
		}
		res.User = address.Uint160ToString(ev.User)
		res.LiveUntil = ev.LiveUntil
	}

	return res, nil
}
