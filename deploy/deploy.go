package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/state"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/actor"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/invoker"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/management"
	"github.com/nspcc-dev/neo-go/pkg/smartcontract/manifest"
	"github.com/nspcc-dev/neo-go/pkg/smartcontract/nef"
	"github.com/nspcc-dev/neo-go/pkg/smartcontract/trigger"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
	"github.com/nspcc-dev/subscription-contract/contracts/subscription/subscriptionconst"
	"github.com/nspcc-dev/subscription-contract/rpc/subscription"
	"go.uber.org/zap"
)

// Blockchain groups services provided by particular Neo blockchain network
// that are required for Subscription contract deployment.
type Blockchain interface {
	// RPCActor groups functions needed to compose and send transactions to the
	// blockchain.
	actor.RPCActor

	// GetApplicationLog returns execution results of the transaction. It is
	// used to await transactions.
	GetApplicationLog(util.Uint256, *trigger.Type) (*result.ApplicationLog, error)

	// GetContractStateByHash returns network state of the smart contract by its
	// address. GetContractStateByHash returns error with 'Unknown contract'
	// substring if requested contract is missing.
	GetContractStateByHash(util.Uint160) (*state.Contract, error)
}

// PolicyPrm groups deployment-time behaviour of the Subscription contract.
type PolicyPrm struct {
	// Keep subscription records in ephemeral storage which must be extended
	// periodically.
	Ephemeral bool

	// Do not charge for subscriptions.
	Free bool

	// Reject subscriptions of zero duration.
	RejectZeroDuration bool

	// Storage lifetime of ephemeral records. Zero means contract default.
	// Truncated to seconds.
	EphemeralLifetime time.Duration
}

// Prm groups all parameters of the Subscription contract deployment
// procedure.
type Prm struct {
	// Writes progress into the log.
	Logger *zap.Logger

	// Particular Neo blockchain instance to deploy the contract to.
	Blockchain Blockchain

	// Local process account used to deploy the contract and pay for it (must
	// be unlocked). Contract address depends on it.
	LocalAccount *wallet.Account

	// Account becoming the contract administrator (must be unlocked). If nil,
	// LocalAccount is used.
	AdminAccount *wallet.Account

	NEF      nef.File
	Manifest manifest.Manifest

	Policy PolicyPrm

	// NEP-17 token subscriptions are paid in.
	PaymentToken util.Uint160
	// Account receiving payments.
	Treasury util.Uint160
}

var (
	errMissingAccount = errors.New("missing local account")
	errContractName   = errors.New("unexpected contract name")
	errConfigMismatch = errors.New("contract is initialized with different configuration")
)

// Deploy puts Subscription contract to the blockchain represented by
// Prm.Blockchain and initializes it. It returns the address of the contract.
//
// Deploy is idempotent: the contract already deployed by the same account is
// not redeployed, initialized contract is checked to have requested
// configuration.
func Deploy(ctx context.Context, prm Prm) (util.Uint160, error) {
	if prm.LocalAccount == nil {
		return util.Uint160{}, errMissingAccount
	}

	if prm.Manifest.Name != subscription.ContractName {
		return util.Uint160{}, fmt.Errorf("%w: %q instead of %q", errContractName, prm.Manifest.Name, subscription.ContractName)
	}

	deployData, err := prm.Policy.deployData()
	if err != nil {
		return util.Uint160{}, fmt.Errorf("invalid policy: %w", err)
	}

	admin := prm.AdminAccount
	if admin == nil {
		admin = prm.LocalAccount
	}

	addr := subscription.Hash(prm.LocalAccount.ScriptHash(), prm.NEF.Checksum)
	l := prm.Logger.With(zap.Stringer("address", addr))

	deployed, err := isDeployed(prm.Blockchain, addr)
	if err != nil {
		return util.Uint160{}, err
	}

	if !deployed {
		l.Info("deploying Subscription contract...")

		err = deployContract(ctx, prm, deployData)
		if err != nil {
			return util.Uint160{}, fmt.Errorf("deploy contract: %w", err)
		}

		l.Info("Subscription contract successfully deployed")
	} else {
		l.Info("Subscription contract is already deployed")
	}

	expected := subscription.Config{
		Admin:        admin.ScriptHash(),
		PaymentToken: prm.PaymentToken,
		Treasury:     prm.Treasury,
	}

	cfg, err := subscription.NewReader(invoker.New(prm.Blockchain, nil), addr).GetConfig()
	if err == nil {
		if *cfg != expected {
			return util.Uint160{}, errConfigMismatch
		}

		l.Info("Subscription contract is already initialized")
		return addr, nil
	}
	if !strings.Contains(err.Error(), subscriptionconst.ErrNotInitialized) {
		return util.Uint160{}, fmt.Errorf("read contract configuration: %w", err)
	}

	l.Info("initializing Subscription contract...",
		zap.Stringer("admin", expected.Admin),
		zap.Stringer("token", expected.PaymentToken),
		zap.Stringer("treasury", expected.Treasury))

	adminActor, err := actor.NewSimple(prm.Blockchain, admin)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("init transaction sender from admin account: %w", err)
	}

	txHash, vub, err := subscription.New(adminActor, addr).Initialize(expected.Admin, expected.PaymentToken, expected.Treasury)
	err = await(ctx, adminActor, txHash, vub, err)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("initialize contract: %w", err)
	}

	l.Info("Subscription contract successfully initialized")

	return addr, nil
}

func deployContract(ctx context.Context, prm Prm, data []any) error {
	localActor, err := actor.NewSimple(prm.Blockchain, prm.LocalAccount)
	if err != nil {
		return fmt.Errorf("init transaction sender from local account: %w", err)
	}

	txHash, vub, err := management.New(localActor).Deploy(&prm.NEF, &prm.Manifest, data)
	return await(ctx, localActor, txHash, vub, err)
}

// await waits for the transaction sent by a and checks its execution result.
func await(ctx context.Context, a *actor.Actor, txHash util.Uint256, vub uint32, err error) error {
	if err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}

	res, err := a.WaitAny(ctx, vub, txHash)
	if err != nil {
		return fmt.Errorf("wait for transaction %s: %w", txHash.StringLE(), err)
	}

	if res.VMState != vmstate.Halt {
		return fmt.Errorf("transaction %s failed: %s", txHash.StringLE(), res.FaultException)
	}

	return nil
}

func isDeployed(b Blockchain, addr util.Uint160) (bool, error) {
	_, err := b.GetContractStateByHash(addr)
	if err == nil {
		return true, nil
	}

	if strings.Contains(err.Error(), "Unknown contract") {
		return false, nil
	}

	return false, fmt.Errorf("get contract state: %w", err)
}

// deployData builds _deploy argument of the contract.
func (p PolicyPrm) deployData() ([]any, error) {
	if p.EphemeralLifetime < 0 {
		return nil, fmt.Errorf("negative ephemeral lifetime %s", p.EphemeralLifetime)
	}

	if p.EphemeralLifetime != 0 && p.EphemeralLifetime < time.Second {
		return nil, fmt.Errorf("ephemeral lifetime %s is less than a second", p.EphemeralLifetime)
	}

	tier := subscriptionconst.TierDurable
	if p.Ephemeral {
		tier = subscriptionconst.TierEphemeral
	}

	return []any{
		int64(tier),
		!p.Free,
		p.RejectZeroDuration,
		int64(p.EphemeralLifetime / time.Second),
	}, nil
}
