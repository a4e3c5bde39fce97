package subscription_test

import (
	"math/big"
	"path"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/native/nativenames"
	"github.com/nspcc-dev/neo-go/pkg/core/state"
	"github.com/nspcc-dev/neo-go/pkg/neotest"
	"github.com/nspcc-dev/neo-go/pkg/neotest/chain"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
	"github.com/nspcc-dev/subscription-contract/common"
	"github.com/nspcc-dev/subscription-contract/contracts/subscription/subscriptionconst"
	"github.com/nspcc-dev/subscription-contract/internal/testcontracts/nep17mock"
	rpcsub "github.com/nspcc-dev/subscription-contract/rpc/subscription"
	"github.com/stretchr/testify/require"
)

const (
	subscriptionPath = "../subscription"
	nep17mockPath    = "../../internal/testcontracts/nep17mock"
)

type testEnv struct {
	e        *neotest.Executor
	hash     util.Uint160
	inv      *neotest.ContractInvoker
	token    *neotest.ContractInvoker
	admin    neotest.Signer
	user     neotest.Signer
	treasury util.Uint160
}

func newExecutor(t *testing.T) *neotest.Executor {
	bc, acc := chain.NewSingle(t)
	return neotest.NewExecutor(t, bc, acc, acc)
}

func deploySubscription(t *testing.T, e *neotest.Executor, policy []any) util.Uint160 {
	c := neotest.CompileFile(t, e.CommitteeHash, subscriptionPath,
		path.Join(subscriptionPath, "config.yml"))

	var data any
	if policy != nil {
		data = policy
	}

	e.DeployContract(t, c, data)
	return c.Hash
}

func deployToken(t *testing.T, e *neotest.Executor) util.Uint160 {
	c := neotest.CompileFile(t, e.CommitteeHash, nep17mockPath,
		path.Join(nep17mockPath, "config.yml"))

	e.DeployContract(t, c, nil)
	return c.Hash
}

// newTestEnv deploys Subscription contract with the given deployment data
// along with a mock payment token. The contract is not initialized.
func newTestEnv(t *testing.T, policy []any) *testEnv {
	e := newExecutor(t)
	tokenHash := deployToken(t, e)
	h := deploySubscription(t, e, policy)

	return &testEnv{
		e:        e,
		hash:     h,
		inv:      e.CommitteeInvoker(h),
		token:    e.CommitteeInvoker(tokenHash),
		admin:    e.NewAccount(t),
		user:     e.NewAccount(t),
		treasury: util.Uint160{0x7e, 0xa5},
	}
}

func (env *testEnv) initialize(t *testing.T) {
	env.inv.WithSigners(env.admin).Invoke(t, stackitem.Null{}, "initialize",
		env.admin.ScriptHash(), env.token.Hash, env.treasury)
}

func (env *testEnv) userInvoker() *neotest.ContractInvoker {
	return env.inv.WithSigners(env.user)
}

func (env *testEnv) subscription(t *testing.T, user util.Uint160) *rpcsub.Subscription {
	s, err := env.inv.TestInvoke(t, "getSubscription", user)
	require.NoError(t, err)

	item := s.Pop().Item()
	if _, ok := item.(stackitem.Null); ok {
		return nil
	}

	var res rpcsub.Subscription
	require.NoError(t, res.FromStackItem(item))
	return &res
}

func (env *testEnv) policy(t *testing.T) rpcsub.Policy {
	s, err := env.inv.TestInvoke(t, "getPolicy")
	require.NoError(t, err)

	var res rpcsub.Policy
	require.NoError(t, res.FromStackItem(s.Pop().Item()))
	return res
}

// contractEvents returns notifications emitted by the contract in the given
// transaction.
func (env *testEnv) contractEvents(t *testing.T, h util.Uint256) []state.NotificationEvent {
	var res []state.NotificationEvent
	for _, ev := range env.e.GetTxExecResult(t, h).Events {
		if ev.ScriptHash.Equals(env.hash) {
			res = append(res, ev)
		}
	}
	return res
}

// lastTransfer returns from, to and amount of the last successful transfer
// of the mock token.
func (env *testEnv) lastTransfer(t *testing.T) (util.Uint160, util.Uint160, int64) {
	s, err := env.token.TestInvoke(t, "lastCall")
	require.NoError(t, err)

	arr := s.Pop().Item().Value().([]stackitem.Item)
	require.Len(t, arr, 3)

	from, err := arr[0].TryBytes()
	require.NoError(t, err)
	to, err := arr[1].TryBytes()
	require.NoError(t, err)
	amount, err := arr[2].TryInteger()
	require.NoError(t, err)

	fromHash, err := util.Uint160DecodeBytesBE(from)
	require.NoError(t, err)
	toHash, err := util.Uint160DecodeBytesBE(to)
	require.NoError(t, err)

	return fromHash, toHash, amount.Int64()
}

// ledgerTime returns the timestamp of the latest block in seconds.
func ledgerTime(t *testing.T, e *neotest.Executor) int64 {
	return int64(e.TopBlock(t).Timestamp / 1000)
}

// skipTime adds an empty block which is d later than the current one.
func skipTime(t *testing.T, e *neotest.Executor, d time.Duration) {
	b := e.NewUnsignedBlock(t)
	b.Timestamp = e.TopBlock(t).Timestamp + uint64(d.Milliseconds())
	require.NoError(t, e.Chain.AddBlock(e.SignBlock(b)))
}

func requirePolicy(t *testing.T, p rpcsub.Policy, tier int64, paid, rejectZero bool, lifetime int64) {
	require.EqualValues(t, tier, p.Tier.Int64())
	require.Equal(t, paid, p.Paid)
	require.Equal(t, rejectZero, p.RejectZeroDuration)
	require.EqualValues(t, lifetime, p.EphemeralLifetime.Int64())
}

func pow2(n uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), n)
}

func TestDeploy(t *testing.T) {
	t.Run("default policy", func(t *testing.T) {
		env := newTestEnv(t, nil)

		requirePolicy(t, env.policy(t), subscriptionconst.TierDurable, true, false, subscriptionconst.DefaultEphemeralLifetime)
	})

	t.Run("custom policy", func(t *testing.T) {
		env := newTestEnv(t, []any{int64(subscriptionconst.TierEphemeral), false, true, int64(3600)})

		requirePolicy(t, env.policy(t), subscriptionconst.TierEphemeral, false, true, 3600)
	})

	t.Run("zero lifetime means default", func(t *testing.T) {
		env := newTestEnv(t, []any{int64(subscriptionconst.TierEphemeral), true, false, int64(0)})
		require.Equal(t, big.NewInt(subscriptionconst.DefaultEphemeralLifetime), env.policy(t).EphemeralLifetime)
	})

	t.Run("invalid tier", func(t *testing.T) {
		e := newExecutor(t)
		c := neotest.CompileFile(t, e.CommitteeHash, subscriptionPath,
			path.Join(subscriptionPath, "config.yml"))

		e.DeployContractCheckFAULT(t, c, []any{int64(2), true, false, int64(0)},
			subscriptionconst.ErrInvalidTier)
	})

	t.Run("negative lifetime", func(t *testing.T) {
		e := newExecutor(t)
		c := neotest.CompileFile(t, e.CommitteeHash, subscriptionPath,
			path.Join(subscriptionPath, "config.yml"))

		e.DeployContractCheckFAULT(t, c, []any{int64(subscriptionconst.TierEphemeral), true, false, int64(-1)},
			subscriptionconst.ErrInvalidEphemeralLifetime)
	})
}

func TestInitialize(t *testing.T) {
	env := newTestEnv(t, nil)

	env.inv.InvokeFail(t, subscriptionconst.ErrNotInitialized, "getConfig")

	t.Run("without admin witness", func(t *testing.T) {
		env.inv.WithSigners(env.user).InvokeFail(t, subscriptionconst.ErrUnauthorized, "initialize",
			env.admin.ScriptHash(), env.token.Hash, env.treasury)
	})

	t.Run("invalid token hash", func(t *testing.T) {
		env.inv.WithSigners(env.admin).InvokeFail(t, subscriptionconst.ErrInvalidHashLength, "initialize",
			env.admin.ScriptHash(), []byte{1, 2, 3}, env.treasury)
	})

	h := env.inv.WithSigners(env.admin).Invoke(t, stackitem.Null{}, "initialize",
		env.admin.ScriptHash(), env.token.Hash, env.treasury)

	events := env.contractEvents(t, h)
	require.Len(t, events, 1)
	require.Equal(t, subscriptionconst.InitializedEvent, events[0].Name)

	var ev rpcsub.InitializedEvent
	require.NoError(t, ev.FromStackItem(events[0].Item))
	require.Equal(t, rpcsub.InitializedEvent{
		Admin:        env.admin.ScriptHash(),
		PaymentToken: env.token.Hash,
		Treasury:     env.treasury,
	}, ev)

	s, err := env.inv.TestInvoke(t, "getConfig")
	require.NoError(t, err)

	var cfg rpcsub.Config
	require.NoError(t, cfg.FromStackItem(s.Pop().Item()))
	require.Equal(t, rpcsub.Config{
		Admin:        env.admin.ScriptHash(),
		PaymentToken: env.token.Hash,
		Treasury:     env.treasury,
	}, cfg)

	t.Run("twice", func(t *testing.T) {
		h := env.inv.WithSigners(env.admin).InvokeFail(t, subscriptionconst.ErrAlreadyInitialized, "initialize",
			env.admin.ScriptHash(), env.token.Hash, env.treasury)
		require.Empty(t, env.contractEvents(t, h))
	})

	t.Run("twice by another account", func(t *testing.T) {
		env.inv.WithSigners(env.user).InvokeFail(t, subscriptionconst.ErrAlreadyInitialized, "initialize",
			env.user.ScriptHash(), env.token.Hash, env.user.ScriptHash())
	})
}

func TestSubscribe(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.user.ScriptHash()

	t.Run("not initialized", func(t *testing.T) {
		env.userInvoker().InvokeFail(t, subscriptionconst.ErrNotInitialized, "subscribe",
			user, 1, 3600, 10)
	})

	env.initialize(t)

	h := env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", user, 1, 3600, 10)
	now := ledgerTime(t, env.e)

	require.Equal(t, &rpcsub.Subscription{
		PlanID:    big.NewInt(1),
		ExpiresAt: big.NewInt(now + 3600),
	}, env.subscription(t, user))

	from, to, amount := env.lastTransfer(t)
	require.Equal(t, user, from)
	require.Equal(t, env.treasury, to)
	require.EqualValues(t, 10, amount)

	events := env.contractEvents(t, h)
	require.Len(t, events, 1)
	require.Equal(t, subscriptionconst.SubscribedEvent, events[0].Name)

	var ev rpcsub.SubscribedEvent
	require.NoError(t, ev.FromStackItem(events[0].Item))
	require.Equal(t, rpcsub.SubscribedEvent{
		User:      user,
		PlanID:    big.NewInt(1),
		ExpiresAt: big.NewInt(now + 3600),
		Amount:    big.NewInt(10),
	}, ev)

	env.inv.Invoke(t, stackitem.NewBool(true), "isActive", user)

	t.Run("overwrite", func(t *testing.T) {
		env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", user, 2, 60, 5)
		now := ledgerTime(t, env.e)

		require.Equal(t, &rpcsub.Subscription{
			PlanID:    big.NewInt(2),
			ExpiresAt: big.NewInt(now + 60),
		}, env.subscription(t, user))
	})

	t.Run("other user is not affected", func(t *testing.T) {
		other := env.e.NewAccount(t)
		require.Nil(t, env.subscription(t, other.ScriptHash()))
		env.inv.Invoke(t, stackitem.NewBool(false), "isActive", other.ScriptHash())
	})
}

func TestSubscribe_Authorization(t *testing.T) {
	env := newTestEnv(t, nil)
	env.initialize(t)

	user := env.user.ScriptHash()

	for _, signer := range []neotest.Signer{env.admin, env.e.Committee} {
		h := env.inv.WithSigners(signer).InvokeFail(t, subscriptionconst.ErrUnauthorized, "subscribe",
			user, 1, 3600, 10)
		require.Empty(t, env.contractEvents(t, h))
	}

	require.Nil(t, env.subscription(t, user))
}

func TestSubscribe_InvalidArguments(t *testing.T) {
	env := newTestEnv(t, nil)
	env.initialize(t)

	user := env.user.ScriptHash()
	inv := env.userInvoker()

	t.Run("plan id", func(t *testing.T) {
		inv.InvokeFail(t, subscriptionconst.ErrInvalidPlanID, "subscribe", user, -1, 3600, 10)
		inv.InvokeFail(t, subscriptionconst.ErrInvalidPlanID, "subscribe", user, pow2(32), 3600, 10)
		inv.Invoke(t, stackitem.Null{}, "subscribe", user, new(big.Int).Sub(pow2(32), big.NewInt(1)), 3600, 10)
	})

	t.Run("amount", func(t *testing.T) {
		inv.InvokeFail(t, subscriptionconst.ErrInvalidAmount, "subscribe", user, 1, 3600, 0)
		inv.InvokeFail(t, subscriptionconst.ErrInvalidAmount, "subscribe", user, 1, 3600, -5)
		inv.InvokeFail(t, subscriptionconst.ErrInvalidAmount, "subscribe", user, 1, 3600, pow2(127))
	})

	t.Run("duration overflow", func(t *testing.T) {
		inv.InvokeFail(t, subscriptionconst.ErrDurationOverflow, "subscribe", user, 1, -1, 10)
		inv.InvokeFail(t, subscriptionconst.ErrDurationOverflow, "subscribe", user, 1, pow2(64), 10)

		// Fits into u64 alone but not together with the current time.
		h := inv.InvokeFail(t, subscriptionconst.ErrDurationOverflow, "subscribe", user, 1,
			new(big.Int).Sub(pow2(64), big.NewInt(1)), 10)
		require.Empty(t, env.contractEvents(t, h))
	})
}

func TestSubscribe_Payment(t *testing.T) {
	env := newTestEnv(t, nil)
	env.initialize(t)

	user := env.user.ScriptHash()

	t.Run("rejected", func(t *testing.T) {
		env.token.Invoke(t, stackitem.Null{}, "setMode", nep17mock.ModeReject)

		h := env.userInvoker().InvokeFail(t, subscriptionconst.ErrTransferFailed, "subscribe", user, 1, 3600, 10)
		require.Empty(t, env.e.GetTxExecResult(t, h).Events)
		require.Nil(t, env.subscription(t, user))
	})

	t.Run("aborted", func(t *testing.T) {
		env.token.Invoke(t, stackitem.Null{}, "setMode", nep17mock.ModeAbort)

		h := env.userInvoker().InvokeFail(t, nep17mock.ErrAborted, "subscribe", user, 1, 3600, 10)
		require.Empty(t, env.e.GetTxExecResult(t, h).Events)
		require.Nil(t, env.subscription(t, user))
	})

	t.Run("rejected payment keeps previous record", func(t *testing.T) {
		env.token.Invoke(t, stackitem.Null{}, "setMode", nep17mock.ModeAccept)
		env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", user, 1, 3600, 10)
		before := env.subscription(t, user)

		env.token.Invoke(t, stackitem.Null{}, "setMode", nep17mock.ModeReject)
		env.userInvoker().InvokeFail(t, subscriptionconst.ErrTransferFailed, "subscribe", user, 2, 7200, 20)

		require.Equal(t, before, env.subscription(t, user))
	})
}

func TestSubscribe_GAS(t *testing.T) {
	e := newExecutor(t)
	h := deploySubscription(t, e, nil)
	gasHash := e.NativeHash(t, nativenames.Gas)
	gas := e.CommitteeInvoker(gasHash)

	admin := e.NewAccount(t)
	user := e.NewAccount(t)
	treasury := util.Uint160{0x7e, 0xa5}

	inv := e.CommitteeInvoker(h)
	inv.WithSigners(admin).Invoke(t, stackitem.Null{}, "initialize", admin.ScriptHash(), gasHash, treasury)

	userInv := inv.WithSigners(user)

	t.Run("insufficient balance", func(t *testing.T) {
		userInv.InvokeFail(t, subscriptionconst.ErrTransferFailed, "subscribe",
			user.ScriptHash(), 1, 3600, int64(1_000_000_0000_0000))
		gas.Invoke(t, 0, "balanceOf", treasury)
	})

	userInv.Invoke(t, stackitem.Null{}, "subscribe", user.ScriptHash(), 1, 3600, int64(1_0000_0000))
	gas.Invoke(t, int64(1_0000_0000), "balanceOf", treasury)
}

func TestSubscribe_FreeMode(t *testing.T) {
	env := newTestEnv(t, []any{int64(subscriptionconst.TierDurable), false, false, int64(0)})
	user := env.user.ScriptHash()

	t.Run("not initialized", func(t *testing.T) {
		env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", user, 2, 500, 0)
		now := ledgerTime(t, env.e)

		s := env.subscription(t, user)
		require.NotNil(t, s)
		require.EqualValues(t, 2, s.PlanID.Int64())
		require.Equal(t, now+500, s.ExpiresAt.Int64())
		env.inv.Invoke(t, stackitem.NewBool(true), "isActive", user)

		env.userInvoker().Invoke(t, stackitem.Null{}, "cancel", user)
		require.Nil(t, env.subscription(t, user))
	})

	env.initialize(t)

	env.userInvoker().InvokeFail(t, subscriptionconst.ErrInvalidAmount, "subscribe", user, 1, 3600, 5)

	h := env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", user, 1, 3600, 0)
	now := ledgerTime(t, env.e)

	events := env.e.GetTxExecResult(t, h).Events
	require.Len(t, events, 1)

	var ev rpcsub.SubscribedEvent
	require.NoError(t, ev.FromStackItem(events[0].Item))
	require.Zero(t, ev.Amount.Sign())
	require.Equal(t, big.NewInt(now+3600), ev.ExpiresAt)
}

func TestSubscribe_ZeroDuration(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.initialize(t)
		user := env.user.ScriptHash()

		env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", user, 1, 0, 10)
		now := ledgerTime(t, env.e)

		require.Equal(t, big.NewInt(now), env.subscription(t, user).ExpiresAt)
		env.inv.Invoke(t, stackitem.NewBool(false), "isActive", user)
	})

	t.Run("rejected", func(t *testing.T) {
		env := newTestEnv(t, []any{int64(subscriptionconst.TierDurable), true, true, int64(0)})
		env.initialize(t)
		user := env.user.ScriptHash()

		env.userInvoker().InvokeFail(t, subscriptionconst.ErrInvalidDuration, "subscribe", user, 1, 0, 10)
		require.Nil(t, env.subscription(t, user))
	})
}

func TestIsActive_Expiration(t *testing.T) {
	env := newTestEnv(t, nil)
	env.initialize(t)
	user := env.user.ScriptHash()

	env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", user, 1, 10, 10)
	env.inv.Invoke(t, stackitem.NewBool(true), "isActive", user)

	skipTime(t, env.e, 11*time.Second)

	env.inv.Invoke(t, stackitem.NewBool(false), "isActive", user)
	require.NotNil(t, env.subscription(t, user), "durable records outlive expiration")
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.user.ScriptHash()

	t.Run("not initialized", func(t *testing.T) {
		h := env.userInvoker().Invoke(t, stackitem.Null{}, "cancel", user)
		require.Len(t, env.contractEvents(t, h), 1)

		env.userInvoker().InvokeFail(t, subscriptionconst.ErrNotInitialized, "subscribe", user, 1, 3600, 10)
	})

	env.initialize(t)
	env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", user, 1, 3600, 10)

	t.Run("without user witness", func(t *testing.T) {
		env.inv.WithSigners(env.admin).InvokeFail(t, subscriptionconst.ErrUnauthorized, "cancel", user)
		require.NotNil(t, env.subscription(t, user))
	})

	for i := 0; i < 2; i++ {
		h := env.userInvoker().Invoke(t, stackitem.Null{}, "cancel", user)

		events := env.contractEvents(t, h)
		require.Len(t, events, 1)

		var ev rpcsub.CancelledEvent
		require.NoError(t, ev.FromStackItem(events[0].Item))
		require.Equal(t, user, ev.User)

		require.Nil(t, env.subscription(t, user))
		env.inv.Invoke(t, stackitem.NewBool(false), "isActive", user)
	}
}

func TestEphemeralTier(t *testing.T) {
	const lifetime = 100

	newEnv := func(t *testing.T) *testEnv {
		env := newTestEnv(t, []any{int64(subscriptionconst.TierEphemeral), true, false, int64(lifetime)})
		env.initialize(t)
		env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", env.user.ScriptHash(), 1, 1000, 10)
		return env
	}

	t.Run("eviction", func(t *testing.T) {
		env := newEnv(t)
		user := env.user.ScriptHash()

		skipTime(t, env.e, (lifetime/2)*time.Second)
		require.NotNil(t, env.subscription(t, user))

		skipTime(t, env.e, (lifetime/2+1)*time.Second)
		require.Nil(t, env.subscription(t, user))
		env.inv.Invoke(t, stackitem.NewBool(false), "isActive", user)

		env.inv.InvokeFail(t, subscriptionconst.ErrSubscriptionNotFound, "extendLifetime", user)

		env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", user, 2, 1000, 10)
		require.Equal(t, big.NewInt(2), env.subscription(t, user).PlanID)
	})

	t.Run("extension", func(t *testing.T) {
		env := newEnv(t)
		user := env.user.ScriptHash()

		skipTime(t, env.e, (lifetime/2)*time.Second)

		// Anyone can extend the lifetime.
		h := env.inv.WithSigners(env.admin).Invoke(t, stackitem.Null{}, "extendLifetime", user)
		now := ledgerTime(t, env.e)

		events := env.contractEvents(t, h)
		require.Len(t, events, 1)

		var ev rpcsub.LifetimeExtendedEvent
		require.NoError(t, ev.FromStackItem(events[0].Item))
		require.Equal(t, rpcsub.LifetimeExtendedEvent{
			User:      user,
			LiveUntil: big.NewInt(now + lifetime),
		}, ev)

		skipTime(t, env.e, (lifetime/2+10)*time.Second)
		require.NotNil(t, env.subscription(t, user))
		env.inv.Invoke(t, stackitem.NewBool(true), "isActive", user)
	})

	t.Run("missing record", func(t *testing.T) {
		env := newEnv(t)
		env.inv.InvokeFail(t, subscriptionconst.ErrSubscriptionNotFound, "extendLifetime", env.admin.ScriptHash())
	})

	t.Run("cancel", func(t *testing.T) {
		env := newEnv(t)
		user := env.user.ScriptHash()

		env.userInvoker().Invoke(t, stackitem.Null{}, "cancel", user)
		env.inv.InvokeFail(t, subscriptionconst.ErrSubscriptionNotFound, "extendLifetime", user)
	})
}

func TestExtendLifetime_DurableTier(t *testing.T) {
	env := newTestEnv(t, nil)
	env.initialize(t)
	user := env.user.ScriptHash()

	env.userInvoker().Invoke(t, stackitem.Null{}, "subscribe", user, 1, 3600, 10)
	env.inv.InvokeFail(t, subscriptionconst.ErrDurableTier, "extendLifetime", user)
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t, nil)
	env.inv.Invoke(t, common.Version, "version")
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t, nil)
	env.userInvoker().InvokeFail(t, "only committee can update contract", "update",
		[]byte{}, []byte{}, nil)
}
