package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/gas"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
	"github.com/nspcc-dev/subscription-contract/contracts"
	"github.com/nspcc-dev/subscription-contract/deploy"
	"go.uber.org/zap"
)

// walletPasswordEnv is an environment variable with the password of wallet
// accounts.
const walletPasswordEnv = "SUBSCRIPTION_WALLET_PASSWORD"

func main() {
	neoRPCEndpoint := flag.String("rpc", "", "Network address of the Neo RPC server")
	walletPath := flag.String("wallet", "", "Path to the NEP-6 wallet with deployer account")
	accountAddr := flag.String("account", "", "Deployer account address (wallet default if empty)")
	adminAddr := flag.String("admin", "", "Admin account address from the same wallet (deployer if empty)")
	artifactsDir := flag.String("contracts", "contracts", "Directory with compiled contracts")
	tokenAddr := flag.String("token", gas.Hash.StringLE(), "Payment token contract (LE hash or Neo address)")
	treasuryAddr := flag.String("treasury", "", "Treasury account receiving payments")
	ephemeral := flag.Bool("ephemeral", false, "Keep subscriptions in ephemeral storage")
	free := flag.Bool("free", false, "Do not charge for subscriptions")
	rejectZero := flag.Bool("reject-zero-duration", false, "Reject subscriptions of zero duration")
	lifetime := flag.Duration("lifetime", 0, "Storage lifetime of ephemeral subscriptions (contract default if zero)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Deployment timeout")

	flag.Parse()

	switch {
	case *neoRPCEndpoint == "":
		log.Fatal("missing Neo RPC endpoint")
	case *walletPath == "":
		log.Fatal("missing wallet")
	case *treasuryAddr == "":
		log.Fatal("missing treasury")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(fmt.Errorf("init logger: %w", err))
	}
	defer func() { _ = logger.Sync() }()

	token, err := parseHash(*tokenAddr)
	if err != nil {
		logger.Fatal("invalid payment token", zap.Error(err))
	}

	treasury, err := parseHash(*treasuryAddr)
	if err != nil {
		logger.Fatal("invalid treasury", zap.Error(err))
	}

	w, err := wallet.NewWalletFromFile(*walletPath)
	if err != nil {
		logger.Fatal("open wallet", zap.Error(err))
	}
	defer w.Close()

	password := os.Getenv(walletPasswordEnv)

	localAcc, err := unlockAccount(w, *accountAddr, password)
	if err != nil {
		logger.Fatal("unlock deployer account", zap.Error(err))
	}

	adminAcc := localAcc
	if *adminAddr != "" {
		adminAcc, err = unlockAccount(w, *adminAddr, password)
		if err != nil {
			logger.Fatal("unlock admin account", zap.Error(err))
		}
	}

	ctr, err := contracts.GetSubscription(os.DirFS(*artifactsDir))
	if err != nil {
		logger.Fatal("read compiled contract", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	c, err := rpcclient.New(ctx, *neoRPCEndpoint, rpcclient.Options{
		DialTimeout:    15 * time.Second,
		RequestTimeout: 15 * time.Second,
	})
	if err != nil {
		logger.Fatal("RPC client dial", zap.Error(err))
	}
	defer c.Close()

	err = c.Init()
	if err != nil {
		logger.Fatal("RPC client init", zap.Error(err))
	}

	addr, err := deploy.Deploy(ctx, deploy.Prm{
		Logger:       logger,
		Blockchain:   c,
		LocalAccount: localAcc,
		AdminAccount: adminAcc,
		NEF:          ctr.NEF,
		Manifest:     ctr.Manifest,
		Policy: deploy.PolicyPrm{
			Ephemeral:          *ephemeral,
			Free:               *free,
			RejectZeroDuration: *rejectZero,
			EphemeralLifetime:  *lifetime,
		},
		PaymentToken: token,
		Treasury:     treasury,
	})
	if err != nil {
		logger.Fatal("deploy Subscription contract", zap.Error(err))
	}

	fmt.Println(addr.StringLE())
}

func unlockAccount(w *wallet.Wallet, addr, password string) (*wallet.Account, error) {
	var acc *wallet.Account

	if addr == "" {
		acc = w.GetAccount(w.GetChangeAddress())
	} else {
		h, err := address.StringToUint160(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid account address '%s': %w", addr, err)
		}
		acc = w.GetAccount(h)
	}

	if acc == nil {
		return nil, fmt.Errorf("account '%s' is missing in the wallet", addr)
	}

	err := acc.Decrypt(password, w.Scrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypt account %s: %w", acc.Address, err)
	}

	return acc, nil
}

func parseHash(s string) (util.Uint160, error) {
	h, err := util.Uint160DecodeStringLE(s)
	if err == nil {
		return h, nil
	}

	h, err = address.StringToUint160(s)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("'%s' is neither LE hash nor Neo address: %w", s, err)
	}

	return h, nil
}
