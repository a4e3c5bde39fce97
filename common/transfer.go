package common

import (
	"github.com/nspcc-dev/neo-go/pkg/interop"
	"github.com/nspcc-dev/neo-go/pkg/interop/contract"
)

// TransferNEP17 calls `transfer` method of the NEP-17 token contract moving
// amount from one account to another. It panics with panicMsg if the token
// contract reports failure. Token contract FAULT aborts the whole invocation.
func TransferNEP17(token, from, to interop.Hash160, amount int, panicMsg string) {
	transferred := contract.Call(token, "transfer", contract.All, from, to, amount, nil).(bool)
	if !transferred {
		panic(panicMsg)
	}
}
