// Package nep17mock implements a payment token collaborator for Subscription
// contract tests. Its transfer method can be switched to reject or abort.
package nep17mock

import (
	"github.com/nspcc-dev/neo-go/pkg/interop"
	"github.com/nspcc-dev/neo-go/pkg/interop/native/std"
	"github.com/nspcc-dev/neo-go/pkg/interop/runtime"
	"github.com/nspcc-dev/neo-go/pkg/interop/storage"
)

// Transfer modes.
const (
	ModeAccept = 0
	ModeReject = 1
	ModeAbort  = 2
)

// ErrAborted is thrown by transfer in ModeAbort.
const ErrAborted = "token transfer aborted"

const (
	modeKey     = "mode"
	lastCallKey = "call"
)

type Call struct {
	From   interop.Hash160
	To     interop.Hash160
	Amount int
}

func SetMode(mode int) {
	storage.Put(storage.GetContext(), modeKey, mode)
}

func Transfer(from, to interop.Hash160, amount int, data any) bool {
	ctx := storage.GetContext()

	mode := storage.Get(ctx, modeKey)
	if mode != nil {
		switch mode.(int) {
		case ModeReject:
			return false
		case ModeAbort:
			panic(ErrAborted)
		}
	}

	if !runtime.CheckWitness(from) {
		return false
	}

	storage.Put(ctx, lastCallKey, std.Serialize(Call{
		From:   from,
		To:     to,
		Amount: amount,
	}))
	runtime.Notify("Transfer", from, to, amount)

	return true
}

func LastCall() Call {
	val := storage.Get(storage.GetReadOnlyContext(), lastCallKey)
	if val == nil {
		return Call{}
	}
	return std.Deserialize(val.([]byte)).(Call)
}
