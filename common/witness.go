package common

import (
	"github.com/nspcc-dev/neo-go/pkg/interop"
	"github.com/nspcc-dev/neo-go/pkg/interop/runtime"
)

// AuthorizedBy reports whether the current invocation carries a valid
// witness of the given account. Malformed script hashes are never
// authorized.
func AuthorizedBy(account interop.Hash160) bool {
	if len(account) != interop.Hash160Len {
		return false
	}

	return runtime.CheckWitness(account)
}

// CheckWitness checks witness of the passed account.
// It panics with panicMsg on fail.
func CheckWitness(account interop.Hash160, panicMsg string) {
	if !AuthorizedBy(account) {
		panic(panicMsg)
	}
}
