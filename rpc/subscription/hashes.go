package subscription

import (
	"fmt"

	"github.com/nspcc-dev/neo-go/pkg/core/state"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// ContractName is the manifest name of the Subscription contract.
const ContractName = "Subscription"

// ContractStateGetter is the interface required for contract state resolution
// using a known contract hash.
type ContractStateGetter interface {
	GetContractStateByHash(util.Uint160) (*state.Contract, error)
}

// Hash returns the address the Subscription contract gets when it's deployed
// by sender from the NEF with the given checksum.
func Hash(sender util.Uint160, nefChecksum uint32) util.Uint160 {
	return state.CreateContractHash(sender, nefChecksum, ContractName)
}

// CheckDeployed makes sure the contract at the given address exists and is
// the Subscription contract.
func CheckDeployed(sg ContractStateGetter, hash util.Uint160) error {
	c, err := sg.GetContractStateByHash(hash)
	if err != nil {
		return fmt.Errorf("get contract state %s: %w", hash.StringLE(), err)
	}

	if c.Manifest.Name != ContractName {
		return fmt.Errorf("contract %s is %q, not %q", hash.StringLE(), c.Manifest.Name, ContractName)
	}

	return nil
}
