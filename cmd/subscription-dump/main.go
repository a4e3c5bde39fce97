package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/subscription-contract/internal/dump"
)

func main() {
	neoRPCEndpoint := flag.String("rpc", "", "Network address of the Neo RPC server")
	contractAddr := flag.String("contract", "", "Subscription contract address (LE hash or Neo address)")
	outPath := flag.String("out", "", "Output file (stdout if empty)")

	flag.Parse()

	switch {
	case *neoRPCEndpoint == "":
		log.Fatal("missing Neo RPC endpoint")
	case *contractAddr == "":
		log.Fatal("missing contract address")
	}

	contract, err := parseContract(*contractAddr)
	if err != nil {
		log.Fatal(err)
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatal(fmt.Errorf("create output file: %w", err))
		}
		defer f.Close()
		out = f
	}

	err = _dump(*neoRPCEndpoint, contract, out)
	if err != nil {
		log.Fatal(err)
	}

	if *outPath != "" {
		log.Printf("Subscription contract storage is successfully dumped to '%s'\n", *outPath)
	}
}

func parseContract(s string) (util.Uint160, error) {
	h, err := util.Uint160DecodeStringLE(s)
	if err == nil {
		return h, nil
	}

	h, err = address.StringToUint160(s)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("invalid contract address '%s': %w", s, err)
	}

	return h, nil
}

// output groups dumped data.
type output struct {
	Block    uint32     `json:"block"`
	Contract string     `json:"contract"`
	State    dump.State `json:"state"`
}

func _dump(neoBlockchainRPCEndpoint string, contract util.Uint160, w io.Writer) error {
	b, err := newRemoteBlockChain(neoBlockchainRPCEndpoint)
	if err != nil {
		return fmt.Errorf("init remote blockchain: %w", err)
	}

	defer b.close()

	ctr, err := b.getSubscriptionContract(contract)
	if err != nil {
		return fmt.Errorf("get Subscription contract state: %w", err)
	}

	var d dump.Decoder

	err = b.iterateContractStorage(ctr.Hash, d.Add)
	if err != nil {
		return fmt.Errorf("iterate Subscription contract storage: %w", err)
	}

	jEnc := json.NewEncoder(w)
	jEnc.SetIndent("", " ")

	err = jEnc.Encode(output{
		Block:    b.currentBlock,
		Contract: ctr.Hash.StringLE(),
		State:    d.State(),
	})
	if err != nil {
		return fmt.Errorf("encode contract state to JSON: %w", err)
	}

	return nil
}
