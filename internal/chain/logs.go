package chain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrAddressNotDetermined means the receipt held no matching creation
	// event. Callers must surface it; never substitute a placeholder.
	ErrAddressNotDetermined = errors.New("created contract address not determined")
	ErrTokenIDNotFound      = errors.New("minted token id not found in receipt")
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = EventTopic("Transfer(address,address,uint256)")

// EventTopic returns topic0 for a canonical event signature.
func EventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// EventSpec identifies a creation event and the indexed topic holding the
// new contract's address.
type EventSpec struct {
	Signature  string
	TopicIndex int
}

// ExtractAddress scans receipt for a log emitted by emitter whose topic0
// matches spec, and returns the address in the indexed topic.
func ExtractAddress(receipt *types.Receipt, emitter common.Address, spec EventSpec) (common.Address, error) {
	if receipt == nil {
		return common.Address{}, ErrAddressNotDetermined
	}
	topic0 := EventTopic(spec.Signature)
	for _, l := range receipt.Logs {
		if l.Address != emitter || len(l.Topics) <= spec.TopicIndex || l.Topics[0] != topic0 {
			continue
		}
		addr := common.BytesToAddress(l.Topics[spec.TopicIndex].Bytes())
		if addr == (common.Address{}) {
			continue
		}
		return addr, nil
	}
	return common.Address{}, ErrAddressNotDetermined
}

// ExtractMintedTokenID finds an ERC-721 mint (Transfer from the zero address)
// to recipient. When collection is non-nil only its logs are considered.
func ExtractMintedTokenID(receipt *types.Receipt, collection *common.Address, recipient common.Address) (*big.Int, error) {
	if receipt == nil {
		return nil, ErrTokenIDNotFound
	}
	for _, l := range receipt.Logs {
		if len(l.Topics) != 4 || l.Topics[0] != TransferTopic {
			continue
		}
		if collection != nil && l.Address != *collection {
			continue
		}
		if l.Topics[1] != (common.Hash{}) {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != recipient {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[3].Bytes()), nil
	}
	return nil, ErrTokenIDNotFound
}
