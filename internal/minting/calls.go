package minting

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
)

// Entry points shared by every generation.

// NonceCall reads nonces(user) from a voucher-verifying contract.
func NonceCall(contract, user common.Address) (chain.Call, error) {
	return pack(LegacyFactoryABI, contract, "nonces", user)
}

// TrustedRelayerCall reads isTrustedRelayer(relayer).
func TrustedRelayerCall(contract, relayer common.Address) (chain.Call, error) {
	return pack(LegacyFactoryABI, contract, "isTrustedRelayer", relayer)
}

// SetTrustedRelayerCall encodes setTrustedRelayer(relayer, trusted). Owner-only.
func SetTrustedRelayerCall(contract, relayer common.Address, trusted bool) (chain.Call, error) {
	return pack(LegacyFactoryABI, contract, "setTrustedRelayer", relayer, trusted)
}

// DecodeBool unpacks a single bool return value.
func DecodeBool(ret []byte) (bool, error) {
	if len(ret) < 32 {
		return false, fmt.Errorf("decode bool: short return data (%d bytes)", len(ret))
	}
	return new(big.Int).SetBytes(ret[:32]).Sign() != 0, nil
}

// DecodeUint unpacks a single uint256 return value.
func DecodeUint(ret []byte) (*big.Int, error) {
	if len(ret) < 32 {
		return nil, fmt.Errorf("decode uint: short return data (%d bytes)", len(ret))
	}
	return new(big.Int).SetBytes(ret[:32]), nil
}

// ── Claimable NFTs ────────────────────────────────────────────────────────

// ClaimableDeployed is the creation event of the claimable factory.
var ClaimableDeployed = chain.EventSpec{Signature: "ClaimableDeployed(address,address)", TopicIndex: 1}

func DeployClaimableCall(factory common.Address, name, symbol, baseURI string, owner common.Address) (chain.Call, error) {
	return pack(ClaimableFactoryABI, factory, "deployClaimable", name, symbol, baseURI, owner)
}

func MintToCall(collection, to common.Address, uri string) (chain.Call, error) {
	return pack(ClaimableNFTABI, collection, "mintTo", to, uri)
}

func AddClaimCodeCall(collection common.Address, code string, maxClaims *big.Int, start, end uint64, uri string) (chain.Call, error) {
	return pack(ClaimableNFTABI, collection, "addClaimCode", code, orZero(maxClaims), start, end, uri)
}

func ClaimForCall(collection common.Address, code string, recipient common.Address) (chain.Call, error) {
	return pack(ClaimableNFTABI, collection, "claimFor", code, recipient)
}

// OwnerCall reads owner() of a claimable collection.
func OwnerCall(collection common.Address) (chain.Call, error) {
	return pack(ClaimableNFTABI, collection, "owner")
}

// ── Stablecoin ────────────────────────────────────────────────────────────

// Permit is an EIP-2612 approval signed by the token owner.
type Permit struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Deadline *big.Int
	V        uint8
	R        [32]byte
	S        [32]byte
}

// SplitSignature turns a 65-byte R || S || V signature into permit fields.
func SplitSignature(sig []byte) (v uint8, r, s [32]byte, err error) {
	if len(sig) != 65 {
		return 0, r, s, fmt.Errorf("invalid signature length %d", len(sig))
	}
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}

func PermitCall(token common.Address, p Permit) (chain.Call, error) {
	return pack(StablecoinABI, token, "permit", p.Owner, p.Spender, orZero(p.Value), orZero(p.Deadline), p.V, p.R, p.S)
}

// ── Nonce reader ──────────────────────────────────────────────────────────

// ChainSource looks up the client for a chain. *chain.Registry implements it.
type ChainSource interface {
	Get(chainID int64) (*chain.Client, bool)
}

// Nonces reads voucher nonces over RPC; it satisfies voucher.NonceReader.
type Nonces struct {
	chains ChainSource
}

func NewNonces(chains ChainSource) *Nonces {
	return &Nonces{chains: chains}
}

func (n *Nonces) Nonce(ctx context.Context, chainID int64, _ contracts.Generation, contract, user common.Address) (*big.Int, error) {
	c, ok := n.chains.Get(chainID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", contracts.ErrUnsupportedChain, chainID)
	}
	call, err := NonceCall(contract, user)
	if err != nil {
		return nil, err
	}
	ret, err := c.Read(ctx, user, call)
	if err != nil {
		return nil, fmt.Errorf("nonces(%s): %w", user.Hex(), err)
	}
	return DecodeUint(ret)
}
