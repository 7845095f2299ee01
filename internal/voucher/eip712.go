package voucher

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
)

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Schema fixes the EIP-712 domain and struct layouts for one contract
// generation. Field order and types must match the Solidity typehash.
type Schema struct {
	FactoryName         string
	FactoryVersion      string
	SubscriptionName    string
	SubscriptionVersion string
	Mint                []apitypes.Type
	Collection          []apitypes.Type
	Plan                []apitypes.Type
}

var mintFields = []apitypes.Type{
	{Name: "collection", Type: "address"},
	{Name: "recipient", Type: "address"},
	{Name: "tokenURI", Type: "string"},
	{Name: "nonce", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
}

var planFields = []apitypes.Type{
	{Name: "user", Type: "address"},
	{Name: "plan", Type: "uint8"},
	{Name: "nonce", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
}

var legacySchema = Schema{
	FactoryName:         "GaslessNFTFactory",
	FactoryVersion:      "1",
	SubscriptionName:    "SubscriptionManager",
	SubscriptionVersion: "1",
	Mint:                mintFields,
	Collection: []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "symbol", Type: "string"},
		{Name: "description", Type: "string"},
		{Name: "imageURI", Type: "string"},
		{Name: "externalURL", Type: "string"},
		{Name: "artist", Type: "address"},
		{Name: "royaltyRecipient", Type: "address"},
		{Name: "royaltyBps", Type: "uint96"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	Plan: planFields,
}

var nextGenSchema = Schema{
	FactoryName:         "GaslessNFTFactory",
	FactoryVersion:      "2",
	SubscriptionName:    "SubscriptionManager",
	SubscriptionVersion: "2",
	Mint:                mintFields,
	Collection: []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "symbol", Type: "string"},
		{Name: "description", Type: "string"},
		{Name: "imageURI", Type: "string"},
		{Name: "externalURL", Type: "string"},
		{Name: "artist", Type: "address"},
		{Name: "royaltyRecipient", Type: "address"},
		{Name: "royaltyBps", Type: "uint96"},
		{Name: "creatorName", Type: "string"},
		{Name: "creatorBio", Type: "string"},
		{Name: "creatorURL", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	Plan: planFields,
}

// SchemaFor returns the layout used by contracts of the given generation.
func SchemaFor(gen contracts.Generation) Schema {
	if gen == contracts.GenNextGen {
		return nextGenSchema
	}
	return legacySchema
}

func newTypedData(primary string, fields []apitypes.Type, name, version string, chainID int64, contract common.Address, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: contract.Hex(),
		},
		Message: msg,
	}
}

// MintTypedData builds the typed data for a MintVoucher verified by factory.
func (s Schema) MintTypedData(v MintVoucher, chainID int64, factory common.Address) apitypes.TypedData {
	return newTypedData("MintVoucher", s.Mint, s.FactoryName, s.FactoryVersion, chainID, factory, apitypes.TypedDataMessage{
		"collection": v.Collection.Hex(),
		"recipient":  v.Recipient.Hex(),
		"tokenURI":   v.TokenURI,
		"nonce":      bigOrZero(v.Nonce),
		"deadline":   bigOrZero(v.Deadline),
	})
}

// CollectionTypedData builds the typed data for a CollectionVoucher. Profile
// fields are only included when the schema declares them.
func (s Schema) CollectionTypedData(v CollectionVoucher, chainID int64, factory common.Address) apitypes.TypedData {
	msg := apitypes.TypedDataMessage{
		"name":             v.Name,
		"symbol":           v.Symbol,
		"description":      v.Description,
		"imageURI":         v.ImageURI,
		"externalURL":      v.ExternalURL,
		"artist":           v.Artist.Hex(),
		"royaltyRecipient": v.RoyaltyRecipient.Hex(),
		"royaltyBps":       new(big.Int).SetUint64(uint64(v.RoyaltyBps)),
		"nonce":            bigOrZero(v.Nonce),
		"deadline":         bigOrZero(v.Deadline),
	}
	if hasField(s.Collection, "creatorName") {
		msg["creatorName"] = v.CreatorName
		msg["creatorBio"] = v.CreatorBio
		msg["creatorURL"] = v.CreatorURL
	}
	return newTypedData("CollectionVoucher", s.Collection, s.FactoryName, s.FactoryVersion, chainID, factory, msg)
}

// PlanTypedData builds the typed data for a PlanVoucher verified by the
// subscription manager.
func (s Schema) PlanTypedData(v PlanVoucher, chainID int64, manager common.Address) apitypes.TypedData {
	return newTypedData("PlanVoucher", s.Plan, s.SubscriptionName, s.SubscriptionVersion, chainID, manager, apitypes.TypedDataMessage{
		"user":     v.User.Hex(),
		"plan":     new(big.Int).SetUint64(uint64(v.Plan)),
		"nonce":    bigOrZero(v.Nonce),
		"deadline": bigOrZero(v.Deadline),
	})
}

// Digest computes keccak256(0x1901 || domainSeparator || structHash).
func Digest(td apitypes.TypedData) (common.Hash, error) {
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash struct: %w", err)
	}
	domainSep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSep...)
	raw = append(raw, structHash...)
	return crypto.Keccak256Hash(raw), nil
}

// Sign signs td with key and returns R || S || V with V in {27,28}.
func Sign(td apitypes.TypedData, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := Digest(td)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, err
	}
	// Convert V from 0/1 to 27/28 for Solidity ecrecover
	sig[64] += 27
	return sig, nil
}

// Recover returns the address that produced sig over td.
func Recover(td apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}
	digest, err := Digest(td)
	if err != nil {
		return common.Address{}, err
	}
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], s)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func bigOrZero(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}

func hasField(fields []apitypes.Type, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
