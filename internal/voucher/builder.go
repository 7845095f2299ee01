package voucher

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
)

var (
	// ErrUserRejected is returned by a TypedDataSigner when the user declines
	// the signature request. It is final; callers must not retry.
	ErrUserRejected = errors.New("signature request rejected by user")
	// ErrSigning wraps every other signer fault (transport, device, key).
	ErrSigning = errors.New("signing failed")
)

// NonceReader reads the per-user replay nonce held by a voucher-verifying
// contract.
type NonceReader interface {
	Nonce(ctx context.Context, chainID int64, gen contracts.Generation, contract, user common.Address) (*big.Int, error)
}

// TypedDataSigner is the user's own signing context (wallet, local key).
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
}

// Resolver is the subset of contracts.Resolver the builder needs.
type Resolver interface {
	Resolve(chainID int64, cap contracts.Capability) (contracts.Resolution, error)
	ResolveExact(chainID int64, cap contracts.Capability, gen contracts.Generation) (contracts.Resolution, error)
}

// Builder assembles vouchers with a fresh on-chain nonce and a deadline.
type Builder struct {
	resolver Resolver
	nonces   NonceReader
	ttl      time.Duration
	now      func() time.Time
}

func NewBuilder(resolver Resolver, nonces NonceReader, ttl time.Duration) *Builder {
	return &Builder{resolver: resolver, nonces: nonces, ttl: ttl, now: time.Now}
}

// MintParams are the caller-chosen fields of a MintVoucher.
type MintParams struct {
	ChainID    int64
	Collection common.Address
	Recipient  common.Address
	TokenURI   string
	// NextGen pins resolution to the NextGen factory.
	NextGen bool
}

// CollectionParams are the caller-chosen fields of a CollectionVoucher.
type CollectionParams struct {
	ChainID          int64
	Name             string
	Symbol           string
	Description      string
	ImageURI         string
	ExternalURL      string
	Artist           common.Address
	RoyaltyRecipient common.Address
	RoyaltyBps       uint16
	CreatorName      string
	CreatorBio       string
	CreatorURL       string
	NextGen          bool
}

type PlanParams struct {
	ChainID int64
	User    common.Address
	Plan    uint8
}

func (b *Builder) resolve(chainID int64, cap contracts.Capability, nextGen bool) (contracts.Resolution, error) {
	if nextGen {
		return b.resolver.ResolveExact(chainID, cap, contracts.GenNextGen)
	}
	return b.resolver.Resolve(chainID, cap)
}

func (b *Builder) deadline() *big.Int {
	return big.NewInt(b.now().Add(b.ttl).Unix())
}

// PrepareMint returns an unsigned MintVoucher and its typed data.
func (b *Builder) PrepareMint(ctx context.Context, p MintParams) (*Prepared[MintVoucher], error) {
	res, err := b.resolve(p.ChainID, contracts.CapMint, p.NextGen)
	if err != nil {
		return nil, err
	}
	nonce, err := b.nonces.Nonce(ctx, p.ChainID, res.Generation, res.Address, p.Recipient)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	v := MintVoucher{
		Collection: p.Collection,
		Recipient:  p.Recipient,
		TokenURI:   p.TokenURI,
		Nonce:      nonce,
		Deadline:   b.deadline(),
	}
	return &Prepared[MintVoucher]{
		Voucher:    v,
		TypedData:  SchemaFor(res.Generation).MintTypedData(v, p.ChainID, res.Address),
		ChainID:    p.ChainID,
		Contract:   res.Address,
		Generation: res.Generation,
	}, nil
}

// PrepareCollection returns an unsigned CollectionVoucher and its typed data.
func (b *Builder) PrepareCollection(ctx context.Context, p CollectionParams) (*Prepared[CollectionVoucher], error) {
	res, err := b.resolve(p.ChainID, contracts.CapCreateCollection, p.NextGen)
	if err != nil {
		return nil, err
	}
	nonce, err := b.nonces.Nonce(ctx, p.ChainID, res.Generation, res.Address, p.Artist)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	v := CollectionVoucher{
		Name:             p.Name,
		Symbol:           p.Symbol,
		Description:      p.Description,
		ImageURI:         p.ImageURI,
		ExternalURL:      p.ExternalURL,
		Artist:           p.Artist,
		RoyaltyRecipient: p.RoyaltyRecipient,
		RoyaltyBps:       p.RoyaltyBps,
		Nonce:            nonce,
		Deadline:         b.deadline(),
	}
	if res.Generation == contracts.GenNextGen {
		v.CreatorName, v.CreatorBio, v.CreatorURL = p.CreatorName, p.CreatorBio, p.CreatorURL
	}
	return &Prepared[CollectionVoucher]{
		Voucher:    v,
		TypedData:  SchemaFor(res.Generation).CollectionTypedData(v, p.ChainID, res.Address),
		ChainID:    p.ChainID,
		Contract:   res.Address,
		Generation: res.Generation,
	}, nil
}

// PreparePlan returns an unsigned PlanVoucher and its typed data.
func (b *Builder) PreparePlan(ctx context.Context, p PlanParams) (*Prepared[PlanVoucher], error) {
	res, err := b.resolver.Resolve(p.ChainID, contracts.CapManageSubscription)
	if err != nil {
		return nil, err
	}
	nonce, err := b.nonces.Nonce(ctx, p.ChainID, res.Generation, res.Address, p.User)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	v := PlanVoucher{User: p.User, Plan: p.Plan, Nonce: nonce, Deadline: b.deadline()}
	return &Prepared[PlanVoucher]{
		Voucher:    v,
		TypedData:  SchemaFor(res.Generation).PlanTypedData(v, p.ChainID, res.Address),
		ChainID:    p.ChainID,
		Contract:   res.Address,
		Generation: res.Generation,
	}, nil
}

// BuildMint prepares and signs a MintVoucher.
func (b *Builder) BuildMint(ctx context.Context, signer TypedDataSigner, p MintParams) (*Signed[MintVoucher], error) {
	prep, err := b.PrepareMint(ctx, p)
	if err != nil {
		return nil, err
	}
	sig, err := sign(ctx, signer, prep.TypedData)
	if err != nil {
		return nil, err
	}
	return &Signed[MintVoucher]{Voucher: prep.Voucher, Signature: sig}, nil
}

// BuildCollection prepares and signs a CollectionVoucher.
func (b *Builder) BuildCollection(ctx context.Context, signer TypedDataSigner, p CollectionParams) (*Signed[CollectionVoucher], error) {
	prep, err := b.PrepareCollection(ctx, p)
	if err != nil {
		return nil, err
	}
	sig, err := sign(ctx, signer, prep.TypedData)
	if err != nil {
		return nil, err
	}
	return &Signed[CollectionVoucher]{Voucher: prep.Voucher, Signature: sig}, nil
}

// BuildPlan prepares and signs a PlanVoucher.
func (b *Builder) BuildPlan(ctx context.Context, signer TypedDataSigner, p PlanParams) (*Signed[PlanVoucher], error) {
	prep, err := b.PreparePlan(ctx, p)
	if err != nil {
		return nil, err
	}
	sig, err := sign(ctx, signer, prep.TypedData)
	if err != nil {
		return nil, err
	}
	return &Signed[PlanVoucher]{Voucher: prep.Voucher, Signature: sig}, nil
}

// sign keeps user rejection distinct from every other signer failure.
func sign(ctx context.Context, signer TypedDataSigner, td apitypes.TypedData) ([]byte, error) {
	sig, err := signer.SignTypedData(ctx, td)
	switch {
	case err == nil:
		return sig, nil
	case errors.Is(err, ErrUserRejected), errors.Is(err, context.Canceled):
		return nil, ErrUserRejected
	default:
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
}

// KeySigner signs with a local private key. Used by CLI tooling and tests.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

func (k *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(k.key.PublicKey)
}

func (k *KeySigner) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Sign(td, k.key)
}
