package minting

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
	"github.com/0gfoundation/0g-mint-relay/internal/voucher"
)

// legacyBackend serves the v2..v5 factories and subscription managers,
// which share one interface.
type legacyBackend struct {
	gen contracts.Generation
}

func (b *legacyBackend) at(gen contracts.Generation) *legacyBackend {
	return &legacyBackend{gen: gen}
}

func (b *legacyBackend) Generation() contracts.Generation { return b.gen }

type legacyCollectionTuple struct {
	Name             string
	Symbol           string
	Description      string
	ImageURI         string
	ExternalURL      string
	Artist           common.Address
	RoyaltyRecipient common.Address
	RoyaltyBps       *big.Int
	Nonce            *big.Int
	Deadline         *big.Int
}

func (b *legacyBackend) CreateCollection(factory common.Address, sv voucher.Signed[voucher.CollectionVoucher]) (chain.Call, error) {
	v := sv.Voucher
	t := legacyCollectionTuple{
		Name:             v.Name,
		Symbol:           v.Symbol,
		Description:      v.Description,
		ImageURI:         v.ImageURI,
		ExternalURL:      v.ExternalURL,
		Artist:           v.Artist,
		RoyaltyRecipient: v.RoyaltyRecipient,
		RoyaltyBps:       new(big.Int).SetUint64(uint64(v.RoyaltyBps)),
		Nonce:            orZero(v.Nonce),
		Deadline:         orZero(v.Deadline),
	}
	return pack(LegacyFactoryABI, factory, "createCollectionWithVoucher", t, []byte(sv.Signature))
}

func (b *legacyBackend) CollectionCreated() chain.EventSpec {
	return chain.EventSpec{Signature: "CollectionCreated(address,address,string)", TopicIndex: 1}
}

func (b *legacyBackend) Mint(factory common.Address, sv voucher.Signed[voucher.MintVoucher]) (chain.Call, error) {
	return pack(LegacyFactoryABI, factory, "mintWithVoucher", toMintTuple(sv.Voucher), []byte(sv.Signature))
}

func (b *legacyBackend) ChangePlan(manager common.Address, change PlanChange, sv voucher.Signed[voucher.PlanVoucher]) (chain.Call, error) {
	method := "upgradeWithVoucher"
	if change == Downgrade {
		method = "downgradeWithVoucher"
	}
	return pack(LegacySubscriptionABI, manager, method, toPlanTuple(sv.Voucher), []byte(sv.Signature))
}

func (b *legacyBackend) GetSubscription(ctx context.Context, r Reader, manager, user common.Address) (OnChainSubscription, error) {
	s, err := readSubscription(ctx, r, LegacySubscriptionABI, "getSubscription", manager, user)
	if err != nil {
		return OnChainSubscription{}, fmt.Errorf("%s getSubscription: %w", b.gen, err)
	}
	return s, nil
}

func (b *legacyBackend) ErrorABIs() []*abi.ABI {
	return []*abi.ABI{&LegacyFactoryABI, &LegacySubscriptionABI}
}
