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

// nextGenBackend serves the v6 contracts: collection vouchers carry creator
// profile fields and plan changes use the *PlanFor entry points.
type nextGenBackend struct{}

func (nextGenBackend) Generation() contracts.Generation { return contracts.GenNextGen }

type nextGenCollectionTuple struct {
	Name             string
	Symbol           string
	Description      string
	ImageURI         string
	ExternalURL      string
	Artist           common.Address
	RoyaltyRecipient common.Address
	RoyaltyBps       *big.Int
	CreatorName      string
	CreatorBio       string
	CreatorURL       string
	Nonce            *big.Int
	Deadline         *big.Int
}

func (nextGenBackend) CreateCollection(factory common.Address, sv voucher.Signed[voucher.CollectionVoucher]) (chain.Call, error) {
	v := sv.Voucher
	t := nextGenCollectionTuple{
		Name:             v.Name,
		Symbol:           v.Symbol,
		Description:      v.Description,
		ImageURI:         v.ImageURI,
		ExternalURL:      v.ExternalURL,
		Artist:           v.Artist,
		RoyaltyRecipient: v.RoyaltyRecipient,
		RoyaltyBps:       new(big.Int).SetUint64(uint64(v.RoyaltyBps)),
		CreatorName:      v.CreatorName,
		CreatorBio:       v.CreatorBio,
		CreatorURL:       v.CreatorURL,
		Nonce:            orZero(v.Nonce),
		Deadline:         orZero(v.Deadline),
	}
	return pack(NextGenFactoryABI, factory, "createCollectionWithVoucher", t, []byte(sv.Signature))
}

func (nextGenBackend) CollectionCreated() chain.EventSpec {
	return chain.EventSpec{Signature: "CollectionDeployed(address,address,uint256)", TopicIndex: 1}
}

func (nextGenBackend) Mint(factory common.Address, sv voucher.Signed[voucher.MintVoucher]) (chain.Call, error) {
	return pack(NextGenFactoryABI, factory, "mintWithVoucher", toMintTuple(sv.Voucher), []byte(sv.Signature))
}

func (nextGenBackend) ChangePlan(manager common.Address, change PlanChange, sv voucher.Signed[voucher.PlanVoucher]) (chain.Call, error) {
	method := "upgradePlanFor"
	if change == Downgrade {
		method = "downgradePlanFor"
	}
	return pack(NextGenSubscriptionABI, manager, method, toPlanTuple(sv.Voucher), []byte(sv.Signature))
}

func (nextGenBackend) GetSubscription(ctx context.Context, r Reader, manager, user common.Address) (OnChainSubscription, error) {
	s, err := readSubscription(ctx, r, NextGenSubscriptionABI, "subscriptionOf", manager, user)
	if err != nil {
		return OnChainSubscription{}, fmt.Errorf("nextgen subscriptionOf: %w", err)
	}
	return s, nil
}

func (nextGenBackend) ErrorABIs() []*abi.ABI {
	return []*abi.ABI{&NextGenFactoryABI, &NextGenSubscriptionABI}
}
