// Package minting holds the per-generation contract strategies. Each
// generation of the factory and subscription contracts is wrapped in a
// Backend; the relay selects one per request from a Table instead of
// branching on generation inline.
package minting

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
	"github.com/0gfoundation/0g-mint-relay/internal/voucher"
)

// Plan mirrors the on-chain plan enum.
type Plan uint8

const (
	PlanFree Plan = iota
	PlanMaster
	PlanElite
)

func (p Plan) String() string {
	switch p {
	case PlanFree:
		return "FREE"
	case PlanMaster:
		return "MASTER"
	case PlanElite:
		return "ELITE"
	default:
		return "UNKNOWN"
	}
}

// ParsePlan accepts the upper-case names returned by String.
func ParsePlan(s string) (Plan, error) {
	switch s {
	case "FREE":
		return PlanFree, nil
	case "MASTER":
		return PlanMaster, nil
	case "ELITE":
		return PlanElite, nil
	}
	return 0, fmt.Errorf("unknown plan %q", s)
}

// PlanChange selects the subscription entry point.
type PlanChange int

const (
	Upgrade PlanChange = iota
	Downgrade
)

// OnChainSubscription is the raw subscription state read from a manager.
type OnChainSubscription struct {
	Plan       Plan
	ExpiresAt  int64
	NFTsMinted int64
	NFTLimit   int64
	IsActive   bool
	Gasless    bool
}

// Enrolled reports whether the record reflects a real enrollment rather
// than the zero value a contract returns for unknown users.
func (s OnChainSubscription) Enrolled() bool {
	return s.Plan != PlanFree || s.ExpiresAt != 0 || s.NFTLimit != 0 || s.NFTsMinted != 0
}

// ErrNotEnrolled is returned by GetSubscription when the contract rejects
// the lookup for a user it has never seen.
var ErrNotEnrolled = errors.New("user not enrolled")

// Reader performs view calls. *chain.Client implements it.
type Reader interface {
	Read(ctx context.Context, from common.Address, call chain.Call) ([]byte, error)
}

// Backend is the capability set one contract generation exposes.
type Backend interface {
	Generation() contracts.Generation
	CreateCollection(factory common.Address, sv voucher.Signed[voucher.CollectionVoucher]) (chain.Call, error)
	CollectionCreated() chain.EventSpec
	Mint(factory common.Address, sv voucher.Signed[voucher.MintVoucher]) (chain.Call, error)
	ChangePlan(manager common.Address, change PlanChange, sv voucher.Signed[voucher.PlanVoucher]) (chain.Call, error)
	GetSubscription(ctx context.Context, r Reader, manager, user common.Address) (OnChainSubscription, error)
	// ErrorABIs lists ABIs whose custom errors should be decoded on revert.
	ErrorABIs() []*abi.ABI
}

// Table maps each generation to its Backend.
type Table struct {
	backends map[contracts.Generation]Backend
}

// NewTable returns the default table: the legacy strategy serves v2..v5,
// the NextGen strategy serves v6.
func NewTable() *Table {
	legacy := &legacyBackend{}
	return &Table{backends: map[contracts.Generation]Backend{
		contracts.GenV2:      legacy.at(contracts.GenV2),
		contracts.GenV3:      legacy.at(contracts.GenV3),
		contracts.GenV4:      legacy.at(contracts.GenV4),
		contracts.GenV5:      legacy.at(contracts.GenV5),
		contracts.GenNextGen: &nextGenBackend{},
	}}
}

// For returns the strategy for gen.
func (t *Table) For(gen contracts.Generation) (Backend, error) {
	b, ok := t.backends[gen]
	if !ok {
		return nil, fmt.Errorf("no minting backend for generation %s", gen)
	}
	return b, nil
}

// ── Shared encoding ───────────────────────────────────────────────────────

type mintTuple struct {
	Collection common.Address
	Recipient  common.Address
	TokenURI   string
	Nonce      *big.Int
	Deadline   *big.Int
}

type planTuple struct {
	User     common.Address
	Plan     uint8
	Nonce    *big.Int
	Deadline *big.Int
}

func toMintTuple(v voucher.MintVoucher) mintTuple {
	return mintTuple{
		Collection: v.Collection,
		Recipient:  v.Recipient,
		TokenURI:   v.TokenURI,
		Nonce:      orZero(v.Nonce),
		Deadline:   orZero(v.Deadline),
	}
}

func toPlanTuple(v voucher.PlanVoucher) planTuple {
	return planTuple{User: v.User, Plan: v.Plan, Nonce: orZero(v.Nonce), Deadline: orZero(v.Deadline)}
}

func pack(a abi.ABI, to common.Address, method string, args ...interface{}) (chain.Call, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return chain.Call{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return chain.Call{To: to, Data: data, Method: method}, nil
}

func orZero(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case *big.Int:
		if !n.IsInt64() {
			return 1<<63 - 1
		}
		return n.Int64()
	case uint64:
		return int64(n)
	case uint32:
		return int64(n)
	case uint8:
		return int64(n)
	}
	return 0
}

func decodeSubscription(a abi.ABI, method string, ret []byte) (OnChainSubscription, error) {
	out, err := a.Unpack(method, ret)
	if err != nil {
		return OnChainSubscription{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 6 {
		return OnChainSubscription{}, fmt.Errorf("unpack %s: got %d values", method, len(out))
	}
	plan, _ := out[0].(uint8)
	active, _ := out[4].(bool)
	gasless, _ := out[5].(bool)
	return OnChainSubscription{
		Plan:       Plan(plan),
		ExpiresAt:  asInt64(out[1]),
		NFTsMinted: asInt64(out[2]),
		NFTLimit:   asInt64(out[3]),
		IsActive:   active,
		Gasless:    gasless,
	}, nil
}

func readSubscription(ctx context.Context, r Reader, a abi.ABI, method string, manager, user common.Address) (OnChainSubscription, error) {
	call, err := pack(a, manager, method, user)
	if err != nil {
		return OnChainSubscription{}, err
	}
	ret, err := r.Read(ctx, user, call)
	if err != nil {
		if data, isRevert := chain.RevertData(err); isRevert {
			return OnChainSubscription{}, fmt.Errorf("%w: %s", ErrNotEnrolled, chain.DecodeRevert(data, &a))
		}
		return OnChainSubscription{}, err
	}
	if len(ret) == 0 {
		return OnChainSubscription{}, fmt.Errorf("%w: empty response", ErrNotEnrolled)
	}
	return decodeSubscription(a, method, ret)
}
