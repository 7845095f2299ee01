// Package subscription computes a user's plan and mint quota on a chain.
//
// On-chain state is authoritative for plan, expiry and flags. The minted
// counter is reconciled against the record store, taking whichever is
// higher. Results are cached per (user, chain); a longer-lived stale copy
// is served when the chain cannot be read.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/cache"
	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
	"github.com/0gfoundation/0g-mint-relay/internal/minting"
)

// Record is the reconciled subscription view returned to callers.
type Record struct {
	Plan            string `json:"plan"`
	ExpiresAt       int64  `json:"expiresAt"`
	NFTsMinted      int64  `json:"nftsMinted"`
	NFTLimit        int64  `json:"nftLimit"`
	RemainingNFTs   int64  `json:"remainingNFTs"`
	IsActive        bool   `json:"isActive"`
	GaslessEligible bool   `json:"gaslessEligible"`
	ChainID         int64  `json:"chainId"`
	User            string `json:"user"`
}

func (r *Record) recompute() {
	r.RemainingNFTs = r.NFTLimit - r.NFTsMinted
	if r.RemainingNFTs < 0 {
		r.RemainingNFTs = 0
	}
}

// Counter reports minted records per owner created at or after since.
// *records.Store implements it.
type Counter interface {
	CountByOwner(ctx context.Context, owner string, chainID int64, since time.Time) (int64, error)
}

type Resolver interface {
	Resolve(chainID int64, cap contracts.Capability) (contracts.Resolution, error)
}

type ChainSource interface {
	Get(chainID int64) (*chain.Client, bool)
}

type Backends interface {
	For(gen contracts.Generation) (minting.Backend, error)
}

// Policy controls quota decisions for users without an active plan.
type Policy struct {
	// LenientFreeBootstrap lets a FREE user with remaining quota mint
	// even though the on-chain record is not active.
	LenientFreeBootstrap bool
	// FreeLimit is the quota synthesized for users never enrolled.
	FreeLimit int64
}

type Options struct {
	CacheTTL time.Duration
	StaleTTL time.Duration
	// PlanPeriod is the length of a paid term. Records older than
	// ExpiresAt-PlanPeriod belong to a previous term and are not counted.
	PlanPeriod time.Duration
	Policy     Policy
}

type Oracle struct {
	resolver Resolver
	backends Backends
	chains   ChainSource
	counter  Counter // may be nil
	cache    cache.Cache
	opts     Options
	log      *zap.Logger
}

func NewOracle(resolver Resolver, backends Backends, chains ChainSource, counter Counter, c cache.Cache, opts Options, log *zap.Logger) *Oracle {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.StaleTTL < opts.CacheTTL {
		opts.StaleTTL = 10 * time.Minute
	}
	if opts.PlanPeriod <= 0 {
		opts.PlanPeriod = 30 * 24 * time.Hour
	}
	return &Oracle{
		resolver: resolver,
		backends: backends,
		chains:   chains,
		counter:  counter,
		cache:    c,
		opts:     opts,
		log:      log,
	}
}

func freshKey(user common.Address, chainID int64) string {
	return fmt.Sprintf("sub:%d:%s", chainID, strings.ToLower(user.Hex()))
}

func staleKey(user common.Address, chainID int64) string {
	return fmt.Sprintf("sub:stale:%d:%s", chainID, strings.ToLower(user.Hex()))
}

// GetSubscription returns the reconciled record for user on chainID.
func (o *Oracle) GetSubscription(ctx context.Context, user common.Address, chainID int64) (*Record, error) {
	if rec, ok := o.cached(ctx, freshKey(user, chainID)); ok {
		return rec, nil
	}

	rec, err := o.load(ctx, user, chainID)
	if err != nil {
		// Resolution failures are configuration, not transient.
		if errors.Is(err, contracts.ErrUnsupportedChain) || errors.Is(err, contracts.ErrContractNotDeployed) {
			return nil, err
		}
		if stale, ok := o.cached(ctx, staleKey(user, chainID)); ok {
			o.log.Warn("GetSubscription: serving stale record",
				zap.Int64("chain_id", chainID),
				zap.String("user", user.Hex()),
				zap.Error(err))
			return stale, nil
		}
		return nil, err
	}

	o.store(ctx, user, chainID, rec)
	return rec, nil
}

// CanMint reports whether user may mint amount more NFTs on chainID.
func (o *Oracle) CanMint(ctx context.Context, user common.Address, chainID int64, amount int64) (bool, *Record, error) {
	rec, err := o.GetSubscription(ctx, user, chainID)
	if err != nil {
		return false, nil, err
	}
	if amount <= 0 {
		amount = 1
	}
	enough := rec.RemainingNFTs >= amount
	if rec.IsActive && enough {
		return true, rec, nil
	}
	if o.opts.Policy.LenientFreeBootstrap && rec.Plan == minting.PlanFree.String() && enough {
		return true, rec, nil
	}
	return false, rec, nil
}

// Invalidate drops cached state after a mint, create or plan change.
func (o *Oracle) Invalidate(ctx context.Context, user common.Address, chainID int64) {
	for _, k := range []string{freshKey(user, chainID), staleKey(user, chainID)} {
		if err := o.cache.Delete(ctx, k); err != nil {
			o.log.Warn("Invalidate: cache delete failed", zap.String("key", k), zap.Error(err))
		}
	}
}

func (o *Oracle) load(ctx context.Context, user common.Address, chainID int64) (*Record, error) {
	res, err := o.resolver.Resolve(chainID, contracts.CapManageSubscription)
	if err != nil {
		return nil, err
	}
	backend, err := o.backends.For(res.Generation)
	if err != nil {
		return nil, err
	}
	client, ok := o.chains.Get(chainID)
	if !ok {
		return nil, fmt.Errorf("%w: no rpc for chain %d", contracts.ErrUnsupportedChain, chainID)
	}

	onchain, err := backend.GetSubscription(ctx, client, res.Address, user)
	switch {
	case errors.Is(err, minting.ErrNotEnrolled):
		onchain = minting.OnChainSubscription{}
	case err != nil:
		return nil, fmt.Errorf("read subscription: %w", err)
	}

	var rec *Record
	if !onchain.Enrolled() {
		rec = &Record{
			Plan:            minting.PlanFree.String(),
			NFTLimit:        o.opts.Policy.FreeLimit,
			GaslessEligible: true,
		}
	} else {
		rec = &Record{
			Plan:            onchain.Plan.String(),
			ExpiresAt:       onchain.ExpiresAt,
			NFTsMinted:      onchain.NFTsMinted,
			NFTLimit:        onchain.NFTLimit,
			IsActive:        onchain.IsActive,
			GaslessEligible: onchain.Gasless,
		}
	}
	rec.ChainID = chainID
	rec.User = user.Hex()

	if o.counter != nil {
		n, err := o.counter.CountByOwner(ctx, user.Hex(), chainID, o.periodStart(rec))
		if err != nil {
			o.log.Warn("GetSubscription: record count unavailable",
				zap.Int64("chain_id", chainID),
				zap.String("user", user.Hex()),
				zap.Error(err))
		} else if n > rec.NFTsMinted {
			rec.NFTsMinted = n
		}
	}
	rec.recompute()
	return rec, nil
}

// periodStart is when the current term began. FREE quotas never reset, so
// they count from the beginning.
func (o *Oracle) periodStart(rec *Record) time.Time {
	if rec.ExpiresAt <= 0 || rec.Plan == minting.PlanFree.String() {
		return time.Time{}
	}
	return time.Unix(rec.ExpiresAt, 0).UTC().Add(-o.opts.PlanPeriod)
}

func (o *Oracle) cached(ctx context.Context, key string) (*Record, bool) {
	raw, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.log.Warn("GetSubscription: cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (o *Oracle) store(ctx context.Context, user common.Address, chainID int64, rec *Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, freshKey(user, chainID), raw, o.opts.CacheTTL); err != nil {
		o.log.Warn("GetSubscription: cache write failed", zap.Error(err))
		return
	}
	_ = o.cache.Set(ctx, staleKey(user, chainID), raw, o.opts.StaleTTL)
}
