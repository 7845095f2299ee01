package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/metrics"
	"github.com/0gfoundation/0g-mint-relay/internal/minting"
	"github.com/0gfoundation/0g-mint-relay/internal/relayer"
)

const (
	ClaimPathDirect = "direct"
	ClaimPathLegacy = "legacy"
)

// Ledger records claim redemptions so a user redeems a code at most once.
type Ledger interface {
	// Reserve returns false when key is already taken.
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLedger keeps reservations as permanent SETNX keys.
type RedisLedger struct {
	rdb *redis.Client
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb}
}

func (l *RedisLedger) Reserve(ctx context.Context, key string) (bool, error) {
	return l.rdb.SetNX(ctx, key, time.Now().Unix(), 0).Result()
}

func (l *RedisLedger) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}

// ClaimKey identifies one (chain, collection, code, user) redemption. The
// code itself is hashed so the ledger never stores it.
func ClaimKey(chainID int64, collection common.Address, code string, user common.Address) string {
	return fmt.Sprintf("claim:%d:%s:%s:%s",
		chainID,
		strings.ToLower(collection.Hex()),
		crypto.Keccak256Hash([]byte(code)).Hex(),
		strings.ToLower(user.Hex()))
}

// runClaim redeems a claim code for the recipient. It prefers mintTo on
// the collection and falls back to legacy claim-code redemption when the
// collection does not expose mintTo.
func (s *Service) runClaim(ctx context.Context, client *chain.Client, op *operation) (*Response, error) {
	c := op.claim
	if err := s.preflight(ctx, client, op); err != nil {
		return nil, err
	}

	key := ClaimKey(op.chainID, c.Collection, c.Code, c.Recipient)
	reserved, err := s.ledger.Reserve(ctx, key)
	if err != nil {
		return nil, newError(KindUnknown, "claim ledger unavailable", err)
	}
	if !reserved {
		return nil, errorf(KindAlreadyRedeemed, "claim code already redeemed by %s", c.Recipient.Hex())
	}
	keep := false
	defer func() {
		if keep {
			return
		}
		if err := s.ledger.Release(context.WithoutCancel(ctx), key); err != nil {
			s.log.Error("runClaim: release reservation", zap.String("key", key), zap.Error(err))
		}
	}()

	call, path, err := s.claimCall(ctx, client, op)
	if err != nil {
		return nil, err
	}

	tx, receipt, err := s.submit(ctx, client, op, call)
	if err != nil {
		keep = !releasable(tx, err)
		return nil, err
	}
	keep = true

	metrics.ClaimPath.WithLabelValues(path).Inc()
	resp := s.confirmed(op, tx, receipt)
	resp.ClaimPath = path
	s.bookkeep(ctx, op, tx, resp)
	return resp, nil
}

// releasable reports whether a failed claim submission provably redeemed
// nothing: it never reached the node, or it was mined and reverted. Any
// other failure may still land, so the reservation stays.
func releasable(tx *types.Transaction, err error) bool {
	if tx == nil {
		return relayer.NotBroadcast(err)
	}
	return AsError(err).Kind == KindReverted
}

// claimCall picks the redemption entry point from the direct-mint
// simulation outcome.
func (s *Service) claimCall(ctx context.Context, client *chain.Client, op *operation) (chain.Call, string, error) {
	c := op.claim
	direct, err := minting.MintToCall(c.Collection, c.Recipient, c.MetadataURI)
	if err != nil {
		return chain.Call{}, "", newError(KindUnknown, "encode mintTo", err)
	}

	sim := client.Simulate(ctx, s.relayer.Address(), direct, op.errABIs...)
	switch sim.Status {
	case chain.SimOK:
		return direct, ClaimPathDirect, nil
	case chain.SimUnsupported:
		s.log.Info("runClaim: mintTo unsupported, using claim code",
			zap.Int64("chain_id", op.chainID),
			zap.String("collection", c.Collection.Hex()),
			zap.String("reason", sim.Reason))
		call, err := s.legacyClaim(ctx, client, op)
		return call, ClaimPathLegacy, err
	default:
		return chain.Call{}, "", s.simFailure(op, direct, "direct-mint", sim)
	}
}

func (s *Service) legacyClaim(ctx context.Context, client *chain.Client, op *operation) (chain.Call, error) {
	c := op.claim
	if c.MaxClaims != nil {
		s.registerClaimCode(ctx, client, op)
	}

	claim, err := minting.ClaimForCall(c.Collection, c.Code, c.Recipient)
	if err != nil {
		return chain.Call{}, newError(KindUnknown, "encode claimFor", err)
	}
	sim := client.Simulate(ctx, s.relayer.Address(), claim, op.errABIs...)
	if sim.OK() {
		return claim, nil
	}
	e := s.simFailure(op, claim, "", sim)
	if e.Kind == KindSimulation {
		e.Message = "claim failed"
		e.Details = "direct-mint: unsupported; legacy-claim: " + sim.Reason
	}
	return chain.Call{}, e
}

// registerClaimCode adds the code to a legacy collection. It is best
// effort: an existing code is the expected case, and any other failure
// surfaces through the claimFor simulation that follows.
func (s *Service) registerClaimCode(ctx context.Context, client *chain.Client, op *operation) {
	c := op.claim
	log := s.log.With(
		zap.Int64("chain_id", op.chainID),
		zap.String("collection", c.Collection.Hex()))

	call, err := minting.AddClaimCodeCall(c.Collection, c.Code, c.MaxClaims, c.StartTime, c.EndTime, c.MetadataURI)
	if err != nil {
		log.Warn("registerClaimCode: encode", zap.Error(err))
		return
	}
	sim := client.Simulate(ctx, s.relayer.Address(), call, op.errABIs...)
	switch {
	case sim.OK():
		if _, _, err := s.submit(ctx, client, op, call); err != nil {
			log.Warn("registerClaimCode: submit failed", zap.Error(err))
		}
	case strings.Contains(strings.ToLower(sim.Reason), "exist"):
		log.Debug("registerClaimCode: code already registered")
	default:
		log.Warn("registerClaimCode: skipped",
			zap.String("status", sim.Status.String()),
			zap.String("reason", sim.Reason))
	}
}
