// Package relay is the server side of gasless operations. A request is
// validated, resolved to a contract, checked against the quota and the
// relayer's funding and authorization, simulated, submitted through the
// relayer's single-writer queue, and confirmed. Creation events and mint
// transfers are decoded from the receipt.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
	"github.com/0gfoundation/0g-mint-relay/internal/metrics"
	"github.com/0gfoundation/0g-mint-relay/internal/minting"
	"github.com/0gfoundation/0g-mint-relay/internal/records"
	"github.com/0gfoundation/0g-mint-relay/internal/relayer"
	"github.com/0gfoundation/0g-mint-relay/internal/subscription"
)

// Relayer is the funded submission handle. *relayer.Account implements it.
type Relayer interface {
	Address() common.Address
	CheckFunds(ctx context.Context, chainID int64) (*big.Int, error)
	Submit(ctx context.Context, chainID int64, call chain.Call) (*types.Transaction, error)
}

// Quota is implemented by *subscription.Oracle.
type Quota interface {
	CanMint(ctx context.Context, user common.Address, chainID int64, amount int64) (bool, *subscription.Record, error)
	Invalidate(ctx context.Context, user common.Address, chainID int64)
}

// Recorder is implemented by *recorder.Queue.
type Recorder interface {
	Enqueue(ctx context.Context, m records.MintedNFT) error
}

type Resolver interface {
	Resolve(chainID int64, cap contracts.Capability) (contracts.Resolution, error)
	ResolveExact(chainID int64, cap contracts.Capability, gen contracts.Generation) (contracts.Resolution, error)
	Supports(chainID int64) bool
}

type ChainSource interface {
	Get(chainID int64) (*chain.Client, bool)
}

type Backends interface {
	For(gen contracts.Generation) (minting.Backend, error)
}

// Deps are the collaborators of a Service. Relayer is nil when no relayer
// credential is configured; Quota and Recorder may be nil.
type Deps struct {
	Resolver Resolver
	Backends Backends
	Chains   ChainSource
	Relayer  Relayer
	Quota    Quota
	Recorder Recorder
	Ledger   Ledger
	Log      *zap.Logger
}

type Options struct {
	ConfirmTimeout time.Duration
}

type Service struct {
	resolver Resolver
	backends Backends
	chains   ChainSource
	relayer  Relayer
	quota    Quota
	recorder Recorder
	ledger   Ledger
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

func NewService(d Deps, opts Options) *Service {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 90 * time.Second
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		resolver: d.Resolver,
		backends: d.Backends,
		chains:   d.Chains,
		relayer:  d.Relayer,
		quota:    d.Quota,
		recorder: d.Recorder,
		ledger:   d.Ledger,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Configured reports whether submissions are enabled.
func (s *Service) Configured() bool { return s.relayer != nil }

// operation is a validated request bound to its target contract.
type operation struct {
	kind    OperationKind
	chainID int64
	target  common.Address
	call    chain.Call
	errABIs []*abi.ABI

	// subject owns the quota and the cached subscription.
	subject    common.Address
	gated      bool
	invalidate bool

	// target came from the payload rather than configuration.
	external bool
	// owner, when set, must match the target's on-chain owner().
	owner *common.Address

	created *chain.EventSpec
	minted  *mintInfo
	claim   *ClaimPayload
}

type mintInfo struct {
	collection common.Address
	recipient  common.Address
	uri        string
}

// Relay runs one request to completion. Failures are *Error values.
func (s *Service) Relay(ctx context.Context, req Request) (resp *Response, err error) {
	started := time.Now()
	label := "unknown"
	if _, known := kinds[req.OperationKind]; known {
		label = string(req.OperationKind)
	}
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = AsError(err).Kind.String()
		}
		metrics.ObserveRelay(label, outcome, started)
	}()

	ks, ok := kinds[req.OperationKind]
	if !ok {
		return nil, errorf(KindValidation, "unknown operationKind %q", req.OperationKind)
	}
	if req.ChainID <= 0 {
		return nil, &Error{Kind: KindValidation, Message: "missing or invalid fields", Details: "chainId is required"}
	}
	payload := ks.newPayload()
	if err := decodePayload(req.Payload, payload); err != nil {
		return nil, err
	}

	if s.relayer == nil {
		return nil, errorf(KindRelayerNotConfigured, "relay submission is disabled on this server")
	}

	op, err := ks.build(s, req, payload)
	if err != nil {
		return nil, AsError(err)
	}
	client, ok := s.chains.Get(op.chainID)
	if !ok {
		return nil, errorf(KindUnsupportedChain, "no rpc connection for chain %d", op.chainID)
	}

	if op.claim != nil {
		resp, err = s.runClaim(ctx, client, op)
	} else {
		resp, err = s.run(ctx, client, op)
	}
	if err != nil {
		return nil, AsError(err)
	}
	return resp, nil
}

func (s *Service) run(ctx context.Context, client *chain.Client, op *operation) (*Response, error) {
	if err := s.preflight(ctx, client, op); err != nil {
		return nil, err
	}
	sim := client.Simulate(ctx, s.relayer.Address(), op.call, op.errABIs...)
	if !sim.OK() {
		return nil, s.simFailure(op, op.call, "", sim)
	}

	tx, receipt, err := s.submit(ctx, client, op, op.call)
	if err != nil {
		return nil, err
	}
	resp := s.confirmed(op, tx, receipt)
	s.bookkeep(ctx, op, tx, resp)
	return resp, nil
}

// ── Preflight ─────────────────────────────────────────────────────────────

// preflight runs every check that must pass before a simulation: quota,
// target code, relayer funding and relayer authorization.
func (s *Service) preflight(ctx context.Context, client *chain.Client, op *operation) error {
	if op.gated && s.quota != nil {
		ok, rec, err := s.quota.CanMint(ctx, op.subject, op.chainID, 1)
		switch {
		case errors.Is(err, contracts.ErrContractNotDeployed):
			// No subscription manager on this chain: nothing to enforce.
		case err != nil:
			s.log.Warn("Relay: quota check unavailable, deferring to chain",
				zap.String("kind", string(op.kind)),
				zap.Int64("chain_id", op.chainID),
				zap.String("user", op.subject.Hex()),
				zap.Error(err))
		case !ok:
			return &Error{
				Kind:    KindQuotaExceeded,
				Message: "mint quota exhausted",
				Details: fmt.Sprintf("plan %s, %d of %d used, active=%t", rec.Plan, rec.NFTsMinted, rec.NFTLimit, rec.IsActive),
			}
		}
	}

	if op.external {
		hasCode, err := client.HasCode(ctx, op.target)
		if err != nil {
			return newError(KindUnknown, "read contract code", err)
		}
		if !hasCode {
			return errorf(KindContractNotDeployed, "no contract at %s on chain %d", op.target.Hex(), op.chainID)
		}
	}

	if _, err := s.relayer.CheckFunds(ctx, op.chainID); err != nil {
		s.log.Error("Relay: relayer funds check failed",
			zap.Int64("chain_id", op.chainID),
			zap.String("relayer", s.relayer.Address().Hex()),
			zap.Error(err))
		if errors.Is(err, relayer.ErrInsufficientFunds) {
			return newError(KindInsufficientFunds, "relayer balance too low, retry later", err)
		}
		return newError(KindUnknown, "read relayer balance", err)
	}

	if err := s.checkTrusted(ctx, client, op); err != nil {
		return err
	}
	if op.owner != nil {
		return s.checkOwner(ctx, client, op)
	}
	return nil
}

// checkTrusted asks the target whether it accepts this relayer. Targets
// without isTrustedRelayer are skipped.
func (s *Service) checkTrusted(ctx context.Context, client *chain.Client, op *operation) error {
	from := s.relayer.Address()
	call, err := minting.TrustedRelayerCall(op.target, from)
	if err != nil {
		return newError(KindUnknown, "encode isTrustedRelayer", err)
	}
	sim := client.Simulate(ctx, from, call)
	switch sim.Status {
	case chain.SimOK:
		trusted, err := minting.DecodeBool(sim.Return)
		if err != nil {
			return nil
		}
		if !trusted {
			s.log.Error("Relay: relayer not trusted by contract",
				zap.Int64("chain_id", op.chainID),
				zap.String("contract", op.target.Hex()),
				zap.String("relayer", from.Hex()))
			return errorf(KindRelayerUnauthorized, "relayer %s is not authorized on %s", from.Hex(), op.target.Hex())
		}
	case chain.SimError:
		return newError(KindUnknown, "authorization check failed", sim.Err)
	}
	return nil
}

func (s *Service) checkOwner(ctx context.Context, client *chain.Client, op *operation) error {
	call, err := minting.OwnerCall(op.target)
	if err != nil {
		return newError(KindUnknown, "encode owner", err)
	}
	sim := client.Simulate(ctx, s.relayer.Address(), call)
	if sim.Status == chain.SimError {
		return newError(KindUnknown, "owner check failed", sim.Err)
	}
	if !sim.OK() || len(sim.Return) < 32 {
		return nil
	}
	onchain := common.BytesToAddress(sim.Return[:32])
	if onchain != *op.owner {
		return errorf(KindForbidden, "%s is not the owner of %s", op.owner.Hex(), op.target.Hex())
	}
	return nil
}

// ── Simulate, submit, confirm ─────────────────────────────────────────────

func (s *Service) simFailure(op *operation, call chain.Call, stage string, sim chain.SimResult) *Error {
	s.log.Warn("Relay: simulation failed",
		zap.String("kind", string(op.kind)),
		zap.Int64("chain_id", op.chainID),
		zap.String("contract", call.To.Hex()),
		zap.String("relayer", s.relayer.Address().Hex()),
		zap.String("method", call.Method),
		zap.String("args", hexutil.Encode(call.Data)),
		zap.String("status", sim.Status.String()),
		zap.String("reason", sim.Reason))

	if sim.Status == chain.SimError {
		return newError(KindUnknown, "simulation rpc failed", sim.Err)
	}
	details := sim.Reason
	if stage != "" {
		details = stage + ": " + details
	}
	return &Error{Kind: KindSimulation, Message: "transaction would revert", Details: details, Cause: sim.Err}
}

// submit sends call through the relayer queue and waits for the receipt.
// tx is non-nil whenever the transaction reached the node.
func (s *Service) submit(ctx context.Context, client *chain.Client, op *operation, call chain.Call) (*types.Transaction, *types.Receipt, error) {
	fields := []zap.Field{
		zap.String("kind", string(op.kind)),
		zap.Int64("chain_id", op.chainID),
		zap.String("contract", call.To.Hex()),
		zap.String("relayer", s.relayer.Address().Hex()),
		zap.String("method", call.Method),
	}

	tx, err := s.relayer.Submit(ctx, op.chainID, call)
	if err != nil {
		s.log.Error("Relay: submit failed", append(fields, zap.String("args", hexutil.Encode(call.Data)), zap.Error(err))...)
		switch {
		case errors.Is(err, relayer.ErrInsufficientFunds):
			return nil, nil, newError(KindInsufficientFunds, "relayer balance too low, retry later", err)
		case errors.Is(err, relayer.ErrStopped):
			return nil, nil, newError(KindRelayerNotConfigured, "relayer is shutting down", err)
		case errors.Is(err, context.Canceled):
			return nil, nil, newError(KindCancelled, "request cancelled", err)
		}
		return nil, nil, newError(KindSubmission, "transaction submission failed", err)
	}
	fields = append(fields, zap.String("tx", tx.Hash().Hex()))

	// The transaction is out: confirmation is bounded by the confirm
	// timeout only, so a disconnected caller cannot hide a landed mint.
	receipt, err := client.WaitMined(context.WithoutCancel(ctx), tx, s.opts.ConfirmTimeout)
	if err != nil {
		s.log.Error("Relay: confirmation failed", append(fields, zap.Error(err))...)
		e := newError(KindSubmission, "transaction not confirmed", err)
		e.TxHash = tx.Hash().Hex()
		return tx, nil, e
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.log.Error("Relay: transaction reverted", append(fields, zap.Uint64("gas_used", receipt.GasUsed))...)
		return tx, receipt, &Error{
			Kind:    KindReverted,
			Message: "transaction reverted on-chain",
			Details: fmt.Sprintf("status %d in block %s", receipt.Status, receipt.BlockNumber),
			TxHash:  tx.Hash().Hex(),
		}
	}

	metrics.RelayGasUsed.WithLabelValues(strconv.FormatInt(op.chainID, 10)).Add(float64(receipt.GasUsed))
	s.log.Info("Relay: confirmed", append(fields, zap.Uint64("gas_used", receipt.GasUsed))...)
	return tx, receipt, nil
}

// confirmed builds the success response and decodes receipt events.
func (s *Service) confirmed(op *operation, tx *types.Transaction, receipt *types.Receipt) *Response {
	resp := &Response{
		Success:         true,
		TransactionHash: tx.Hash().Hex(),
		GasUsed:         strconv.FormatUint(receipt.GasUsed, 10),
		Status:          StatusConfirmed,
	}

	if op.created != nil {
		addr, err := chain.ExtractAddress(receipt, op.target, *op.created)
		if err != nil {
			s.log.Warn("Relay: created address not determined",
				zap.String("kind", string(op.kind)),
				zap.Int64("chain_id", op.chainID),
				zap.String("contract", op.target.Hex()),
				zap.String("event", op.created.Signature),
				zap.String("tx", resp.TransactionHash))
			resp.Status = StatusAddressNotDetermined
		} else {
			resp.ContractAddress = addr.Hex()
		}
	}

	if op.minted != nil {
		id, err := chain.ExtractMintedTokenID(receipt, &op.minted.collection, op.minted.recipient)
		if err != nil {
			s.log.Warn("Relay: minted token id not found",
				zap.Int64("chain_id", op.chainID),
				zap.String("collection", op.minted.collection.Hex()),
				zap.String("tx", resp.TransactionHash))
		} else {
			resp.TokenID = id.String()
		}
	}
	return resp
}

// bookkeep records the mint and drops cached quota. Neither can fail the
// request: the transaction is already final.
func (s *Service) bookkeep(ctx context.Context, op *operation, tx *types.Transaction, resp *Response) {
	ctx = context.WithoutCancel(ctx)

	if op.minted != nil && resp.TokenID != "" && s.recorder != nil {
		err := s.recorder.Enqueue(ctx, records.MintedNFT{
			ChainID:    op.chainID,
			Collection: op.minted.collection.Hex(),
			TokenID:    resp.TokenID,
			Owner:      op.minted.recipient.Hex(),
			TxHash:     tx.Hash().Hex(),
			TokenURI:   op.minted.uri,
			Kind:       string(op.kind),
		})
		if err != nil {
			s.log.Error("Relay: record enqueue failed",
				zap.Int64("chain_id", op.chainID),
				zap.String("tx", tx.Hash().Hex()),
				zap.Error(err))
		}
	}
	if op.invalidate && s.quota != nil {
		s.quota.Invalidate(ctx, op.subject, op.chainID)
	}
}
