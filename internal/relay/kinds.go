package relay

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
	"github.com/0gfoundation/0g-mint-relay/internal/minting"
	"github.com/0gfoundation/0g-mint-relay/internal/voucher"
)

// kindSpec decodes one operation kind and binds it to a contract call.
type kindSpec struct {
	newPayload func() any
	build      func(s *Service, req Request, payload any) (*operation, error)
}

func spec[P any](build func(s *Service, req Request, p *P) (*operation, error)) kindSpec {
	return kindSpec{
		newPayload: func() any { return new(P) },
		build: func(s *Service, req Request, payload any) (*operation, error) {
			return build(s, req, payload.(*P))
		},
	}
}

var kinds = map[OperationKind]kindSpec{
	OpMint:                    spec(buildMint(false)),
	OpMintNextGen:             spec(buildMint(true)),
	OpCreateCollection:        spec(buildCollection(false)),
	OpCreateCollectionNextGen: spec(buildCollection(true)),
	OpUpgradeSubscription:     spec(buildPlan(minting.Upgrade, nil)),
	OpUpgradeToMaster:         spec(buildPlan(minting.Upgrade, planOf(minting.PlanMaster))),
	OpUpgradeToElite:          spec(buildPlan(minting.Upgrade, planOf(minting.PlanElite))),
	OpDowngradeSubscription:   spec(buildPlan(minting.Downgrade, nil)),
	OpApproveStablecoin:       spec(buildPermit),
	OpClaimNFT:                spec(buildClaim),
	OpDeployClaimableNFT:      spec(buildDeployClaimable),
	OpAddClaimCode:            spec(buildAddClaimCode),
}

// Kinds lists every supported operation kind.
func Kinds() []OperationKind {
	out := make([]OperationKind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	return out
}

func planOf(p minting.Plan) *minting.Plan { return &p }

// ── Shared checks ─────────────────────────────────────────────────────────

func (s *Service) resolve(chainID int64, cap contracts.Capability, nextGen bool) (contracts.Resolution, error) {
	if nextGen {
		return s.resolver.ResolveExact(chainID, cap, contracts.GenNextGen)
	}
	return s.resolver.Resolve(chainID, cap)
}

// verifyVoucher rejects expired vouchers and signatures that do not
// recover to the expected signer, before any RPC is spent on them.
func (s *Service) verifyVoucher(td apitypes.TypedData, deadlineExpired bool, sig []byte, want common.Address) error {
	if deadlineExpired {
		return &Error{Kind: KindValidation, Message: "voucher expired", Details: "deadline is in the past"}
	}
	got, err := voucher.Recover(td, sig)
	if err != nil {
		return &Error{Kind: KindSimulation, Message: "invalid signature", Details: err.Error(), Cause: err}
	}
	if got != want {
		return &Error{
			Kind:    KindSimulation,
			Message: "invalid signature",
			Details: "signed by " + got.Hex() + ", expected " + want.Hex(),
		}
	}
	return nil
}

func requireWallet(req Request, owner common.Address) error {
	if req.Wallet == (common.Address{}) {
		return errorf(KindForbidden, "%s requires an authenticated wallet", req.OperationKind)
	}
	if req.Wallet != owner {
		return errorf(KindForbidden, "authenticated wallet %s does not match owner %s", req.Wallet.Hex(), owner.Hex())
	}
	return nil
}

func (s *Service) requireChain(chainID int64) error {
	if !s.resolver.Supports(chainID) {
		return errorf(KindUnsupportedChain, "chain %d is not supported", chainID)
	}
	return nil
}

// ── Builders ──────────────────────────────────────────────────────────────

func buildMint(nextGen bool) func(*Service, Request, *MintPayload) (*operation, error) {
	return func(s *Service, req Request, p *MintPayload) (*operation, error) {
		res, err := s.resolve(req.ChainID, contracts.CapMint, nextGen)
		if err != nil {
			return nil, err
		}
		backend, err := s.backends.For(res.Generation)
		if err != nil {
			return nil, err
		}
		v := p.Voucher
		td := voucher.SchemaFor(res.Generation).MintTypedData(v, req.ChainID, res.Address)
		if err := s.verifyVoucher(td, voucher.Expired(v.Deadline, s.now().Unix()), p.Signature, v.Signer()); err != nil {
			return nil, err
		}
		call, err := backend.Mint(res.Address, *p)
		if err != nil {
			return nil, err
		}
		return &operation{
			kind:       req.OperationKind,
			chainID:    req.ChainID,
			target:     res.Address,
			call:       call,
			errABIs:    backend.ErrorABIs(),
			subject:    v.Recipient,
			gated:      true,
			invalidate: true,
			minted:     &mintInfo{collection: v.Collection, recipient: v.Recipient, uri: v.TokenURI},
		}, nil
	}
}

func buildCollection(nextGen bool) func(*Service, Request, *CollectionPayload) (*operation, error) {
	return func(s *Service, req Request, p *CollectionPayload) (*operation, error) {
		res, err := s.resolve(req.ChainID, contracts.CapCreateCollection, nextGen)
		if err != nil {
			return nil, err
		}
		backend, err := s.backends.For(res.Generation)
		if err != nil {
			return nil, err
		}
		v := p.Voucher
		td := voucher.SchemaFor(res.Generation).CollectionTypedData(v, req.ChainID, res.Address)
		if err := s.verifyVoucher(td, voucher.Expired(v.Deadline, s.now().Unix()), p.Signature, v.Signer()); err != nil {
			return nil, err
		}
		call, err := backend.CreateCollection(res.Address, *p)
		if err != nil {
			return nil, err
		}
		created := backend.CollectionCreated()
		return &operation{
			kind:       req.OperationKind,
			chainID:    req.ChainID,
			target:     res.Address,
			call:       call,
			errABIs:    backend.ErrorABIs(),
			subject:    v.Artist,
			gated:      true,
			invalidate: true,
			created:    &created,
		}, nil
	}
}

func buildPlan(change minting.PlanChange, want *minting.Plan) func(*Service, Request, *PlanPayload) (*operation, error) {
	return func(s *Service, req Request, p *PlanPayload) (*operation, error) {
		v := p.Voucher
		plan := minting.Plan(v.Plan)
		switch {
		case want != nil && plan != *want:
			return nil, errorf(KindValidation, "%s requires a %s voucher, got %s", req.OperationKind, *want, plan)
		case change == minting.Upgrade && plan == minting.PlanFree:
			return nil, errorf(KindValidation, "cannot upgrade to %s", plan)
		case change == minting.Downgrade && plan == minting.PlanElite:
			return nil, errorf(KindValidation, "cannot downgrade to %s", plan)
		}

		res, err := s.resolver.Resolve(req.ChainID, contracts.CapManageSubscription)
		if err != nil {
			return nil, err
		}
		backend, err := s.backends.For(res.Generation)
		if err != nil {
			return nil, err
		}
		td := voucher.SchemaFor(res.Generation).PlanTypedData(v, req.ChainID, res.Address)
		if err := s.verifyVoucher(td, voucher.Expired(v.Deadline, s.now().Unix()), p.Signature, v.Signer()); err != nil {
			return nil, err
		}
		call, err := backend.ChangePlan(res.Address, change, *p)
		if err != nil {
			return nil, err
		}
		return &operation{
			kind:       req.OperationKind,
			chainID:    req.ChainID,
			target:     res.Address,
			call:       call,
			errABIs:    backend.ErrorABIs(),
			subject:    v.User,
			invalidate: true,
		}, nil
	}
}

// buildPermit relays an EIP-2612 approval so a user can pay for a plan
// without holding gas. The spender must be the chain's subscription
// manager.
func buildPermit(s *Service, req Request, p *PermitPayload) (*operation, error) {
	token, err := s.resolver.Resolve(req.ChainID, contracts.CapStablecoin)
	if err != nil {
		return nil, err
	}
	manager, err := s.resolver.Resolve(req.ChainID, contracts.CapManageSubscription)
	if err != nil {
		return nil, err
	}
	if p.Spender != manager.Address {
		return nil, errorf(KindValidation, "spender must be the subscription manager %s", manager.Address.Hex())
	}
	if voucher.Expired(p.Deadline, s.now().Unix()) {
		return nil, &Error{Kind: KindValidation, Message: "permit expired", Details: "deadline is in the past"}
	}
	v, r, sig, err := minting.SplitSignature(p.Signature)
	if err != nil {
		return nil, newError(KindValidation, "invalid signature", err)
	}
	call, err := minting.PermitCall(token.Address, minting.Permit{
		Owner:    p.Owner,
		Spender:  p.Spender,
		Value:    p.Value,
		Deadline: p.Deadline,
		V:        v,
		R:        r,
		S:        sig,
	})
	if err != nil {
		return nil, err
	}
	return &operation{
		kind:    req.OperationKind,
		chainID: req.ChainID,
		target:  token.Address,
		call:    call,
		errABIs: []*abi.ABI{&minting.StablecoinABI},
		subject: p.Owner,
	}, nil
}

func buildClaim(s *Service, req Request, p *ClaimPayload) (*operation, error) {
	if err := s.requireChain(req.ChainID); err != nil {
		return nil, err
	}
	return &operation{
		kind:       req.OperationKind,
		chainID:    req.ChainID,
		target:     p.Collection,
		errABIs:    []*abi.ABI{&minting.ClaimableNFTABI},
		subject:    p.Recipient,
		gated:      true,
		invalidate: true,
		external:   true,
		minted:     &mintInfo{collection: p.Collection, recipient: p.Recipient, uri: p.MetadataURI},
		claim:      p,
	}, nil
}

func buildDeployClaimable(s *Service, req Request, p *DeployClaimablePayload) (*operation, error) {
	if err := requireWallet(req, p.Owner); err != nil {
		return nil, err
	}
	res, err := s.resolver.Resolve(req.ChainID, contracts.CapDeployClaimable)
	if err != nil {
		return nil, err
	}
	call, err := minting.DeployClaimableCall(res.Address, p.Name, p.Symbol, p.BaseURI, p.Owner)
	if err != nil {
		return nil, err
	}
	created := minting.ClaimableDeployed
	return &operation{
		kind:    req.OperationKind,
		chainID: req.ChainID,
		target:  res.Address,
		call:    call,
		errABIs: []*abi.ABI{&minting.ClaimableFactoryABI},
		subject: p.Owner,
		created: &created,
	}, nil
}

func buildAddClaimCode(s *Service, req Request, p *AddClaimCodePayload) (*operation, error) {
	if err := requireWallet(req, p.Owner); err != nil {
		return nil, err
	}
	if err := s.requireChain(req.ChainID); err != nil {
		return nil, err
	}
	call, err := minting.AddClaimCodeCall(p.Collection, p.Code, p.MaxClaims, p.StartTime, p.EndTime, p.MetadataURI)
	if err != nil {
		return nil, err
	}
	owner := p.Owner
	return &operation{
		kind:     req.OperationKind,
		chainID:  req.ChainID,
		target:   p.Collection,
		call:     call,
		errABIs:  []*abi.ABI{&minting.ClaimableNFTABI},
		subject:  p.Owner,
		external: true,
		owner:    &owner,
	}, nil
}
