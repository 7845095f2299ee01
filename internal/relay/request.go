package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"

	"github.com/0gfoundation/0g-mint-relay/internal/voucher"
)

// OperationKind names a relayed operation.
type OperationKind string

const (
	OpMint                    OperationKind = "mint"
	OpCreateCollection        OperationKind = "createCollection"
	OpUpgradeSubscription     OperationKind = "upgradeSubscription"
	OpApproveStablecoin       OperationKind = "approveStablecoin"
	OpMintNextGen             OperationKind = "mintNextGen"
	OpCreateCollectionNextGen OperationKind = "createCollectionNextGen"
	OpUpgradeToMaster         OperationKind = "upgradeToMaster"
	OpUpgradeToElite          OperationKind = "upgradeToElite"
	OpDowngradeSubscription   OperationKind = "downgradeSubscription"
	OpClaimNFT                OperationKind = "claimNFT"
	OpDeployClaimableNFT      OperationKind = "deployClaimableNFT"
	OpAddClaimCode            OperationKind = "addClaimCode"
)

// Privileged reports whether kind acts on behalf of a collection owner
// and therefore needs an authenticated wallet.
func (k OperationKind) Privileged() bool {
	return k == OpDeployClaimableNFT || k == OpAddClaimCode
}

// Resource returns the address a privileged request acts on: the owner of
// a claimable deployment or the collection gaining a claim code.
func (r Request) Resource() (common.Address, error) {
	var target struct {
		Collection common.Address `json:"collection"`
		Owner      common.Address `json:"owner"`
	}
	if err := json.Unmarshal(r.Payload, &target); err != nil {
		return common.Address{}, err
	}
	switch r.OperationKind {
	case OpDeployClaimableNFT:
		return target.Owner, nil
	case OpAddClaimCode:
		return target.Collection, nil
	}
	return common.Address{}, fmt.Errorf("%s has no resource", r.OperationKind)
}

// Request is the inbound relay body: operationKind and chainId plus the
// operation's own fields at the same level.
type Request struct {
	OperationKind OperationKind   `json:"operationKind"`
	ChainID       int64           `json:"chainId"`
	Payload       json.RawMessage `json:"-"`

	// Wallet is the authenticated caller, set by the HTTP layer for
	// privileged kinds.
	Wallet common.Address `json:"-"`
}

func (r *Request) UnmarshalJSON(b []byte) error {
	var head struct {
		OperationKind OperationKind `json:"operationKind"`
		ChainID       int64         `json:"chainId"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	r.OperationKind = head.OperationKind
	r.ChainID = head.ChainID
	r.Payload = append(json.RawMessage(nil), b...)
	return nil
}

// NewRequest flattens payload into a Request for kind on chainID.
func NewRequest(kind OperationKind, chainID int64, payload any) (Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{OperationKind: kind, ChainID: chainID, Payload: raw}, nil
}

func (r Request) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &fields); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	kind, _ := json.Marshal(r.OperationKind)
	chainID, _ := json.Marshal(r.ChainID)
	fields["operationKind"] = kind
	fields["chainId"] = chainID
	return json.Marshal(fields)
}

// Response is the success body.
type Response struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
	ContractAddress string `json:"contractAddress,omitempty"`
	TokenID         string `json:"tokenId,omitempty"`
	GasUsed         string `json:"gasUsed"`
	Status          string `json:"status"`
	ClaimPath       string `json:"claimPath,omitempty"`
}

const (
	StatusConfirmed            = "confirmed"
	StatusAddressNotDetermined = "address_not_determined"
)

// ── Payloads ──────────────────────────────────────────────────────────────

type MintPayload = voucher.Signed[voucher.MintVoucher]

type CollectionPayload = voucher.Signed[voucher.CollectionVoucher]

type PlanPayload = voucher.Signed[voucher.PlanVoucher]

// PermitPayload is an EIP-2612 permit signed by Owner.
type PermitPayload struct {
	Owner     common.Address `json:"owner" validate:"required"`
	Spender   common.Address `json:"spender" validate:"required"`
	Value     *big.Int       `json:"value" validate:"required"`
	Deadline  *big.Int       `json:"deadline" validate:"required"`
	Signature hexutil.Bytes  `json:"signature" validate:"len=65"`
}

// ClaimCode describes a redeemable code on a claimable collection.
type ClaimCode struct {
	Code        string   `json:"code" validate:"required"`
	MaxClaims   *big.Int `json:"maxClaims,omitempty"`
	StartTime   uint64   `json:"startTime,omitempty"`
	EndTime     uint64   `json:"endTime,omitempty" validate:"omitempty,gtfield=StartTime"`
	MetadataURI string   `json:"metadataURI" validate:"required"`
}

type ClaimPayload struct {
	Collection common.Address `json:"collection" validate:"required"`
	Recipient  common.Address `json:"recipient" validate:"required"`
	ClaimCode
}

type DeployClaimablePayload struct {
	Name    string         `json:"name" validate:"required"`
	Symbol  string         `json:"symbol" validate:"required"`
	BaseURI string         `json:"baseURI"`
	Owner   common.Address `json:"owner" validate:"required"`
}

type AddClaimCodePayload struct {
	Collection  common.Address `json:"collection" validate:"required"`
	Owner       common.Address `json:"owner" validate:"required"`
	Code        string         `json:"code" validate:"required"`
	MaxClaims   *big.Int       `json:"maxClaims" validate:"required"`
	StartTime   uint64         `json:"startTime"`
	EndTime     uint64         `json:"endTime" validate:"omitempty,gtfield=StartTime"`
	MetadataURI string         `json:"metadataURI" validate:"required"`
}

// ── Validation ────────────────────────────────────────────────────────────

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodePayload unmarshals raw into dst and runs the struct validators.
func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errorf(KindValidation, "missing request body")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return newError(KindValidation, "malformed payload", err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err, reflect.TypeOf(dst).Elem().Name())
	}
	return nil
}

func validationError(err error, root string) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newError(KindValidation, "invalid payload", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Type.field.sub"; drop the root type.
		ns := strings.TrimPrefix(fe.Namespace(), root+".")
		switch fe.Tag() {
		case "required":
			fields = append(fields, ns+" is required")
		default:
			fields = append(fields, fmt.Sprintf("%s fails %s=%s", ns, fe.Tag(), fe.Param()))
		}
	}
	return &Error{Kind: KindValidation, Message: "missing or invalid fields", Details: strings.Join(fields, "; ")}
}
