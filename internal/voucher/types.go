package voucher

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
)

// Kind names the voucher families accepted by the relay.
type Kind string

const (
	KindMint       Kind = "mint"
	KindCollection Kind = "collection"
	KindPlan       Kind = "plan"
)

// MintVoucher authorizes one gasless mint into an existing collection.
type MintVoucher struct {
	Collection common.Address `json:"collection" validate:"required"`
	Recipient  common.Address `json:"recipient" validate:"required"`
	TokenURI   string         `json:"tokenURI" validate:"required"`
	Nonce      *big.Int       `json:"nonce" validate:"required"`
	Deadline   *big.Int       `json:"deadline" validate:"required"`
}

// CollectionVoucher authorizes deployment of a new collection. The creator
// profile fields are only part of the signed struct on NextGen factories.
type CollectionVoucher struct {
	Name             string         `json:"name" validate:"required"`
	Symbol           string         `json:"symbol" validate:"required"`
	Description      string         `json:"description"`
	ImageURI         string         `json:"imageURI"`
	ExternalURL      string         `json:"externalURL"`
	Artist           common.Address `json:"artist" validate:"required"`
	RoyaltyRecipient common.Address `json:"royaltyRecipient"`
	RoyaltyBps       uint16         `json:"royaltyBps" validate:"lte=10000"`
	CreatorName      string         `json:"creatorName,omitempty"`
	CreatorBio       string         `json:"creatorBio,omitempty"`
	CreatorURL       string         `json:"creatorURL,omitempty"`
	Nonce            *big.Int       `json:"nonce" validate:"required"`
	Deadline         *big.Int       `json:"deadline" validate:"required"`
}

// PlanVoucher authorizes a subscription tier change paid or confirmed
// on-chain by the user.
type PlanVoucher struct {
	User     common.Address `json:"user" validate:"required"`
	Plan     uint8          `json:"plan" validate:"lte=2"`
	Nonce    *big.Int       `json:"nonce" validate:"required"`
	Deadline *big.Int       `json:"deadline" validate:"required"`
}

// Signed pairs a voucher with its 65-byte signature (V in {27,28}).
type Signed[T any] struct {
	Voucher   T             `json:"voucher"`
	Signature hexutil.Bytes `json:"signature" validate:"len=65"`
}

// Prepared is an unsigned voucher plus the exact typed data a wallet must sign.
type Prepared[T any] struct {
	Voucher    T                    `json:"voucher"`
	TypedData  apitypes.TypedData   `json:"typedData"`
	ChainID    int64                `json:"chainId"`
	Contract   common.Address       `json:"contract"`
	Generation contracts.Generation `json:"-"`
}

// Signer returns the address expected to have signed each voucher kind.
func (m MintVoucher) Signer() common.Address       { return m.Recipient }
func (c CollectionVoucher) Signer() common.Address { return c.Artist }
func (p PlanVoucher) Signer() common.Address       { return p.User }

// Expired reports whether deadline is at or before now (unix seconds).
func Expired(deadline *big.Int, now int64) bool {
	return deadline == nil || deadline.Cmp(big.NewInt(now)) <= 0
}
