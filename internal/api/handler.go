// Package api is the HTTP surface of the relay: relayed operations,
// subscription queries and voucher preparation for browser wallets.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/auth"
	"github.com/0gfoundation/0g-mint-relay/internal/relay"
	"github.com/0gfoundation/0g-mint-relay/internal/subscription"
	"github.com/0gfoundation/0g-mint-relay/internal/voucher"
)

// Relayer is satisfied by *relay.Service.
type Relayer interface {
	Relay(ctx context.Context, req relay.Request) (*relay.Response, error)
	Configured() bool
}

// Subscriptions is satisfied by *subscription.Oracle.
type Subscriptions interface {
	GetSubscription(ctx context.Context, user common.Address, chainID int64) (*subscription.Record, error)
	CanMint(ctx context.Context, user common.Address, chainID int64, amount int64) (bool, *subscription.Record, error)
}

// Vouchers is satisfied by *voucher.Builder.
type Vouchers interface {
	PrepareMint(ctx context.Context, p voucher.MintParams) (*voucher.Prepared[voucher.MintVoucher], error)
	PrepareCollection(ctx context.Context, p voucher.CollectionParams) (*voucher.Prepared[voucher.CollectionVoucher], error)
	PreparePlan(ctx context.Context, p voucher.PlanParams) (*voucher.Prepared[voucher.PlanVoucher], error)
}

// maxBody bounds relay request bodies.
const maxBody = 64 << 10

type Handler struct {
	relay    Relayer
	subs     Subscriptions
	vouchers Vouchers
	verifier *auth.Verifier
	log      *zap.Logger
}

func NewHandler(r Relayer, subs Subscriptions, vouchers Vouchers, verifier *auth.Verifier, log *zap.Logger) *Handler {
	return &Handler{relay: r, subs: subs, vouchers: vouchers, verifier: verifier, log: log}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/relay", h.verifier.Middleware(true), h.handleRelay)
	api.GET("/subscription/:chainId/:address", h.handleSubscription)
	api.GET("/subscription/:chainId/:address/can-mint", h.handleCanMint)
	api.POST("/vouchers/:kind/prepare", h.handlePrepare)
}

// ── Relay ─────────────────────────────────────────────────────────────────

func (h *Handler) handleRelay(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody+1))
	if err != nil {
		writeError(c, &relay.Error{Kind: relay.KindValidation, Message: "read body"})
		return
	}
	if len(body) > maxBody {
		writeError(c, &relay.Error{Kind: relay.KindValidation, Message: "request body too large"})
		return
	}
	var req relay.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(c, &relay.Error{Kind: relay.KindValidation, Message: "malformed request body", Details: err.Error()})
		return
	}

	if req.OperationKind.Privileged() {
		wallet, ok := auth.Wallet(c)
		if !ok {
			unauthorized(c, auth.ErrMissingHeaders.Error())
			return
		}
		signed, _ := auth.Signed(c)
		if signed == nil || signed.Action != string(req.OperationKind) {
			unauthorized(c, "signed action does not match operationKind")
			return
		}
		// The signature covers resource_id, which must name the address the
		// request acts on.
		target, err := req.Resource()
		if err != nil || !common.IsHexAddress(signed.ResourceID) || common.HexToAddress(signed.ResourceID) != target {
			unauthorized(c, "signed resource_id does not match request")
			return
		}
		req.Wallet = wallet
	}

	resp, err := h.relay.Relay(c.Request.Context(), req)
	if err != nil {
		re := relay.AsError(err)
		if re.Kind.HTTPStatus() >= http.StatusInternalServerError && re.Kind != relay.KindRelayerNotConfigured {
			h.log.Error("handleRelay: failed",
				zap.String("request_id", c.GetString("request_id")),
				zap.String("kind", string(req.OperationKind)),
				zap.Int64("chain_id", req.ChainID),
				zap.Error(err))
		}
		writeError(c, re)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ── Subscriptions ─────────────────────────────────────────────────────────

func (h *Handler) handleSubscription(c *gin.Context) {
	chainID, user, ok := pathParams(c)
	if !ok {
		return
	}
	rec, err := h.subs.GetSubscription(c.Request.Context(), user, chainID)
	if err != nil {
		h.queryFailed(c, "handleSubscription", chainID, user, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleCanMint(c *gin.Context) {
	chainID, user, ok := pathParams(c)
	if !ok {
		return
	}
	amount := int64(1)
	if raw := c.Query("amount"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(c, &relay.Error{Kind: relay.KindValidation, Message: "amount must be a positive integer"})
			return
		}
		amount = n
	}
	allowed, rec, err := h.subs.CanMint(c.Request.Context(), user, chainID, amount)
	if err != nil {
		h.queryFailed(c, "handleCanMint", chainID, user, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canMint": allowed, "remaining": rec.RemainingNFTs})
}

func (h *Handler) queryFailed(c *gin.Context, op string, chainID int64, user common.Address, err error) {
	re := relay.AsError(err)
	if re.Kind == relay.KindUnknown {
		h.log.Error(op+": read failed",
			zap.Int64("chain_id", chainID),
			zap.String("user", user.Hex()),
			zap.Error(err))
		// Chain reads that fail without a stale copy are upstream faults.
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "subscription unavailable", "category": relay.CategoryNetwork})
		return
	}
	writeError(c, re)
}

func pathParams(c *gin.Context) (int64, common.Address, bool) {
	chainID, err := strconv.ParseInt(c.Param("chainId"), 10, 64)
	if err != nil || chainID <= 0 {
		writeError(c, &relay.Error{Kind: relay.KindValidation, Message: "invalid chainId"})
		return 0, common.Address{}, false
	}
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		writeError(c, &relay.Error{Kind: relay.KindValidation, Message: "invalid address"})
		return 0, common.Address{}, false
	}
	return chainID, common.HexToAddress(raw), true
}

// ── Voucher preparation ───────────────────────────────────────────────────

type prepareMintRequest struct {
	ChainID    int64          `json:"chainId" binding:"required"`
	Collection common.Address `json:"collection" binding:"required"`
	Recipient  common.Address `json:"recipient" binding:"required"`
	TokenURI   string         `json:"tokenURI" binding:"required"`
	NextGen    bool           `json:"nextGen"`
}

type prepareCollectionRequest struct {
	ChainID          int64          `json:"chainId" binding:"required"`
	Name             string         `json:"name" binding:"required"`
	Symbol           string         `json:"symbol" binding:"required"`
	Description      string         `json:"description"`
	ImageURI         string         `json:"imageURI"`
	ExternalURL      string         `json:"externalURL"`
	Artist           common.Address `json:"artist" binding:"required"`
	RoyaltyRecipient common.Address `json:"royaltyRecipient"`
	RoyaltyBps       uint16         `json:"royaltyBps" binding:"lte=10000"`
	CreatorName      string         `json:"creatorName"`
	CreatorBio       string         `json:"creatorBio"`
	CreatorURL       string         `json:"creatorURL"`
	NextGen          bool           `json:"nextGen"`
}

type preparePlanRequest struct {
	ChainID int64          `json:"chainId" binding:"required"`
	User    common.Address `json:"user" binding:"required"`
	Plan    uint8          `json:"plan" binding:"lte=2"`
}

func (h *Handler) handlePrepare(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		out any
		err error
	)
	switch voucher.Kind(c.Param("kind")) {
	case voucher.KindMint:
		var r prepareMintRequest
		if !bind(c, &r) {
			return
		}
		out, err = h.vouchers.PrepareMint(ctx, voucher.MintParams{
			ChainID: r.ChainID, Collection: r.Collection, Recipient: r.Recipient, TokenURI: r.TokenURI, NextGen: r.NextGen,
		})
	case voucher.KindCollection:
		var r prepareCollectionRequest
		if !bind(c, &r) {
			return
		}
		out, err = h.vouchers.PrepareCollection(ctx, voucher.CollectionParams{
			ChainID:          r.ChainID,
			Name:             r.Name,
			Symbol:           r.Symbol,
			Description:      r.Description,
			ImageURI:         r.ImageURI,
			ExternalURL:      r.ExternalURL,
			Artist:           r.Artist,
			RoyaltyRecipient: r.RoyaltyRecipient,
			RoyaltyBps:       r.RoyaltyBps,
			CreatorName:      r.CreatorName,
			CreatorBio:       r.CreatorBio,
			CreatorURL:       r.CreatorURL,
			NextGen:          r.NextGen,
		})
	case voucher.KindPlan:
		var r preparePlanRequest
		if !bind(c, &r) {
			return
		}
		out, err = h.vouchers.PreparePlan(ctx, voucher.PlanParams{ChainID: r.ChainID, User: r.User, Plan: r.Plan})
	default:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "unknown voucher kind"})
		return
	}

	if err != nil {
		re := relay.AsError(err)
		if re.Kind == relay.KindUnknown {
			h.log.Error("handlePrepare: failed", zap.String("kind", c.Param("kind")), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "nonce unavailable", "category": relay.CategoryNetwork})
			return
		}
		writeError(c, re)
		return
	}
	c.JSON(http.StatusOK, out)
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, &relay.Error{Kind: relay.KindValidation, Message: "missing or invalid fields", Details: err.Error()})
		return false
	}
	return true
}

// ── Health ────────────────────────────────────────────────────────────────

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "relayerConfigured": h.relay.Configured()})
}

// writeError renders the error body: {success, error, details, category} plus the
// transaction hash once one exists.
func writeError(c *gin.Context, e *relay.Error) {
	body := gin.H{"success": false, "error": e.Message, "category": e.Kind.Category(), "kind": e.Kind.String()}
	if e.Details != "" {
		body["details"] = e.Details
	}
	if e.TxHash != "" {
		body["transactionHash"] = e.TxHash
	}
	c.AbortWithStatusJSON(e.Kind.HTTPStatus(), body)
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": msg})
}

