// Package auth authenticates wallet-owned requests with an EIP-191
// signature over a short-lived, single-use message.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	HeaderWallet    = "X-Wallet-Address"
	HeaderMessage   = "X-Signed-Message"
	HeaderSignature = "X-Wallet-Signature"

	contextWallet  = "wallet_address"
	contextRequest = "signed_request"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
type SignedRequest struct {
	Action     string          `json:"action"`
	ExpiresAt  int64           `json:"expires_at"`
	Nonce      string          `json:"nonce"`
	Payload    json.RawMessage `json:"payload"`
	ResourceID string          `json:"resource_id"`
}

var (
	ErrMissingHeaders = errors.New("missing auth headers")
	ErrEncoding       = errors.New("invalid X-Signed-Message encoding")
	ErrMessage        = errors.New("invalid signed message JSON")
	ErrExpired        = errors.New("request expired")
	ErrTooFarAhead    = errors.New("expires_at too far in future")
	ErrSignatureHex   = errors.New("invalid signature hex")
	ErrSignature      = errors.New("invalid signature")
	ErrNonceUsed      = errors.New("nonce already used")
)

const DefaultWindow = 5 * time.Minute

// Verifier checks signed headers and burns each nonce in Redis for the
// lifetime of its message.
type Verifier struct {
	rdb    *redis.Client
	window time.Duration
	now    func() time.Time
}

func NewVerifier(rdb *redis.Client, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Verifier{rdb: rdb, window: window, now: time.Now}
}

// Verify authenticates h. Errors other than the sentinels above come from
// Redis.
func (v *Verifier) Verify(ctx context.Context, h http.Header) (common.Address, *SignedRequest, error) {
	walletAddr := h.Get(HeaderWallet)
	signedMsgB64 := h.Get(HeaderMessage)
	sigHex := h.Get(HeaderSignature)
	if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
		return common.Address{}, nil, ErrMissingHeaders
	}

	msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
	if err != nil {
		return common.Address{}, nil, ErrEncoding
	}
	var req SignedRequest
	if err := json.Unmarshal(msgBytes, &req); err != nil {
		return common.Address{}, nil, ErrMessage
	}

	now := v.now().Unix()
	if req.ExpiresAt <= now {
		return common.Address{}, nil, ErrExpired
	}
	if req.ExpiresAt > now+int64(v.window.Seconds()) {
		return common.Address{}, nil, ErrTooFarAhead
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, nil, ErrSignatureHex
	}
	recovered, err := Recover(msgBytes, sig)
	if err != nil || !strings.EqualFold(recovered.Hex(), walletAddr) {
		return common.Address{}, nil, ErrSignature
	}

	ttl := time.Duration(req.ExpiresAt-now) * time.Second
	set, err := v.rdb.SetNX(ctx, "auth:nonce:"+req.Nonce, 1, ttl).Result()
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("nonce store: %w", err)
	}
	if !set {
		return common.Address{}, nil, ErrNonceUsed
	}
	return recovered, &req, nil
}

// Middleware authenticates the request. With optional set, requests that
// carry no auth headers pass through unauthenticated; any headers that are
// present must still verify.
func (v *Verifier) Middleware(optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if optional && c.GetHeader(HeaderWallet) == "" && c.GetHeader(HeaderSignature) == "" {
			c.Next()
			return
		}
		wallet, req, err := v.Verify(c.Request.Context(), c.Request.Header)
		if err != nil {
			if isAuthError(err) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}
		c.Set(contextWallet, wallet)
		c.Set(contextRequest, req)
		c.Next()
	}
}

func isAuthError(err error) bool {
	for _, e := range []error{ErrMissingHeaders, ErrEncoding, ErrMessage, ErrExpired, ErrTooFarAhead, ErrSignatureHex, ErrSignature, ErrNonceUsed} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Wallet returns the authenticated wallet, if any.
func Wallet(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(contextWallet)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

// Signed returns the verified message, if any.
func Signed(c *gin.Context) (*SignedRequest, bool) {
	v, ok := c.Get(contextRequest)
	if !ok {
		return nil, false
	}
	req, ok := v.(*SignedRequest)
	return req, ok
}

// Headers builds the three auth headers for a signed message.
func Headers(wallet common.Address, msg []byte, sig []byte) http.Header {
	h := http.Header{}
	h.Set(HeaderWallet, wallet.Hex())
	h.Set(HeaderMessage, base64.StdEncoding.EncodeToString(msg))
	h.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))
	return h
}
