package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/auth"
	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
	"github.com/0gfoundation/0g-mint-relay/internal/relay"
	"github.com/0gfoundation/0g-mint-relay/internal/subscription"
	"github.com/0gfoundation/0g-mint-relay/internal/voucher"
)

func init() { gin.SetMode(gin.TestMode) }

var user = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// ── Mocks ─────────────────────────────────────────────────────────────────

type mockRelay struct {
	mu         sync.Mutex
	reqs       []relay.Request
	resp       *relay.Response
	err        error
	configured bool
}

func (m *mockRelay) Relay(_ context.Context, req relay.Request) (*relay.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return m.resp, m.err
}

func (m *mockRelay) Configured() bool { return m.configured }

func (m *mockRelay) last() relay.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqs[len(m.reqs)-1]
}

func (m *mockRelay) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs)
}

type mockSubs struct {
	rec *subscription.Record
	err error
}

func (m *mockSubs) GetSubscription(context.Context, common.Address, int64) (*subscription.Record, error) {
	return m.rec, m.err
}

func (m *mockSubs) CanMint(_ context.Context, _ common.Address, _ int64, amount int64) (bool, *subscription.Record, error) {
	if m.err != nil {
		return false, nil, m.err
	}
	return m.rec.RemainingNFTs >= amount, m.rec, nil
}

type mockVouchers struct {
	mintParams voucher.MintParams
	err        error
}

func (m *mockVouchers) PrepareMint(_ context.Context, p voucher.MintParams) (*voucher.Prepared[voucher.MintVoucher], error) {
	m.mintParams = p
	if m.err != nil {
		return nil, m.err
	}
	v := voucher.MintVoucher{Collection: p.Collection, Recipient: p.Recipient, TokenURI: p.TokenURI, Nonce: big.NewInt(3), Deadline: big.NewInt(2000000000)}
	return &voucher.Prepared[voucher.MintVoucher]{
		Voucher:   v,
		TypedData: voucher.SchemaFor(contracts.GenV5).MintTypedData(v, p.ChainID, common.HexToAddress("0xf1")),
		ChainID:   p.ChainID,
	}, nil
}

func (m *mockVouchers) PrepareCollection(context.Context, voucher.CollectionParams) (*voucher.Prepared[voucher.CollectionVoucher], error) {
	return nil, m.err
}

func (m *mockVouchers) PreparePlan(_ context.Context, p voucher.PlanParams) (*voucher.Prepared[voucher.PlanVoucher], error) {
	if m.err != nil {
		return nil, m.err
	}
	return &voucher.Prepared[voucher.PlanVoucher]{Voucher: voucher.PlanVoucher{User: p.User, Plan: p.Plan}, ChainID: p.ChainID}, nil
}

// ── Setup ─────────────────────────────────────────────────────────────────

type fixture struct {
	router   *gin.Engine
	relay    *mockRelay
	subs     *mockSubs
	vouchers *mockVouchers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := &fixture{
		relay: &mockRelay{configured: true, resp: &relay.Response{
			Success: true, TransactionHash: "0xabc", GasUsed: "120000", Status: relay.StatusConfirmed,
		}},
		subs:     &mockSubs{rec: &subscription.Record{Plan: "FREE", NFTLimit: 5, NFTsMinted: 2, RemainingNFTs: 3}},
		vouchers: &mockVouchers{},
	}
	r := gin.New()
	r.Use(RequestID(), Observe(zap.NewNop()))
	NewHandler(f.relay, f.subs, f.vouchers, auth.NewVerifier(rdb, 0), zap.NewNop()).Register(r)
	f.router = r
	return f
}

func (f *fixture) do(req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func post(path string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// signedHeaders returns wallet-auth headers for action on resource signed
// by a fresh key.
func signedHeaders(t *testing.T, action string, resource common.Address) (http.Header, common.Address) {
	t.Helper()
	key, _ := crypto.GenerateKey()
	wallet := crypto.PubkeyToAddress(key.PublicKey)
	msg, _ := json.Marshal(auth.SignedRequest{
		Action:     action,
		ExpiresAt:  time.Now().Add(time.Minute).Unix(),
		Nonce:      fmt.Sprintf("n-%d", time.Now().UnixNano()),
		ResourceID: resource.Hex(),
	})
	sig, err := auth.Sign(msg, key)
	if err != nil {
		t.Fatal(err)
	}
	return auth.Headers(wallet, msg, sig), wallet
}

// ── Relay ─────────────────────────────────────────────────────────────────

func TestRelay_Success(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(post("/api/relay", map[string]any{
		"operationKind": "mint", "chainId": 84532, "voucher": map[string]any{}, "signature": "0x",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if body["transactionHash"] != "0xabc" || body["gasUsed"] != "120000" || body["success"] != true {
		t.Errorf("body = %v", body)
	}
	req := f.relay.last()
	if req.OperationKind != relay.OpMint || req.ChainID != 84532 || len(req.Payload) == 0 {
		t.Errorf("forwarded request = %+v", req)
	}
	if req.Wallet != (common.Address{}) {
		t.Error("unauthenticated request must not carry a wallet")
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Error("request id header missing")
	}
}

func TestRelay_ErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		status   int
		category string
	}{
		{&relay.Error{Kind: relay.KindQuotaExceeded, Message: "mint quota exhausted"}, 402, relay.CategoryInsufficientBalance},
		{&relay.Error{Kind: relay.KindInsufficientFunds, Message: "relayer balance too low"}, 503, relay.CategoryInsufficientBalance},
		{&relay.Error{Kind: relay.KindSimulation, Message: "transaction would revert", Details: "invalid nonce"}, 400, relay.CategoryRejected},
		{&relay.Error{Kind: relay.KindAlreadyRedeemed, Message: "claim code already redeemed"}, 409, relay.CategoryRejected},
		{&relay.Error{Kind: relay.KindReverted, Message: "reverted", TxHash: "0xdead"}, 400, relay.CategoryRejected},
		{errors.New("boom"), 500, relay.CategoryNetwork},
	}
	for _, tt := range tests {
		t.Run(relay.AsError(tt.err).Kind.String(), func(t *testing.T) {
			f := newFixture(t)
			f.relay.err = tt.err

			w, body := f.do(post("/api/relay", map[string]any{"operationKind": "mint", "chainId": 1}))
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
			if body["category"] != tt.category {
				t.Errorf("category = %v, want %s", body["category"], tt.category)
			}
			re := relay.AsError(tt.err)
			if body["error"] != re.Message {
				t.Errorf("error = %v", body["error"])
			}
			if re.Details != "" && body["details"] != re.Details {
				t.Errorf("details = %v", body["details"])
			}
			if re.TxHash != "" && body["transactionHash"] != re.TxHash {
				t.Errorf("transactionHash = %v", body["transactionHash"])
			}
		})
	}
}

func TestRelay_MalformedBody(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/relay", bytes.NewBufferString("{nope"))

	w, _ := f.do(req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if len(f.relay.reqs) != 0 {
		t.Error("malformed body must not reach the service")
	}
}

func TestRelay_PrivilegedRequiresAuth(t *testing.T) {
	f := newFixture(t)
	target := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	body := map[string]any{"operationKind": "addClaimCode", "chainId": 84532, "collection": target.Hex()}
	withHeaders := func(h http.Header) *http.Request {
		req := post("/api/relay", body)
		for k, v := range h {
			req.Header[k] = v
		}
		return req
	}

	w, resp := f.do(post("/api/relay", body))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous addClaimCode: status = %d", w.Code)
	}
	if resp["success"] != false {
		t.Errorf("success = %v", resp["success"])
	}

	h, _ := signedHeaders(t, "deployClaimableNFT", target)
	if w, _ := f.do(withHeaders(h)); w.Code != http.StatusUnauthorized {
		t.Fatalf("mismatched action: status = %d", w.Code)
	}

	h, wallet := signedHeaders(t, "addClaimCode", target)
	if w, _ := f.do(withHeaders(h)); w.Code != http.StatusOK {
		t.Fatalf("authenticated: status = %d: %s", w.Code, w.Body)
	}
	if got := f.relay.last().Wallet; got != wallet {
		t.Errorf("wallet = %s, want %s", got.Hex(), wallet.Hex())
	}
}

func TestRelay_PrivilegedResourceMismatch(t *testing.T) {
	f := newFixture(t)
	signedFor := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	other := common.HexToAddress("0x00000000000000000000000000000000000000dd")

	tests := []struct {
		name string
		body map[string]any
	}{
		{"addClaimCode on another collection", map[string]any{"operationKind": "addClaimCode", "chainId": 84532, "collection": other.Hex()}},
		{"deployClaimableNFT for another owner", map[string]any{"operationKind": "deployClaimableNFT", "chainId": 84532, "owner": other.Hex()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := signedHeaders(t, tt.body["operationKind"].(string), signedFor)
			req := post("/api/relay", tt.body)
			for k, v := range h {
				req.Header[k] = v
			}
			w, resp := f.do(req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if resp["error"] != "signed resource_id does not match request" {
				t.Errorf("error = %v", resp["error"])
			}
		})
	}
	if n := f.relay.calls(); n != 0 {
		t.Errorf("relay called %d times", n)
	}
}

// ── Subscriptions ─────────────────────────────────────────────────────────

func TestSubscription_Get(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(httptest.NewRequest(http.MethodGet, "/api/subscription/84532/"+user.Hex(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["plan"] != "FREE" || body["remainingNFTs"] != float64(3) {
		t.Errorf("body = %v", body)
	}
}

func TestSubscription_BadParams(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{
		"/api/subscription/abc/" + user.Hex(),
		"/api/subscription/84532/not-an-address",
		"/api/subscription/84532/" + user.Hex() + "/can-mint?amount=0",
	} {
		if w, _ := f.do(httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", path, w.Code)
		}
	}
}

func TestSubscription_Errors(t *testing.T) {
	f := newFixture(t)

	f.subs.err = fmt.Errorf("%w: 7", contracts.ErrUnsupportedChain)
	if w, _ := f.do(httptest.NewRequest(http.MethodGet, "/api/subscription/7/"+user.Hex(), nil)); w.Code != http.StatusBadRequest {
		t.Errorf("unsupported chain: status = %d", w.Code)
	}

	f.subs.err = errors.New("rpc timeout")
	if w, _ := f.do(httptest.NewRequest(http.MethodGet, "/api/subscription/84532/"+user.Hex(), nil)); w.Code != http.StatusBadGateway {
		t.Errorf("chain failure: status = %d", w.Code)
	}
}

func TestCanMint(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(httptest.NewRequest(http.MethodGet, "/api/subscription/84532/"+user.Hex()+"/can-mint?amount=3", nil))
	if body["canMint"] != true || body["remaining"] != float64(3) {
		t.Errorf("amount=3: %v", body)
	}
	_, body = f.do(httptest.NewRequest(http.MethodGet, "/api/subscription/84532/"+user.Hex()+"/can-mint?amount=4", nil))
	if body["canMint"] != false {
		t.Errorf("amount=4: %v", body)
	}
}

// ── Vouchers ──────────────────────────────────────────────────────────────

func TestPrepare_Mint(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(post("/api/vouchers/mint/prepare", map[string]any{
		"chainId":    84532,
		"collection": "0x00000000000000000000000000000000000000c1",
		"recipient":  user.Hex(),
		"tokenURI":   "ipfs://1",
		"nextGen":    true,
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if _, ok := body["typedData"].(map[string]any); !ok {
		t.Errorf("typedData missing: %v", body)
	}
	if p := f.vouchers.mintParams; !p.NextGen || p.Recipient != user || p.ChainID != 84532 {
		t.Errorf("params = %+v", p)
	}
}

func TestPrepare_Validation(t *testing.T) {
	f := newFixture(t)

	if w, _ := f.do(post("/api/vouchers/mint/prepare", map[string]any{"chainId": 84532})); w.Code != http.StatusBadRequest {
		t.Errorf("missing fields: status = %d", w.Code)
	}
	if w, _ := f.do(post("/api/vouchers/plan/prepare", map[string]any{"chainId": 84532, "user": user.Hex(), "plan": 3})); w.Code != http.StatusBadRequest {
		t.Errorf("plan out of range: status = %d", w.Code)
	}
	if w, _ := f.do(post("/api/vouchers/burn/prepare", map[string]any{})); w.Code != http.StatusNotFound {
		t.Errorf("unknown kind: status = %d", w.Code)
	}
}

func TestPrepare_NotDeployed(t *testing.T) {
	f := newFixture(t)
	f.vouchers.err = fmt.Errorf("%w: nextgen mint", contracts.ErrContractNotDeployed)

	w, body := f.do(post("/api/vouchers/plan/prepare", map[string]any{"chainId": 84532, "user": user.Hex(), "plan": 1}))
	if w.Code != http.StatusBadRequest || body["kind"] != "ContractNotDeployed" {
		t.Errorf("status = %d body = %v", w.Code, body)
	}
}

// ── Health ────────────────────────────────────────────────────────────────

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.relay.configured = false

	w, body := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || body["relayerConfigured"] != false {
		t.Errorf("healthz = %d %v", w.Code, body)
	}
	w, _ = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("mint_relay_http_requests_total")) {
		t.Errorf("metrics = %d", w.Code)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-123")

	w, _ := f.do(req)
	if got := w.Header().Get(HeaderRequestID); got != "req-123" {
		t.Errorf("request id = %q", got)
	}
}
