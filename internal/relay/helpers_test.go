package relay

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/chain/chaintest"
	"github.com/0gfoundation/0g-mint-relay/internal/config"
	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
	"github.com/0gfoundation/0g-mint-relay/internal/minting"
	"github.com/0gfoundation/0g-mint-relay/internal/records"
	"github.com/0gfoundation/0g-mint-relay/internal/relayer"
	"github.com/0gfoundation/0g-mint-relay/internal/subscription"
	"github.com/0gfoundation/0g-mint-relay/internal/voucher"
)

const testChainID = 84532

var (
	factory      = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	factoryNG    = common.HexToAddress("0x00000000000000000000000000000000000000f6")
	manager      = common.HexToAddress("0x00000000000000000000000000000000000005b1")
	claimFactory = common.HexToAddress("0x00000000000000000000000000000000000000cf")
	stablecoin   = common.HexToAddress("0x0000000000000000000000000000000000005dc0")
	collection   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	claimable    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// ── Mocks ─────────────────────────────────────────────────────────────────

type mockQuota struct {
	mu          sync.Mutex
	deny        bool
	err         error
	checks      int
	invalidated []common.Address
}

func (m *mockQuota) CanMint(_ context.Context, user common.Address, chainID int64, _ int64) (bool, *subscription.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if m.err != nil {
		return false, nil, m.err
	}
	rec := &subscription.Record{Plan: "FREE", NFTsMinted: 1, NFTLimit: 1, ChainID: chainID, User: user.Hex()}
	if !m.deny {
		rec.NFTLimit = 10
		rec.RemainingNFTs = 9
		rec.IsActive = true
	}
	return !m.deny, rec, nil
}

func (m *mockQuota) Invalidate(_ context.Context, user common.Address, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, user)
}

type mockRecorder struct {
	mu   sync.Mutex
	recs []records.MintedNFT
}

func (m *mockRecorder) Enqueue(_ context.Context, r records.MintedNFT) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

// ── Fake contracts ────────────────────────────────────────────────────────

type mintTuple struct {
	Collection common.Address
	Recipient  common.Address
	TokenURI   string
	Nonce      *big.Int
	Deadline   *big.Int
}

// fakeFactory enforces per-user voucher nonces like the real factory.
type fakeFactory struct {
	mu       sync.Mutex
	nonces   map[common.Address]int64
	nextID   int64
	mints    int
	trusted  bool
	emitLogs bool
	created  common.Address
}

func (f *fakeFactory) install(fake *chaintest.Fake, at common.Address, a abi.ABI, createdEvent string) {
	fake.HandleMethod(at, a, "mintWithVoucher", func(m chaintest.Msg) ([]byte, []*types.Log, error) {
		args, err := a.Methods["mintWithVoucher"].Inputs.Unpack(m.Data[4:])
		if err != nil {
			return nil, nil, err
		}
		v := *abi.ConvertType(args[0], new(mintTuple)).(*mintTuple)

		f.mu.Lock()
		defer f.mu.Unlock()
		if v.Nonce.Int64() != f.nonces[v.Recipient] {
			return nil, nil, chaintest.Revert("invalid nonce")
		}
		if !m.Commit {
			return chaintest.Uint(f.nextID + 1), nil, nil
		}
		f.nonces[v.Recipient]++
		f.nextID++
		f.mints++
		return chaintest.Uint(f.nextID), []*types.Log{chaintest.TransferLog(v.Collection, v.Recipient, f.nextID)}, nil
	})
	fake.HandleMethod(at, a, "createCollectionWithVoucher", func(m chaintest.Msg) ([]byte, []*types.Log, error) {
		if !m.Commit || !f.emitLogs {
			return nil, nil, nil
		}
		return nil, []*types.Log{chaintest.Log(at,
			chain.EventTopic(createdEvent),
			chaintest.AddressTopic(f.created),
			chaintest.AddressTopic(common.HexToAddress("0xa1")),
		)}, nil
	})
	fake.HandleMethod(at, a, "isTrustedRelayer", func(chaintest.Msg) ([]byte, []*types.Log, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return chaintest.Bool(f.trusted), nil, nil
	})
}

func (f *fakeFactory) mintCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mints
}

// ── Environment ───────────────────────────────────────────────────────────

type env struct {
	t        *testing.T
	fake     *chaintest.Fake
	mr       *miniredis.Miniredis
	svc      *Service
	acct     *relayer.Account
	quota    *mockQuota
	recorder *mockRecorder
	factory  *fakeFactory
	userKey  *ecdsa.PrivateKey
	user     common.Address
}

type envOption func(*envConfig)

type envConfig struct {
	generations    []config.GenerationConfig
	noRelayer      bool
	confirmTimeout time.Duration
}

func withNextGen() envOption {
	return func(c *envConfig) {
		c.generations = append(c.generations, config.GenerationConfig{Name: "nextgen", NFTFactory: factoryNG.Hex()})
	}
}

func withoutRelayer() envOption {
	return func(c *envConfig) { c.noRelayer = true }
}

func withConfirmTimeout(d time.Duration) envOption {
	return func(c *envConfig) { c.confirmTimeout = d }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	cfg := envConfig{
		generations: []config.GenerationConfig{{
			Name:                "v5",
			NFTFactory:          factory.Hex(),
			SubscriptionManager: manager.Hex(),
			ClaimableFactory:    claimFactory.Hex(),
			Stablecoin:          stablecoin.Hex(),
		}},
		confirmTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}

	resolver, err := contracts.NewResolver([]config.ChainConfig{{
		ID:          testChainID,
		Name:        "testnet",
		RPCURL:      "http://unused",
		Generations: cfg.generations,
	}})
	if err != nil {
		t.Fatal(err)
	}

	fake := chaintest.New(testChainID)
	registry := chain.NewRegistry(chain.NewClient(fake, testChainID))

	relayerKey, _ := crypto.GenerateKey()
	userKey, _ := crypto.GenerateKey()
	fake.SetBalance(crypto.PubkeyToAddress(relayerKey.PublicKey), big.NewInt(1e18))

	e := &env{
		t:        t,
		fake:     fake,
		mr:       miniredis.RunT(t),
		quota:    &mockQuota{},
		recorder: &mockRecorder{},
		factory:  &fakeFactory{nonces: map[common.Address]int64{}, trusted: true, emitLogs: true, created: common.HexToAddress("0x0000000000000000000000000000000000c0ffee")},
		userKey:  userKey,
		user:     crypto.PubkeyToAddress(userKey.PublicKey),
	}
	e.factory.install(fake, factory, minting.LegacyFactoryABI, "CollectionCreated(address,address,string)")
	e.factory.install(fake, factoryNG, minting.NextGenFactoryABI, "CollectionDeployed(address,address,uint256)")

	deps := Deps{
		Resolver: resolver,
		Backends: minting.NewTable(),
		Chains:   registry,
		Quota:    e.quota,
		Recorder: e.recorder,
		Ledger:   NewRedisLedger(redis.NewClient(&redis.Options{Addr: e.mr.Addr()})),
		Log:      zap.NewNop(),
	}
	if !cfg.noRelayer {
		e.acct = relayer.NewAccount(relayerKey, registry, relayer.Options{
			MinBalance:    big.NewInt(1e16),
			GasMultiplier: 1.5,
		}, zap.NewNop())
		e.acct.Start(context.Background())
		t.Cleanup(e.acct.Stop)
		deps.Relayer = e.acct
	}
	e.svc = NewService(deps, Options{ConfirmTimeout: cfg.confirmTimeout})
	return e
}

func deadlineIn(d time.Duration) *big.Int {
	return big.NewInt(time.Now().Add(d).Unix())
}

func (e *env) request(kind OperationKind, payload any) Request {
	e.t.Helper()
	req, err := NewRequest(kind, testChainID, payload)
	if err != nil {
		e.t.Fatal(err)
	}
	return req
}

func (e *env) signedMint(gen contracts.Generation, target common.Address, nonce int64) MintPayload {
	e.t.Helper()
	v := voucher.MintVoucher{
		Collection: collection,
		Recipient:  e.user,
		TokenURI:   "ipfs://meta/1",
		Nonce:      big.NewInt(nonce),
		Deadline:   deadlineIn(time.Hour),
	}
	sig, err := voucher.Sign(voucher.SchemaFor(gen).MintTypedData(v, testChainID, target), e.userKey)
	if err != nil {
		e.t.Fatal(err)
	}
	return MintPayload{Voucher: v, Signature: sig}
}

func (e *env) signedCollection(gen contracts.Generation, target common.Address) CollectionPayload {
	e.t.Helper()
	v := voucher.CollectionVoucher{
		Name:             "Genesis",
		Symbol:           "GEN",
		Description:      "first drop",
		ImageURI:         "ipfs://img",
		Artist:           e.user,
		RoyaltyRecipient: e.user,
		RoyaltyBps:       500,
		Nonce:            big.NewInt(0),
		Deadline:         deadlineIn(time.Hour),
	}
	sig, err := voucher.Sign(voucher.SchemaFor(gen).CollectionTypedData(v, testChainID, target), e.userKey)
	if err != nil {
		e.t.Fatal(err)
	}
	return CollectionPayload{Voucher: v, Signature: sig}
}

func (e *env) signedPlan(plan minting.Plan) PlanPayload {
	e.t.Helper()
	v := voucher.PlanVoucher{User: e.user, Plan: uint8(plan), Nonce: big.NewInt(0), Deadline: deadlineIn(time.Hour)}
	sig, err := voucher.Sign(voucher.SchemaFor(contracts.GenV5).PlanTypedData(v, testChainID, manager), e.userKey)
	if err != nil {
		e.t.Fatal(err)
	}
	return PlanPayload{Voucher: v, Signature: sig}
}

func expectKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got success", want)
	}
	re := AsError(err)
	if re.Kind != want {
		t.Fatalf("kind = %s, want %s (%v)", re.Kind, want, err)
	}
	return re
}
