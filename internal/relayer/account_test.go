package relayer

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/chain/chaintest"
)

const testChainID = 84532

var (
	target = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	ping   = chaintest.Selector("ping()")
)

func newTestAccount(t *testing.T, minBalance int64) (*Account, *chaintest.Fake) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	fake := chaintest.New(testChainID)
	fake.SetBalance(crypto.PubkeyToAddress(key.PublicKey), big.NewInt(1e18))
	fake.Handle(target, ping, func(chaintest.Msg) ([]byte, []*types.Log, error) { return nil, nil, nil })

	acct := NewAccount(key, chain.NewRegistry(chain.NewClient(fake, testChainID)), Options{
		MinBalance:    big.NewInt(minBalance),
		GasMultiplier: 1.5,
	}, zap.NewNop())
	acct.Start(context.Background())
	t.Cleanup(acct.Stop)
	return acct, fake
}

// ── Submit ────────────────────────────────────────────────────────────────

func TestSubmit_ConcurrentSubmissionsGetSequentialNonces(t *testing.T) {
	acct, fake := newTestAccount(t, 0)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := acct.Submit(context.Background(), testChainID, chain.Call{To: target, Data: ping})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	sent := fake.Sent()
	if len(sent) != n {
		t.Fatalf("sent = %d, want %d", len(sent), n)
	}
	nonces := make([]int, len(sent))
	for i, tx := range sent {
		nonces[i] = int(tx.Nonce())
	}
	sort.Ints(nonces)
	for i, got := range nonces {
		if got != i {
			t.Fatalf("nonces = %v, want 0..%d without gaps", nonces, n-1)
		}
	}
	// The pending nonce is read once; later sends use the local counter.
	if c := fake.CallCount("eth_getTransactionCount"); c != 1 {
		t.Errorf("PendingNonceAt called %d times, want 1", c)
	}
}

func TestSubmit_GasPadded(t *testing.T) {
	acct, _ := newTestAccount(t, 0)

	tx, err := acct.Submit(context.Background(), testChainID, chain.Call{To: target, Data: ping})
	if err != nil {
		t.Fatal(err)
	}
	if tx.Gas() != 225_000 {
		t.Errorf("gas = %d, want 150000*1.5", tx.Gas())
	}
}

func TestSubmit_SendErrorReseedsNonce(t *testing.T) {
	acct, fake := newTestAccount(t, 0)

	fake.SendErr = errors.New("connection reset")
	if _, err := acct.Submit(context.Background(), testChainID, chain.Call{To: target, Data: ping}); err == nil {
		t.Fatal("expected send error")
	}
	fake.SendErr = nil

	if _, err := acct.Submit(context.Background(), testChainID, chain.Call{To: target, Data: ping}); err != nil {
		t.Fatalf("Submit after failure: %v", err)
	}
	if c := fake.CallCount("eth_getTransactionCount"); c != 2 {
		t.Errorf("PendingNonceAt called %d times, want 2 (re-seed after failure)", c)
	}
	if got := fake.Nonce(acct.Address()); got != 1 {
		t.Errorf("chain nonce = %d, want 1", got)
	}
}

func TestSubmit_UnknownChain(t *testing.T) {
	acct, _ := newTestAccount(t, 0)
	if _, err := acct.Submit(context.Background(), 1, chain.Call{To: target}); !errors.Is(err, ErrUnknownChain) {
		t.Fatalf("expected ErrUnknownChain, got %v", err)
	}
}

func TestSubmit_AfterStop(t *testing.T) {
	acct, fake := newTestAccount(t, 0)
	acct.Stop()

	if _, err := acct.Submit(context.Background(), testChainID, chain.Call{To: target, Data: ping}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if len(fake.Sent()) != 0 {
		t.Error("no transaction should be sent after Stop")
	}
}

func TestSubmit_CancelledContextSendsNothing(t *testing.T) {
	acct, fake := newTestAccount(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := acct.Submit(ctx, testChainID, chain.Call{To: target, Data: ping})
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(fake.Sent()) != 0 {
		t.Error("cancelled job must not be broadcast")
	}
	if !NotBroadcast(err) {
		t.Errorf("NotBroadcast(%v) = false", err)
	}
}

func TestSubmit_CancelDuringSendReturnsTx(t *testing.T) {
	acct, fake := newTestAccount(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.AfterSend = func(*types.Transaction) { cancel() }

	tx, err := acct.Submit(ctx, testChainID, chain.Call{To: target, Data: ping})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sent := fake.Sent()
	if len(sent) != 1 || tx == nil || tx.Hash() != sent[0].Hash() {
		t.Fatalf("tx = %v, sent = %d", tx, len(sent))
	}
}

func TestNotBroadcast(t *testing.T) {
	acct, fake := newTestAccount(t, 0)

	fake.SendErr = errors.New("connection reset")
	_, err := acct.Submit(context.Background(), testChainID, chain.Call{To: target, Data: ping})
	if err == nil || NotBroadcast(err) {
		t.Errorf("send failure may have reached the node: NotBroadcast(%v) = true", err)
	}
	fake.SendErr = nil

	fake.SetBalance(acct.Address(), big.NewInt(1000))
	_, err = acct.Submit(context.Background(), testChainID, chain.Call{To: target, Data: ping})
	if !NotBroadcast(err) {
		t.Errorf("NotBroadcast(%v) = false", err)
	}
}

func TestSubmit_BalanceBelowFee(t *testing.T) {
	acct, fake := newTestAccount(t, 0)
	fake.SetBalance(acct.Address(), big.NewInt(1000))

	_, err := acct.Submit(context.Background(), testChainID, chain.Call{To: target, Data: ping})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(fake.Sent()) != 0 {
		t.Error("nothing should be sent without funds")
	}
}

// ── Funds ─────────────────────────────────────────────────────────────────

func TestCheckFunds(t *testing.T) {
	acct, fake := newTestAccount(t, 5e17)

	if _, err := acct.CheckFunds(context.Background(), testChainID); err != nil {
		t.Fatalf("1 ETH > 0.5 ETH threshold: %v", err)
	}

	fake.SetBalance(acct.Address(), big.NewInt(5e17))
	if _, err := acct.CheckFunds(context.Background(), testChainID); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("balance equal to threshold must fail, got %v", err)
	}
}

// ── Key ───────────────────────────────────────────────────────────────────

func TestLoadKey(t *testing.T) {
	if _, err := LoadKey(""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("empty secret: %v", err)
	}
	if _, err := LoadKey("0x1234"); err == nil {
		t.Error("short key should fail")
	}
	key, _ := crypto.GenerateKey()
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))
	got, err := LoadKey("0x" + hexKey)
	if err != nil {
		t.Fatal(err)
	}
	if crypto.PubkeyToAddress(got.PublicKey) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("loaded key mismatch")
	}
}
