// Package relayer owns the funded account that pays for gasless operations.
//
// Every transaction the account signs advances its on-chain nonce, so
// submissions are funnelled through one writer goroutine per chain. The
// writer keeps a local nonce seeded from the pending pool and re-seeds it
// after any send failure.
package relayer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/chain"
)

var (
	ErrInsufficientFunds = errors.New("relayer balance below threshold")
	ErrStopped           = errors.New("relayer stopped")
	ErrUnknownChain      = errors.New("relayer has no client for chain")
	// ErrNotBroadcast wraps failures that happened before the transaction
	// was handed to the node.
	ErrNotBroadcast = errors.New("transaction not broadcast")
)

// NotBroadcast reports whether err proves nothing reached the node.
func NotBroadcast(err error) bool {
	return errors.Is(err, ErrNotBroadcast) ||
		errors.Is(err, ErrStopped) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrUnknownChain)
}

// ChainSource looks up the client for a chain. *chain.Registry implements it.
type ChainSource interface {
	Get(chainID int64) (*chain.Client, bool)
}

type Options struct {
	MinBalance    *big.Int
	GasMultiplier float64
	QueueSize     int
}

// Account is the process-wide relayer handle. Construct it once, Start it
// before serving and Stop it on shutdown.
type Account struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chains  ChainSource
	opts    Options
	log     *zap.Logger

	mu      sync.Mutex
	writers map[int64]*writer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewAccount(key *ecdsa.PrivateKey, chains ChainSource, opts Options, log *zap.Logger) *Account {
	if opts.MinBalance == nil {
		opts.MinBalance = new(big.Int)
	}
	if opts.GasMultiplier < 1 {
		opts.GasMultiplier = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chains:  chains,
		opts:    opts,
		log:     log,
		writers: make(map[int64]*writer),
	}
}

func (a *Account) Address() common.Address { return a.address }

func (a *Account) MinBalance() *big.Int { return new(big.Int).Set(a.opts.MinBalance) }

// Start enables submission. Writers are spawned lazily per chain.
func (a *Account) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx != nil {
		return
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
}

// Stop halts all writers and waits for in-flight sends to finish.
func (a *Account) Stop() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// Balance returns the relayer's native balance on chainID.
func (a *Account) Balance(ctx context.Context, chainID int64) (*big.Int, error) {
	c, ok := a.chains.Get(chainID)
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownChain, chainID)
	}
	return c.Balance(ctx, a.address)
}

// CheckFunds returns ErrInsufficientFunds when the balance on chainID does
// not exceed the configured minimum.
func (a *Account) CheckFunds(ctx context.Context, chainID int64) (*big.Int, error) {
	bal, err := a.Balance(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("read relayer balance: %w", err)
	}
	if bal.Cmp(a.opts.MinBalance) <= 0 {
		return bal, fmt.Errorf("%w: have %s wei, need more than %s", ErrInsufficientFunds, bal, a.opts.MinBalance)
	}
	return bal, nil
}

// Submit signs and broadcasts call on chainID through that chain's writer.
// It returns once the transaction is accepted by the node. Cancelling ctx
// abandons a job still waiting in the queue; a job the writer has already
// taken runs to completion and its result is returned.
func (a *Account) Submit(ctx context.Context, chainID int64, call chain.Call) (*types.Transaction, error) {
	j := job{ctx: ctx, call: call, reply: make(chan jobResult, 1), state: new(atomic.Int32)}
	if err := a.enqueue(ctx, chainID, j); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotBroadcast, err)
	}

	select {
	case r := <-j.reply:
		return r.tx, r.err
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobQueued, jobAbandoned) {
			return nil, fmt.Errorf("%w: %w", ErrNotBroadcast, ctx.Err())
		}
		r := <-j.reply
		return r.tx, r.err
	}
}

// enqueue hands j to the chain's writer. Holding a.mu keeps Stop from
// cancelling between the liveness check and the channel send.
func (a *Account) enqueue(ctx context.Context, chainID int64, j job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx == nil || a.ctx.Err() != nil {
		return ErrStopped
	}
	w, ok := a.writers[chainID]
	if !ok {
		c, found := a.chains.Get(chainID)
		if !found {
			return fmt.Errorf("%w %d", ErrUnknownChain, chainID)
		}
		w = &writer{
			acct:   a,
			client: c,
			signer: types.LatestSignerForChainID(big.NewInt(chainID)),
			jobs:   make(chan job, a.opts.QueueSize),
			done:   a.ctx.Done(),
			log:    a.log.With(zap.Int64("chain_id", chainID), zap.String("relayer", a.address.Hex())),
		}
		a.writers[chainID] = w
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			w.run()
		}()
	}
	select {
	case w.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Writer ────────────────────────────────────────────────────────────────

const (
	jobQueued int32 = iota
	jobTaken
	jobAbandoned
)

type job struct {
	ctx   context.Context
	call  chain.Call
	reply chan jobResult
	state *atomic.Int32
}

// take claims j for the writer. It fails when the submitter gave up first.
func (j job) take() bool { return j.state.CompareAndSwap(jobQueued, jobTaken) }

type jobResult struct {
	tx  *types.Transaction
	err error
}

type writer struct {
	acct   *Account
	client *chain.Client
	signer types.Signer
	jobs   chan job
	done   <-chan struct{}
	log    *zap.Logger

	nonce      uint64
	nonceKnown bool
}

func (w *writer) run() {
	for {
		select {
		case <-w.done:
			// Fail whatever is still queued.
			for {
				select {
				case j := <-w.jobs:
					if j.take() {
						j.reply <- jobResult{err: ErrStopped}
					}
				default:
					return
				}
			}
		case j := <-w.jobs:
			if !j.take() {
				continue
			}
			if err := j.ctx.Err(); err != nil {
				j.reply <- jobResult{err: fmt.Errorf("%w: %w", ErrNotBroadcast, err)}
				continue
			}
			// Once taken the send is not interrupted, so the caller always
			// learns whether the transaction reached the node.
			tx, err := w.send(context.WithoutCancel(j.ctx), j.call)
			j.reply <- jobResult{tx: tx, err: err}
		}
	}
}

func (w *writer) send(ctx context.Context, call chain.Call) (*types.Transaction, error) {
	rpc := w.client.RPC()
	from := w.acct.address

	if !w.nonceKnown {
		n, err := rpc.PendingNonceAt(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("%w: pending nonce: %w", ErrNotBroadcast, err)
		}
		w.nonce, w.nonceKnown = n, true
	}

	gasPrice, err := rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: suggest gas price: %w", ErrNotBroadcast, err)
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	estimate, err := rpc.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &call.To, Data: call.Data, Value: value})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas: %w", ErrNotBroadcast, err)
	}
	gas := uint64(float64(estimate) * w.acct.opts.GasMultiplier)

	// Cover the worst-case fee before signing.
	bal, err := rpc.BalanceAt(ctx, from, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: read relayer balance: %w", ErrNotBroadcast, err)
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
	cost.Add(cost, value)
	if bal.Cmp(cost) < 0 {
		return nil, fmt.Errorf("%w: have %s wei, tx needs %s", ErrInsufficientFunds, bal, cost)
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    w.nonce,
		To:       &call.To,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     call.Data,
	}), w.signer, w.acct.key)
	if err != nil {
		return nil, fmt.Errorf("%w: sign tx: %w", ErrNotBroadcast, err)
	}

	if err := rpc.SendTransaction(ctx, tx); err != nil {
		w.nonceKnown = false
		w.log.Error("send: broadcast failed",
			zap.Uint64("nonce", tx.Nonce()),
			zap.String("to", call.To.Hex()),
			zap.String("method", call.Method),
			zap.Error(err))
		return nil, fmt.Errorf("send tx: %w", err)
	}
	w.nonce++
	w.log.Info("send: broadcast",
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", tx.Nonce()),
		zap.String("to", call.To.Hex()),
		zap.String("method", call.Method),
		zap.Uint64("gas", gas))
	return tx, nil
}
