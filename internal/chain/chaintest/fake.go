// Package chaintest provides a programmable in-memory chain for tests. It
// implements chain.RPC, counts every call, enforces sender nonces and turns
// per-(contract, selector) handlers into eth_call results and receipts.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Msg is one call or transaction routed to a handler. Commit is true only
// when the message comes from a mined transaction.
type Msg struct {
	From   common.Address
	To     common.Address
	Data   []byte
	Value  *big.Int
	Commit bool
}

// Handler executes a message. Returning an error models a revert.
type Handler func(m Msg) (ret []byte, logs []*types.Log, err error)

type handlerKey struct {
	to       common.Address
	selector [4]byte
}

type Fake struct {
	mu       sync.Mutex
	chainID  *big.Int
	balances map[common.Address]*big.Int
	code     map[common.Address][]byte
	nonces   map[common.Address]uint64
	handlers map[handlerKey]Handler
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	calls    map[string]int
	block    uint64

	// CallErr, when set, fails every eth_call (transport fault).
	CallErr error
	// SendErr, when set, fails every eth_sendRawTransaction.
	SendErr error
	// HoldReceipts keeps mined transactions pending forever.
	HoldReceipts bool
	// AfterSend runs once a transaction has been accepted.
	AfterSend func(tx *types.Transaction)
}

func New(chainID int64) *Fake {
	return &Fake{
		chainID:  big.NewInt(chainID),
		balances: make(map[common.Address]*big.Int),
		code:     make(map[common.Address][]byte),
		nonces:   make(map[common.Address]uint64),
		handlers: make(map[handlerKey]Handler),
		receipts: make(map[common.Hash]*types.Receipt),
		calls:    make(map[string]int),
	}
}

// ── Setup ─────────────────────────────────────────────────────────────────

func (f *Fake) SetBalance(addr common.Address, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = new(big.Int).Set(wei)
}

func (f *Fake) SetCode(addr common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[addr] = code
}

// Handle routes calls to (to, selector) to h and marks to as a contract.
func (f *Fake) Handle(to common.Address, selector []byte, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var k handlerKey
	k.to = to
	copy(k.selector[:], selector)
	f.handlers[k] = h
	if len(f.code[to]) == 0 {
		f.code[to] = []byte{0x60, 0x80}
	}
}

// HandleMethod is Handle keyed by an ABI method name.
func (f *Fake) HandleMethod(to common.Address, a abi.ABI, method string, h Handler) {
	m, ok := a.Methods[method]
	if !ok {
		panic("chaintest: unknown method " + method)
	}
	f.Handle(to, m.ID, h)
}

// ── Inspection ────────────────────────────────────────────────────────────

// CallCount returns how often an RPC method was invoked.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Sent returns every accepted transaction, in order.
func (f *Fake) Sent() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Transaction, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *Fake) Nonce(addr common.Address) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[addr]
}

// ── chain.RPC ─────────────────────────────────────────────────────────────

func (f *Fake) count(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

func (f *Fake) ChainID(context.Context) (*big.Int, error) {
	f.count("eth_chainId")
	return new(big.Int).Set(f.chainID), nil
}

func (f *Fake) lookup(to common.Address, data []byte) (Handler, bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hasCode := len(f.code[to]) > 0
	if len(data) < 4 {
		return nil, hasCode, false
	}
	var k handlerKey
	k.to = to
	copy(k.selector[:], data[:4])
	h, ok := f.handlers[k]
	return h, hasCode, ok
}

func (f *Fake) execute(from common.Address, to *common.Address, data []byte, value *big.Int, commit bool) ([]byte, []*types.Log, error) {
	if to == nil {
		return nil, nil, fmt.Errorf("contract creation not supported")
	}
	h, hasCode, ok := f.lookup(*to, data)
	if !ok {
		if !hasCode {
			return nil, nil, nil
		}
		return nil, nil, RevertEmpty()
	}
	return h(Msg{From: from, To: *to, Data: data, Value: value, Commit: commit})
}

func (f *Fake) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.count("eth_call")
	if f.CallErr != nil {
		return nil, f.CallErr
	}
	ret, _, err := f.execute(msg.From, msg.To, msg.Data, msg.Value, false)
	return ret, err
}

func (f *Fake) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	f.count("eth_getCode")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[account], nil
}

func (f *Fake) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	f.count("eth_getBalance")
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *Fake) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	f.count("eth_getTransactionCount")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *Fake) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.count("eth_gasPrice")
	return big.NewInt(1_000_000_000), nil
}

func (f *Fake) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.count("eth_estimateGas")
	if _, _, err := f.execute(msg.From, msg.To, msg.Data, msg.Value, false); err != nil {
		return 0, err
	}
	return 150_000, nil
}

func (f *Fake) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.count("eth_sendRawTransaction")
	if f.SendErr != nil {
		return f.SendErr
	}
	from, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	f.mu.Lock()
	want := f.nonces[from]
	if tx.Nonce() != want {
		f.mu.Unlock()
		if tx.Nonce() < want {
			return fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", want, tx.Nonce())
		}
		return fmt.Errorf("nonce too high: next nonce %d, tx nonce %d", want, tx.Nonce())
	}
	f.nonces[from] = want + 1
	f.sent = append(f.sent, tx)
	f.block++
	block := f.block
	f.mu.Unlock()

	_, logs, execErr := f.execute(from, tx.To(), tx.Data(), tx.Value(), true)

	receipt := &types.Receipt{
		Type:        tx.Type(),
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		GasUsed:     120_000,
		BlockNumber: new(big.Int).SetUint64(block),
	}
	if execErr != nil {
		receipt.Status = types.ReceiptStatusFailed
		logs = nil
	}
	for i, l := range logs {
		l.TxHash = tx.Hash()
		l.BlockNumber = block
		l.Index = uint(i)
	}
	receipt.Logs = logs

	if !f.HoldReceipts {
		f.mu.Lock()
		f.receipts[tx.Hash()] = receipt
		f.mu.Unlock()
	}
	if f.AfterSend != nil {
		f.AfterSend(tx)
	}
	return nil
}

func (f *Fake) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.count("eth_getTransactionReceipt")
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────

// RPCError mimics a JSON-RPC execution error carrying revert data.
type RPCError struct {
	Msg  string
	Data string
}

func (e *RPCError) Error() string  { return e.Msg }
func (e *RPCError) ErrorCode() int { return 3 }
func (e *RPCError) ErrorData() interface{} {
	if e.Data == "" {
		return nil
	}
	return e.Data
}

var stringArgs = func() abi.Arguments {
	t, _ := abi.NewType("string", "", nil)
	return abi.Arguments{{Type: t}}
}()

// Revert returns an error carrying Error(string) revert data.
func Revert(reason string) error {
	packed, _ := stringArgs.Pack(reason)
	data := append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
	return &RPCError{Msg: "execution reverted: " + reason, Data: hexutil.Encode(data)}
}

// RevertData returns an error carrying raw revert data (custom errors).
func RevertData(data []byte) error {
	return &RPCError{Msg: "execution reverted", Data: hexutil.Encode(data)}
}

// RevertEmpty is a revert without data, as produced by a missing selector.
func RevertEmpty() error {
	return &RPCError{Msg: "execution reverted"}
}

// Selector returns the 4-byte function selector of a canonical signature.
func Selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// AddressTopic left-pads addr into a log topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// Log builds an event log from emitter with the given topics.
func Log(emitter common.Address, topics ...common.Hash) *types.Log {
	return &types.Log{Address: emitter, Topics: topics}
}

// TransferLog builds an ERC-721 mint log for tokenID.
func TransferLog(collection, to common.Address, tokenID int64) *types.Log {
	return Log(collection,
		crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")),
		common.Hash{},
		AddressTopic(to),
		common.BigToHash(big.NewInt(tokenID)),
	)
}

// Bool ABI-encodes a boolean return value.
func Bool(v bool) []byte {
	out := make([]byte, 32)
	if v {
		out[31] = 1
	}
	return out
}

// Uint ABI-encodes a uint256 return value.
func Uint(v int64) []byte {
	return common.BigToHash(big.NewInt(v)).Bytes()
}
