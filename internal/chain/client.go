package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RPC is the subset of *ethclient.Client used by the relay.
type RPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ RPC = (*ethclient.Client)(nil)

var ErrConfirmTimeout = errors.New("confirmation timed out")

// Call is one encoded contract invocation.
type Call struct {
	To     common.Address
	Data   []byte
	Value  *big.Int
	Method string // for logs only
}

func (c Call) msg(from common.Address) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &c.To, Data: c.Data, Value: c.Value}
}

// Client is a per-chain handle around an RPC endpoint.
type Client struct {
	rpc     RPC
	chainID int64
}

func NewClient(rpc RPC, chainID int64) *Client {
	return &Client{rpc: rpc, chainID: chainID}
}

// Dial connects to rawURL and checks the node reports the expected chain id.
func Dial(ctx context.Context, rawURL string, chainID int64) (*Client, *ethclient.Client, error) {
	eth, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	got, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, nil, fmt.Errorf("read chain id: %w", err)
	}
	if got.Int64() != chainID {
		eth.Close()
		return nil, nil, fmt.Errorf("rpc %s serves chain %s, configured %d", rawURL, got, chainID)
	}
	return NewClient(eth, chainID), eth, nil
}

func (c *Client) ChainID() int64 { return c.chainID }

func (c *Client) RPC() RPC { return c.rpc }

// Read performs an eth_call and returns raw return data.
func (c *Client) Read(ctx context.Context, from common.Address, call Call) ([]byte, error) {
	return c.rpc.CallContract(ctx, call.msg(from), nil)
}

func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.rpc.BalanceAt(ctx, addr, nil)
}

// HasCode reports whether addr holds contract bytecode.
func (c *Client) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.rpc.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// WaitMined blocks until tx is included or timeout elapses.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, c.rpc, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %s", ErrConfirmTimeout, timeout, tx.Hash().Hex())
		}
		return nil, fmt.Errorf("wait mined %s: %w", tx.Hash().Hex(), err)
	}
	return receipt, nil
}
