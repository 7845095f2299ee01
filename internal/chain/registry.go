package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/config"
)

// Registry holds one Client per configured chain.
type Registry struct {
	clients map[int64]*Client
	closers []*ethclient.Client
}

// NewRegistry builds a registry over pre-constructed clients.
func NewRegistry(clients ...*Client) *Registry {
	r := &Registry{clients: make(map[int64]*Client, len(clients))}
	for _, c := range clients {
		r.clients[c.ChainID()] = c
	}
	return r
}

// DialAll connects to every configured chain. A chain whose RPC cannot be
// reached is logged and skipped so the others keep serving.
func DialAll(ctx context.Context, chains []config.ChainConfig, log *zap.Logger) (*Registry, error) {
	r := &Registry{clients: make(map[int64]*Client, len(chains))}
	for _, ch := range chains {
		c, eth, err := Dial(ctx, ch.RPCURL, ch.ID)
		if err != nil {
			log.Error("DialAll: chain unavailable", zap.Int64("chain_id", ch.ID), zap.Error(err))
			continue
		}
		r.clients[ch.ID] = c
		r.closers = append(r.closers, eth)
		log.Info("chain connected", zap.Int64("chain_id", ch.ID), zap.String("name", ch.Name))
	}
	if len(r.clients) == 0 {
		return nil, fmt.Errorf("no chain rpc reachable")
	}
	return r, nil
}

// Get returns the client for chainID.
func (r *Registry) Get(chainID int64) (*Client, bool) {
	c, ok := r.clients[chainID]
	return c, ok
}

func (r *Registry) Close() {
	for _, c := range r.closers {
		c.Close()
	}
}
