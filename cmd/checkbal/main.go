// cmd/checkbal prints the relayer's native balance on every configured chain
// and whether each deployed contract trusts it.
//
// Usage:
//
//	RELAYER_PRIVATE_KEY=0x<key> CHAIN_ID=84532 RPC_URL=https://... go run ./cmd/checkbal/
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/config"
	"github.com/0gfoundation/0g-mint-relay/internal/minting"
	"github.com/0gfoundation/0g-mint-relay/internal/relayer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalf("load config: %v", err)
	}
	key, err := relayer.LoadKey(cfg.Relayer.PrivateKey)
	if err != nil {
		fatalf("relayer key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	minBalance, _ := new(big.Int).SetString(cfg.Relayer.MinBalanceWei, 10)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	chains, err := chain.DialAll(ctx, cfg.Chains, zap.NewNop())
	if err != nil {
		fatalf("dial: %v", err)
	}
	defer chains.Close()

	fmt.Printf("relayer: %s\n", addr.Hex())
	for _, ch := range cfg.Chains {
		c, ok := chains.Get(ch.ID)
		if !ok {
			fmt.Printf("\n%s (%d): unreachable\n", ch.Name, ch.ID)
			continue
		}
		bal, err := c.Balance(ctx, addr)
		if err != nil {
			fmt.Printf("\n%s (%d): balance: %v\n", ch.Name, ch.ID, err)
			continue
		}
		flag := "ok"
		if minBalance != nil && bal.Cmp(minBalance) <= 0 {
			flag = "LOW"
		}
		fmt.Printf("\n%s (%d)\n  balance: %s wei [%s]\n", ch.Name, ch.ID, bal, flag)

		for _, gen := range ch.Generations {
			for _, hex := range []string{gen.NFTFactory, gen.SubscriptionManager, gen.ClaimableFactory} {
				if hex == "" {
					continue
				}
				contract := common.HexToAddress(hex)
				call, _ := minting.TrustedRelayerCall(contract, addr)
				ret, err := c.Read(ctx, addr, call)
				if err != nil {
					fmt.Printf("  %-8s %s: %v\n", gen.Name, contract.Hex(), err)
					continue
				}
				trusted, _ := minting.DecodeBool(ret)
				fmt.Printf("  %-8s %s trusted=%v\n", gen.Name, contract.Hex(), trusted)
			}
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
