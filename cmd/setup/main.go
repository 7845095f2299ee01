// cmd/setup registers the relayer as a trusted relayer on every configured
// factory and subscription manager that does not already trust it.
//
// The transactions are signed by the contracts' owner key, read from
// ADMIN_PRIVATE_KEY. The relayer address is derived from RELAYER_PRIVATE_KEY
// unless --relayer is given.
//
// Usage:
//
//	ADMIN_PRIVATE_KEY=0x<owner key> \
//	RELAYER_PRIVATE_KEY=0x<relayer key> \
//	go run ./cmd/setup/ [--relayer 0x...] [--dry-run]
package main

import (
	"context"
	"flag"
	"fmt"
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
	relayerHex := flag.String("relayer", "", "relayer address (default: derived from RELAYER_PRIVATE_KEY)")
	dryRun := flag.Bool("dry-run", false, "only report which contracts need setup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatalf("load config: %v", err)
	}

	var target common.Address
	switch {
	case *relayerHex != "":
		if !common.IsHexAddress(*relayerHex) {
			fatalf("invalid --relayer %q", *relayerHex)
		}
		target = common.HexToAddress(*relayerHex)
	default:
		key, err := relayer.LoadKey(cfg.Relayer.PrivateKey)
		if err != nil {
			fatalf("relayer key: %v", err)
		}
		target = crypto.PubkeyToAddress(key.PublicKey)
	}

	adminKey, err := relayer.LoadKey(os.Getenv("ADMIN_PRIVATE_KEY"))
	if err != nil {
		fatalf("ADMIN_PRIVATE_KEY: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	log, _ := zap.NewDevelopment()
	chains, err := chain.DialAll(ctx, cfg.Chains, log)
	if err != nil {
		fatalf("dial: %v", err)
	}
	defer chains.Close()

	// The owner key goes through the same serialized writer the service uses.
	admin := relayer.NewAccount(adminKey, chains, relayer.Options{GasMultiplier: 1.2}, log)
	admin.Start(ctx)
	defer admin.Stop()

	fmt.Printf("relayer: %s\n", target.Hex())
	fmt.Printf("owner:   %s\n", admin.Address().Hex())

	pending := 0
	for _, ch := range cfg.Chains {
		c, ok := chains.Get(ch.ID)
		if !ok {
			fmt.Printf("\n%s (%d): unreachable, skipped\n", ch.Name, ch.ID)
			continue
		}
		fmt.Printf("\n%s (%d)\n", ch.Name, ch.ID)
		for _, gen := range ch.Generations {
			for _, hex := range []string{gen.NFTFactory, gen.SubscriptionManager, gen.ClaimableFactory} {
				if hex == "" {
					continue
				}
				contract := common.HexToAddress(hex)
				check, _ := minting.TrustedRelayerCall(contract, target)
				ret, err := c.Read(ctx, target, check)
				if err != nil {
					fmt.Printf("  %-8s %s: read failed: %v\n", gen.Name, contract.Hex(), err)
					continue
				}
				if trusted, _ := minting.DecodeBool(ret); trusted {
					fmt.Printf("  %-8s %s already trusted ✓\n", gen.Name, contract.Hex())
					continue
				}
				pending++
				if *dryRun {
					fmt.Printf("  %-8s %s needs setTrustedRelayer\n", gen.Name, contract.Hex())
					continue
				}

				call, err := minting.SetTrustedRelayerCall(contract, target, true)
				if err != nil {
					fatalf("encode setTrustedRelayer: %v", err)
				}
				tx, err := admin.Submit(ctx, ch.ID, call)
				if err != nil {
					fatalf("setTrustedRelayer on %s: %v", contract.Hex(), err)
				}
				fmt.Printf("  %-8s %s tx: %s\n", gen.Name, contract.Hex(), tx.Hash().Hex())
				receipt, err := c.WaitMined(ctx, tx, 2*time.Minute)
				if err != nil {
					fatalf("wait mined: %v", err)
				}
				if receipt.Status != 1 {
					fatalf("setTrustedRelayer reverted on %s (is the admin key the owner?)", contract.Hex())
				}
				fmt.Println("           confirmed ✓")
			}
		}
	}

	if *dryRun && pending > 0 {
		fmt.Printf("\n%d contract(s) need setup\n", pending)
		os.Exit(2)
	}
	fmt.Println("\nSetup complete!")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
