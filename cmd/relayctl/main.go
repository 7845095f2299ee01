// cmd/relayctl signs a voucher (or an authenticated owner request) with a
// local key and submits it to a running relay.
//
// Usage:
//
//	USER_PRIVATE_KEY=0x<key> go run ./cmd/relayctl/ \
//	  --url http://localhost:8080 --chain-id 84532 \
//	  mint --collection 0x... --uri ipfs://...
//
// Subcommands: mint, collection, plan, claim, deploy-claimable, add-code.
// Vouchers read their nonce from the chains in the service config.
package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/auth"
	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/config"
	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
	"github.com/0gfoundation/0g-mint-relay/internal/minting"
	"github.com/0gfoundation/0g-mint-relay/internal/relay"
	"github.com/0gfoundation/0g-mint-relay/internal/relayer"
	"github.com/0gfoundation/0g-mint-relay/internal/voucher"
)

func main() {
	relayURL := flag.String("url", "http://localhost:8080", "relay base URL")
	chainID := flag.Int64("chain-id", 84532, "target chain")
	nextGen := flag.Bool("nextgen", false, "use the NextGen contracts")
	flag.Parse()
	if flag.NArg() < 1 {
		fatalf("missing subcommand")
	}

	key, err := relayer.LoadKey(os.Getenv("USER_PRIVATE_KEY"))
	if err != nil {
		fatalf("USER_PRIVATE_KEY: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c := &cli{key: key, chainID: *chainID, nextGen: *nextGen}
	sub, args := flag.Arg(0), flag.Args()[1:]
	if needsVoucher(sub) {
		cfg, err := config.Load()
		if err != nil {
			fatalf("load config: %v", err)
		}
		resolver, err := contracts.NewResolver(cfg.Chains)
		if err != nil {
			fatalf("contracts: %v", err)
		}
		chains, err := chain.DialAll(ctx, cfg.Chains, zap.NewNop())
		if err != nil {
			fatalf("dial: %v", err)
		}
		defer chains.Close()
		c.builder = voucher.NewBuilder(resolver, minting.NewNonces(chains), cfg.Voucher.TTL())
	}

	req, err := c.build(ctx, sub, args)
	if err != nil {
		fatalf("%s: %v", sub, err)
	}
	var headers http.Header
	if req.OperationKind.Privileged() {
		if headers, err = authHeaders(key, req, time.Now()); err != nil {
			fatalf("sign auth: %v", err)
		}
	}

	status, body, err := send(ctx, http.DefaultClient, *relayURL, req, headers)
	if err != nil {
		fatalf("send: %v", err)
	}
	fmt.Printf("HTTP %d\n%s\n", status, body)
	if status != http.StatusOK {
		os.Exit(1)
	}
}

func needsVoucher(sub string) bool {
	return sub == "mint" || sub == "collection" || sub == "plan"
}

type cli struct {
	key     *ecdsa.PrivateKey
	chainID int64
	nextGen bool
	builder *voucher.Builder
}

func (c *cli) address() common.Address { return crypto.PubkeyToAddress(c.key.PublicKey) }

// build parses a subcommand's flags into a relay request.
func (c *cli) build(ctx context.Context, sub string, args []string) (relay.Request, error) {
	fs := flag.NewFlagSet(sub, flag.ContinueOnError)
	signer := voucher.NewKeySigner(c.key)
	me := c.address()

	switch sub {
	case "mint":
		collection := fs.String("collection", "", "collection address")
		recipient := fs.String("to", me.Hex(), "recipient")
		uri := fs.String("uri", "", "token URI")
		if err := parse(fs, args); err != nil {
			return relay.Request{}, err
		}
		sv, err := c.builder.BuildMint(ctx, signer, voucher.MintParams{
			ChainID: c.chainID, Collection: common.HexToAddress(*collection),
			Recipient: common.HexToAddress(*recipient), TokenURI: *uri, NextGen: c.nextGen,
		})
		if err != nil {
			return relay.Request{}, err
		}
		return relay.NewRequest(pick(c.nextGen, relay.OpMintNextGen, relay.OpMint), c.chainID, sv)

	case "collection":
		name := fs.String("name", "", "collection name")
		symbol := fs.String("symbol", "", "collection symbol")
		image := fs.String("image", "", "image URI")
		royaltyBps := fs.Uint("royalty-bps", 0, "royalty in basis points")
		if err := parse(fs, args); err != nil {
			return relay.Request{}, err
		}
		sv, err := c.builder.BuildCollection(ctx, signer, voucher.CollectionParams{
			ChainID: c.chainID, Name: *name, Symbol: *symbol, ImageURI: *image,
			Artist: me, RoyaltyRecipient: me, RoyaltyBps: uint16(*royaltyBps), NextGen: c.nextGen,
		})
		if err != nil {
			return relay.Request{}, err
		}
		return relay.NewRequest(pick(c.nextGen, relay.OpCreateCollectionNextGen, relay.OpCreateCollection), c.chainID, sv)

	case "plan":
		plan := fs.String("plan", "MASTER", "target plan (FREE, MASTER, ELITE)")
		downgrade := fs.Bool("downgrade", false, "downgrade instead of upgrade")
		if err := parse(fs, args); err != nil {
			return relay.Request{}, err
		}
		p, err := minting.ParsePlan(*plan)
		if err != nil {
			return relay.Request{}, err
		}
		sv, err := c.builder.BuildPlan(ctx, signer, voucher.PlanParams{ChainID: c.chainID, User: me, Plan: uint8(p)})
		if err != nil {
			return relay.Request{}, err
		}
		return relay.NewRequest(pick(*downgrade, relay.OpDowngradeSubscription, relay.OpUpgradeSubscription), c.chainID, sv)

	case "claim":
		collection := fs.String("collection", "", "claimable collection")
		code := fs.String("code", "", "claim code")
		uri := fs.String("uri", "", "metadata URI for the claimed token")
		maxClaims := fs.Int64("max-claims", 0, "code capacity, used when the code must be registered first")
		if err := parse(fs, args); err != nil {
			return relay.Request{}, err
		}
		cc := relay.ClaimCode{Code: *code, MetadataURI: *uri}
		if *maxClaims > 0 {
			cc.MaxClaims = big.NewInt(*maxClaims)
		}
		return relay.NewRequest(relay.OpClaimNFT, c.chainID, relay.ClaimPayload{
			Collection: common.HexToAddress(*collection),
			Recipient:  me,
			ClaimCode:  cc,
		})

	case "deploy-claimable":
		name := fs.String("name", "", "collection name")
		symbol := fs.String("symbol", "", "collection symbol")
		baseURI := fs.String("base-uri", "", "base token URI")
		if err := parse(fs, args); err != nil {
			return relay.Request{}, err
		}
		return relay.NewRequest(relay.OpDeployClaimableNFT, c.chainID, relay.DeployClaimablePayload{
			Name: *name, Symbol: *symbol, BaseURI: *baseURI, Owner: me,
		})

	case "add-code":
		collection := fs.String("collection", "", "claimable collection")
		code := fs.String("code", "", "claim code")
		maxClaims := fs.Int64("max-claims", 1, "redemptions allowed")
		uri := fs.String("uri", "", "metadata URI for claimed tokens")
		ttl := fs.Duration("ttl", 0, "code lifetime (0 = no end)")
		if err := parse(fs, args); err != nil {
			return relay.Request{}, err
		}
		p := relay.AddClaimCodePayload{
			Collection:  common.HexToAddress(*collection),
			Owner:       me,
			Code:        *code,
			MaxClaims:   big.NewInt(*maxClaims),
			MetadataURI: *uri,
		}
		if *ttl > 0 {
			now := time.Now()
			p.StartTime = uint64(now.Unix())
			p.EndTime = uint64(now.Add(*ttl).Unix())
		}
		return relay.NewRequest(relay.OpAddClaimCode, c.chainID, p)
	}
	return relay.Request{}, fmt.Errorf("unknown subcommand %q", sub)
}

func parse(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(io.Discard)
	return fs.Parse(args)
}

func pick(cond bool, yes, no relay.OperationKind) relay.OperationKind {
	if cond {
		return yes
	}
	return no
}

// authHeaders signs a short-lived wallet-auth message for req's kind and
// target address.
func authHeaders(key *ecdsa.PrivateKey, req relay.Request, now time.Time) (http.Header, error) {
	resource, err := req.Resource()
	if err != nil {
		return nil, err
	}
	msg, err := json.Marshal(auth.SignedRequest{
		Action:     string(req.OperationKind),
		ExpiresAt:  now.Add(2 * time.Minute).Unix(),
		Nonce:      uuid.NewString(),
		ResourceID: resource.Hex(),
	})
	if err != nil {
		return nil, err
	}
	sig, err := auth.Sign(msg, key)
	if err != nil {
		return nil, err
	}
	return auth.Headers(crypto.PubkeyToAddress(key.PublicKey), msg, sig), nil
}

// send POSTs req to the relay and returns the status and raw body.
func send(ctx context.Context, hc *http.Client, baseURL string, req relay.Request, headers http.Header) (int, []byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/relay", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header[k] = v
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
