package contracts

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-mint-relay/internal/config"
)

const (
	addrV5      = "0x0000000000000000000000000000000000000005"
	addrNextGen = "0x0000000000000000000000000000000000000006"
	addrSubV5   = "0x0000000000000000000000000000000000000105"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver([]config.ChainConfig{
		{
			ID: 84532,
			Generations: []config.GenerationConfig{
				{Name: "v5", NFTFactory: addrV5, SubscriptionManager: addrSubV5},
				{Name: "nextgen", NFTFactory: addrNextGen},
			},
		},
		{ID: 16602},
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestResolve_NewestFirst(t *testing.T) {
	r := testResolver(t)

	res, err := r.Resolve(84532, CapMint)
	if err != nil {
		t.Fatal(err)
	}
	if res.Generation != GenNextGen || res.Address != common.HexToAddress(addrNextGen) {
		t.Errorf("got %s %s, want nextgen %s", res.Generation, res.Address.Hex(), addrNextGen)
	}
}

func TestResolve_FallsBackToOlderGeneration(t *testing.T) {
	r := testResolver(t)

	res, err := r.Resolve(84532, CapManageSubscription)
	if err != nil {
		t.Fatal(err)
	}
	if res.Generation != GenV5 || res.Address != common.HexToAddress(addrSubV5) {
		t.Errorf("got %s %s, want v5 %s", res.Generation, res.Address.Hex(), addrSubV5)
	}
}

func TestResolve_UnknownChain(t *testing.T) {
	r := testResolver(t)

	_, err := r.Resolve(1, CapMint)
	if !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected ErrUnsupportedChain, got %v", err)
	}
}

func TestResolve_ChainWithoutDeployment(t *testing.T) {
	r := testResolver(t)

	_, err := r.Resolve(16602, CapDeployClaimable)
	if !errors.Is(err, ErrContractNotDeployed) {
		t.Fatalf("expected ErrContractNotDeployed, got %v", err)
	}
}

func TestResolveExact_NoFallback(t *testing.T) {
	r := testResolver(t)

	if _, err := r.ResolveExact(84532, CapManageSubscription, GenNextGen); !errors.Is(err, ErrContractNotDeployed) {
		t.Fatalf("expected ErrContractNotDeployed, got %v", err)
	}
	res, err := r.ResolveExact(84532, CapCreateCollection, GenV5)
	if err != nil {
		t.Fatal(err)
	}
	if res.Address != common.HexToAddress(addrV5) {
		t.Errorf("address = %s", res.Address.Hex())
	}
}

func TestNewResolver_RejectsBadInput(t *testing.T) {
	_, err := NewResolver([]config.ChainConfig{{
		ID:          1,
		Generations: []config.GenerationConfig{{Name: "v9"}},
	}})
	if err == nil {
		t.Error("expected unknown generation error")
	}

	_, err = NewResolver([]config.ChainConfig{{
		ID:          1,
		Generations: []config.GenerationConfig{{Name: "v5", NFTFactory: "not-an-address"}},
	}})
	if err == nil {
		t.Error("expected invalid address error")
	}
}

func TestNewResolver_ZeroAddressIsUnset(t *testing.T) {
	r, err := NewResolver([]config.ChainConfig{{
		ID:          1,
		Generations: []config.GenerationConfig{{Name: "v5", NFTFactory: "0x0000000000000000000000000000000000000000"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(1, CapMint); !errors.Is(err, ErrContractNotDeployed) {
		t.Fatalf("expected ErrContractNotDeployed, got %v", err)
	}
}

func TestParseGeneration(t *testing.T) {
	for in, want := range map[string]Generation{"v2": GenV2, "v5": GenV5, "v6": GenNextGen, "nextgen": GenNextGen} {
		got, err := ParseGeneration(in)
		if err != nil || got != want {
			t.Errorf("ParseGeneration(%q) = %v, %v", in, got, err)
		}
	}
	if GenNextGen.String() != "nextgen" || GenV3.String() != "v3" {
		t.Error("unexpected String()")
	}
}
