// Package contracts maps (chain, capability) to a deployed contract address
// across the interface generations that live side by side on each chain.
package contracts

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-mint-relay/internal/config"
)

// Generation identifies one revision of the on-chain interfaces.
type Generation int

const (
	GenV2 Generation = iota + 2
	GenV3
	GenV4
	GenV5
	GenNextGen // v6
)

// newestFirst is the lookup order used by Resolve.
var newestFirst = []Generation{GenNextGen, GenV5, GenV4, GenV3, GenV2}

func (g Generation) String() string {
	switch g {
	case GenV2:
		return "v2"
	case GenV3:
		return "v3"
	case GenV4:
		return "v4"
	case GenV5:
		return "v5"
	case GenNextGen:
		return "nextgen"
	default:
		return fmt.Sprintf("Generation(%d)", int(g))
	}
}

// ParseGeneration accepts "v2".."v6" and "nextgen".
func ParseGeneration(s string) (Generation, error) {
	switch s {
	case "v2":
		return GenV2, nil
	case "v3":
		return GenV3, nil
	case "v4":
		return GenV4, nil
	case "v5":
		return GenV5, nil
	case "v6", "nextgen":
		return GenNextGen, nil
	}
	return 0, fmt.Errorf("unknown contract generation %q", s)
}

type Capability string

const (
	CapCreateCollection   Capability = "create-collection"
	CapMint               Capability = "mint"
	CapManageSubscription Capability = "manage-subscription"
	CapDeployClaimable    Capability = "deploy-claimable"
	CapStablecoin         Capability = "stablecoin"
)

var (
	ErrUnsupportedChain    = errors.New("unsupported chain")
	ErrContractNotDeployed = errors.New("contract not deployed")
)

type Resolution struct {
	Address    common.Address
	Generation Generation
}

type deployment map[Capability]common.Address

type chainEntry struct {
	name string
	gens map[Generation]deployment
}

// Resolver is a static, read-only table built from configuration.
type Resolver struct {
	chains map[int64]*chainEntry
}

func NewResolver(chains []config.ChainConfig) (*Resolver, error) {
	r := &Resolver{chains: make(map[int64]*chainEntry, len(chains))}
	for _, ch := range chains {
		e := &chainEntry{name: ch.Name, gens: make(map[Generation]deployment)}
		for _, gc := range ch.Generations {
			gen, err := ParseGeneration(gc.Name)
			if err != nil {
				return nil, fmt.Errorf("chain %d: %w", ch.ID, err)
			}
			d := deployment{}
			for cap, raw := range map[Capability]string{
				CapCreateCollection:   gc.NFTFactory,
				CapMint:               gc.NFTFactory,
				CapManageSubscription: gc.SubscriptionManager,
				CapDeployClaimable:    gc.ClaimableFactory,
				CapStablecoin:         gc.Stablecoin,
			} {
				if raw == "" {
					continue
				}
				if !common.IsHexAddress(raw) {
					return nil, fmt.Errorf("chain %d %s: invalid %s address %q", ch.ID, gen, cap, raw)
				}
				addr := common.HexToAddress(raw)
				if addr == (common.Address{}) {
					continue
				}
				d[cap] = addr
			}
			e.gens[gen] = d
		}
		r.chains[ch.ID] = e
	}
	return r, nil
}

// Resolve returns the newest generation's address for cap on chainID.
func (r *Resolver) Resolve(chainID int64, cap Capability) (Resolution, error) {
	e, ok := r.chains[chainID]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	for _, gen := range newestFirst {
		if addr, ok := e.gens[gen][cap]; ok {
			return Resolution{Address: addr, Generation: gen}, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %s on chain %d", ErrContractNotDeployed, cap, chainID)
}

// ResolveExact returns the address for cap in one specific generation,
// without falling back.
func (r *Resolver) ResolveExact(chainID int64, cap Capability, gen Generation) (Resolution, error) {
	e, ok := r.chains[chainID]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	addr, ok := e.gens[gen][cap]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s %s on chain %d", ErrContractNotDeployed, gen, cap, chainID)
	}
	return Resolution{Address: addr, Generation: gen}, nil
}

// Supports reports whether chainID is configured at all.
func (r *Resolver) Supports(chainID int64) bool {
	_, ok := r.chains[chainID]
	return ok
}

// ChainIDs returns every configured chain id.
func (r *Resolver) ChainIDs() []int64 {
	ids := make([]int64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	return ids
}

func (r *Resolver) ChainName(chainID int64) string {
	if e, ok := r.chains[chainID]; ok && e.name != "" {
		return e.name
	}
	return fmt.Sprintf("chain-%d", chainID)
}
