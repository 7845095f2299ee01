package minting

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal interface ABIs of the deployed contracts. Only the entry points
// the relay calls are listed.

const legacyFactoryABI = `[
 {"type":"function","name":"mintWithVoucher","stateMutability":"nonpayable",
  "inputs":[{"name":"voucher","type":"tuple","components":[
    {"name":"collection","type":"address"},{"name":"recipient","type":"address"},
    {"name":"tokenURI","type":"string"},{"name":"nonce","type":"uint256"},{"name":"deadline","type":"uint256"}]},
   {"name":"signature","type":"bytes"}],
  "outputs":[{"name":"tokenId","type":"uint256"}]},
 {"type":"function","name":"createCollectionWithVoucher","stateMutability":"nonpayable",
  "inputs":[{"name":"voucher","type":"tuple","components":[
    {"name":"name","type":"string"},{"name":"symbol","type":"string"},{"name":"description","type":"string"},
    {"name":"imageURI","type":"string"},{"name":"externalURL","type":"string"},{"name":"artist","type":"address"},
    {"name":"royaltyRecipient","type":"address"},{"name":"royaltyBps","type":"uint96"},
    {"name":"nonce","type":"uint256"},{"name":"deadline","type":"uint256"}]},
   {"name":"signature","type":"bytes"}],
  "outputs":[{"name":"collection","type":"address"}]},
 {"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"isTrustedRelayer","stateMutability":"view","inputs":[{"name":"relayer","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"setTrustedRelayer","stateMutability":"nonpayable","inputs":[{"name":"relayer","type":"address"},{"name":"trusted","type":"bool"}],"outputs":[]},
 {"type":"event","name":"CollectionCreated","anonymous":false,"inputs":[
   {"name":"collection","type":"address","indexed":true},{"name":"artist","type":"address","indexed":true},
   {"name":"name","type":"string","indexed":false}]},
 {"type":"error","name":"InvalidSignature","inputs":[]},
 {"type":"error","name":"VoucherExpired","inputs":[{"name":"deadline","type":"uint256"}]},
 {"type":"error","name":"InvalidNonce","inputs":[{"name":"expected","type":"uint256"},{"name":"got","type":"uint256"}]},
 {"type":"error","name":"NotTrustedRelayer","inputs":[{"name":"caller","type":"address"}]},
 {"type":"error","name":"QuotaExceeded","inputs":[{"name":"user","type":"address"}]}
]`

const nextGenFactoryABI = `[
 {"type":"function","name":"mintWithVoucher","stateMutability":"nonpayable",
  "inputs":[{"name":"voucher","type":"tuple","components":[
    {"name":"collection","type":"address"},{"name":"recipient","type":"address"},
    {"name":"tokenURI","type":"string"},{"name":"nonce","type":"uint256"},{"name":"deadline","type":"uint256"}]},
   {"name":"signature","type":"bytes"}],
  "outputs":[{"name":"tokenId","type":"uint256"}]},
 {"type":"function","name":"createCollectionWithVoucher","stateMutability":"nonpayable",
  "inputs":[{"name":"voucher","type":"tuple","components":[
    {"name":"name","type":"string"},{"name":"symbol","type":"string"},{"name":"description","type":"string"},
    {"name":"imageURI","type":"string"},{"name":"externalURL","type":"string"},{"name":"artist","type":"address"},
    {"name":"royaltyRecipient","type":"address"},{"name":"royaltyBps","type":"uint96"},
    {"name":"creatorName","type":"string"},{"name":"creatorBio","type":"string"},{"name":"creatorURL","type":"string"},
    {"name":"nonce","type":"uint256"},{"name":"deadline","type":"uint256"}]},
   {"name":"signature","type":"bytes"}],
  "outputs":[{"name":"collection","type":"address"}]},
 {"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"isTrustedRelayer","stateMutability":"view","inputs":[{"name":"relayer","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"setTrustedRelayer","stateMutability":"nonpayable","inputs":[{"name":"relayer","type":"address"},{"name":"trusted","type":"bool"}],"outputs":[]},
 {"type":"event","name":"CollectionDeployed","anonymous":false,"inputs":[
   {"name":"collection","type":"address","indexed":true},{"name":"creator","type":"address","indexed":true},
   {"name":"collectionId","type":"uint256","indexed":true}]},
 {"type":"error","name":"InvalidSignature","inputs":[]},
 {"type":"error","name":"VoucherExpired","inputs":[{"name":"deadline","type":"uint256"}]},
 {"type":"error","name":"InvalidNonce","inputs":[{"name":"expected","type":"uint256"},{"name":"got","type":"uint256"}]},
 {"type":"error","name":"NotTrustedRelayer","inputs":[{"name":"caller","type":"address"}]},
 {"type":"error","name":"MintLimitReached","inputs":[{"name":"user","type":"address"},{"name":"limit","type":"uint256"}]}
]`

const legacySubscriptionABI = `[
 {"type":"function","name":"getSubscription","stateMutability":"view","inputs":[{"name":"user","type":"address"}],
  "outputs":[{"name":"plan","type":"uint8"},{"name":"expiresAt","type":"uint256"},{"name":"nftsMinted","type":"uint256"},
   {"name":"nftLimit","type":"uint256"},{"name":"isActive","type":"bool"},{"name":"gaslessEnabled","type":"bool"}]},
 {"type":"function","name":"upgradeWithVoucher","stateMutability":"nonpayable",
  "inputs":[{"name":"voucher","type":"tuple","components":[
    {"name":"user","type":"address"},{"name":"plan","type":"uint8"},{"name":"nonce","type":"uint256"},{"name":"deadline","type":"uint256"}]},
   {"name":"signature","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"downgradeWithVoucher","stateMutability":"nonpayable",
  "inputs":[{"name":"voucher","type":"tuple","components":[
    {"name":"user","type":"address"},{"name":"plan","type":"uint8"},{"name":"nonce","type":"uint256"},{"name":"deadline","type":"uint256"}]},
   {"name":"signature","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"isTrustedRelayer","stateMutability":"view","inputs":[{"name":"relayer","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"setTrustedRelayer","stateMutability":"nonpayable","inputs":[{"name":"relayer","type":"address"},{"name":"trusted","type":"bool"}],"outputs":[]},
 {"type":"error","name":"NotEnrolled","inputs":[{"name":"user","type":"address"}]},
 {"type":"error","name":"PaymentRequired","inputs":[{"name":"plan","type":"uint8"},{"name":"price","type":"uint256"}]}
]`

const nextGenSubscriptionABI = `[
 {"type":"function","name":"subscriptionOf","stateMutability":"view","inputs":[{"name":"user","type":"address"}],
  "outputs":[{"name":"plan","type":"uint8"},{"name":"expiresAt","type":"uint64"},{"name":"nftsMinted","type":"uint32"},
   {"name":"nftLimit","type":"uint32"},{"name":"active","type":"bool"},{"name":"gasless","type":"bool"}]},
 {"type":"function","name":"upgradePlanFor","stateMutability":"nonpayable",
  "inputs":[{"name":"voucher","type":"tuple","components":[
    {"name":"user","type":"address"},{"name":"plan","type":"uint8"},{"name":"nonce","type":"uint256"},{"name":"deadline","type":"uint256"}]},
   {"name":"signature","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"downgradePlanFor","stateMutability":"nonpayable",
  "inputs":[{"name":"voucher","type":"tuple","components":[
    {"name":"user","type":"address"},{"name":"plan","type":"uint8"},{"name":"nonce","type":"uint256"},{"name":"deadline","type":"uint256"}]},
   {"name":"signature","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"isTrustedRelayer","stateMutability":"view","inputs":[{"name":"relayer","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"setTrustedRelayer","stateMutability":"nonpayable","inputs":[{"name":"relayer","type":"address"},{"name":"trusted","type":"bool"}],"outputs":[]},
 {"type":"error","name":"PaymentRequired","inputs":[{"name":"plan","type":"uint8"},{"name":"price","type":"uint256"}]},
 {"type":"error","name":"AlreadyOnPlan","inputs":[{"name":"plan","type":"uint8"}]}
]`

const claimableFactoryABI = `[
 {"type":"function","name":"deployClaimable","stateMutability":"nonpayable",
  "inputs":[{"name":"name","type":"string"},{"name":"symbol","type":"string"},{"name":"baseURI","type":"string"},{"name":"owner","type":"address"}],
  "outputs":[{"name":"collection","type":"address"}]},
 {"type":"function","name":"isTrustedRelayer","stateMutability":"view","inputs":[{"name":"relayer","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"setTrustedRelayer","stateMutability":"nonpayable","inputs":[{"name":"relayer","type":"address"},{"name":"trusted","type":"bool"}],"outputs":[]},
 {"type":"event","name":"ClaimableDeployed","anonymous":false,"inputs":[
   {"name":"collection","type":"address","indexed":true},{"name":"owner","type":"address","indexed":true}]}
]`

const claimableNFTABI = `[
 {"type":"function","name":"mintTo","stateMutability":"nonpayable",
  "inputs":[{"name":"to","type":"address"},{"name":"uri","type":"string"}],"outputs":[{"name":"tokenId","type":"uint256"}]},
 {"type":"function","name":"addClaimCode","stateMutability":"nonpayable",
  "inputs":[{"name":"code","type":"string"},{"name":"maxClaims","type":"uint256"},{"name":"startTime","type":"uint64"},
   {"name":"endTime","type":"uint64"},{"name":"uri","type":"string"}],"outputs":[]},
 {"type":"function","name":"claimFor","stateMutability":"nonpayable",
  "inputs":[{"name":"code","type":"string"},{"name":"recipient","type":"address"}],"outputs":[{"name":"tokenId","type":"uint256"}]},
 {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"error","name":"CodeExists","inputs":[]},
 {"type":"error","name":"CodeNotActive","inputs":[]},
 {"type":"error","name":"MaxClaimsReached","inputs":[]},
 {"type":"error","name":"AlreadyClaimed","inputs":[{"name":"user","type":"address"}]}
]`

const stablecoinABI = `[
 {"type":"function","name":"permit","stateMutability":"nonpayable",
  "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},
   {"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],
  "outputs":[]},
 {"type":"function","name":"allowance","stateMutability":"view",
  "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	LegacyFactoryABI       = mustParse(legacyFactoryABI)
	NextGenFactoryABI      = mustParse(nextGenFactoryABI)
	LegacySubscriptionABI  = mustParse(legacySubscriptionABI)
	NextGenSubscriptionABI = mustParse(nextGenSubscriptionABI)
	ClaimableFactoryABI    = mustParse(claimableFactoryABI)
	ClaimableNFTABI        = mustParse(claimableNFTABI)
	StablecoinABI          = mustParse(stablecoinABI)
)

func mustParse(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("minting: bad abi: " + err.Error())
	}
	return a
}
