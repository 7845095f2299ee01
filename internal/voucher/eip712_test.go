package voucher

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
)

var (
	testChainID      int64 = 84532
	testContractAddr       = common.HexToAddress("0xDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEf")
)

func newTestMint(recipient common.Address) MintVoucher {
	return MintVoucher{
		Collection: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Recipient:  recipient,
		TokenURI:   "ipfs://bafy/1.json",
		Nonce:      big.NewInt(3),
		Deadline:   big.NewInt(1_900_000_000),
	}
}

// ── Digest layout ──────────────────────────────────────────────────────────

// manualMintDigest encodes the MintVoucher struct by hand, the way the
// factory contract computes it.
func manualMintDigest(v MintVoucher, name, version string, chainID int64, contract common.Address) common.Hash {
	typeHash := crypto.Keccak256Hash([]byte(
		"MintVoucher(address collection,address recipient,string tokenURI,uint256 nonce,uint256 deadline)",
	))
	enc := make([]byte, 6*32)
	copy(enc[0:32], typeHash[:])
	copy(enc[44:64], v.Collection.Bytes())
	copy(enc[76:96], v.Recipient.Bytes())
	uriHash := crypto.Keccak256Hash([]byte(v.TokenURI))
	copy(enc[96:128], uriHash[:])
	v.Nonce.FillBytes(enc[128:160])
	v.Deadline.FillBytes(enc[160:192])
	structHash := crypto.Keccak256Hash(enc)

	domainTypeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	dom := make([]byte, 5*32)
	copy(dom[0:32], domainTypeHash[:])
	nameHash := crypto.Keccak256Hash([]byte(name))
	copy(dom[32:64], nameHash[:])
	versionHash := crypto.Keccak256Hash([]byte(version))
	copy(dom[64:96], versionHash[:])
	big.NewInt(chainID).FillBytes(dom[96:128])
	copy(dom[140:160], contract.Bytes())
	sep := crypto.Keccak256Hash(dom)

	msg := make([]byte, 66)
	msg[0], msg[1] = 0x19, 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

func TestDigest_MatchesContractEncoding(t *testing.T) {
	v := newTestMint(common.HexToAddress("0x2222222222222222222222222222222222222222"))
	for _, gen := range []contracts.Generation{contracts.GenV5, contracts.GenNextGen} {
		s := SchemaFor(gen)
		got, err := Digest(s.MintTypedData(v, testChainID, testContractAddr))
		if err != nil {
			t.Fatalf("%s: Digest: %v", gen, err)
		}
		want := manualMintDigest(v, s.FactoryName, s.FactoryVersion, testChainID, testContractAddr)
		if got != want {
			t.Errorf("%s: digest = %s, want %s", gen, got.Hex(), want.Hex())
		}
	}
}

func TestDigest_GenerationsDiffer(t *testing.T) {
	v := newTestMint(common.HexToAddress("0x2222222222222222222222222222222222222222"))
	d5, _ := Digest(SchemaFor(contracts.GenV5).MintTypedData(v, testChainID, testContractAddr))
	d6, _ := Digest(SchemaFor(contracts.GenNextGen).MintTypedData(v, testChainID, testContractAddr))
	if d5 == d6 {
		t.Fatal("legacy and nextgen domains should produce different digests")
	}
}

// ── Sign + Recover ─────────────────────────────────────────────────────────

func TestSignRecover_Mint(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	td := SchemaFor(contracts.GenV5).MintTypedData(newTestMint(addr), testChainID, testContractAddr)

	sig, err := Sign(td, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("unexpected signature shape: len=%d v=%d", len(sig), sig[64])
	}
	got, err := Recover(td, sig)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got != addr {
		t.Errorf("recovered %s, want %s", got.Hex(), addr.Hex())
	}
}

func TestSignRecover_CollectionNextGenIncludesProfile(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	v := CollectionVoucher{
		Name: "Dawn", Symbol: "DAWN", Artist: addr, RoyaltyRecipient: addr, RoyaltyBps: 500,
		CreatorName: "ana", Nonce: big.NewInt(0), Deadline: big.NewInt(1_900_000_000),
	}
	s := SchemaFor(contracts.GenNextGen)
	td := s.CollectionTypedData(v, testChainID, testContractAddr)
	sig, err := Sign(td, key)
	if err != nil {
		t.Fatal(err)
	}

	// Changing a profile field must invalidate the signature on NextGen.
	v.CreatorName = "bob"
	got, err := Recover(s.CollectionTypedData(v, testChainID, testContractAddr), sig)
	if err == nil && got == addr {
		t.Fatal("nextgen signature should cover creator profile fields")
	}
}

func TestCollectionLegacyIgnoresProfile(t *testing.T) {
	v := CollectionVoucher{Name: "Dawn", Symbol: "DAWN", Nonce: big.NewInt(0), Deadline: big.NewInt(1)}
	s := SchemaFor(contracts.GenV4)
	d1, err := Digest(s.CollectionTypedData(v, testChainID, testContractAddr))
	if err != nil {
		t.Fatal(err)
	}
	v.CreatorBio = "ignored"
	d2, _ := Digest(s.CollectionTypedData(v, testChainID, testContractAddr))
	if d1 != d2 {
		t.Fatal("legacy schema must not sign profile fields")
	}
}

func TestSignRecover_Plan(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	td := SchemaFor(contracts.GenV5).PlanTypedData(PlanVoucher{
		User: addr, Plan: 1, Nonce: big.NewInt(9), Deadline: big.NewInt(1_900_000_000),
	}, testChainID, testContractAddr)

	sig, err := Sign(td, key)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Recover(td, sig)
	if err != nil || got != addr {
		t.Fatalf("recovered %s (%v), want %s", got.Hex(), err, addr.Hex())
	}
}

func TestRecover_WrongChainID(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	s := SchemaFor(contracts.GenV5)
	v := newTestMint(addr)

	sig, _ := Sign(s.MintTypedData(v, testChainID, testContractAddr), key)
	got, _ := Recover(s.MintTypedData(v, 1, testContractAddr), sig)
	if got == addr {
		t.Fatal("signature must not verify under a different chain id")
	}
}

func TestRecover_WrongContract(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	s := SchemaFor(contracts.GenV5)
	v := newTestMint(addr)

	sig, _ := Sign(s.MintTypedData(v, testChainID, testContractAddr), key)
	other := common.HexToAddress("0x0000000000000000000000000000000000000001")
	got, _ := Recover(s.MintTypedData(v, testChainID, other), sig)
	if got == addr {
		t.Fatal("signature must not verify against a different verifying contract")
	}
}

func TestRecover_TamperedNonce(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	s := SchemaFor(contracts.GenV5)
	v := newTestMint(addr)

	sig, _ := Sign(s.MintTypedData(v, testChainID, testContractAddr), key)
	v.Nonce = big.NewInt(4)
	got, _ := Recover(s.MintTypedData(v, testChainID, testContractAddr), sig)
	if got == addr {
		t.Fatal("tampered nonce should not recover the original signer")
	}
}

func TestRecover_BadLength(t *testing.T) {
	td := SchemaFor(contracts.GenV5).MintTypedData(newTestMint(common.Address{}), testChainID, testContractAddr)
	if _, err := Recover(td, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short signature")
	}
}

func TestExpired(t *testing.T) {
	if !Expired(nil, 100) {
		t.Error("nil deadline should be expired")
	}
	if !Expired(big.NewInt(100), 100) {
		t.Error("deadline == now should be expired")
	}
	if Expired(big.NewInt(101), 100) {
		t.Error("future deadline should not be expired")
	}
}
