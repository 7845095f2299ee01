package relay

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRequest_JSONFlattened(t *testing.T) {
	body := `{"operationKind":"claimNFT","chainId":84532,"collection":"0x00000000000000000000000000000000000000cc","recipient":"0x00000000000000000000000000000000000000aa","code":"WELCOME","metadataURI":"ipfs://x"}`

	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatal(err)
	}
	if req.OperationKind != OpClaimNFT || req.ChainID != 84532 {
		t.Fatalf("head = %s/%d", req.OperationKind, req.ChainID)
	}

	var p ClaimPayload
	if err := decodePayload(req.Payload, &p); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if p.Code != "WELCOME" || p.Collection != claimable || p.MaxClaims != nil {
		t.Errorf("payload = %+v", p)
	}

	out, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	_ = json.Unmarshal(out, &back)
	if back["operationKind"] != "claimNFT" || back["code"] != "WELCOME" || back["chainId"] != float64(84532) {
		t.Errorf("round trip = %s", out)
	}
}

func TestNewRequest_OverridesHead(t *testing.T) {
	req, err := NewRequest(OpDeployClaimableNFT, 8453, DeployClaimablePayload{
		Name: "Drop", Symbol: "DRP", Owner: common.HexToAddress("0x01"),
	})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(req)
	if !strings.Contains(string(b), `"operationKind":"deployClaimableNFT"`) || !strings.Contains(string(b), `"chainId":8453`) {
		t.Errorf("marshalled = %s", b)
	}
}

func TestDecodePayload_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		dst     any
		details string
	}{
		{"empty", "", new(ClaimPayload), ""},
		{"malformed", `{"code":`, new(ClaimPayload), ""},
		{"missing code", `{"collection":"0x00000000000000000000000000000000000000cc","recipient":"0x00000000000000000000000000000000000000aa","metadataURI":"x"}`,
			new(ClaimPayload), "code is required"},
		{"zero recipient", `{"collection":"0x00000000000000000000000000000000000000cc","code":"A","metadataURI":"x"}`,
			new(ClaimPayload), "recipient is required"},
		{"window inverted", `{"collection":"0x00000000000000000000000000000000000000cc","recipient":"0x00000000000000000000000000000000000000aa","code":"A","metadataURI":"x","startTime":10,"endTime":5}`,
			new(ClaimPayload), "endTime fails gtfield"},
		{"short signature", `{"owner":"0x00000000000000000000000000000000000000aa","spender":"0x00000000000000000000000000000000000000bb","value":1,"deadline":1,"signature":"0x1234"}`,
			new(PermitPayload), "signature fails len=65"},
		{"missing voucher fields", `{"voucher":{"collection":"0x00000000000000000000000000000000000000cc"},"signature":"0x00"}`,
			new(MintPayload), "voucher.recipient is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodePayload(json.RawMessage(tt.raw), tt.dst)
			re := expectKind(t, err, KindValidation)
			if tt.details != "" && !strings.Contains(re.Details, tt.details) {
				t.Errorf("details = %q, want %q", re.Details, tt.details)
			}
		})
	}
}

func TestDecodePayload_BigIntegers(t *testing.T) {
	var p AddClaimCodePayload
	raw := `{"collection":"0x00000000000000000000000000000000000000cc","owner":"0x00000000000000000000000000000000000000aa","code":"A","maxClaims":1000000000000000000000,"metadataURI":"x"}`
	if err := decodePayload(json.RawMessage(raw), &p); err != nil {
		t.Fatal(err)
	}
	want, _ := new(big.Int).SetString("1000000000000000000000", 10)
	if p.MaxClaims.Cmp(want) != 0 {
		t.Errorf("maxClaims = %s", p.MaxClaims)
	}
}

func TestRequest_Resource(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	coll := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	deploy, _ := NewRequest(OpDeployClaimableNFT, 1, DeployClaimablePayload{Name: "N", Symbol: "S", Owner: owner})
	if got, err := deploy.Resource(); err != nil || got != owner {
		t.Errorf("deploy resource = %s, %v", got.Hex(), err)
	}

	add, _ := NewRequest(OpAddClaimCode, 1, AddClaimCodePayload{Collection: coll, Owner: owner, Code: "C"})
	if got, err := add.Resource(); err != nil || got != coll {
		t.Errorf("addClaimCode resource = %s, %v", got.Hex(), err)
	}

	mint, _ := NewRequest(OpMint, 1, map[string]any{})
	if _, err := mint.Resource(); err == nil {
		t.Error("mint has no resource")
	}
}
