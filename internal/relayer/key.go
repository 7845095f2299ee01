package relayer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNotConfigured means no relayer credential was supplied; relay
// submission is disabled for the whole process.
var ErrNotConfigured = errors.New("relayer not configured")

// LoadKey parses the relayer secret (hex, optional 0x prefix).
func LoadKey(secret string) (*ecdsa.PrivateKey, error) {
	if secret == "" {
		return nil, ErrNotConfigured
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(secret), "0x")
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("relayer key must be a 32-byte hex string (got %d chars)", len(keyHex))
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse relayer key: %w", err)
	}
	return key, nil
}
