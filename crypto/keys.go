package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey is a node's secp256k1 signing key.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// GenerateKey creates a fresh signing keypair.
func GenerateKey() (*PrivateKey, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// NewPrivateKeyFromHex loads a signing key from a hex string, with or
// without a 0x prefix.
func NewPrivateKeyFromHex(hexKey string) (*PrivateKey, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// Address derives the checksummed address for this key.
func (sk *PrivateKey) Address() common.Address {
	return ethcrypto.PubkeyToAddress(sk.key.PublicKey)
}

// Hex returns the key material as unprefixed hex. Handle with care.
func (sk *PrivateKey) Hex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(sk.key))
}

// SignDigest signs a 32-byte digest and returns a 65-byte [R || S || V]
// signature with V in the conventional 27/28 range.
func (sk *PrivateKey) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := ethcrypto.Sign(digest, sk.key)
	if err != nil {
		return nil, fmt.Errorf("signing digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverAddress recovers the signer address from a 32-byte digest and a
// 65-byte [R || S || V] signature. Both V conventions (0/1 and 27/28) are
// accepted.
func RecoverAddress(digest, signature []byte) (common.Address, error) {
	if len(digest) != 32 {
		return common.Address{}, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovering public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
