package crypto

import (
	"fmt"
	"io"
	"regexp"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var contentHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// HashBytes returns the 0x-prefixed Keccak-256 digest of b. Identical
// bytes always produce identical hashes, which is what makes content rows
// content-addressable.
func HashBytes(b []byte) string {
	return hexutil.Encode(ethcrypto.Keccak256(b))
}

// HashReader streams r through Keccak-256 and returns the 0x-prefixed
// digest together with the number of bytes consumed. Large files are never
// buffered in memory.
func HashReader(r io.Reader) (string, int64, error) {
	h := ethcrypto.NewKeccakState()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("hashing stream: %w", err)
	}
	return hexutil.Encode(h.Sum(nil)), n, nil
}

// IsContentHash reports whether s is a well-formed 0x-prefixed Keccak-256
// digest.
func IsContentHash(s string) bool {
	return contentHashPattern.MatchString(s)
}
