package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress validates a 0x-prefixed hex address and returns it in
// canonical form. The checksum casing of the input is not required to be
// correct; the returned address always renders checksummed via Hex().
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("malformed address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ChecksumAddress returns the EIP-55 checksummed rendering of an address
// string, or an error if the input is not an address at all.
func ChecksumAddress(s string) (string, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}
