// Package crypto provides the signing primitives for the federation layer.
//
// Node identities are secp256k1 keypairs. A node is addressed by the
// EIP-55 checksummed form of its public key's address, and every protocol
// message is authenticated by recovering the signer address from an
// EIP-712 typed-data signature. Content rows are addressed by the
// Keccak-256 digest of their canonical bytes.
package crypto
