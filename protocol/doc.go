// Package protocol defines the signed message schemas exchanged between
// federation peers and the rules for verifying them.
//
// Every mutating exchange in the federation layer is a typed-data message
// wrapped in a SignedRequest envelope. Verification is a pure function
// with a fixed check order: structural validity first, then the ±1 hour
// freshness window on the embedded timestamp, then cryptographic recovery
// of the signer, and finally the comparison against the address the
// message itself asserts. Signatures authenticate identity and authorize
// actions; they never order events across nodes.
//
// The package also carries the error taxonomy shared by the protocol and
// API surfaces. Errors travel as stable codes so that independently
// operated peers agree on semantics without sharing code.
package protocol
