package protocol

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/epressworld/epress-sub000/crypto"
)

// FreshnessWindow bounds how far a signed timestamp may drift from the
// verifier's clock, in either direction. The window substitutes for a
// persisted nonce ledger: within it a signature is replayable by any
// observer, outside it the message is dead. Both endpoints are accepted.
const FreshnessWindow = 3600 * time.Second

// Verifier checks typed-data signatures. It is stateless and safe for
// concurrent use; the clock is injectable for boundary tests only.
type Verifier struct {
	now func() time.Time
}

// NewVerifier returns a verifier using the wall clock.
func NewVerifier() *Verifier {
	return &Verifier{now: time.Now}
}

// NewVerifierAt returns a verifier with a fixed clock source.
func NewVerifierAt(now func() time.Time) *Verifier {
	return &Verifier{now: now}
}

// Digest hashes a message for signing or recovery.
func Digest(msg Message) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(msg.TypedData())
	if err != nil {
		return nil, Errorf(CodeValidationFailed, "hashing typed data: %v", err)
	}
	return hash, nil
}

// Recover validates the message structure and freshness, then recovers
// the signer address from the signature. It performs no comparison with
// any claimed signer; callers that know who must have signed use Verify.
func (v *Verifier) Recover(msg Message, signature []byte) (common.Address, error) {
	if err := msg.Validate(); err != nil {
		return common.Address{}, err
	}
	if len(signature) != 65 {
		return common.Address{}, Errorf(CodeValidationFailed, "signature must be 65 bytes, got %d", len(signature))
	}
	if ts, windowed := msg.SignedAt(); windowed {
		drift := v.now().Unix() - ts
		if drift < 0 {
			drift = -drift
		}
		if drift > int64(FreshnessWindow/time.Second) {
			return common.Address{}, Errorf(CodeInvalidTimestamp, "timestamp %d outside freshness window", ts)
		}
	}

	digest, err := Digest(msg)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := crypto.RecoverAddress(digest, signature)
	if err != nil {
		return common.Address{}, Errorf(CodeInvalidSignature, "recovering signer: %v", err)
	}
	return signer, nil
}

// Verify runs the full ordered check sequence: structure, freshness,
// recovery, and finally the comparison of the recovered signer against
// expectedSigner, which callers take from inside the message rather than
// trusting any valid signature.
func (v *Verifier) Verify(msg Message, signature []byte, expectedSigner common.Address) error {
	signer, err := v.Recover(msg, signature)
	if err != nil {
		return err
	}
	if signer != expectedSigner {
		return Errorf(CodeSignerMismatch, "recovered %s, expected %s", signer.Hex(), expectedSigner.Hex())
	}
	return nil
}

// Sign hashes the message and signs it with key. It lives here rather
// than in package crypto so signing and verification share one digest
// definition.
func Sign(msg Message, key *crypto.PrivateKey) ([]byte, error) {
	digest, err := Digest(msg)
	if err != nil {
		return nil, err
	}
	return key.SignDigest(digest)
}
