package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epressworld/epress-sub000/crypto"
)

func fixedClock(t *testing.T) (func() time.Time, time.Time) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	return func() time.Time { return now }, now
}

func signedCreation(t *testing.T, key *crypto.PrivateKey, followee string, ts int64) (ConnectionCreation, []byte) {
	t.Helper()
	msg := ConnectionCreation{
		FolloweeAddress: followee,
		FolloweeURL:     "https://followee.example",
		FollowerURL:     "https://follower.example",
		Timestamp:       ts,
	}
	sig, err := Sign(msg, key)
	require.NoError(t, err)
	return msg, sig
}

func TestVerifyRoundTrip(t *testing.T) {
	clock, now := fixedClock(t)
	v := NewVerifierAt(clock)

	follower, err := crypto.GenerateKey()
	require.NoError(t, err)
	followee, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg, sig := signedCreation(t, follower, followee.Address().Hex(), now.Unix())

	signer, err := v.Recover(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, follower.Address(), signer)

	require.NoError(t, v.Verify(msg, sig, follower.Address()))
}

func TestVerifySignerMismatch(t *testing.T) {
	clock, now := fixedClock(t)
	v := NewVerifierAt(clock)

	follower, err := crypto.GenerateKey()
	require.NoError(t, err)
	followee, err := crypto.GenerateKey()
	require.NoError(t, err)

	// A perfectly valid signature attributed to the wrong signer.
	msg, sig := signedCreation(t, follower, followee.Address().Hex(), now.Unix())
	err = v.Verify(msg, sig, followee.Address())
	assert.Equal(t, CodeSignerMismatch, CodeOf(err))
}

func TestVerifyCorruptSignature(t *testing.T) {
	clock, now := fixedClock(t)
	v := NewVerifierAt(clock)

	follower, err := crypto.GenerateKey()
	require.NoError(t, err)
	followee, err := crypto.GenerateKey()
	require.NoError(t, err)
	msg, sig := signedCreation(t, follower, followee.Address().Hex(), now.Unix())

	// An unusable recovery id fails recovery outright.
	badV := make([]byte, len(sig))
	copy(badV, sig)
	badV[64] = 99
	_, err = v.Recover(msg, badV)
	assert.Equal(t, CodeInvalidSignature, CodeOf(err))

	// A flipped payload byte either fails recovery or recovers a
	// stranger; both are rejections, never success.
	badR := make([]byte, len(sig))
	copy(badR, sig)
	badR[10] ^= 0xff
	err = v.Verify(msg, badR, follower.Address())
	require.Error(t, err)
	code := CodeOf(err)
	assert.True(t, code == CodeInvalidSignature || code == CodeSignerMismatch, "got %s", code)
}

func TestVerifyFreshnessBoundaries(t *testing.T) {
	clock, now := fixedClock(t)
	v := NewVerifierAt(clock)

	follower, err := crypto.GenerateKey()
	require.NoError(t, err)
	followee, err := crypto.GenerateKey()
	require.NoError(t, err)

	window := int64(FreshnessWindow / time.Second)
	cases := []struct {
		name string
		ts   int64
		ok   bool
	}{
		{"exactly window behind", now.Unix() - window, true},
		{"exactly window ahead", now.Unix() + window, true},
		{"one past behind", now.Unix() - window - 1, false},
		{"one past ahead", now.Unix() + window + 1, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, sig := signedCreation(t, follower, followee.Address().Hex(), tc.ts)
			err := v.Verify(msg, sig, follower.Address())
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, CodeInvalidTimestamp, CodeOf(err))
			}
		})
	}
}

func TestVerifyStructureBeforeTrust(t *testing.T) {
	clock, now := fixedClock(t)
	v := NewVerifierAt(clock)

	follower, err := crypto.GenerateKey()
	require.NoError(t, err)

	// Malformed followee address fails structural validation even with a
	// wildly stale timestamp: structure is checked first.
	msg := ConnectionCreation{
		FolloweeAddress: "0xnope",
		FolloweeURL:     "https://followee.example",
		FollowerURL:     "https://follower.example",
		Timestamp:       now.Unix() - 999999,
	}
	_, err = v.Recover(msg, make([]byte, 65))
	assert.Equal(t, CodeValidationFailed, CodeOf(err))

	// Short signature is a structural failure, not a crypto one.
	good, sig := signedCreation(t, follower, follower.Address().Hex(), now.Unix())
	_, err = v.Recover(good, sig[:64])
	assert.Equal(t, CodeValidationFailed, CodeOf(err))
}

func TestPublicationSignatureIgnoresFreshness(t *testing.T) {
	clock, _ := fixedClock(t)
	v := NewVerifierAt(clock)

	author, err := crypto.GenerateKey()
	require.NoError(t, err)

	// Years-old creation timestamp: publication signatures are verified
	// whenever a peer pulls the publication.
	msg := PublicationSignature{
		ContentHash:   crypto.HashBytes([]byte("hello world")),
		AuthorAddress: author.Address().Hex(),
		Timestamp:     1500000000,
	}
	sig, err := Sign(msg, author)
	require.NoError(t, err)
	assert.NoError(t, v.Verify(msg, sig, author.Address()))
}

func TestCommentSignatureRoundTrip(t *testing.T) {
	clock, _ := fixedClock(t)
	v := NewVerifierAt(clock)

	node, err := crypto.GenerateKey()
	require.NoError(t, err)
	commenter, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg := CommentSignature{
		NodeAddress:      node.Address().Hex(),
		CommenterAddress: commenter.Address().Hex(),
		PublicationID:    "2f0c38d4-13a6-45e9-a2a5-4c0ce2e9d8e3",
		BodyHash:         crypto.HashBytes([]byte("nice post")),
	}
	sig, err := Sign(msg, commenter)
	require.NoError(t, err)
	require.NoError(t, v.Verify(msg, sig, commenter.Address()))

	// Body substitution breaks the binding.
	tampered := msg
	tampered.BodyHash = crypto.HashBytes([]byte("different body"))
	err = v.Verify(tampered, sig, commenter.Address())
	assert.Error(t, err)
}
