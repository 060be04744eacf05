package protocol

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/epressworld/epress-sub000/crypto"
)

// Domain separation for all epress typed-data messages. The domain never
// varies per node: two independently operated peers must hash the same
// message to the same digest.
var signingDomain = apitypes.TypedDataDomain{
	Name:    "epress.connect",
	Version: "1",
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
}

// Message is a structured payload that can be hashed for signing. The
// concrete types below are the complete set a peer will ever sign.
type Message interface {
	// PrimaryType names the EIP-712 primary type.
	PrimaryType() string
	// TypedData builds the full typed-data structure for hashing.
	TypedData() apitypes.TypedData
	// Validate checks required fields and address/number shapes. It runs
	// before any trust decision.
	Validate() error
	// SignedAt returns the embedded unix timestamp and whether the
	// freshness window applies to this message type.
	SignedAt() (int64, bool)
}

// SignedRequest is the wire envelope for a typed-data message plus its
// signature. It carries no signer field: the signer is always recovered
// from the signature and matched against what the message asserts.
type SignedRequest[T Message] struct {
	TypedData T             `json:"typedData"`
	Signature hexutil.Bytes `json:"signature"`
}

// Profile is a node's public self-description, served at
// GET /protocol/profile and embedded in profile update broadcasts.
type Profile struct {
	Address     string `json:"address"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func typedData(primary string, fields []apitypes.Type, message apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain:      signingDomain,
		Message:     message,
	}
}

func uint256(v int64) string {
	return strconv.FormatInt(v, 10)
}

// ConnectionCreation asks for a follow edge. The recovered signer is the
// follower; a node can only ever create its own outgoing edge.
type ConnectionCreation struct {
	FolloweeAddress string `json:"followeeAddress"`
	FolloweeURL     string `json:"followeeUrl"`
	FollowerURL     string `json:"followerUrl"`
	Timestamp       int64  `json:"timestamp"`
}

func (m ConnectionCreation) PrimaryType() string { return "ConnectionCreation" }

func (m ConnectionCreation) TypedData() apitypes.TypedData {
	return typedData(m.PrimaryType(), []apitypes.Type{
		{Name: "followeeAddress", Type: "address"},
		{Name: "followeeUrl", Type: "string"},
		{Name: "followerUrl", Type: "string"},
		{Name: "timestamp", Type: "uint256"},
	}, apitypes.TypedDataMessage{
		"followeeAddress": m.FolloweeAddress,
		"followeeUrl":     m.FolloweeURL,
		"followerUrl":     m.FollowerURL,
		"timestamp":       uint256(m.Timestamp),
	})
}

func (m ConnectionCreation) Validate() error {
	if !common.IsHexAddress(m.FolloweeAddress) {
		return Errorf(CodeValidationFailed, "malformed followee address %q", m.FolloweeAddress)
	}
	if m.FolloweeURL == "" || m.FollowerURL == "" {
		return Errorf(CodeValidationFailed, "followee and follower urls are required")
	}
	if m.Timestamp <= 0 {
		return Errorf(CodeValidationFailed, "timestamp is required")
	}
	return nil
}

func (m ConnectionCreation) SignedAt() (int64, bool) { return m.Timestamp, true }

// ConnectionDeletion removes a follow edge. Either party to the edge may
// sign it.
type ConnectionDeletion struct {
	FolloweeAddress string `json:"followeeAddress"`
	FollowerAddress string `json:"followerAddress"`
	Timestamp       int64  `json:"timestamp"`
}

func (m ConnectionDeletion) PrimaryType() string { return "ConnectionDeletion" }

func (m ConnectionDeletion) TypedData() apitypes.TypedData {
	return typedData(m.PrimaryType(), []apitypes.Type{
		{Name: "followeeAddress", Type: "address"},
		{Name: "followerAddress", Type: "address"},
		{Name: "timestamp", Type: "uint256"},
	}, apitypes.TypedDataMessage{
		"followeeAddress": m.FolloweeAddress,
		"followerAddress": m.FollowerAddress,
		"timestamp":       uint256(m.Timestamp),
	})
}

func (m ConnectionDeletion) Validate() error {
	if !common.IsHexAddress(m.FolloweeAddress) {
		return Errorf(CodeValidationFailed, "malformed followee address %q", m.FolloweeAddress)
	}
	if !common.IsHexAddress(m.FollowerAddress) {
		return Errorf(CodeValidationFailed, "malformed follower address %q", m.FollowerAddress)
	}
	if m.Timestamp <= 0 {
		return Errorf(CodeValidationFailed, "timestamp is required")
	}
	return nil
}

func (m ConnectionDeletion) SignedAt() (int64, bool) { return m.Timestamp, true }

// ProfileUpdate broadcasts a node's profile change to its followers. The
// publisher address inside the message must match the recovered signer,
// and the version must be strictly greater than whatever the receiver has
// stored.
type ProfileUpdate struct {
	Address        string `json:"address"`
	URL            string `json:"url"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	ProfileVersion int64  `json:"profileVersion"`
	Timestamp      int64  `json:"timestamp"`
}

func (m ProfileUpdate) PrimaryType() string { return "ProfileUpdate" }

func (m ProfileUpdate) TypedData() apitypes.TypedData {
	return typedData(m.PrimaryType(), []apitypes.Type{
		{Name: "address", Type: "address"},
		{Name: "url", Type: "string"},
		{Name: "title", Type: "string"},
		{Name: "description", Type: "string"},
		{Name: "profileVersion", Type: "uint256"},
		{Name: "timestamp", Type: "uint256"},
	}, apitypes.TypedDataMessage{
		"address":        m.Address,
		"url":            m.URL,
		"title":          m.Title,
		"description":    m.Description,
		"profileVersion": uint256(m.ProfileVersion),
		"timestamp":      uint256(m.Timestamp),
	})
}

func (m ProfileUpdate) Validate() error {
	if !common.IsHexAddress(m.Address) {
		return Errorf(CodeValidationFailed, "malformed publisher address %q", m.Address)
	}
	if m.URL == "" {
		return Errorf(CodeValidationFailed, "url is required")
	}
	if m.ProfileVersion <= 0 {
		return Errorf(CodeValidationFailed, "profile version must be positive")
	}
	if m.Timestamp <= 0 {
		return Errorf(CodeValidationFailed, "timestamp is required")
	}
	return nil
}

func (m ProfileUpdate) SignedAt() (int64, bool) { return m.Timestamp, true }

// Signer returns the publisher address the message asserts.
func (m ProfileUpdate) Signer() common.Address { return common.HexToAddress(m.Address) }

// PublicationSignature freezes a publication. The timestamp is the
// publication's creation time, not a signing time, so the freshness window
// does not apply: peers verify it whenever they pull the publication.
type PublicationSignature struct {
	ContentHash   string `json:"contentHash"`
	AuthorAddress string `json:"authorAddress"`
	Timestamp     int64  `json:"timestamp"`
}

func (m PublicationSignature) PrimaryType() string { return "PublicationSignature" }

func (m PublicationSignature) TypedData() apitypes.TypedData {
	return typedData(m.PrimaryType(), []apitypes.Type{
		{Name: "contentHash", Type: "bytes32"},
		{Name: "authorAddress", Type: "address"},
		{Name: "timestamp", Type: "uint256"},
	}, apitypes.TypedDataMessage{
		"contentHash":   m.ContentHash,
		"authorAddress": m.AuthorAddress,
		"timestamp":     uint256(m.Timestamp),
	})
}

func (m PublicationSignature) Validate() error {
	if !crypto.IsContentHash(m.ContentHash) {
		return Errorf(CodeValidationFailed, "malformed content hash %q", m.ContentHash)
	}
	if !common.IsHexAddress(m.AuthorAddress) {
		return Errorf(CodeValidationFailed, "malformed author address %q", m.AuthorAddress)
	}
	if m.Timestamp <= 0 {
		return Errorf(CodeValidationFailed, "timestamp is required")
	}
	return nil
}

func (m PublicationSignature) SignedAt() (int64, bool) { return m.Timestamp, false }

// Signer returns the author address the message asserts.
func (m PublicationSignature) Signer() common.Address { return common.HexToAddress(m.AuthorAddress) }

// CommentSignature authenticates an ethereum-path comment. It is bound to
// one comment through the body hash and publication id, so no freshness
// window applies.
type CommentSignature struct {
	NodeAddress      string `json:"nodeAddress"`
	CommenterAddress string `json:"commenterAddress"`
	PublicationID    string `json:"publicationId"`
	BodyHash         string `json:"bodyHash"`
}

func (m CommentSignature) PrimaryType() string { return "CommentSignature" }

func (m CommentSignature) TypedData() apitypes.TypedData {
	return typedData(m.PrimaryType(), []apitypes.Type{
		{Name: "nodeAddress", Type: "address"},
		{Name: "commenterAddress", Type: "address"},
		{Name: "publicationId", Type: "string"},
		{Name: "bodyHash", Type: "bytes32"},
	}, apitypes.TypedDataMessage{
		"nodeAddress":      m.NodeAddress,
		"commenterAddress": m.CommenterAddress,
		"publicationId":    m.PublicationID,
		"bodyHash":         m.BodyHash,
	})
}

func (m CommentSignature) Validate() error {
	if !common.IsHexAddress(m.NodeAddress) {
		return Errorf(CodeValidationFailed, "malformed node address %q", m.NodeAddress)
	}
	if !common.IsHexAddress(m.CommenterAddress) {
		return Errorf(CodeValidationFailed, "malformed commenter address %q", m.CommenterAddress)
	}
	if m.PublicationID == "" {
		return Errorf(CodeValidationFailed, "publication id is required")
	}
	if !crypto.IsContentHash(m.BodyHash) {
		return Errorf(CodeValidationFailed, "malformed body hash %q", m.BodyHash)
	}
	return nil
}

func (m CommentSignature) SignedAt() (int64, bool) { return 0, false }

// Signer returns the commenter address the message asserts.
func (m CommentSignature) Signer() common.Address { return common.HexToAddress(m.CommenterAddress) }

// CommentDeletion asks for removal of one comment. Unlike CommentSignature
// it carries a signing time, so an observed creation signature can never
// double as a standing deletion capability.
type CommentDeletion struct {
	CommentID        string `json:"commentId"`
	CommenterAddress string `json:"commenterAddress"`
	Timestamp        int64  `json:"timestamp"`
}

func (m CommentDeletion) PrimaryType() string { return "CommentDeletion" }

func (m CommentDeletion) TypedData() apitypes.TypedData {
	return typedData(m.PrimaryType(), []apitypes.Type{
		{Name: "commentId", Type: "string"},
		{Name: "commenterAddress", Type: "address"},
		{Name: "timestamp", Type: "uint256"},
	}, apitypes.TypedDataMessage{
		"commentId":        m.CommentID,
		"commenterAddress": m.CommenterAddress,
		"timestamp":        uint256(m.Timestamp),
	})
}

func (m CommentDeletion) Validate() error {
	if m.CommentID == "" {
		return Errorf(CodeValidationFailed, "comment id is required")
	}
	if !common.IsHexAddress(m.CommenterAddress) {
		return Errorf(CodeValidationFailed, "malformed commenter address %q", m.CommenterAddress)
	}
	if m.Timestamp <= 0 {
		return Errorf(CodeValidationFailed, "timestamp is required")
	}
	return nil
}

func (m CommentDeletion) SignedAt() (int64, bool) { return m.Timestamp, true }

// Signer returns the commenter address the message asserts.
func (m CommentDeletion) Signer() common.Address { return common.HexToAddress(m.CommenterAddress) }

// SessionRequest is the login proof for an owner session. It carries
// nothing but the claimed address and a signing time, so it is only good
// within the freshness window and only for the key that signed it.
type SessionRequest struct {
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
}

func (m SessionRequest) PrimaryType() string { return "SessionRequest" }

func (m SessionRequest) TypedData() apitypes.TypedData {
	return typedData(m.PrimaryType(), []apitypes.Type{
		{Name: "address", Type: "address"},
		{Name: "timestamp", Type: "uint256"},
	}, apitypes.TypedDataMessage{
		"address":   m.Address,
		"timestamp": uint256(m.Timestamp),
	})
}

func (m SessionRequest) Validate() error {
	if !common.IsHexAddress(m.Address) {
		return Errorf(CodeValidationFailed, "malformed address %q", m.Address)
	}
	if m.Timestamp <= 0 {
		return Errorf(CodeValidationFailed, "timestamp is required")
	}
	return nil
}

func (m SessionRequest) SignedAt() (int64, bool) { return m.Timestamp, true }

// Signer returns the address the login proof asserts.
func (m SessionRequest) Signer() common.Address { return common.HexToAddress(m.Address) }
