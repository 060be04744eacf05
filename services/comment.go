package services

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/epressworld/epress-sub000/crypto"
	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/store"
)

// Comment token actions. A token minted for one action is useless for the
// other.
const (
	CommentActionConfirm = "confirm"
	CommentActionDelete  = "delete"
)

const commentTokenTTL = 24 * time.Hour

// CommentService runs the two comment verification paths. Email
// commenters prove control of an inbox through a tokenized round trip;
// Ethereum commenters prove control of a key through a typed-data
// signature and skip the round trip entirely.
type CommentService struct {
	store    *store.Store
	auth     *AuthService
	verifier *protocol.Verifier
	mailer   Mailer
	log      *slog.Logger
}

// NewCommentService wires the comment workflow over the store, the token
// issuer, and the mail transport.
func NewCommentService(st *store.Store, auth *AuthService, verifier *protocol.Verifier, mailer Mailer, log *slog.Logger) *CommentService {
	if log == nil {
		log = slog.Default()
	}
	if mailer == nil {
		mailer = &LogMailer{Log: log}
	}
	return &CommentService{store: st, auth: auth, verifier: verifier, mailer: mailer, log: log}
}

// CommentInput is a new comment on a publication. Exactly one identity
// path is used: Email for the mail round trip, or Signed for the
// signature path.
type CommentInput struct {
	PublicationID string
	Body          string
	CommenterName string
	Email         string
	Signed        *protocol.SignedRequest[protocol.CommentSignature]
}

// Create accepts a new comment. Email comments land PENDING and trigger a
// confirmation mail; signed comments verify immediately and land
// CONFIRMED. The owner's own replies need neither and confirm in place.
func (s *CommentService) Create(ctx context.Context, caller Caller, in CommentInput) (*store.Comment, error) {
	allowed, err := s.store.BoolSetting(ctx, store.SettingAllowComment, true)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, protocol.Errorf(protocol.CodeForbidden, "this node does not accept comments")
	}

	body := strings.TrimSpace(in.Body)
	if body == "" || strings.TrimSpace(in.CommenterName) == "" {
		return nil, protocol.Errorf(protocol.CodeValidationFailed, "comment body and commenter name are required")
	}

	self, err := s.store.Self(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case caller.IsOwner():
		return s.store.CreateComment(ctx, store.Comment{
			PublicationID:    in.PublicationID,
			Body:             body,
			Status:           store.CommentConfirmed,
			AuthType:         store.CommentAuthEthereum,
			CommenterName:    in.CommenterName,
			CommenterAddress: self.Address,
		})

	case in.Signed != nil:
		commenter, err := s.verifySignedComment(ctx, self.Address, in.PublicationID, body, *in.Signed)
		if err != nil {
			return nil, err
		}
		return s.store.CreateComment(ctx, store.Comment{
			PublicationID:    in.PublicationID,
			Body:             body,
			Status:           store.CommentConfirmed,
			AuthType:         store.CommentAuthEthereum,
			CommenterName:    in.CommenterName,
			CommenterAddress: commenter,
			Signature:        "0x" + hex.EncodeToString(in.Signed.Signature),
		})

	case in.Email != "":
		if !strings.Contains(in.Email, "@") {
			return nil, protocol.Errorf(protocol.CodeValidationFailed, "not a valid email address: %q", in.Email)
		}
		comment, err := s.store.CreateComment(ctx, store.Comment{
			PublicationID:  in.PublicationID,
			Body:           body,
			Status:         store.CommentPending,
			AuthType:       store.CommentAuthEmail,
			CommenterName:  in.CommenterName,
			CommenterEmail: in.Email,
		})
		if err != nil {
			return nil, err
		}
		token, err := s.auth.IssueCommentToken(ctx, comment.ID, CommentActionConfirm, commentTokenTTL)
		if err != nil {
			return nil, err
		}
		if err := s.mailer.SendCommentConfirmation(ctx, in.Email, comment.ID, token); err != nil {
			// The row exists and the token can be re-requested; mail
			// delivery is not allowed to lose the comment.
			s.log.Error("comment confirmation mail failed", "commentID", comment.ID, "err", err)
		}
		return comment, nil

	default:
		return nil, protocol.Errorf(protocol.CodeValidationFailed, "either an email address or a comment signature is required")
	}
}

// Confirm promotes a PENDING email comment using its mailed token.
// Confirming twice is harmless.
func (s *CommentService) Confirm(ctx context.Context, token string) (*store.Comment, error) {
	commentID, err := s.auth.VerifyCommentToken(ctx, token, CommentActionConfirm)
	if err != nil {
		return nil, err
	}
	if err := s.store.ConfirmComment(ctx, commentID); err != nil {
		return nil, err
	}
	return s.store.GetComment(ctx, commentID)
}

// RequestDeletion starts the email deletion round trip. The requester
// must present the address the comment was made with; anything else is
// reported as not found to avoid confirming which emails exist.
func (s *CommentService) RequestDeletion(ctx context.Context, commentID, email string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.AuthType != store.CommentAuthEmail || !strings.EqualFold(comment.CommenterEmail, email) {
		return protocol.Errorf(protocol.CodeNotFound, "comment %s not found", commentID)
	}
	token, err := s.auth.IssueCommentToken(ctx, commentID, CommentActionDelete, commentTokenTTL)
	if err != nil {
		return err
	}
	if err := s.mailer.SendDeletionConfirmation(ctx, comment.CommenterEmail, commentID, token); err != nil {
		s.log.Error("comment deletion mail failed", "commentID", commentID, "err", err)
	}
	return nil
}

// ConfirmDeletion removes the comment named by a mailed deletion token.
func (s *CommentService) ConfirmDeletion(ctx context.Context, token string) error {
	commentID, err := s.auth.VerifyCommentToken(ctx, token, CommentActionDelete)
	if err != nil {
		return err
	}
	return s.store.DeleteComment(ctx, commentID)
}

// DestroyWithSignature removes an Ethereum comment on presentation of a
// freshly signed deletion statement from the commenting key. The creation
// signature is not accepted here; deletion needs its own windowed message.
func (s *CommentService) DestroyWithSignature(ctx context.Context, commentID string, signed protocol.SignedRequest[protocol.CommentDeletion]) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.AuthType != store.CommentAuthEthereum {
		return protocol.Errorf(protocol.CodeValidationFailed, "comment %s was not made with a signature", commentID)
	}
	msg := signed.TypedData
	if msg.CommentID != commentID {
		return protocol.Errorf(protocol.CodeValidationFailed, "deletion addresses comment %s", msg.CommentID)
	}
	claimed, err := crypto.ParseAddress(msg.CommenterAddress)
	if err != nil {
		return protocol.Errorf(protocol.CodeValidationFailed, "%v", err)
	}
	if err := s.verifier.Verify(msg, signed.Signature, claimed); err != nil {
		return err
	}
	if claimed.Hex() != comment.CommenterAddress {
		return protocol.Errorf(protocol.CodeSignerMismatch, "signer %s did not author comment %s", claimed.Hex(), commentID)
	}
	return s.store.DeleteComment(ctx, commentID)
}

// Destroy is the owner's direct moderation path.
func (s *CommentService) Destroy(ctx context.Context, caller Caller, commentID string) error {
	if !caller.IsOwner() {
		return protocol.Errorf(protocol.CodeForbidden, "only the owner may remove comments directly")
	}
	return s.store.DeleteComment(ctx, commentID)
}

// Get fetches one comment under the caller's visibility: PENDING rows
// are visible to the owner and to callers scoped for comment reads.
func (s *CommentService) Get(ctx context.Context, caller Caller, commentID string) (*store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if comment.Status == store.CommentPending && !s.canReadAll(caller) {
		return nil, protocol.Errorf(protocol.CodeNotFound, "comment %s not found", commentID)
	}
	return comment, nil
}

// List pages comments under the caller's visibility. Unprivileged callers
// only ever see CONFIRMED rows regardless of what the filter asks for.
func (s *CommentService) List(ctx context.Context, caller Caller, filter store.CommentFilter) ([]store.Comment, int, error) {
	if !s.canReadAll(caller) {
		filter.Statuses = []store.CommentStatus{store.CommentConfirmed}
	}
	return s.store.ListComments(ctx, filter)
}

func (s *CommentService) canReadAll(caller Caller) bool {
	return caller.IsOwner() || caller.Can(PermReadComments)
}

// verifySignedComment checks a comment signature against the local node,
// the publication, and the claimed body, returning the checksum address
// of the commenting key.
func (s *CommentService) verifySignedComment(ctx context.Context, selfAddress, publicationID, body string, signed protocol.SignedRequest[protocol.CommentSignature]) (string, error) {
	msg := signed.TypedData

	nodeAddr, err := crypto.ChecksumAddress(msg.NodeAddress)
	if err != nil {
		return "", protocol.Errorf(protocol.CodeValidationFailed, "%v", err)
	}
	if nodeAddr != selfAddress {
		return "", protocol.Errorf(protocol.CodeValidationFailed, "signature addresses node %s, this node is %s", nodeAddr, selfAddress)
	}
	if msg.PublicationID != publicationID {
		return "", protocol.Errorf(protocol.CodeValidationFailed, "signature addresses publication %s", msg.PublicationID)
	}
	if msg.BodyHash != crypto.HashBytes([]byte(body)) {
		return "", protocol.Errorf(protocol.CodeValidationFailed, "signature does not cover this comment body")
	}

	commenter, err := crypto.ParseAddress(msg.CommenterAddress)
	if err != nil {
		return "", protocol.Errorf(protocol.CodeValidationFailed, "%v", err)
	}
	if err := s.verifier.Verify(msg, signed.Signature, commenter); err != nil {
		return "", err
	}
	return commenter.Hex(), nil
}
