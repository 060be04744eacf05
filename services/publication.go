package services

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"

	"github.com/epressworld/epress-sub000/crypto"
	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/store"
)

// PublicationService owns the publish lifecycle: draft, edit, sign,
// destroy. Signing freezes a publication forever; every edit path checks
// that freeze through the store's guarded updates.
type PublicationService struct {
	store    *store.Store
	verifier *protocol.Verifier
	log      *slog.Logger
}

// NewPublicationService builds the publish lifecycle over the store.
func NewPublicationService(st *store.Store, verifier *protocol.Verifier, log *slog.Logger) *PublicationService {
	if log == nil {
		log = slog.Default()
	}
	return &PublicationService{store: st, verifier: verifier, log: log}
}

// PostInput creates a text publication.
type PostInput struct {
	Body        string
	Description string
}

// FileInput creates a file publication from a streamed upload.
type FileInput struct {
	Filename    string
	Mimetype    string
	Data        io.Reader
	Description string
}

// CreatePost stores the body as content-addressed text and publishes it
// under the local node's authorship.
func (s *PublicationService) CreatePost(ctx context.Context, caller Caller, in PostInput) (*store.Publication, error) {
	if !caller.Can(PermWritePublications) {
		return nil, protocol.Errorf(protocol.CodeForbidden, "caller may not publish")
	}
	self, err := s.store.Self(ctx)
	if err != nil {
		return nil, err
	}
	content, err := s.store.CreatePost(ctx, in.Body)
	if err != nil {
		return nil, err
	}
	return s.store.CreatePublication(ctx, content.ContentHash, self.Address, in.Description)
}

// CreateFile streams the upload into the blob store and publishes it
// under the local node's authorship.
func (s *PublicationService) CreateFile(ctx context.Context, caller Caller, in FileInput) (*store.Publication, error) {
	if !caller.Can(PermWritePublications) {
		return nil, protocol.Errorf(protocol.CodeForbidden, "caller may not publish")
	}
	self, err := s.store.Self(ctx)
	if err != nil {
		return nil, err
	}
	content, err := s.store.CreateFile(ctx, in.Filename, in.Mimetype, in.Data)
	if err != nil {
		return nil, err
	}
	return s.store.CreatePublication(ctx, content.ContentHash, self.Address, in.Description)
}

// UpdateInput carries the editable fields of an unsigned publication.
// Body is only meaningful for text publications; for files the content
// is immutable and only the description may change.
type UpdateInput struct {
	Body        *string
	Description *string
}

// Update edits an unsigned, locally authored publication. Editing the
// body of a text publication re-hashes it into a fresh content row; the
// previous row becomes an orphan candidate for the cleanup sweep.
func (s *PublicationService) Update(ctx context.Context, caller Caller, id string, in UpdateInput) (*store.Publication, error) {
	if !caller.Can(PermWritePublications) {
		return nil, protocol.Errorf(protocol.CodeForbidden, "caller may not edit publications")
	}
	pub, err := s.ownedUnsigned(ctx, id)
	if err != nil {
		return nil, err
	}

	content, err := s.store.GetContent(ctx, pub.ContentHash)
	if err != nil {
		return nil, err
	}

	description := pub.Description
	if in.Description != nil {
		description = *in.Description
	}

	switch {
	case in.Body != nil && content.Type == store.ContentFile:
		return nil, protocol.Errorf(protocol.CodeValidationFailed, "file content is immutable, only the description may change")
	case in.Body != nil:
		fresh, err := s.store.CreatePost(ctx, *in.Body)
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdatePublicationContent(ctx, id, fresh.ContentHash, description); err != nil {
			return nil, err
		}
	default:
		if err := s.store.UpdatePublicationDescription(ctx, id, description); err != nil {
			return nil, err
		}
	}
	return s.store.GetPublication(ctx, id)
}

// Sign attaches the author's typed-data signature and freezes the
// publication. The signed statement must bind this exact content hash,
// this author, and the publication's creation time; a signature over
// anything else is refused rather than stored.
func (s *PublicationService) Sign(ctx context.Context, caller Caller, id string, signed protocol.SignedRequest[protocol.PublicationSignature]) (*store.Publication, error) {
	if !caller.IsOwner() {
		return nil, protocol.Errorf(protocol.CodeForbidden, "only the owner may sign publications")
	}
	pub, err := s.ownedUnsigned(ctx, id)
	if err != nil {
		return nil, err
	}

	msg := signed.TypedData
	if msg.ContentHash != pub.ContentHash {
		return nil, protocol.Errorf(protocol.CodeValidationFailed, "signature binds content %s, publication holds %s", msg.ContentHash, pub.ContentHash)
	}
	if msg.Timestamp != pub.CreatedAt.Unix() {
		return nil, protocol.Errorf(protocol.CodeValidationFailed, "signature timestamp does not match publication creation time")
	}
	author, err := crypto.ParseAddress(pub.AuthorAddress)
	if err != nil {
		return nil, err
	}
	if err := s.verifier.Verify(msg, signed.Signature, author); err != nil {
		return nil, err
	}

	if err := s.store.SetPublicationSignature(ctx, id, "0x"+hex.EncodeToString(signed.Signature)); err != nil {
		return nil, err
	}
	return s.store.GetPublication(ctx, id)
}

// Destroy removes an unsigned publication and its comments. A signed
// publication is a permanent record and cannot be destroyed.
func (s *PublicationService) Destroy(ctx context.Context, caller Caller, id string) error {
	if !caller.IsOwner() {
		return protocol.Errorf(protocol.CodeForbidden, "only the owner may destroy publications")
	}
	pub, err := s.store.GetPublication(ctx, id)
	if err != nil {
		return err
	}
	if pub.IsSigned() {
		return protocol.Errorf(protocol.CodeForbidden, "signed publications are immutable")
	}
	return s.store.DeletePublication(ctx, id)
}

// Get fetches one publication under the caller's visibility. Readers
// without the publications permission only see what the node itself
// authored.
func (s *PublicationService) Get(ctx context.Context, caller Caller, id string) (*store.Publication, error) {
	pub, err := s.store.GetPublication(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Can(PermReadPublications) {
		self, err := s.store.Self(ctx)
		if err != nil {
			return nil, err
		}
		if pub.AuthorAddress != self.Address {
			return nil, protocol.Errorf(protocol.CodeNotFound, "publication %s not found", id)
		}
	}
	return pub, nil
}

// List pages publications under the caller's visibility, oldest first.
func (s *PublicationService) List(ctx context.Context, caller Caller, filter store.PublicationFilter) ([]store.Publication, int, error) {
	if !caller.Can(PermReadPublications) {
		self, err := s.store.Self(ctx)
		if err != nil {
			return nil, 0, err
		}
		filter.AuthorAddress = self.Address
	}
	return s.store.ListPublications(ctx, filter)
}

// Content resolves the content row behind a publication the caller may
// see.
func (s *PublicationService) Content(ctx context.Context, caller Caller, id string) (*store.Content, error) {
	pub, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return s.store.GetContent(ctx, pub.ContentHash)
}

func (s *PublicationService) ownedUnsigned(ctx context.Context, id string) (*store.Publication, error) {
	pub, err := s.store.GetPublication(ctx, id)
	if err != nil {
		return nil, err
	}
	self, err := s.store.Self(ctx)
	if err != nil {
		return nil, err
	}
	if pub.AuthorAddress != self.Address {
		return nil, protocol.Errorf(protocol.CodeForbidden, "publication %s is not locally authored", id)
	}
	if pub.IsSigned() {
		return nil, protocol.Errorf(protocol.CodeForbidden, "publication %s is signed and immutable", id)
	}
	return pub, nil
}
