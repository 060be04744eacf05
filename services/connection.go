package services

import (
	"context"
	"log/slog"

	"github.com/epressworld/epress-sub000/crypto"
	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/store"
)

// Surface selects which idempotency contract a connection delete runs
// under. The inbound protocol surface always succeeds; the local
// orchestration surface reports NOT_FOUND for an absent edge. The two
// contracts are deliberately different and must not be reconciled.
type Surface int

const (
	SurfaceProtocol Surface = iota
	SurfaceOrchestration
)

// ConnectionService runs the follow-graph state machine. Every edge
// mutation arrives as a signed typed-data message; the recovered signer
// is the sole authorization.
type ConnectionService struct {
	store    *store.Store
	client   *FederationClient
	verifier *protocol.Verifier
	log      *slog.Logger
}

// NewConnectionService wires the follow protocol over the store and
// outbound client.
func NewConnectionService(st *store.Store, client *FederationClient, verifier *protocol.Verifier, log *slog.Logger) *ConnectionService {
	if log == nil {
		log = slog.Default()
	}
	return &ConnectionService{store: st, client: client, verifier: verifier, log: log}
}

// Create applies a signed follow request. The recovered signer is the
// follower: a node only ever authorizes its own outgoing edge, never a
// third party's. Returns whether a new edge was inserted; an existing
// edge is success with created=false.
//
// When the local node is the follower, the same signed envelope is pushed
// to the followee afterwards; a 409 from the peer folds into success so
// both sides converge regardless of initiation order.
func (s *ConnectionService) Create(ctx context.Context, signed protocol.SignedRequest[protocol.ConnectionCreation]) (bool, error) {
	msg := signed.TypedData

	follower, err := s.verifier.Recover(msg, signed.Signature)
	if err != nil {
		return false, err
	}
	if err := ValidatePeerURL(msg.FolloweeURL); err != nil {
		return false, err
	}
	if err := ValidatePeerURL(msg.FollowerURL); err != nil {
		return false, err
	}

	followeeAddr, err := crypto.ChecksumAddress(msg.FolloweeAddress)
	if err != nil {
		return false, protocol.Errorf(protocol.CodeValidationFailed, "%v", err)
	}
	followerAddr := follower.Hex()
	if followerAddr == followeeAddr {
		return false, protocol.Errorf(protocol.CodeValidationFailed, "a node cannot follow itself")
	}

	self, err := s.store.Self(ctx)
	if err != nil {
		return false, err
	}
	if followerAddr != self.Address && followeeAddr != self.Address {
		return false, protocol.Errorf(protocol.CodeFolloweeIdentityMismatch, "local node is not a party to this edge")
	}

	// The followee URL must actually serve the claimed identity. This
	// stops a follow request from binding someone's address to an
	// unrelated server. When we are the followee ourselves, our own
	// profile is the authority and no fetch is needed.
	var declared *protocol.Profile
	if followeeAddr == self.Address {
		if msg.FolloweeURL != self.URL {
			return false, protocol.Errorf(protocol.CodeFolloweeIdentityMismatch,
				"followee url %q is not this node's url", msg.FolloweeURL)
		}
	} else {
		declared, err = s.client.FetchProfile(ctx, msg.FolloweeURL)
		if err != nil {
			return false, protocol.Errorf(protocol.CodeFolloweeIdentityMismatch, "could not fetch followee profile: %v", err)
		}
		declaredAddr, err := crypto.ChecksumAddress(declared.Address)
		if err != nil || declaredAddr != followeeAddr {
			return false, protocol.Errorf(protocol.CodeFolloweeIdentityMismatch,
				"followee url serves %q, request claims %q", declared.Address, followeeAddr)
		}
	}

	if followeeAddr == self.Address {
		allowed, err := s.store.BoolSetting(ctx, store.SettingAllowFollow, true)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, protocol.Errorf(protocol.CodeFollowDisabled, "this node does not accept followers")
		}
	}

	// Record the counterparty before the edge so the foreign keys hold.
	if followerAddr == self.Address {
		err = s.store.UpsertPeer(ctx, protocol.Profile{
			Address: followeeAddr, URL: msg.FolloweeURL,
			Title: declared.Title, Description: declared.Description,
		})
	} else {
		err = s.store.UpsertPeer(ctx, protocol.Profile{Address: followerAddr, URL: msg.FollowerURL})
	}
	if err != nil {
		return false, err
	}

	created, err := s.store.CreateConnection(ctx, followerAddr, followeeAddr)
	if err != nil {
		return false, err
	}

	if followerAddr == self.Address {
		if err := s.client.PushConnectionCreate(ctx, msg.FolloweeURL, signed); err != nil {
			if protocol.IsCode(err, protocol.CodeFollowDisabled) {
				// The followee refuses followers; a one-sided edge would
				// only mislead, so take it back out.
				if _, derr := s.store.DeleteConnection(ctx, followerAddr, followeeAddr); derr != nil {
					s.log.Error("could not roll back refused follow", "followee", followeeAddr, "err", derr)
				}
				return false, err
			}
			// Transient peer failure: the local edge is committed and the
			// handlers are idempotent, so a retry converges both sides.
			s.log.Warn("connection push failed", "followee", followeeAddr, "url", msg.FolloweeURL, "err", err)
		}
	}

	return created, nil
}

// Delete applies a signed unfollow under the contract of the given
// surface. Structural validation runs before the signature check; the
// recovered signer must be a party to the edge, and the local node must
// be exactly one of the two parties.
func (s *ConnectionService) Delete(ctx context.Context, signed protocol.SignedRequest[protocol.ConnectionDeletion], surface Surface) error {
	msg := signed.TypedData

	signer, err := s.verifier.Recover(msg, signed.Signature)
	if err != nil {
		return err
	}

	followeeAddr, err := crypto.ChecksumAddress(msg.FolloweeAddress)
	if err != nil {
		return protocol.Errorf(protocol.CodeValidationFailed, "%v", err)
	}
	followerAddr, err := crypto.ChecksumAddress(msg.FollowerAddress)
	if err != nil {
		return protocol.Errorf(protocol.CodeValidationFailed, "%v", err)
	}

	signerAddr := signer.Hex()
	if signerAddr != followeeAddr && signerAddr != followerAddr {
		return protocol.Errorf(protocol.CodeSignerMismatch, "signer %s is not a party to this edge", signerAddr)
	}

	self, err := s.store.Self(ctx)
	if err != nil {
		return err
	}
	selfIsFollowee := followeeAddr == self.Address
	selfIsFollower := followerAddr == self.Address
	if selfIsFollowee == selfIsFollower {
		return protocol.Errorf(protocol.CodeFolloweeIdentityMismatch, "local node must be exactly one party to this edge")
	}

	deleted, err := s.store.DeleteConnection(ctx, followerAddr, followeeAddr)
	if err != nil {
		return err
	}

	if surface == SurfaceProtocol {
		// Inbound deletes are idempotent and never push back: the
		// receiving side mutates local state only, which is what stops
		// delete ping-pong between peers.
		return nil
	}

	if !deleted {
		return protocol.Errorf(protocol.CodeNotFound, "no such connection")
	}

	counterparty := followeeAddr
	if selfIsFollowee {
		counterparty = followerAddr
	}
	peer, err := s.store.GetNode(ctx, counterparty)
	if err != nil || peer.URL == "" {
		s.log.Warn("cannot push connection delete, counterparty unknown", "counterparty", counterparty)
		return nil
	}
	if err := s.client.PushConnectionDelete(ctx, peer.URL, signed); err != nil {
		// Local state is already committed; the peer converges on retry
		// or through its own delete.
		s.log.Warn("connection delete push failed", "peer", counterparty, "err", err)
	}
	return nil
}

// Followers lists nodes following the local node.
func (s *ConnectionService) Followers(ctx context.Context) ([]store.Node, error) {
	self, err := s.store.Self(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.Followers(ctx, self.Address)
}

// Followees lists nodes the local node follows.
func (s *ConnectionService) Followees(ctx context.Context) ([]store.Node, error) {
	self, err := s.store.Self(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.Followees(ctx, self.Address)
}
