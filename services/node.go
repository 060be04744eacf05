package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/epressworld/epress-sub000/crypto"
	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/store"
)

// broadcastConcurrency bounds the profile fan-out so a node with many
// followers does not open unbounded sockets at once.
const broadcastConcurrency = 8

// NodeService owns the node registry: the local profile, peers learned
// through the protocol, and the profile update broadcast.
type NodeService struct {
	store    *store.Store
	client   *FederationClient
	verifier *protocol.Verifier
	log      *slog.Logger

	// wg tracks in-flight broadcasts so tests and shutdown can wait for
	// deliveries that outlive their triggering request.
	wg sync.WaitGroup
}

// NewNodeService wires the registry over the store and outbound client.
func NewNodeService(st *store.Store, client *FederationClient, verifier *protocol.Verifier, log *slog.Logger) *NodeService {
	if log == nil {
		log = slog.Default()
	}
	return &NodeService{store: st, client: client, verifier: verifier, log: log}
}

// Profile returns the local node's public profile.
func (s *NodeService) Profile(ctx context.Context) (*protocol.Profile, error) {
	self, err := s.store.Self(ctx)
	if err != nil {
		return nil, err
	}
	return &protocol.Profile{
		Address:     self.Address,
		URL:         self.URL,
		Title:       self.Title,
		Description: self.Description,
	}, nil
}

// ApplyRemoteProfileUpdate handles an inbound profile update: the
// signature must recover to the publisher address embedded in the
// message; then the versioned upsert applies it or ignores it. Version
// no-ops are not distinguishable to the sender, which keeps the exchange
// idempotent and leaks nothing about local state.
func (s *NodeService) ApplyRemoteProfileUpdate(ctx context.Context, signed protocol.SignedRequest[protocol.ProfileUpdate]) error {
	update := signed.TypedData
	if err := s.verifier.Verify(update, signed.Signature, update.Signer()); err != nil {
		return err
	}
	normalized, err := normalizeProfileAddress(update)
	if err != nil {
		return err
	}
	if _, err := s.store.UpsertFromRemoteProfile(ctx, normalized); err != nil {
		return err
	}
	return nil
}

// BroadcastProfileUpdate commits a self-signed profile edit and pushes the
// same signed envelope to every follower. The local row commits first; the
// fan-out then runs in the background with per-peer isolation, so the
// caller never blocks on any follower's reachability.
func (s *NodeService) BroadcastProfileUpdate(ctx context.Context, caller Caller, signed protocol.SignedRequest[protocol.ProfileUpdate]) error {
	if !caller.IsOwner() {
		return protocol.Errorf(protocol.CodeForbidden, "only the owner may broadcast a profile update")
	}

	self, err := s.store.Self(ctx)
	if err != nil {
		return err
	}

	update := signed.TypedData
	if err := s.verifier.Verify(update, signed.Signature, update.Signer()); err != nil {
		return err
	}
	if update.Signer().Hex() != self.Address {
		return protocol.Errorf(protocol.CodeSignerMismatch, "profile update must be signed by the local node")
	}
	if update.ProfileVersion != self.ProfileVersion+1 {
		return protocol.Errorf(protocol.CodeValidationFailed,
			"profile version %d does not increment current version %d", update.ProfileVersion, self.ProfileVersion)
	}

	if err := s.store.UpdateSelfProfile(ctx, update.URL, update.Title, update.Description, update.ProfileVersion); err != nil {
		return err
	}

	followers, err := s.store.Followers(ctx, self.Address)
	if err != nil {
		// The local commit already happened; a follower listing failure
		// only costs this round of broadcast.
		s.log.Error("could not list followers for broadcast", "err", err)
		return nil
	}

	s.fanOut(followers, signed)
	return nil
}

// fanOut delivers the signed envelope to each follower concurrently.
// Each delivery is its own failure domain with its own timeout; a dead
// peer is logged and skipped, never aggregated into the caller's result.
func (s *NodeService) fanOut(followers []store.Node, signed protocol.SignedRequest[protocol.ProfileUpdate]) {
	sem := make(chan struct{}, broadcastConcurrency)
	for _, follower := range followers {
		if follower.URL == "" {
			continue
		}
		s.wg.Add(1)
		sem <- struct{}{}
		go func(peer store.Node) {
			defer s.wg.Done()
			defer func() { <-sem }()

			ctx, cancel := context.WithTimeout(context.Background(), DefaultPeerTimeout)
			defer cancel()
			if err := s.client.PushProfileUpdate(ctx, peer.URL, signed); err != nil {
				s.log.Warn("profile broadcast delivery failed", "peer", peer.Address, "url", peer.URL, "err", err)
				return
			}
			s.log.Debug("profile broadcast delivered", "peer", peer.Address)
		}(follower)
	}
}

// WaitBroadcasts blocks until all in-flight broadcast deliveries finish.
func (s *NodeService) WaitBroadcasts() {
	s.wg.Wait()
}

// GetNode returns one node by address with visibility applied: every
// caller may see node rows, they are public protocol state.
func (s *NodeService) GetNode(ctx context.Context, address string) (*store.Node, error) {
	return s.store.GetNode(ctx, address)
}

// ListNodes pages through known nodes.
func (s *NodeService) ListNodes(ctx context.Context, limit, offset int) ([]store.Node, int, error) {
	return s.store.ListNodes(ctx, limit, offset)
}

// normalizeProfileAddress rewrites the embedded address into canonical
// checksum form so the registry never stores mixed casings.
func normalizeProfileAddress(update protocol.ProfileUpdate) (protocol.ProfileUpdate, error) {
	addr, err := crypto.ChecksumAddress(update.Address)
	if err != nil {
		return update, protocol.Errorf(protocol.CodeValidationFailed, "%v", err)
	}
	update.Address = addr
	return update, nil
}
