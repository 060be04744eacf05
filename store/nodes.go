package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/epressworld/epress-sub000/protocol"
)

// CreateSelf writes the local node row. The partial unique index on
// is_self guarantees at most one such row ever exists; only the install
// flow calls this.
func (s *Store) CreateSelf(ctx context.Context, address, url, title, description string) (*Node, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	node := &Node{
		Address:        address,
		URL:            url,
		Title:          title,
		Description:    description,
		IsSelf:         true,
		ProfileVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO nodes (address, url, title, description, is_self, profile_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		node.Address, node.URL, node.Title, node.Description, true, node.ProfileVersion, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating self node: %w", err)
	}
	return node, nil
}

// Self returns the local node row.
func (s *Store) Self(ctx context.Context) (*Node, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var node Node
	err := s.db.GetContext(ctx, &node, `SELECT * FROM nodes WHERE is_self`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, protocol.Errorf(protocol.CodeNodeNotFound, "node is not installed")
	}
	if err != nil {
		return nil, fmt.Errorf("loading self node: %w", err)
	}
	return &node, nil
}

// GetNode returns the node with the given address.
func (s *Store) GetNode(ctx context.Context, address string) (*Node, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var node Node
	err := s.db.GetContext(ctx, &node, s.rebind(`SELECT * FROM nodes WHERE address = ?`), address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, protocol.Errorf(protocol.CodeNotFound, "node %s not known", address)
	}
	if err != nil {
		return nil, fmt.Errorf("loading node %s: %w", address, err)
	}
	return &node, nil
}

// UpsertPeer records a peer seen through the follow protocol. On first
// sight it creates the row; afterwards it refreshes url/title/description
// without touching the profile version, which only profile update
// broadcasts may advance.
func (s *Store) UpsertPeer(ctx context.Context, profile protocol.Profile) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO nodes (address, url, title, description, is_self, profile_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`),
		profile.Address, profile.URL, profile.Title, profile.Description, false, now, now)
	if err != nil {
		return fmt.Errorf("upserting peer %s: %w", profile.Address, err)
	}
	return nil
}

// UpsertFromRemoteProfile applies a verified profile update broadcast.
// A node never seen before is created; a known node is updated only when
// the incoming version is strictly greater than the stored one, which
// makes delivery order and duplicates irrelevant. Returns whether the
// update was applied.
func (s *Store) UpsertFromRemoteProfile(ctx context.Context, update protocol.ProfileUpdate) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO nodes (address, url, title, description, is_self, profile_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			profile_version = EXCLUDED.profile_version,
			updated_at = EXCLUDED.updated_at
		WHERE nodes.profile_version < EXCLUDED.profile_version`),
		update.Address, update.URL, update.Title, update.Description, false,
		update.ProfileVersion, now, now)
	if err != nil {
		return false, fmt.Errorf("applying remote profile for %s: %w", update.Address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateSelfProfile commits a local profile edit. The version must be
// exactly the stored version plus one; anything else is rejected so the
// monotonic version contract holds even under concurrent edits.
func (s *Store) UpdateSelfProfile(ctx context.Context, url, title, description string, version int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE nodes SET url = ?, title = ?, description = ?, profile_version = ?, updated_at = ?
		WHERE is_self AND profile_version = ?`),
		url, title, description, version, s.now(), version-1)
	if err != nil {
		return fmt.Errorf("updating self profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return protocol.Errorf(protocol.CodeValidationFailed, "profile version %d is not current version plus one", version)
	}
	return nil
}

// ListNodes returns known nodes ordered by first sight.
func (s *Store) ListNodes(ctx context.Context, limit, offset int) ([]Node, int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM nodes`); err != nil {
		return nil, 0, fmt.Errorf("counting nodes: %w", err)
	}

	nodes := []Node{}
	err := s.db.SelectContext(ctx, &nodes, s.rebind(`
		SELECT * FROM nodes ORDER BY created_at ASC, address ASC LIMIT ? OFFSET ?`),
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing nodes: %w", err)
	}
	return nodes, total, nil
}
