package store

import (
	"context"
	"fmt"
)

// CreateConnection inserts a follow edge if absent. Returns false when the
// edge already existed; duplicate creation is never an error at this
// layer.
func (s *Store) CreateConnection(ctx context.Context, followerAddress, followeeAddress string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO connections (follower_address, followee_address, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (follower_address, followee_address) DO NOTHING`),
		followerAddress, followeeAddress, s.now())
	if err != nil {
		return false, fmt.Errorf("creating connection %s -> %s: %w", followerAddress, followeeAddress, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteConnection removes a follow edge. Returns whether an edge was
// present; idempotency versus NOT_FOUND is the caller's contract to pick.
func (s *Store) DeleteConnection(ctx context.Context, followerAddress, followeeAddress string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM connections WHERE follower_address = ? AND followee_address = ?`),
		followerAddress, followeeAddress)
	if err != nil {
		return false, fmt.Errorf("deleting connection %s -> %s: %w", followerAddress, followeeAddress, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// HasConnection reports whether the follow edge exists.
func (s *Store) HasConnection(ctx context.Context, followerAddress, followeeAddress string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	err := s.db.GetContext(ctx, &n, s.rebind(`
		SELECT COUNT(*) FROM connections WHERE follower_address = ? AND followee_address = ?`),
		followerAddress, followeeAddress)
	if err != nil {
		return false, fmt.Errorf("checking connection %s -> %s: %w", followerAddress, followeeAddress, err)
	}
	return n > 0, nil
}

// Followers returns the nodes following the given address.
func (s *Store) Followers(ctx context.Context, followeeAddress string) ([]Node, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	nodes := []Node{}
	err := s.db.SelectContext(ctx, &nodes, s.rebind(`
		SELECT n.* FROM nodes n
		JOIN connections c ON c.follower_address = n.address
		WHERE c.followee_address = ?
		ORDER BY c.created_at ASC`),
		followeeAddress)
	if err != nil {
		return nil, fmt.Errorf("listing followers of %s: %w", followeeAddress, err)
	}
	return nodes, nil
}

// Followees returns the nodes the given address follows.
func (s *Store) Followees(ctx context.Context, followerAddress string) ([]Node, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	nodes := []Node{}
	err := s.db.SelectContext(ctx, &nodes, s.rebind(`
		SELECT n.* FROM nodes n
		JOIN connections c ON c.followee_address = n.address
		WHERE c.follower_address = ?
		ORDER BY c.created_at ASC`),
		followerAddress)
	if err != nil {
		return nil, fmt.Errorf("listing followees of %s: %w", followerAddress, err)
	}
	return nodes, nil
}
