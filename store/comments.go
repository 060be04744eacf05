package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/epressworld/epress-sub000/protocol"
)

// CreateComment persists a comment and bumps the publication's comment
// counter in the same transaction.
func (s *Store) CreateComment(ctx context.Context, c Comment) (*Comment, error) {
	c.ID = uuid.NewString()
	c.CreatedAt = s.now()

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO comments (id, publication_id, body, status, auth_type,
				commenter_name, commenter_email, commenter_address, signature, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			c.ID, c.PublicationID, c.Body, c.Status, c.AuthType,
			c.CommenterName, c.CommenterEmail, c.CommenterAddress, c.Signature, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting comment: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE publications SET comment_count = comment_count + 1 WHERE id = ?`), c.PublicationID)
		if err != nil {
			return fmt.Errorf("incrementing comment count: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading rows affected: %w", err)
		}
		if n == 0 {
			return protocol.Errorf(protocol.CodeNotFound, "publication %s not found", c.PublicationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetComment returns one comment by id.
func (s *Store) GetComment(ctx context.Context, id string) (*Comment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var c Comment
	err := s.db.GetContext(ctx, &c, s.rebind(`SELECT * FROM comments WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, protocol.Errorf(protocol.CodeNotFound, "comment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading comment %s: %w", id, err)
	}
	return &c, nil
}

// ConfirmComment moves a PENDING comment to CONFIRMED. Confirming an
// already confirmed comment is a no-op: CONFIRMED is terminal.
func (s *Store) ConfirmComment(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE comments SET status = ? WHERE id = ? AND status = ?`),
		CommentConfirmed, id, CommentPending)
	if err != nil {
		return fmt.Errorf("confirming comment %s: %w", id, err)
	}
	return nil
}

// DeleteComment removes a comment and decrements the publication counter.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var publicationID string
		err := tx.GetContext(ctx, &publicationID, s.rebind(`
			SELECT publication_id FROM comments WHERE id = ?`), id)
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.Errorf(protocol.CodeNotFound, "comment %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("loading comment %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM comments WHERE id = ?`), id); err != nil {
			return fmt.Errorf("deleting comment %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE publications SET comment_count = comment_count - 1
			WHERE id = ? AND comment_count > 0`), publicationID)
		if err != nil {
			return fmt.Errorf("decrementing comment count: %w", err)
		}
		return nil
	})
}

// CommentFilter narrows and pages a comment listing.
type CommentFilter struct {
	PublicationID string
	// Statuses limits visibility; empty means all statuses.
	Statuses []CommentStatus
	Limit    int
	Page     int
}

// ListComments returns a page ordered ascending by creation time plus the
// total count for the filter.
func (s *Store) ListComments(ctx context.Context, filter CommentFilter) ([]Comment, int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	where := "WHERE 1=1"
	args := []any{}
	if filter.PublicationID != "" {
		where += " AND publication_id = ?"
		args = append(args, filter.PublicationID)
	}
	if len(filter.Statuses) > 0 {
		where += " AND status IN (?"
		args = append(args, filter.Statuses[0])
		for _, status := range filter.Statuses[1:] {
			where += ", ?"
			args = append(args, status)
		}
		where += ")"
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.rebind(`SELECT COUNT(*) FROM comments `+where), args...); err != nil {
		return nil, 0, fmt.Errorf("counting comments: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	comments := []Comment{}
	args = append(args, limit, (page-1)*limit)
	err := s.db.SelectContext(ctx, &comments, s.rebind(`
		SELECT * FROM comments `+where+`
		ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing comments: %w", err)
	}
	return comments, total, nil
}
