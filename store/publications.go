package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/epressworld/epress-sub000/protocol"
)

// CreatePublication binds a content row to an author. The signature
// always starts null; signing happens as a separate, explicit step.
func (s *Store) CreatePublication(ctx context.Context, contentHash, authorAddress, description string) (*Publication, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	pub := &Publication{
		ID:            uuid.NewString(),
		ContentHash:   contentHash,
		AuthorAddress: authorAddress,
		Description:   description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO publications (id, content_hash, author_address, description, comment_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`),
		pub.ID, pub.ContentHash, pub.AuthorAddress, pub.Description, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating publication: %w", err)
	}
	return pub, nil
}

// GetPublication returns one publication by id.
func (s *Store) GetPublication(ctx context.Context, id string) (*Publication, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var pub Publication
	err := s.db.GetContext(ctx, &pub, s.rebind(`SELECT * FROM publications WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, protocol.Errorf(protocol.CodeNotFound, "publication %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading publication %s: %w", id, err)
	}
	return &pub, nil
}

// UpdatePublicationContent repoints an unsigned publication at new content
// and updates its description. The guard on signature IS NULL is enforced
// here as well as at the service layer: a signed row never changes.
func (s *Store) UpdatePublicationContent(ctx context.Context, id, contentHash, description string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE publications SET content_hash = ?, description = ?, updated_at = ?
		WHERE id = ? AND signature IS NULL`),
		contentHash, description, s.now(), id)
	if err != nil {
		return fmt.Errorf("updating publication %s: %w", id, err)
	}
	return s.requireOneRow(res, id)
}

// UpdatePublicationDescription changes only the description of an
// unsigned publication.
func (s *Store) UpdatePublicationDescription(ctx context.Context, id, description string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE publications SET description = ?, updated_at = ?
		WHERE id = ? AND signature IS NULL`),
		description, s.now(), id)
	if err != nil {
		return fmt.Errorf("updating publication %s description: %w", id, err)
	}
	return s.requireOneRow(res, id)
}

// SetPublicationSignature freezes a publication. Once set, the same
// signature guard keeps every later mutation away from the row.
func (s *Store) SetPublicationSignature(ctx context.Context, id, signature string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE publications SET signature = ?, updated_at = ?
		WHERE id = ? AND signature IS NULL`),
		signature, s.now(), id)
	if err != nil {
		return fmt.Errorf("signing publication %s: %w", id, err)
	}
	return s.requireOneRow(res, id)
}

func (s *Store) requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return protocol.Errorf(protocol.CodeForbidden, "publication %s is signed or does not exist", id)
	}
	return nil
}

// DeletePublication removes a publication row. Comments go with it; the
// content row stays behind for the orphan sweep.
func (s *Store) DeletePublication(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM comments WHERE publication_id = ?`), id); err != nil {
			return fmt.Errorf("deleting comments of publication %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM publications WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("deleting publication %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading rows affected: %w", err)
		}
		if n == 0 {
			return protocol.Errorf(protocol.CodeNotFound, "publication %s not found", id)
		}
		return nil
	})
}

// PublicationFilter narrows and pages a publication listing. SelfOnly
// restricts to the local node's own rows (the protocol surface never
// serves replicated third-party rows).
type PublicationFilter struct {
	AuthorAddress string
	Since         *time.Time
	Limit         int
	Page          int
}

// ListPublications returns a page ordered ascending by creation time plus
// the total row count for the filter.
func (s *Store) ListPublications(ctx context.Context, filter PublicationFilter) ([]Publication, int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	where := "WHERE 1=1"
	args := []any{}
	if filter.AuthorAddress != "" {
		where += " AND author_address = ?"
		args = append(args, filter.AuthorAddress)
	}
	if filter.Since != nil {
		where += " AND created_at >= ?"
		args = append(args, *filter.Since)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.rebind(`SELECT COUNT(*) FROM publications `+where), args...); err != nil {
		return nil, 0, fmt.Errorf("counting publications: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	pubs := []Publication{}
	args = append(args, limit, (page-1)*limit)
	err := s.db.SelectContext(ctx, &pubs, s.rebind(`
		SELECT * FROM publications `+where+`
		ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing publications: %w", err)
	}
	return pubs, total, nil
}
