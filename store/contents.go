package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/epressworld/epress-sub000/crypto"
	"github.com/epressworld/epress-sub000/protocol"
)

// CreatePost stores a text content row. Creation is idempotent: identical
// bodies hash identically and collapse onto one row.
func (s *Store) CreatePost(ctx context.Context, body string) (*Content, error) {
	if strings.TrimSpace(body) == "" {
		return nil, protocol.Errorf(protocol.CodeValidationFailed, "post body must not be empty")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	hash := crypto.HashBytes([]byte(body))
	content := &Content{
		ContentHash: hash,
		Type:        ContentPost,
		Body:        body,
		Size:        int64(len(body)),
		CreatedAt:   s.now(),
	}
	if err := s.insertContent(ctx, content); err != nil {
		return nil, err
	}
	return s.GetContent(ctx, hash)
}

// CreateFile streams a file into the content-addressed blob directory and
// stores its row. The stream is hashed while it is written, never buffered
// whole. Re-uploading identical bytes reuses the existing row and blob.
func (s *Store) CreateFile(ctx context.Context, filename, mimetype string, r io.Reader) (*Content, error) {
	if filename == "" || mimetype == "" {
		return nil, protocol.Errorf(protocol.CodeValidationFailed, "filename and mimetype are required")
	}
	if r == nil {
		return nil, protocol.Errorf(protocol.CodeValidationFailed, "file stream is required")
	}
	if s.blobDir == "" {
		return nil, fmt.Errorf("store has no blob directory configured")
	}

	tmp, err := os.CreateTemp(s.blobDir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hash, size, err := crypto.HashReader(io.TeeReader(r, tmp))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("writing blob: %w", err)
	}
	if size == 0 {
		return nil, protocol.Errorf(protocol.CodeValidationFailed, "file must not be empty")
	}

	localPath := s.blobPath(hash)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating blob subdirectory: %w", err)
	}
	if _, err := os.Stat(localPath); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(tmpPath, localPath); err != nil {
			return nil, fmt.Errorf("placing blob: %w", err)
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	content := &Content{
		ContentHash: hash,
		Type:        ContentFile,
		Filename:    filename,
		Mimetype:    mimetype,
		Size:        size,
		LocalPath:   localPath,
		CreatedAt:   s.now(),
	}
	if err := s.insertContent(ctx, content); err != nil {
		return nil, err
	}
	return s.GetContent(ctx, hash)
}

func (s *Store) insertContent(ctx context.Context, c *Content) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO contents (content_hash, type, body, filename, mimetype, size, local_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_hash) DO NOTHING`),
		c.ContentHash, c.Type, c.Body, c.Filename, c.Mimetype, c.Size, c.LocalPath, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting content %s: %w", c.ContentHash, err)
	}
	return nil
}

// GetContent returns the content row for a hash.
func (s *Store) GetContent(ctx context.Context, hash string) (*Content, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var content Content
	err := s.db.GetContext(ctx, &content, s.rebind(`SELECT * FROM contents WHERE content_hash = ?`), hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, protocol.Errorf(protocol.CodeNotFound, "content %s not found", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("loading content %s: %w", hash, err)
	}
	return &content, nil
}

// OpenBlob opens the backing file of a FILE content row.
func (s *Store) OpenBlob(c *Content) (io.ReadCloser, error) {
	if c.Type != ContentFile || c.LocalPath == "" {
		return nil, protocol.Errorf(protocol.CodeValidationFailed, "content %s has no blob", c.ContentHash)
	}
	f, err := os.Open(c.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", c.ContentHash, err)
	}
	return f, nil
}

func (s *Store) blobPath(hash string) string {
	// 0x-prefixed digest; fan out on the first two hex chars after the prefix.
	return filepath.Join(s.blobDir, hash[2:4], hash[2:])
}

// CleanupReport summarizes one orphan sweep.
type CleanupReport struct {
	TotalProcessed   int `json:"totalProcessed"`
	DeletedCount     int `json:"deletedCount"`
	FileDeletedCount int `json:"fileDeletedCount"`
}

// CleanupOrphaned deletes content rows no publication references anymore,
// and the backing blob for FILE rows. Each candidate is rechecked and
// deleted inside one transaction, so a publication insert racing the sweep
// keeps its content. Running the sweep twice in a row deletes nothing the
// second time.
func (s *Store) CleanupOrphaned(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	candidates := []Content{}
	listCtx, cancel := s.withTimeout(ctx)
	err := s.db.SelectContext(listCtx, &candidates, `
		SELECT c.* FROM contents c
		LEFT JOIN publications p ON p.content_hash = c.content_hash
		WHERE p.id IS NULL`)
	cancel()
	if err != nil {
		return report, fmt.Errorf("scanning for orphaned contents: %w", err)
	}
	report.TotalProcessed = len(candidates)

	for _, candidate := range candidates {
		deleted := false
		err := s.inTx(ctx, func(tx *sqlx.Tx) error {
			// Recheck inside the transaction: a publication may have
			// claimed this content since the scan.
			var refs int
			if err := tx.GetContext(ctx, &refs, s.rebind(`
				SELECT COUNT(*) FROM publications WHERE content_hash = ?`), candidate.ContentHash); err != nil {
				return fmt.Errorf("rechecking references for %s: %w", candidate.ContentHash, err)
			}
			if refs > 0 {
				return nil
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`
				DELETE FROM contents WHERE content_hash = ?`), candidate.ContentHash); err != nil {
				return fmt.Errorf("deleting content %s: %w", candidate.ContentHash, err)
			}
			deleted = true
			return nil
		})
		if err != nil {
			return report, err
		}
		if !deleted {
			continue
		}
		report.DeletedCount++

		if candidate.Type == ContentFile && candidate.LocalPath != "" {
			if err := os.Remove(candidate.LocalPath); err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					s.log.Warn("could not delete orphaned blob",
						"contentHash", candidate.ContentHash, "path", candidate.LocalPath, "err", err)
				}
				continue
			}
			report.FileDeletedCount++
		}
	}

	return report, nil
}
