package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Config{
		Driver:  "sqlite3",
		DSN:     ":memory:",
		BlobDir: t.TempDir(),
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSelf(t *testing.T, s *Store, address string) *Node {
	t.Helper()

	node, err := s.CreateSelf(context.Background(), address, "https://self.example", "Self Node", "a test node")
	require.NoError(t, err)
	return node
}
