package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epressworld/epress-sub000/protocol"
)

func TestCommentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSelf(t, s, selfAddr)
	pub := seedPublication(t, s, "discussed")

	comment, err := s.CreateComment(ctx, Comment{
		PublicationID: pub.ID, Body: "pending words", Status: CommentPending,
		AuthType: CommentAuthEmail, CommenterName: "bob", CommenterEmail: "bob@example.com",
	})
	require.NoError(t, err)

	loaded, err := s.GetComment(ctx, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, CommentPending, loaded.Status)

	require.NoError(t, s.ConfirmComment(ctx, comment.ID))
	loaded, err = s.GetComment(ctx, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, CommentConfirmed, loaded.Status)

	// Confirming again is a harmless no-op.
	require.NoError(t, s.ConfirmComment(ctx, comment.ID))

	require.NoError(t, s.DeleteComment(ctx, comment.ID))
	_, err = s.GetComment(ctx, comment.ID)
	assert.Equal(t, protocol.CodeNotFound, protocol.CodeOf(err))

	err = s.DeleteComment(ctx, comment.ID)
	assert.Equal(t, protocol.CodeNotFound, protocol.CodeOf(err))
}

func TestCreateCommentRequiresPublication(t *testing.T) {
	s := newTestStore(t)
	seedSelf(t, s, selfAddr)

	_, err := s.CreateComment(context.Background(), Comment{
		PublicationID: "does-not-exist", Body: "x", Status: CommentPending, AuthType: CommentAuthEmail,
	})
	assert.Error(t, err)
}

func TestListCommentsStatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSelf(t, s, selfAddr)
	pub := seedPublication(t, s, "filtered")

	_, err := s.CreateComment(ctx, Comment{
		PublicationID: pub.ID, Body: "visible", Status: CommentConfirmed, AuthType: CommentAuthEmail,
	})
	require.NoError(t, err)
	_, err = s.CreateComment(ctx, Comment{
		PublicationID: pub.ID, Body: "hidden", Status: CommentPending, AuthType: CommentAuthEmail,
	})
	require.NoError(t, err)

	confirmed, total, err := s.ListComments(ctx, CommentFilter{
		PublicationID: pub.ID, Statuses: []CommentStatus{CommentConfirmed},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "visible", confirmed[0].Body)

	all, total, err := s.ListComments(ctx, CommentFilter{PublicationID: pub.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)
}
