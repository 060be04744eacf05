package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epressworld/epress-sub000/protocol"
)

const (
	selfAddr = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	peerAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

func TestSelfNodeUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Self(ctx)
	assert.Equal(t, protocol.CodeNodeNotFound, protocol.CodeOf(err))

	seedSelf(t, s, selfAddr)

	self, err := s.Self(ctx)
	require.NoError(t, err)
	assert.Equal(t, selfAddr, self.Address)
	assert.True(t, self.IsSelf)
	assert.Equal(t, int64(1), self.ProfileVersion)

	// The storage-level constraint rejects a second self row.
	_, err = s.CreateSelf(ctx, peerAddr, "https://other.example", "other", "")
	assert.Error(t, err)
}

func TestUpsertFromRemoteProfileVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSelf(t, s, selfAddr)

	v3 := protocol.ProfileUpdate{
		Address: peerAddr, URL: "https://peer.example", Title: "v3", ProfileVersion: 3, Timestamp: 1,
	}
	applied, err := s.UpsertFromRemoteProfile(ctx, v3)
	require.NoError(t, err)
	assert.True(t, applied, "first sight creates the node")

	// An older version arriving late is a no-op.
	v2 := v3
	v2.Title = "v2"
	v2.ProfileVersion = 2
	applied, err = s.UpsertFromRemoteProfile(ctx, v2)
	require.NoError(t, err)
	assert.False(t, applied)

	// Duplicate delivery of the current version is likewise a no-op.
	applied, err = s.UpsertFromRemoteProfile(ctx, v3)
	require.NoError(t, err)
	assert.False(t, applied)

	v4 := v3
	v4.Title = "v4"
	v4.ProfileVersion = 4
	applied, err = s.UpsertFromRemoteProfile(ctx, v4)
	require.NoError(t, err)
	assert.True(t, applied)

	node, err := s.GetNode(ctx, peerAddr)
	require.NoError(t, err)
	assert.Equal(t, "v4", node.Title)
	assert.Equal(t, int64(4), node.ProfileVersion)
}

func TestUpsertPeerFirstSight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertPeer(ctx, protocol.Profile{Address: peerAddr, URL: "https://peer.example", Title: "Peer"})
	require.NoError(t, err)

	node, err := s.GetNode(ctx, peerAddr)
	require.NoError(t, err)
	assert.False(t, node.IsSelf)
	assert.Equal(t, int64(0), node.ProfileVersion)
	assert.Equal(t, "Peer", node.Title)
}

func TestUpsertPeerKeepsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	update := protocol.ProfileUpdate{Address: peerAddr, URL: "https://peer.example", ProfileVersion: 5, Timestamp: 1}
	_, err := s.UpsertFromRemoteProfile(ctx, update)
	require.NoError(t, err)

	err = s.UpsertPeer(ctx, protocol.Profile{Address: peerAddr, URL: "https://peer.example", Title: "seen again"})
	require.NoError(t, err)

	node, err := s.GetNode(ctx, peerAddr)
	require.NoError(t, err)
	assert.Equal(t, "seen again", node.Title)
	assert.Equal(t, int64(5), node.ProfileVersion, "a follow-protocol sighting never advances the version")
}

func TestUpdateSelfProfileIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSelf(t, s, selfAddr)

	require.NoError(t, s.UpdateSelfProfile(ctx, "https://self.example", "renamed", "", 2))

	// Re-applying the same version fails: the version only moves forward.
	err := s.UpdateSelfProfile(ctx, "https://self.example", "renamed again", "", 2)
	assert.Equal(t, protocol.CodeValidationFailed, protocol.CodeOf(err))

	// Skipping versions fails too.
	err = s.UpdateSelfProfile(ctx, "https://self.example", "skipped", "", 5)
	assert.Equal(t, protocol.CodeValidationFailed, protocol.CodeOf(err))

	self, err := s.Self(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), self.ProfileVersion)
	assert.Equal(t, "renamed", self.Title)
}

func TestConnectionsAndFollowers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSelf(t, s, selfAddr)
	require.NoError(t, s.UpsertPeer(ctx, protocol.Profile{Address: peerAddr, URL: "https://peer.example"}))

	created, err := s.CreateConnection(ctx, peerAddr, selfAddr)
	require.NoError(t, err)
	assert.True(t, created)

	// Duplicate pair collapses silently.
	created, err = s.CreateConnection(ctx, peerAddr, selfAddr)
	require.NoError(t, err)
	assert.False(t, created)

	has, err := s.HasConnection(ctx, peerAddr, selfAddr)
	require.NoError(t, err)
	assert.True(t, has)

	followers, err := s.Followers(ctx, selfAddr)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, peerAddr, followers[0].Address)

	followees, err := s.Followees(ctx, peerAddr)
	require.NoError(t, err)
	require.Len(t, followees, 1)
	assert.Equal(t, selfAddr, followees[0].Address)

	deleted, err := s.DeleteConnection(ctx, peerAddr, selfAddr)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteConnection(ctx, peerAddr, selfAddr)
	require.NoError(t, err)
	assert.False(t, deleted, "deleting an absent edge reports false, not an error")
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.BoolSetting(ctx, SettingAllowFollow, true)
	require.NoError(t, err)
	assert.True(t, v, "unset key falls back")

	require.NoError(t, s.SetSetting(ctx, SettingAllowFollow, "false"))
	v, err = s.BoolSetting(ctx, SettingAllowFollow, true)
	require.NoError(t, err)
	assert.False(t, v)

	require.NoError(t, s.SetSetting(ctx, SettingJWTSecret, "s3cret"))
	raw, err := s.GetSetting(ctx, SettingJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", raw)
}
