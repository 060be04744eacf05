package server

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epressworld/epress-sub000/crypto"
	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/services"
	"github.com/epressworld/epress-sub000/store"
)

func TestAPISessionLogin(t *testing.T) {
	ts := newTestServer(t)

	token := ts.ownerToken(t)

	// The session credential authorizes publishing.
	var reply struct {
		Data store.Publication `json:"data"`
	}
	resp := ts.do(t, http.MethodPost, "/api/publications",
		map[string]string{"body": "first post", "description": "hello"}, token, &reply)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, ts.self.Address, reply.Data.AuthorAddress)
}

func TestAPISessionRejectsForeignKey(t *testing.T) {
	ts := newTestServer(t)

	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)
	signed := signMessage(t, stranger, protocol.SessionRequest{
		Address:   stranger.Address().Hex(),
		Timestamp: time.Now().Unix(),
	})

	var body map[string]any
	resp := ts.do(t, http.MethodPost, "/api/auth/session", signed, "", &body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeUnauthenticated), errorCode(t, resp, body))
}

func TestAPIAnonymousCannotPublish(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	resp := ts.do(t, http.MethodPost, "/api/publications",
		map[string]string{"body": "graffiti"}, "", &body)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeForbidden), errorCode(t, resp, body))
}

func TestAPIIntegrationTokenScope(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.ownerToken(t)
	ts.createPost(t, "readable")

	var minted struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	resp := ts.do(t, http.MethodPost, "/api/auth/tokens", map[string]any{
		"permissions": []string{services.PermReadPublications},
		"ttlSeconds":  3600,
	}, owner, &minted)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The read scope lists publications but cannot create them.
	resp = ts.do(t, http.MethodGet, "/api/publications", nil, minted.Data.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	resp = ts.do(t, http.MethodPost, "/api/publications",
		map[string]string{"body": "nope"}, minted.Data.Token, &body)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeForbidden), errorCode(t, resp, body))

	// Non-owners cannot mint.
	resp = ts.do(t, http.MethodPost, "/api/auth/tokens", map[string]any{
		"permissions": []string{services.PermReadPublications},
		"ttlSeconds":  3600,
	}, minted.Data.Token, &body)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPIInvalidBearerFailsOutright(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	resp := ts.do(t, http.MethodGet, "/api/publications", nil, "bogus-token", &body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeUnauthenticated), errorCode(t, resp, body))
}

func TestAPIPublicationLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.ownerToken(t)
	pub := ts.createPost(t, "draft body")

	// Edit the draft.
	var updated struct {
		Data store.Publication `json:"data"`
	}
	resp := ts.do(t, http.MethodPatch, "/api/publications/"+pub.ID,
		map[string]string{"body": "final body"}, token, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, pub.ContentHash, updated.Data.ContentHash)

	// Sign it.
	signed := signMessage(t, ts.selfKey, protocol.PublicationSignature{
		ContentHash:   updated.Data.ContentHash,
		AuthorAddress: ts.self.Address,
		Timestamp:     updated.Data.CreatedAt.Unix(),
	})
	var sealed struct {
		Data store.Publication `json:"data"`
	}
	resp = ts.do(t, http.MethodPost, "/api/publications/"+pub.ID+"/signature", signed, token, &sealed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, sealed.Data.IsSigned())

	// Signed means frozen, even for the owner.
	var body map[string]any
	resp = ts.do(t, http.MethodPatch, "/api/publications/"+pub.ID,
		map[string]string{"body": "revision"}, token, &body)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeForbidden), errorCode(t, resp, body))

	resp = ts.do(t, http.MethodDelete, "/api/publications/"+pub.ID, nil, token, &body)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPIFetchTaggedUnion(t *testing.T) {
	ts := newTestServer(t)
	pub := ts.createPost(t, "fetch me")

	var nodeReply struct {
		Data fetchResult `json:"data"`
	}
	resp := ts.do(t, http.MethodGet, "/api/fetch/node/"+ts.self.Address, nil, "", &nodeReply)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "NODE", nodeReply.Data.Type)
	require.NotNil(t, nodeReply.Data.Node)
	assert.Equal(t, ts.self.Address, nodeReply.Data.Node.Address)

	var pubReply struct {
		Data fetchResult `json:"data"`
	}
	resp = ts.do(t, http.MethodGet, "/api/fetch/publication/"+pub.ID, nil, "", &pubReply)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PUBLICATION", pubReply.Data.Type)
	require.NotNil(t, pubReply.Data.Publication)

	var body map[string]any
	resp = ts.do(t, http.MethodGet, "/api/fetch/gadget/123", nil, "", &body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeValidationFailed), errorCode(t, resp, body))
}

func TestAPICommentEmailFlow(t *testing.T) {
	ts := newTestServer(t)
	pub := ts.createPost(t, "please comment")

	var created struct {
		Data store.Comment `json:"data"`
	}
	resp := ts.do(t, http.MethodPost, "/api/comments", map[string]string{
		"publicationId": pub.ID,
		"body":          "well said",
		"commenterName": "Alice",
		"email":         "alice@example.com",
	}, "", &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, store.CommentPending, created.Data.Status)

	require.Len(t, ts.mailer.Confirmations, 1)
	mail := ts.mailer.Confirmations[0]

	// Anonymous readers cannot see the pending comment yet.
	var body map[string]any
	resp = ts.do(t, http.MethodGet, "/api/fetch/comment/"+created.Data.ID, nil, "", &body)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var confirmed struct {
		Data store.Comment `json:"data"`
	}
	resp = ts.do(t, http.MethodPost, "/api/comments/confirmation",
		map[string]string{"token": mail.Token}, "", &confirmed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.CommentConfirmed, confirmed.Data.Status)

	// Now it is public, but the commenter's address stays private.
	public, err := http.Get(ts.http.URL + "/api/fetch/comment/" + created.Data.ID)
	require.NoError(t, err)
	defer public.Body.Close()
	require.Equal(t, http.StatusOK, public.StatusCode)
	raw, err := io.ReadAll(public.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "Alice"))
	assert.False(t, strings.Contains(string(raw), "alice@example.com"))
}

func TestAPICommentSignedFlow(t *testing.T) {
	ts := newTestServer(t)
	pub := ts.createPost(t, "please comment")

	commenter, err := crypto.GenerateKey()
	require.NoError(t, err)
	commentBody := "signed remark"
	signed := signMessage(t, commenter, protocol.CommentSignature{
		NodeAddress:      ts.self.Address,
		CommenterAddress: commenter.Address().Hex(),
		PublicationID:    pub.ID,
		BodyHash:         crypto.HashBytes([]byte(commentBody)),
	})

	var created struct {
		Data store.Comment `json:"data"`
	}
	resp := ts.do(t, http.MethodPost, "/api/comments", map[string]any{
		"publicationId": pub.ID,
		"body":          commentBody,
		"commenterName": "Bob",
		"signed":        signed,
	}, "", &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, store.CommentConfirmed, created.Data.Status)
	assert.Equal(t, commenter.Address().Hex(), created.Data.CommenterAddress)

	// The commenter removes it with a freshly signed deletion.
	resp = ts.do(t, http.MethodDelete, "/api/comments/"+created.Data.ID,
		map[string]any{"signed": signMessage(t, commenter, protocol.CommentDeletion{
			CommentID:        created.Data.ID,
			CommenterAddress: commenter.Address().Hex(),
			Timestamp:        time.Now().Unix(),
		})}, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = ts.srv.Store.GetComment(context.Background(), created.Data.ID)
	require.Error(t, err)
}

func TestAPIRSS(t *testing.T) {
	ts := newTestServer(t)
	ts.createPost(t, "feed me")

	resp, err := http.Get(ts.http.URL + "/rss")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "<rss"))
	assert.True(t, strings.Contains(string(raw), "Self Node"))

	// Switched off, the feed vanishes.
	require.NoError(t, ts.srv.Store.SetSetting(context.Background(), store.SettingEnableRSS, "false"))
	resp2, err := http.Get(ts.http.URL + "/rss")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestAPIRSSCarriesNewestItems(t *testing.T) {
	ts := newTestServer(t)

	// Enough posts that the newest window straddles a store page boundary.
	pubs := make([]*store.Publication, 0, 55)
	for i := 0; i < 55; i++ {
		pubs = append(pubs, ts.createPost(t, fmt.Sprintf("post number %d", i)))
	}

	resp, err := http.Get(ts.http.URL + "/rss")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var feed rssFeed
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&feed))
	require.Len(t, feed.Channel.Items, rssItemLimit)

	// Newest first, and everything older than the window stays out.
	assert.Equal(t, pubs[54].ID, feed.Channel.Items[0].GUID)
	assert.Equal(t, pubs[5].ID, feed.Channel.Items[rssItemLimit-1].GUID)
	guids := make(map[string]bool, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		guids[item.GUID] = true
	}
	for _, old := range pubs[:5] {
		assert.False(t, guids[old.ID])
	}
}

func TestAPIHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/livez", "/readyz"} {
		resp, err := http.Get(ts.http.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
