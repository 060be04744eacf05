package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/epressworld/epress-sub000/crypto"
	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/services"
	"github.com/epressworld/epress-sub000/store"
)

const testSelfURL = "https://self.example"

type testServer struct {
	srv    *Server
	http   *httptest.Server
	mailer *recordingMailer

	selfKey *crypto.PrivateKey
	self    *store.Node
}

type recordedMail struct {
	To        string
	CommentID string
	Token     string
}

type recordingMailer struct {
	mu            sync.Mutex
	Confirmations []recordedMail
	Deletions     []recordedMail
}

func (m *recordingMailer) SendCommentConfirmation(_ context.Context, to, commentID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Confirmations = append(m.Confirmations, recordedMail{to, commentID, token})
	return nil
}

func (m *recordingMailer) SendDeletionConfirmation(_ context.Context, to, commentID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletions = append(m.Deletions, recordedMail{to, commentID, token})
	return nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(store.Config{
		Driver:  "sqlite3",
		DSN:     ":memory:",
		BlobDir: t.TempDir(),
		Log:     log,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ctx := context.Background()
	self, err := st.CreateSelf(ctx, key.Address().Hex(), testSelfURL, "Self Node", "a test node")
	require.NoError(t, err)
	require.NoError(t, st.SetSetting(ctx, store.SettingJWTSecret, "0123456789abcdef0123456789abcdef"))

	mailer := &recordingMailer{}
	srv, err := New(Config{
		ListenAddr:  "127.0.0.1:0",
		PeerTimeout: 2 * time.Second,
		Log:         log,
		Mailer:      mailer,
	}, st)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Base().Handler())
	t.Cleanup(ts.Close)

	return &testServer{srv: srv, http: ts, mailer: mailer, selfKey: key, self: self}
}

// do sends a JSON request and decodes the JSON response body into out
// (when out is non-nil).
func (ts *testServer) do(t *testing.T, method, path string, body any, bearer string, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.http.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// ownerToken signs a fresh login proof and exchanges it for a session
// credential.
func (ts *testServer) ownerToken(t *testing.T) string {
	t.Helper()

	signed := signMessage(t, ts.selfKey, protocol.SessionRequest{
		Address:   ts.self.Address,
		Timestamp: time.Now().Unix(),
	})
	var reply struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	resp := ts.do(t, http.MethodPost, "/api/auth/session", signed, "", &reply)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, reply.Data.Token)
	return reply.Data.Token
}

func (ts *testServer) createPost(t *testing.T, body string) *store.Publication {
	t.Helper()

	pub, err := ts.srv.Publications.CreatePost(context.Background(),
		services.Caller{Kind: services.CallerOwner, Address: ts.self.Address},
		services.PostInput{Body: body})
	require.NoError(t, err)
	return pub
}

func signMessage[T protocol.Message](t *testing.T, key *crypto.PrivateKey, msg T) protocol.SignedRequest[T] {
	t.Helper()

	sig, err := protocol.Sign(msg, key)
	require.NoError(t, err)
	return protocol.SignedRequest[T]{TypedData: msg, Signature: sig}
}

func errorCode(t *testing.T, resp *http.Response, body map[string]any) string {
	t.Helper()

	switch v := body["error"].(type) {
	case string:
		return v
	case map[string]any:
		code, _ := v["code"].(string)
		return code
	default:
		t.Fatalf("response %d carries no error: %v", resp.StatusCode, body)
		return ""
	}
}
