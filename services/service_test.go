package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/epressworld/epress-sub000/crypto"
	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/store"
)

const selfURL = "https://self.example"

type testEnv struct {
	store    *store.Store
	verifier *protocol.Verifier
	client   *FederationClient
	auth     *AuthService
	mailer   *capturingMailer
	log      *slog.Logger

	selfKey *crypto.PrivateKey
	self    *store.Node
}

func newTestEnv(t *testing.T) *testEnv {
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
	self, err := st.CreateSelf(ctx, key.Address().Hex(), selfURL, "Self Node", "a test node")
	require.NoError(t, err)
	require.NoError(t, st.SetSetting(ctx, store.SettingJWTSecret, "0123456789abcdef0123456789abcdef"))

	return &testEnv{
		store:    st,
		verifier: protocol.NewVerifier(),
		client:   NewFederationClient(2 * time.Second),
		auth:     NewAuthService(st),
		mailer:   &capturingMailer{},
		log:      log,
		selfKey:  key,
		self:     self,
	}
}

func (e *testEnv) owner() Caller {
	return Caller{Kind: CallerOwner, Address: e.self.Address}
}

func (e *testEnv) connections() *ConnectionService {
	return NewConnectionService(e.store, e.client, e.verifier, e.log)
}

func (e *testEnv) nodes() *NodeService {
	return NewNodeService(e.store, e.client, e.verifier, e.log)
}

func (e *testEnv) publications() *PublicationService {
	return NewPublicationService(e.store, e.verifier, e.log)
}

func (e *testEnv) comments() *CommentService {
	return NewCommentService(e.store, e.auth, e.verifier, e.mailer, e.log)
}

func signReq[T protocol.Message](t *testing.T, key *crypto.PrivateKey, msg T) protocol.SignedRequest[T] {
	t.Helper()

	sig, err := protocol.Sign(msg, key)
	require.NoError(t, err)
	return protocol.SignedRequest[T]{TypedData: msg, Signature: sig}
}

type capturedMail struct {
	To        string
	CommentID string
	Token     string
}

type capturingMailer struct {
	mu            sync.Mutex
	Confirmations []capturedMail
	Deletions     []capturedMail
}

func (m *capturingMailer) SendCommentConfirmation(_ context.Context, to, commentID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Confirmations = append(m.Confirmations, capturedMail{to, commentID, token})
	return nil
}

func (m *capturingMailer) SendDeletionConfirmation(_ context.Context, to, commentID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletions = append(m.Deletions, capturedMail{to, commentID, token})
	return nil
}

func (m *capturingMailer) lastConfirmation(t *testing.T) capturedMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.Confirmations)
	return m.Confirmations[len(m.Confirmations)-1]
}

func (m *capturingMailer) lastDeletion(t *testing.T) capturedMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.Deletions)
	return m.Deletions[len(m.Deletions)-1]
}
