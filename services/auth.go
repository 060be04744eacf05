package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/store"
)

// CallerKind classifies who is asking. Visibility predicates branch on it.
type CallerKind string

const (
	CallerAnonymous   CallerKind = "ANONYMOUS"
	CallerOwner       CallerKind = "OWNER"
	CallerIntegration CallerKind = "INTEGRATION"
)

// Permissions a scoped integration credential may carry.
const (
	PermReadPublications  = "publications:read"
	PermWritePublications = "publications:write"
	PermReadComments      = "comments:read"
	PermReadNodes         = "nodes:read"
)

// Caller is the authenticated (or anonymous) principal of a request.
type Caller struct {
	Kind        CallerKind
	Address     string
	Permissions []string
}

// Anonymous is the zero-trust caller.
var Anonymous = Caller{Kind: CallerAnonymous}

// IsOwner reports whether the caller is the local node's owner.
func (c Caller) IsOwner() bool { return c.Kind == CallerOwner }

// Can reports whether the caller holds a permission. The owner holds all
// of them.
func (c Caller) Can(permission string) bool {
	if c.Kind == CallerOwner {
		return true
	}
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// Token audiences. A token is only ever valid for the audience it was
// minted with: a comment-action token cannot authenticate an API call.
const (
	audienceSession     = "session"
	audienceIntegration = "integration"
	audienceComment     = "comment"
)

type sessionClaims struct {
	jwt.RegisteredClaims
}

type integrationClaims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

type commentClaims struct {
	CommentID string `json:"commentId"`
	Action    string `json:"action"`
	jwt.RegisteredClaims
}

// AuthService classifies callers and mints the three bearer-credential
// audiences over the install-generated signing secret.
type AuthService struct {
	store *store.Store
}

// NewAuthService builds the authorization gate over the store.
func NewAuthService(st *store.Store) *AuthService {
	return &AuthService{store: st}
}

func (a *AuthService) secret(ctx context.Context) ([]byte, error) {
	raw, err := a.store.GetSetting(ctx, store.SettingJWTSecret)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("jwt secret is not installed")
	}
	return []byte(raw), nil
}

// IssueOwnerSession mints a session credential for the node owner.
// Callers must have verified ownership (a fresh typed-data signature from
// the self address) before asking for one.
func (a *AuthService) IssueOwnerSession(ctx context.Context, ttl time.Duration) (string, error) {
	self, err := a.store.Self(ctx)
	if err != nil {
		return "", err
	}
	return a.sign(ctx, sessionClaims{
		RegisteredClaims: a.registered(audienceSession, self.Address, ttl),
	})
}

// IssueIntegrationToken mints a scoped credential with an explicit
// permission list and expiry, for non-interactive clients.
func (a *AuthService) IssueIntegrationToken(ctx context.Context, permissions []string, ttl time.Duration) (string, error) {
	if len(permissions) == 0 {
		return "", protocol.Errorf(protocol.CodeValidationFailed, "integration token needs at least one permission")
	}
	return a.sign(ctx, integrationClaims{
		Permissions:      permissions,
		RegisteredClaims: a.registered(audienceIntegration, "", ttl),
	})
}

// IssueCommentToken mints a one-shot token scoped to a single comment
// action ("confirm" or "delete"), delivered out of band by email.
func (a *AuthService) IssueCommentToken(ctx context.Context, commentID, action string, ttl time.Duration) (string, error) {
	return a.sign(ctx, commentClaims{
		CommentID:        commentID,
		Action:           action,
		RegisteredClaims: a.registered(audienceComment, "", ttl),
	})
}

func (a *AuthService) registered(audience, subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (a *AuthService) sign(ctx context.Context, claims jwt.Claims) (string, error) {
	secret, err := a.secret(ctx)
	if err != nil {
		return "", err
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

func (a *AuthService) parse(ctx context.Context, raw string, audience string, claims jwt.Claims) error {
	secret, err := a.secret(ctx)
	if err != nil {
		return err
	}
	_, err = jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return protocol.Errorf(protocol.CodeUnauthenticated, "invalid credential: %v", err)
	}
	return nil
}

// ClassifyBearer turns a bearer credential into a Caller. An empty token
// is simply anonymous; an invalid one is UNAUTHENTICATED.
func (a *AuthService) ClassifyBearer(ctx context.Context, raw string) (Caller, error) {
	if raw == "" {
		return Anonymous, nil
	}

	var session sessionClaims
	if err := a.parse(ctx, raw, audienceSession, &session); err == nil {
		self, err := a.store.Self(ctx)
		if err != nil {
			return Anonymous, err
		}
		if session.Subject != self.Address {
			return Anonymous, protocol.Errorf(protocol.CodeUnauthenticated, "session subject is not the local owner")
		}
		return Caller{Kind: CallerOwner, Address: self.Address}, nil
	}

	var integration integrationClaims
	if err := a.parse(ctx, raw, audienceIntegration, &integration); err == nil {
		return Caller{Kind: CallerIntegration, Permissions: integration.Permissions}, nil
	}

	return Anonymous, protocol.Errorf(protocol.CodeUnauthenticated, "credential not valid for any audience")
}

// VerifyCommentToken validates a one-shot comment-action token and
// returns the comment id it is scoped to.
func (a *AuthService) VerifyCommentToken(ctx context.Context, raw, action string) (string, error) {
	var claims commentClaims
	if err := a.parse(ctx, raw, audienceComment, &claims); err != nil {
		return "", err
	}
	if claims.Action != action {
		return "", protocol.Errorf(protocol.CodeUnauthenticated, "token action %q does not cover %q", claims.Action, action)
	}
	return claims.CommentID, nil
}
