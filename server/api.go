package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/services"
	"github.com/epressworld/epress-sub000/store"
)

const (
	apiDefaultLimit = 20
	apiMaxLimit     = 100

	defaultSessionTTL = 24 * time.Hour
	maxIntegrationTTL = 365 * 24 * time.Hour
)

type callerKeyType struct{}

var callerKey callerKeyType

// callerFrom returns the authenticated principal the middleware attached.
func callerFrom(ctx context.Context) services.Caller {
	if c, ok := ctx.Value(callerKey).(services.Caller); ok {
		return c
	}
	return services.Anonymous
}

// APIHandler serves the client and integration surface. Unlike the
// protocol surface, requests here carry bearer credentials and answers
// use the data/error envelope with stable per-failure codes.
type APIHandler struct {
	store        *store.Store
	auth         *services.AuthService
	verifier     *protocol.Verifier
	nodes        *services.NodeService
	connections  *services.ConnectionService
	publications *services.PublicationService
	comments     *services.CommentService
	log          *slog.Logger
}

// NewAPIHandler builds the client API surface over the services.
func NewAPIHandler(
	st *store.Store,
	auth *services.AuthService,
	verifier *protocol.Verifier,
	nodes *services.NodeService,
	connections *services.ConnectionService,
	publications *services.PublicationService,
	comments *services.CommentService,
	log *slog.Logger,
) *APIHandler {
	return &APIHandler{
		store:        st,
		auth:         auth,
		verifier:     verifier,
		nodes:        nodes,
		connections:  connections,
		publications: publications,
		comments:     comments,
		log:          log,
	}
}

func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.withCaller)

		r.Post("/auth/session", h.handleSession)
		r.Post("/auth/tokens", h.handleIntegrationToken)

		r.Get("/fetch/{type}/{id}", h.handleFetch)

		r.Get("/nodes", h.handleListNodes)
		r.Get("/publications", h.handleListPublications)
		r.Get("/comments", h.handleListComments)
		r.Get("/contents/{hash}", h.handleContent)

		r.Post("/publications", h.handleCreatePost)
		r.Post("/publications/file", h.handleCreateFile)
		r.Patch("/publications/{id}", h.handleUpdatePublication)
		r.Post("/publications/{id}/signature", h.handleSignPublication)
		r.Delete("/publications/{id}", h.handleDestroyPublication)

		r.Post("/connections", h.handleFollow)
		r.Delete("/connections", h.handleUnfollow)
		r.Post("/profile", h.handleProfileBroadcast)

		r.Post("/comments", h.handleCreateComment)
		r.Post("/comments/confirmation", h.handleConfirmComment)
		r.Post("/comments/{id}/deletion-request", h.handleCommentDeletionRequest)
		r.Post("/comments/deletion-confirmation", h.handleConfirmCommentDeletion)
		r.Delete("/comments/{id}", h.handleDestroyComment)
	})

	r.Get("/rss", h.handleRSS)
}

// withCaller classifies the bearer credential once per request. A present
// but invalid credential fails the request outright instead of silently
// downgrading to anonymous.
func (h *APIHandler) withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := h.auth.ClassifyBearer(r.Context(), bearerToken(r))
		if err != nil {
			writeAPIError(w, h.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

func (h *APIHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	signed, err := decodeJSON[protocol.SignedRequest[protocol.SessionRequest]](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}

	msg := signed.TypedData
	if err := h.verifier.Verify(msg, signed.Signature, msg.Signer()); err != nil {
		writeAPIError(w, h.log, err)
		return
	}

	self, err := h.store.Self(r.Context())
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	if msg.Signer().Hex() != self.Address {
		writeAPIError(w, h.log, protocol.Errorf(protocol.CodeUnauthenticated, "only the node owner's key can open a session"))
		return
	}

	token, err := h.auth.IssueOwnerSession(r.Context(), defaultSessionTTL)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusCreated, map[string]string{"token": token})
}

type integrationTokenRequest struct {
	Permissions []string `json:"permissions"`
	TTLSeconds  int64    `json:"ttlSeconds"`
}

func (h *APIHandler) handleIntegrationToken(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if !callerFrom(r.Context()).IsOwner() {
		writeAPIError(w, h.log, protocol.Errorf(protocol.CodeForbidden, "only the owner may mint integration tokens"))
		return
	}

	req, err := decodeJSON[integrationTokenRequest](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 || ttl > maxIntegrationTTL {
		writeAPIError(w, h.log, protocol.Errorf(protocol.CodeValidationFailed, "ttlSeconds must be positive and at most one year"))
		return
	}

	token, err := h.auth.IssueIntegrationToken(r.Context(), req.Permissions, ttl)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusCreated, map[string]string{"token": token})
}

// fetchResult is the tagged union the fetch endpoint answers with.
type fetchResult struct {
	Type        string             `json:"type"`
	Node        *store.Node        `json:"node,omitempty"`
	Publication *store.Publication `json:"publication,omitempty"`
	Comment     *store.Comment     `json:"comment,omitempty"`
}

func (h *APIHandler) handleFetch(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	kind := strings.ToUpper(chi.URLParam(r, "type"))
	id := chi.URLParam(r, "id")

	switch kind {
	case "NODE":
		node, err := h.nodes.GetNode(r.Context(), id)
		if err != nil {
			writeAPIError(w, h.log, err)
			return
		}
		writeAPIData(w, http.StatusOK, fetchResult{Type: kind, Node: node})
	case "PUBLICATION":
		pub, err := h.publications.Get(r.Context(), caller, id)
		if err != nil {
			writeAPIError(w, h.log, err)
			return
		}
		writeAPIData(w, http.StatusOK, fetchResult{Type: kind, Publication: pub})
	case "COMMENT":
		comment, err := h.comments.Get(r.Context(), caller, id)
		if err != nil {
			writeAPIError(w, h.log, err)
			return
		}
		writeAPIData(w, http.StatusOK, fetchResult{Type: kind, Comment: comment})
	default:
		writeAPIError(w, h.log, protocol.Errorf(protocol.CodeValidationFailed, "unknown fetch type %q", kind))
	}
}

func (h *APIHandler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	limit, page, _, err := pageParams(r, apiDefaultLimit, apiMaxLimit)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	nodes, total, err := h.nodes.ListNodes(r.Context(), limit, (page-1)*limit)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, paged(nodes, page, limit, total))
}

func (h *APIHandler) handleListPublications(w http.ResponseWriter, r *http.Request) {
	limit, page, since, err := pageParams(r, apiDefaultLimit, apiMaxLimit)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	filter := store.PublicationFilter{
		AuthorAddress: r.URL.Query().Get("author"),
		Since:         since,
		Limit:         limit,
		Page:          page,
	}
	pubs, total, err := h.publications.List(r.Context(), callerFrom(r.Context()), filter)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, paged(pubs, page, limit, total))
}

func (h *APIHandler) handleListComments(w http.ResponseWriter, r *http.Request) {
	limit, page, _, err := pageParams(r, apiDefaultLimit, apiMaxLimit)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	filter := store.CommentFilter{
		PublicationID: r.URL.Query().Get("publicationId"),
		Limit:         limit,
		Page:          page,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		filter.Statuses = []store.CommentStatus{store.CommentStatus(strings.ToUpper(raw))}
	}
	comments, total, err := h.comments.List(r.Context(), callerFrom(r.Context()), filter)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, paged(comments, page, limit, total))
}

func (h *APIHandler) handleContent(w http.ResponseWriter, r *http.Request) {
	content, err := h.store.GetContent(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	if content.Type == store.ContentPost {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(content.Body))
		return
	}
	blob, err := h.store.OpenBlob(content)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	defer blob.Close()
	w.Header().Set("Content-Type", content.Mimetype)
	w.Header().Set("Content-Disposition", `attachment; filename="`+content.Filename+`"`)
	_, _ = io.Copy(w, blob)
}

type createPostRequest struct {
	Body        string `json:"body"`
	Description string `json:"description"`
}

func (h *APIHandler) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, err := decodeJSON[createPostRequest](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	pub, err := h.publications.CreatePost(r.Context(), callerFrom(r.Context()), services.PostInput{
		Body:        req.Body,
		Description: req.Description,
	})
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusCreated, pub)
}

func (h *APIHandler) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIError(w, h.log, protocol.Errorf(protocol.CodeInvalidPayload, "missing file field: %v", err))
		return
	}
	defer file.Close()

	pub, err := h.publications.CreateFile(r.Context(), callerFrom(r.Context()), services.FileInput{
		Filename:    header.Filename,
		Mimetype:    header.Header.Get("Content-Type"),
		Data:        file,
		Description: r.FormValue("description"),
	})
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusCreated, pub)
}

type updatePublicationRequest struct {
	Body        *string `json:"body"`
	Description *string `json:"description"`
}

func (h *APIHandler) handleUpdatePublication(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, err := decodeJSON[updatePublicationRequest](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	pub, err := h.publications.Update(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), services.UpdateInput{
		Body:        req.Body,
		Description: req.Description,
	})
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, pub)
}

func (h *APIHandler) handleSignPublication(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	signed, err := decodeJSON[protocol.SignedRequest[protocol.PublicationSignature]](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	pub, err := h.publications.Sign(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), signed)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, pub)
}

func (h *APIHandler) handleDestroyPublication(w http.ResponseWriter, r *http.Request) {
	if err := h.publications.Destroy(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *APIHandler) handleFollow(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	signed, err := decodeJSON[protocol.SignedRequest[protocol.ConnectionCreation]](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	created, err := h.connections.Create(r.Context(), signed)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	status := "exists"
	if created {
		status = "created"
	}
	writeAPIData(w, http.StatusCreated, map[string]string{"status": status})
}

func (h *APIHandler) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	signed, err := decodeJSON[protocol.SignedRequest[protocol.ConnectionDeletion]](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	if err := h.connections.Delete(r.Context(), signed, services.SurfaceOrchestration); err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *APIHandler) handleProfileBroadcast(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	signed, err := decodeJSON[protocol.SignedRequest[protocol.ProfileUpdate]](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	if err := h.nodes.BroadcastProfileUpdate(r.Context(), callerFrom(r.Context()), signed); err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, map[string]string{"status": "updated"})
}

type createCommentRequest struct {
	PublicationID string                                             `json:"publicationId"`
	Body          string                                             `json:"body"`
	CommenterName string                                             `json:"commenterName"`
	Email         string                                             `json:"email,omitempty"`
	Signed        *protocol.SignedRequest[protocol.CommentSignature] `json:"signed,omitempty"`
}

func (h *APIHandler) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, err := decodeJSON[createCommentRequest](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	comment, err := h.comments.Create(r.Context(), callerFrom(r.Context()), services.CommentInput{
		PublicationID: req.PublicationID,
		Body:          req.Body,
		CommenterName: req.CommenterName,
		Email:         req.Email,
		Signed:        req.Signed,
	})
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusCreated, comment)
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *APIHandler) handleConfirmComment(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, err := decodeJSON[tokenRequest](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	comment, err := h.comments.Confirm(r.Context(), req.Token)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, comment)
}

type deletionRequest struct {
	Email string `json:"email"`
}

func (h *APIHandler) handleCommentDeletionRequest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, err := decodeJSON[deletionRequest](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	if err := h.comments.RequestDeletion(r.Context(), chi.URLParam(r, "id"), req.Email); err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, map[string]string{"status": "mail sent"})
}

func (h *APIHandler) handleConfirmCommentDeletion(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, err := decodeJSON[tokenRequest](r)
	if err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	if err := h.comments.ConfirmDeletion(r.Context(), req.Token); err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type destroyCommentRequest struct {
	Signed *protocol.SignedRequest[protocol.CommentDeletion] `json:"signed,omitempty"`
}

func (h *APIHandler) handleDestroyComment(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := chi.URLParam(r, "id")

	// Commenters present a fresh signature; the owner moderates directly.
	req, err := decodeJSON[destroyCommentRequest](r)
	if err == nil && req.Signed != nil {
		if err := h.comments.DestroyWithSignature(r.Context(), id, *req.Signed); err != nil {
			writeAPIError(w, h.log, err)
			return
		}
		writeAPIData(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}

	if err := h.comments.Destroy(r.Context(), callerFrom(r.Context()), id); err != nil {
		writeAPIError(w, h.log, err)
		return
	}
	writeAPIData(w, http.StatusOK, map[string]string{"status": "deleted"})
}
