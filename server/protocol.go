package server

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/services"
	"github.com/epressworld/epress-sub000/store"
)

const (
	protocolDefaultLimit = 20
	protocolMaxLimit     = 1000
)

// ProtocolHandler serves the federation surface peers talk to. Every
// endpoint is unauthenticated: signed typed-data payloads carry their own
// authorization, and the read endpoints expose only public state.
type ProtocolHandler struct {
	nodes       *services.NodeService
	connections *services.ConnectionService
	store       *store.Store
	log         *slog.Logger
}

// NewProtocolHandler builds the federation surface.
func NewProtocolHandler(nodes *services.NodeService, connections *services.ConnectionService, st *store.Store, log *slog.Logger) *ProtocolHandler {
	return &ProtocolHandler{nodes: nodes, connections: connections, store: st, log: log}
}

func (h *ProtocolHandler) RegisterRoutes(r chi.Router) {
	r.Get("/protocol/profile", h.handleProfile)
	r.Post("/protocol/connections", h.handleConnectionCreate)
	r.Delete("/protocol/connections", h.handleConnectionDelete)
	r.Post("/protocol/nodes/updates", h.handleProfileUpdate)
	r.Get("/protocol/publications", h.handlePublications)
	r.Get("/protocol/contents/{hash}", h.handleContent)
}

func (h *ProtocolHandler) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.nodes.Profile(r.Context())
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *ProtocolHandler) handleConnectionCreate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	signed, err := decodeJSON[protocol.SignedRequest[protocol.ConnectionCreation]](r)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	created, err := h.connections.Create(r.Context(), signed)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	if !created {
		// The edge was already there. The pushing side folds this into
		// success, so both nodes converge either way.
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": string(protocol.CodeConnectionAlreadyExists),
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (h *ProtocolHandler) handleConnectionDelete(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	signed, err := decodeJSON[protocol.SignedRequest[protocol.ConnectionDeletion]](r)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	if err := h.connections.Delete(r.Context(), signed, services.SurfaceProtocol); err != nil {
		writeProtocolError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProtocolHandler) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	signed, err := decodeJSON[protocol.SignedRequest[protocol.ProfileUpdate]](r)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	if err := h.nodes.ApplyRemoteProfileUpdate(r.Context(), signed); err != nil {
		writeProtocolError(w, err)
		return
	}
	// Applied and version no-op look the same from outside.
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProtocolHandler) handlePublications(w http.ResponseWriter, r *http.Request) {
	limit, page, since, err := pageParams(r, protocolDefaultLimit, protocolMaxLimit)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	self, err := h.store.Self(r.Context())
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	pubs, total, err := h.store.ListPublications(r.Context(), store.PublicationFilter{
		AuthorAddress: self.Address,
		Since:         since,
		Limit:         limit,
		Page:          page,
	})
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(pubs, page, limit, total))
}

// handleContent serves a content row by hash so peers can replicate
// publication bodies and files.
func (h *ProtocolHandler) handleContent(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	content, err := h.store.GetContent(r.Context(), hash)
	if err != nil {
		writeProtocolError(w, err)
		return
	}

	if content.Type == store.ContentPost {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(content.Body))
		return
	}

	blob, err := h.store.OpenBlob(content)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	defer blob.Close()
	w.Header().Set("Content-Type", content.Mimetype)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, blob)
}
