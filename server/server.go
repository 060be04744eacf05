package server

import (
	"log/slog"
	"time"

	"github.com/epressworld/epress-sub000/api/httpserver"
	"github.com/epressworld/epress-sub000/protocol"
	"github.com/epressworld/epress-sub000/services"
	"github.com/epressworld/epress-sub000/store"
)

// Config carries everything the assembled node server needs.
type Config struct {
	ListenAddr  string
	EnablePprof bool

	// PeerTimeout bounds outbound federation calls; zero picks the
	// default.
	PeerTimeout time.Duration

	// CleanupInterval is the orphan sweep period; zero picks the
	// default.
	CleanupInterval time.Duration

	Log    *slog.Logger
	Mailer services.Mailer
}

// Server is the assembled node: both HTTP surfaces on one listener plus
// the background sweep.
type Server struct {
	base    *httpserver.BaseServer
	cleanup *services.CleanupRunner
	log     *slog.Logger

	Store        *store.Store
	Nodes        *services.NodeService
	Connections  *services.ConnectionService
	Publications *services.PublicationService
	Comments     *services.CommentService
	Auth         *services.AuthService
}

// New wires the store through the services into the two HTTP surfaces.
func New(cfg Config, st *store.Store) (*Server, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	verifier := protocol.NewVerifier()
	client := services.NewFederationClient(cfg.PeerTimeout)

	auth := services.NewAuthService(st)
	nodes := services.NewNodeService(st, client, verifier, log)
	connections := services.NewConnectionService(st, client, verifier, log)
	publications := services.NewPublicationService(st, verifier, log)
	comments := services.NewCommentService(st, auth, verifier, cfg.Mailer, log)

	protocolHandler := NewProtocolHandler(nodes, connections, st, log)
	apiHandler := NewAPIHandler(st, auth, verifier, nodes, connections, publications, comments, log)

	base, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.ListenAddr,
		EnablePprof:              cfg.EnablePprof,
		Log:                      log,
		DrainDuration:            10 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
	}, protocolHandler, apiHandler)
	if err != nil {
		return nil, err
	}

	return &Server{
		base:         base,
		cleanup:      services.NewCleanupRunner(st, cfg.CleanupInterval, log),
		log:          log,
		Store:        st,
		Nodes:        nodes,
		Connections:  connections,
		Publications: publications,
		Comments:     comments,
		Auth:         auth,
	}, nil
}

// RunInBackground starts the HTTP listener and the cleanup sweep.
func (s *Server) RunInBackground() {
	s.base.RunInBackground()
	s.cleanup.RunInBackground()
}

// Shutdown drains HTTP, stops the sweep, and waits for in-flight
// broadcast deliveries.
func (s *Server) Shutdown() {
	s.base.Shutdown()
	s.cleanup.Shutdown()
	s.Nodes.WaitBroadcasts()
}

// Base exposes the underlying HTTP server, mainly so tests can mount the
// assembled router inside httptest.
func (s *Server) Base() *httpserver.BaseServer {
	return s.base
}
