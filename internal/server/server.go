// Package server implements the HTTP server functionality for roomchat.
package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Server wires the store, session service, hub and relay behind the HTTP API.
type Server struct {
	cfg      Config
	store    store.DataStore
	sessions *auth.Sessions
	hasher   *auth.PasswordHasher
	hub      *Hub
	relay    *Relay
	upgrader websocket.Upgrader
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a Server backed by ds. Invalid cfg values fall back to defaults.
func New(cfg Config, ds store.DataStore, logger zerolog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	hub := NewHub(logger)
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	return &Server{
		cfg:      cfg,
		store:    ds,
		sessions: auth.NewSessions(ds, cfg.SessionTTL),
		hasher:   auth.NewPasswordHasher(cfg.BcryptCost),
		hub:      hub,
		relay:    NewRelay(ds, hub, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		log: logger,
		now: time.Now,
	}
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Sessions returns the session service.
func (s *Server) Sessions() *auth.Sessions {
	return s.sessions
}

// Shutdown closes every WebSocket connection and waits for their pumps.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}
