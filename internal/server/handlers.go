// Package server exposes HTTP handlers, including the authorized WebSocket
// upgrade, health checks, and shared request helpers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/models"
)

const sessionCookieName = "session_token"

// JSON sends a JSON response with the given status code.
func (s *Server) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("error writing JSON response")
	}
}

// Error sends a JSON error response with the given status code.
func (s *Server) Error(w http.ResponseWriter, status int, message string) {
	s.JSON(w, status, map[string]string{"error": message})
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		s.Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrForbidden):
		s.Error(w, http.StatusForbidden, err.Error())
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		s.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sessionToken returns the token from the session cookie, falling back to an
// Authorization bearer header.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// authenticate resolves the caller's identity or returns ErrUnauthenticated.
func (s *Server) authenticate(r *http.Request) (*models.Identity, error) {
	id, err := s.sessions.Validate(r.Context(), sessionToken(r))
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, ErrUnauthenticated
	}
	return id, nil
}

// authorizeRoom returns ErrForbidden unless userID is a member of roomID.
func (s *Server) authorizeRoom(ctx context.Context, userID, roomID int64) error {
	ok, err := s.store.IsMember(ctx, userID, roomID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func parseRoomID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid room id %q", chi.URLParam(r, "roomID"))
	}
	return id, nil
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}
	return name
}

// ServeWS upgrades an authorized request to a WebSocket bound to the room in
// the URL. The session and the room membership are checked before the
// upgrade, so a refused request never reaches the hub.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		s.rejectUpgrade(w, r, err)
		return
	}

	roomID, err := parseRoomID(r)
	if err != nil {
		metrics.UpgradesRejected.WithLabelValues("bad_room").Inc()
		s.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.authorizeRoom(r.Context(), identity.UserID, roomID); err != nil {
		s.rejectUpgrade(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.UpgradesRejected.WithLabelValues("handshake").Inc()
		s.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, s.relay, roomID, *identity, r.RemoteAddr, s.cfg)
	if err := s.hub.Serve(client); err != nil {
		s.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("refusing connection")
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
	}
}

func (s *Server) rejectUpgrade(w http.ResponseWriter, r *http.Request, err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrUnauthenticated):
		reason = "unauthenticated"
	case errors.Is(err, ErrForbidden):
		reason = "forbidden"
	}
	metrics.UpgradesRejected.WithLabelValues(reason).Inc()
	s.fail(w, r, err)
}

// Root provides a plain-text liveness response.
func (s *Server) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "roomchat server is running!")
}

// methodNotAllowed replaces chi's default 405 response.
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	msg := "Method not allowed."
	if strings.HasPrefix(r.URL.Path, "/ws/") {
		msg = "Method not allowed. WebSocket endpoint only accepts GET requests."
	}
	http.Error(w, msg, http.StatusMethodNotAllowed)
}
