package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/models"
	"github.com/Tyrowin/roomchat/internal/store"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by a successful login or registration.
type AuthResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

func decodeCredentials(r *http.Request) (credentials, error) {
	var c credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := json.NewDecoder(r.Body).Decode(&c)
		return c, err
	}
	if err := r.ParseForm(); err != nil {
		return c, err
	}
	c.Username = r.PostFormValue("username")
	c.Password = r.PostFormValue("password")
	return c, nil
}

// Auth logs an existing user in, or registers the username when it is
// unknown, and starts a session.
func (s *Server) Auth(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(r)
	if err != nil {
		s.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username := sanitizeName(creds.Username)
	if username == "" || creds.Password == "" {
		s.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if len(creds.Password) > auth.MaxPasswordBytes {
		s.Error(w, http.StatusBadRequest, "password must be at most 72 bytes")
		return
	}

	ctx := r.Context()
	user, err := s.store.GetUserByName(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		user, err = s.register(ctx, username, creds.Password)
		if errors.Is(err, store.ErrUserExists) {
			s.Error(w, http.StatusConflict, "username already taken")
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	case err != nil:
		s.fail(w, r, err)
		return
	case !s.hasher.Verify(creds.Password, user.PasswordHash):
		s.Error(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.setSessionCookie(w, token, s.now().Add(s.sessions.TTL()))
	s.JSON(w, http.StatusOK, AuthResponse{UserID: user.ID, Username: user.Username, Token: token})
}

func (s *Server) register(ctx context.Context, username, password string) (*models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	return s.store.CreateUser(ctx, username, hash)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// Logout revokes the caller's session, if any, and clears the cookie.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Revoke(r.Context(), sessionToken(r)); err != nil {
		s.fail(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// ListRooms returns the rooms the caller belongs to.
func (s *Server) ListRooms(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())

	rooms, err := s.store.ListRoomsForUser(r.Context(), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.JSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// CreateRoom creates a room with the caller as its first member.
func (s *Server) CreateRoom(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := sanitizeName(req.Name)
	if name == "" {
		s.Error(w, http.StatusBadRequest, "room name is required")
		return
	}

	room, err := s.store.CreateRoom(r.Context(), name, identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info().Int64("room_id", room.ID).Int64("user_id", identity.UserID).Msg("room created")
	s.JSON(w, http.StatusCreated, room)
}

// RoomMessages returns the latest messages of a room in chronological order.
// The limit query parameter is capped at the configured history limit.
func (s *Server) RoomMessages(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())

	roomID, err := parseRoomID(r)
	if err != nil {
		s.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.authorizeRoom(r.Context(), identity.UserID, roomID); err != nil {
		s.fail(w, r, err)
		return
	}

	limit := s.cfg.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, s.cfg.HistoryLimit)
	}

	msgs, err := s.store.RecentMessages(r.Context(), roomID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	s.JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// CreateInvite issues an invite code for a room the caller belongs to.
func (s *Server) CreateInvite(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())

	roomID, err := parseRoomID(r)
	if err != nil {
		s.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.authorizeRoom(r.Context(), identity.UserID, roomID); err != nil {
		s.fail(w, r, err)
		return
	}

	invite := models.Invite{
		Code:      uuid.NewString(),
		RoomID:    roomID,
		ExpiresAt: s.now().Add(s.cfg.InviteTTL).UTC(),
	}
	if err := s.store.CreateInvite(r.Context(), invite.Code, invite.RoomID, invite.ExpiresAt); err != nil {
		s.fail(w, r, err)
		return
	}
	s.JSON(w, http.StatusCreated, invite)
}

// RedeemInvite adds the caller to the room an unexpired invite points to.
// Redeeming again, or as an existing member, succeeds.
func (s *Server) RedeemInvite(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())

	roomID, err := s.store.InviteRoom(r.Context(), chi.URLParam(r, "code"), s.now())
	if errors.Is(err, store.ErrNotFound) {
		s.Error(w, http.StatusNotFound, "invite not found or expired")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.store.AddMember(r.Context(), identity.UserID, roomID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info().Int64("room_id", roomID).Int64("user_id", identity.UserID).Msg("invite redeemed")
	s.JSON(w, http.StatusOK, map[string]int64{"room_id": roomID})
}

// Status reports the number of live WebSocket connections.
func (s *Server) Status(w http.ResponseWriter, _ *http.Request) {
	s.JSON(w, http.StatusOK, map[string]int{"connected_clients": s.hub.Count()})
}

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Checks    map[string]Check `json:"checks"`
	Clients   int              `json:"connected_clients"`
	Timestamp string           `json:"timestamp"`
}

// Health pings the store and reports 503 when it is unreachable.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	status, code := "healthy", http.StatusOK

	start := time.Now()
	if err := s.store.Ping(ctx); err != nil {
		checks["database"] = Check{Status: "fail", Message: "connection failed"}
		status, code = "degraded", http.StatusServiceUnavailable
	} else {
		checks["database"] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	s.JSON(w, code, HealthResponse{
		Status:    status,
		Checks:    checks,
		Clients:   s.hub.Count(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
