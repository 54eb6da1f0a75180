package server

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/models"
	"github.com/Tyrowin/roomchat/internal/store"
)

func TestRootHandler(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "roomchat server is running!", string(body))
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	t.Run("first login registers", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/auth", "", credentials{Username: "alice", Password: "pw"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out AuthResponse
		decodeBody(t, resp, &out)
		assert.Equal(t, "alice", out.Username)
		assert.NotZero(t, out.UserID)

		var cookie *http.Cookie
		for _, c := range resp.Cookies() {
			if c.Name == sessionCookieName {
				cookie = c
			}
		}
		require.NotNil(t, cookie, "session cookie must be set")
		assert.Equal(t, out.Token, cookie.Value)
		assert.True(t, cookie.HttpOnly)
		assert.Equal(t, "/", cookie.Path)
	})

	t.Run("second login reuses the account", func(t *testing.T) {
		first := env.do(t, http.MethodPost, "/auth", "", credentials{Username: "bob", Password: "pw"})
		second := env.do(t, http.MethodPost, "/auth", "", credentials{Username: "bob", Password: "pw"})
		require.Equal(t, http.StatusOK, first.StatusCode)
		require.Equal(t, http.StatusOK, second.StatusCode)

		var a, b AuthResponse
		decodeBody(t, first, &a)
		decodeBody(t, second, &b)
		assert.Equal(t, a.UserID, b.UserID)
		assert.NotEqual(t, a.Token, b.Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		env.do(t, http.MethodPost, "/auth", "", credentials{Username: "carol", Password: "right"})
		resp := env.do(t, http.MethodPost, "/auth", "", credentials{Username: "carol", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("blank fields", func(t *testing.T) {
		for _, c := range []credentials{{Username: "", Password: "pw"}, {Username: "dave", Password: ""}, {Username: "  ", Password: "pw"}} {
			resp := env.do(t, http.MethodPost, "/auth", "", c)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		}
	})

	t.Run("password longer than bcrypt accepts", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/auth", "", credentials{Username: "longpw", Password: strings.Repeat("p", 100)})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		_, err := env.store.GetUserByName(context.Background(), "longpw")
		assert.ErrorIs(t, err, store.ErrNotFound, "rejected signup must not create the user")

		resp = env.do(t, http.MethodPost, "/auth", "", credentials{Username: "longpw", Password: strings.Repeat("p", 72)})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("form encoded", func(t *testing.T) {
		form := url.Values{"username": {"erin"}, "password": {"pw"}}
		resp, err := http.Post(env.ts.URL+"/auth", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		resp, err := http.Post(env.ts.URL+"/auth", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.login(t, "alice")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/rooms", token, nil).StatusCode)

	resp := env.do(t, http.MethodPost, "/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/rooms", token, nil).StatusCode)

	// Logging out twice, or without a session, is fine.
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/logout", token, nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/logout", "", nil).StatusCode)
}

func TestRoomsRequireSession(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/rooms", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/rooms", "bogus", map[string]string{"name": "x"}).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/rooms/1/messages", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/invites/abc", "", nil).StatusCode)
}

func TestCreateAndListRooms(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.login(t, "alice")
	bob, _ := env.login(t, "bob")

	general := env.createRoom(t, alice, "general")
	assert.Equal(t, "general", general.Name)

	resp := env.do(t, http.MethodPost, "/rooms", alice, map[string]string{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var listed struct {
		Rooms []models.Room `json:"rooms"`
	}
	decodeBody(t, env.do(t, http.MethodGet, "/rooms", alice, nil), &listed)
	require.Len(t, listed.Rooms, 1)
	assert.Equal(t, general.ID, listed.Rooms[0].ID)

	decodeBody(t, env.do(t, http.MethodGet, "/rooms", bob, nil), &listed)
	assert.Empty(t, listed.Rooms)
}

func TestRoomMessagesHistory(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.HistoryLimit = 3 })
	alice, _ := env.login(t, "alice")
	bob, _ := env.login(t, "bob")
	room := env.createRoom(t, alice, "general")
	path := "/rooms/" + strconv.FormatInt(room.ID, 10) + "/messages"

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		_, err := env.store.AppendMessage(t.Context(), room.ID, "alice", text)
		require.NoError(t, err)
	}

	history := func(query string) []string {
		t.Helper()
		resp := env.do(t, http.MethodGet, path+query, alice, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Messages []models.Message `json:"messages"`
		}
		decodeBody(t, resp, &out)
		texts := make([]string, len(out.Messages))
		for i, m := range out.Messages {
			texts[i] = m.Text
		}
		return texts
	}

	assert.Equal(t, []string{"three", "four", "five"}, history(""), "default is the latest N, oldest first")
	assert.Equal(t, []string{"four", "five"}, history("?limit=2"))
	assert.Equal(t, []string{"three", "four", "five"}, history("?limit=100"), "limit is capped")

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, path+"?limit=-1", alice, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/rooms/abc/messages", alice, nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, path, bob, nil).StatusCode)
}

func TestInvites(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.login(t, "alice")
	bob, bobID := env.login(t, "bob")
	carol, _ := env.login(t, "carol")
	room := env.createRoom(t, alice, "general")
	invitePath := "/rooms/" + strconv.FormatInt(room.ID, 10) + "/invites"

	t.Run("non-member cannot invite", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, invitePath, bob, nil).StatusCode)
	})

	t.Run("invite carries an expiry", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, invitePath, alice, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var inv models.Invite
		decodeBody(t, resp, &inv)
		assert.NotEmpty(t, inv.Code)
		assert.Equal(t, room.ID, inv.RoomID)
		assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), inv.ExpiresAt, time.Minute)
	})

	t.Run("redeem grants membership and is repeatable", func(t *testing.T) {
		code := env.invite(t, alice, room.ID)

		for i := 0; i < 2; i++ {
			resp := env.do(t, http.MethodPost, "/invites/"+code, bob, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var out map[string]int64
			decodeBody(t, resp, &out)
			assert.Equal(t, room.ID, out["room_id"])
		}

		ok, err := env.store.IsMember(t.Context(), bobID, room.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		// The same code still works for another user.
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/invites/"+code, carol, nil).StatusCode)
	})

	t.Run("unknown code", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/invites/nope", bob, nil).StatusCode)
	})

	t.Run("expired code", func(t *testing.T) {
		require.NoError(t, env.store.CreateInvite(t.Context(), "stale", room.ID, time.Now().Add(-time.Minute)))
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/invites/stale", carol, nil).StatusCode)
	})
}

func TestStatusAndHealth(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.login(t, "alice")
	room := env.createRoom(t, token, "general")
	env.connect(t, token, room.ID)
	require.Eventually(t, func() bool { return env.srv.Hub().Count() == 1 }, eventually, 10*time.Millisecond)

	var status map[string]int
	decodeBody(t, env.do(t, http.MethodGet, "/status", "", nil), &status)
	assert.Equal(t, 1, status["connected_clients"])

	resp := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["database"].Status)

	env.store.Close()
	resp = env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/status", "", nil)

	resp := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "roomchat_http_requests_total")
	assert.Contains(t, string(body), `path="/status"`)
	assert.Contains(t, string(body), "roomchat_connected_clients")
}
