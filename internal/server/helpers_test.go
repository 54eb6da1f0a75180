package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/roomchat/internal/models"
	"github.com/Tyrowin/roomchat/internal/store"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	store *store.SQLiteStore
}

// newTestEnv starts the full HTTP stack on a temporary SQLite database.
func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	cfg := *NewConfig()
	cfg.BcryptCost = bcrypt.MinCost
	for _, m := range mutate {
		m(&cfg)
	}

	ds, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err, "failed to open test database")

	srv := New(cfg, ds, zerolog.Nop())
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		_ = srv.Shutdown(2 * time.Second)
		ts.Close()
		ds.Close()
	})

	return &testEnv{srv: srv, ts: ts, store: ds}
}

// do sends an HTTP request with an optional bearer token and JSON body.
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var r io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// login authenticates username (registering it on first use) and returns the
// session token.
func (e *testEnv) login(t *testing.T, username string) (string, int64) {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/auth", "", credentials{Username: username, Password: "secret-" + username})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out AuthResponse
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out.Token)
	return out.Token, out.UserID
}

func (e *testEnv) createRoom(t *testing.T, token, name string) models.Room {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/rooms", token, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var room models.Room
	decodeBody(t, resp, &room)
	return room
}

func (e *testEnv) invite(t *testing.T, token string, roomID int64) string {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/rooms/"+strconv.FormatInt(roomID, 10)+"/invites", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var inv models.Invite
	decodeBody(t, resp, &inv)
	return inv.Code
}

func (e *testEnv) wsURL(roomPath string) string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws/" + roomPath
}

// dial opens a WebSocket to roomPath using token as the session cookie.
func (e *testEnv) dial(token, roomPath string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	if token != "" {
		headers.Set("Cookie", sessionCookieName+"="+token)
	}

	conn, resp, err := dialer.Dial(e.wsURL(roomPath), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// connect dials roomID and fails the test if the upgrade is refused.
func (e *testEnv) connect(t *testing.T, token string, roomID int64) *websocket.Conn {
	t.Helper()

	conn, _, err := e.dial(token, strconv.FormatInt(roomID, 10))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	return string(data)
}

// expectSilence asserts nothing arrives within d. A timed-out gorilla
// connection cannot be read again, so this must be the last read on conn.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected message %q", data)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
}

// newTestClient builds a client without a transport, for registry tests.
func newTestClient(hub *Hub, roomID int64, username string, bufferSize int) *Client {
	cfg := *NewConfig()
	cfg.SendBufferSize = bufferSize
	return NewClient(nil, hub, nil, roomID, models.Identity{Username: username}, "127.0.0.1:12345", cfg)
}

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}
