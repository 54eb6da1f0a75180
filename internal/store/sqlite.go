package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Tyrowin/roomchat/internal/models"
)

var _ DataStore = (*SQLiteStore)(nil)

// SQLiteStore handles SQLite database operations. It holds a single
// connection, so every statement is serialized through it.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (and if needed creates) the database at dbPath.
// If dbPath is empty, defaults to "./data/roomchat.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/roomchat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL UNIQUE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memberships (
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (room_id, user_id)
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS invites (
		code TEXT PRIMARY KEY,
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		sender TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages(room_id, created_at, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a user; a taken username yields ErrUserExists.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)
	`, username, passwordHash, now)
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// GetUserByName retrieves a user by username.
func (s *SQLiteStore) GetUserByName(ctx context.Context, username string) (*models.User, error) {
	u := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = ?
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// CreateSession stores a session token for userID.
func (s *SQLiteStore) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)
	`, token, userID, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionIdentity resolves an unexpired session token to its user.
func (s *SQLiteStore) SessionIdentity(ctx context.Context, token string, now time.Time) (*models.Identity, error) {
	id := &models.Identity{}
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username
		FROM sessions AS s
		JOIN users AS u ON u.id = s.user_id
		WHERE s.token = ? AND s.expires_at > ?
	`, token, now.UTC()).Scan(&id.UserID, &id.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return id, nil
}

// DeleteSession removes a session; unknown tokens are not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CreateRoom creates a room and makes creatorID its first member.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string, creatorID int64) (*models.Room, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create room: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO rooms (name, created_at) VALUES (?, ?)`, name, now)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	roomID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("room id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (room_id, user_id) VALUES (?, ?)
	`, roomID, creatorID); err != nil {
		return nil, fmt.Errorf("insert creator membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create room: %w", err)
	}

	return &models.Room{ID: roomID, Name: name, CreatedAt: now}, nil
}

// ListRoomsForUser returns the rooms userID belongs to, oldest first.
func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, userID int64) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.created_at
		FROM rooms AS r
		JOIN memberships AS m ON m.room_id = r.id
		WHERE m.user_id = ?
		ORDER BY r.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("select rooms: %w", err)
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// IsMember reports whether userID belongs to roomID.
func (s *SQLiteStore) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM memberships WHERE user_id = ? AND room_id = ?
	`, userID, roomID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select membership: %w", err)
	}
	return true, nil
}

// AddMember grants membership; an existing membership is left as is.
func (s *SQLiteStore) AddMember(ctx context.Context, userID, roomID int64) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO memberships (room_id, user_id) VALUES (?, ?)
	`, roomID, userID); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// CreateInvite stores an invite code for roomID.
func (s *SQLiteStore) CreateInvite(ctx context.Context, code string, roomID int64, expiresAt time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO invites (code, room_id, expires_at) VALUES (?, ?, ?)
	`, code, roomID, expiresAt.UTC()); err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

// InviteRoom returns the room an unexpired invite code points to.
func (s *SQLiteStore) InviteRoom(ctx context.Context, code string, now time.Time) (int64, error) {
	var roomID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id FROM invites WHERE code = ? AND expires_at > ?
	`, code, now.UTC()).Scan(&roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("select invite: %w", err)
	}
	return roomID, nil
}

// AppendMessage persists one message stamped with the current time. The stamp
// never precedes the room's latest message, so timestamp order and id order
// agree within a room.
func (s *SQLiteStore) AppendMessage(ctx context.Context, roomID int64, sender, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (room_id, sender, body, created_at)
		SELECT ?, ?, ?, MAX(?, COALESCE((SELECT MAX(created_at) FROM messages WHERE room_id = ?), ''))
	`, roomID, sender, text, s.now().UTC(), roomID)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}
	return id, nil
}

// RecentMessages returns up to limit messages of roomID, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	msgs := []models.Message{}
	if limit <= 0 {
		return msgs, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender, body, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func isSQLiteUnique(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
