package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyrowin/roomchat/internal/models"
)

const pgUniqueViolation = "23505"

var _ DataStore = (*PostgresStore)(nil)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id BIGSERIAL PRIMARY KEY,
		token TEXT NOT NULL UNIQUE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS memberships (
		room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS invites (
		code TEXT PRIMARY KEY,
		room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		sender TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages(room_id, created_at DESC, id DESC);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser inserts a user; a taken username yields ErrUserExists.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	u := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created_at
	`, username, passwordHash).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUserByName retrieves a user by username.
func (s *PostgresStore) GetUserByName(ctx context.Context, username string) (*models.User, error) {
	u := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// CreateSession stores a session token for userID.
func (s *PostgresStore) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionIdentity resolves an unexpired session token to its user.
func (s *PostgresStore) SessionIdentity(ctx context.Context, token string, now time.Time) (*models.Identity, error) {
	id := &models.Identity{}
	err := s.pool.QueryRow(ctx, `
		SELECT u.id, u.username
		FROM sessions AS s
		JOIN users AS u ON u.id = s.user_id
		WHERE s.token = $1 AND s.expires_at > $2
	`, token, now).Scan(&id.UserID, &id.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return id, nil
}

// DeleteSession removes a session; unknown tokens are not an error.
func (s *PostgresStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CreateRoom creates a room and makes creatorID its first member.
func (s *PostgresStore) CreateRoom(ctx context.Context, name string, creatorID int64) (*models.Room, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create room: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	room := &models.Room{}
	if err := tx.QueryRow(ctx, `
		INSERT INTO rooms (name) VALUES ($1) RETURNING id, name, created_at
	`, name).Scan(&room.ID, &room.Name, &room.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO memberships (room_id, user_id) VALUES ($1, $2)
	`, room.ID, creatorID); err != nil {
		return nil, fmt.Errorf("insert creator membership: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create room: %w", err)
	}
	return room, nil
}

// ListRoomsForUser returns the rooms userID belongs to, oldest first.
func (s *PostgresStore) ListRoomsForUser(ctx context.Context, userID int64) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name, r.created_at
		FROM rooms AS r
		JOIN memberships AS m ON m.room_id = r.id
		WHERE m.user_id = $1
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
func (s *PostgresStore) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM memberships WHERE user_id = $1 AND room_id = $2)
	`, userID, roomID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select membership: %w", err)
	}
	return exists, nil
}

// AddMember grants membership; an existing membership is left as is.
func (s *PostgresStore) AddMember(ctx context.Context, userID, roomID int64) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO memberships (room_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, roomID, userID); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// CreateInvite stores an invite code for roomID.
func (s *PostgresStore) CreateInvite(ctx context.Context, code string, roomID int64, expiresAt time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO invites (code, room_id, expires_at) VALUES ($1, $2, $3)
	`, code, roomID, expiresAt); err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

// InviteRoom returns the room an unexpired invite code points to.
func (s *PostgresStore) InviteRoom(ctx context.Context, code string, now time.Time) (int64, error) {
	var roomID int64
	err := s.pool.QueryRow(ctx, `
		SELECT room_id FROM invites WHERE code = $1 AND expires_at > $2
	`, code, now).Scan(&roomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("select invite: %w", err)
	}
	return roomID, nil
}

// AppendMessage persists one message; created_at is assigned by the server.
// Appends to one room are serialized on the room row and the stamp never
// precedes the room's latest message, so timestamp order and id order agree.
func (s *PostgresStore) AppendMessage(ctx context.Context, roomID int64, sender, text string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append message: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT 1 FROM rooms WHERE id = $1 FOR UPDATE`, roomID); err != nil {
		return 0, fmt.Errorf("lock room: %w", err)
	}

	var id int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO messages (room_id, sender, body, created_at)
		VALUES ($1, $2, $3, GREATEST(clock_timestamp(),
			COALESCE((SELECT MAX(created_at) FROM messages WHERE room_id = $1), '-infinity'::timestamptz)))
		RETURNING id
	`, roomID, sender, text).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append message: %w", err)
	}
	return id, nil
}

// RecentMessages returns up to limit messages of roomID, newest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	msgs := []models.Message{}
	if limit <= 0 {
		return msgs, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, sender, body, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
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
