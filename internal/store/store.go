// Package store persists users, sessions, rooms, memberships, invites and
// messages. SQLiteStore is the default backend; PostgresStore is selected when
// a postgres:// URL is configured.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("store: username already exists")
)

// DataStore is implemented by SQLiteStore and PostgresStore.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByName(ctx context.Context, username string) (*models.User, error)

	// Sessions. SessionIdentity returns nil, nil when no session with the token
	// expires after now.
	CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error
	SessionIdentity(ctx context.Context, token string, now time.Time) (*models.Identity, error)
	DeleteSession(ctx context.Context, token string) error

	// Rooms and membership
	CreateRoom(ctx context.Context, name string, creatorID int64) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID int64) ([]models.Room, error)
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)
	AddMember(ctx context.Context, userID, roomID int64) error

	// Invites. InviteRoom returns ErrNotFound for unknown or expired codes.
	CreateInvite(ctx context.Context, code string, roomID int64, expiresAt time.Time) error
	InviteRoom(ctx context.Context, code string, now time.Time) (int64, error)

	// Messages. RecentMessages is newest first.
	AppendMessage(ctx context.Context, roomID int64, sender, text string) (int64, error)
	RecentMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error)
}

// Open returns a PostgresStore when databaseURL is a postgres URL and a
// SQLiteStore at sqlitePath otherwise.
func Open(ctx context.Context, databaseURL, sqlitePath string) (DataStore, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return NewPostgresStore(ctx, databaseURL)
	}
	return NewSQLiteStore(ctx, sqlitePath)
}
