// Package models defines the persistent records shared by the store, auth and
// server packages.
package models

import "time"

// User is a registered account. Usernames are unique.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity is the authenticated principal resolved from a session token.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Room is a named chat channel.
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Invite grants room membership to whoever redeems it before ExpiresAt.
type Invite struct {
	Code      string    `json:"code"`
	RoomID    int64     `json:"room_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Message is one persisted chat line.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
