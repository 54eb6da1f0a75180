package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// MessageStore is the persistence the relay writes through.
type MessageStore interface {
	AppendMessage(ctx context.Context, roomID int64, sender, text string) (int64, error)
}

// Relay persists each inbound message and then fans it out to the other
// clients of the same room. Messages of one room are relayed one at a time so
// live recipients see them in persisted order.
type Relay struct {
	store MessageStore
	hub   *Hub
	log   zerolog.Logger

	mu    sync.Mutex
	rooms map[int64]*sync.Mutex
}

// NewRelay creates a Relay writing to store and broadcasting through hub.
func NewRelay(store MessageStore, hub *Hub, logger zerolog.Logger) *Relay {
	return &Relay{
		store: store,
		hub:   hub,
		log:   logger,
		rooms: make(map[int64]*sync.Mutex),
	}
}

// FormatPayload renders the wire form of a chat line.
func FormatPayload(sender, text string) []byte {
	return []byte(sender + ": " + text)
}

func (r *Relay) roomLock(roomID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.rooms[roomID]
	if !ok {
		l = &sync.Mutex{}
		r.rooms[roomID] = l
	}
	return l
}

// Publish stores text from sender and broadcasts it to roomID, excluding the
// sending client. If the store fails nothing is broadcast and the returned
// error wraps ErrPersistence.
func (r *Relay) Publish(ctx context.Context, roomID int64, fromClientID, sender, text string) (Delivery, error) {
	l := r.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	id, err := r.store.AppendMessage(ctx, roomID, sender, text)
	if err != nil {
		metrics.PersistenceFailures.Inc()
		return Delivery{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	metrics.MessagesPersisted.Inc()

	d := r.hub.Broadcast(roomID, fromClientID, FormatPayload(sender, text))
	r.log.Debug().
		Int64("message_id", id).
		Int64("room_id", roomID).
		Int("delivered", d.Delivered).
		Msg("message relayed")
	return d, nil
}
