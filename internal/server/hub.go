// Package server coordinates client registration, room-scoped broadcast, and
// connection cleanup for the roomchat WebSocket system via the Hub type.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

// Hub is the registry of live WebSocket clients, keyed by client id.
// Register, Deregister and the iterate-and-send loop of Broadcast each run
// under a single RWMutex, so an entry is never observed half-initialized and
// a send queue is never closed while a broadcast is sending to it.
type Hub struct {
	mutex   sync.RWMutex
	clients map[string]*Client
	closed  bool
	wg      sync.WaitGroup
	log     zerolog.Logger
}

// NewHub creates an empty Hub ready to register clients.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     logger,
	}
}

// Register adds c to the registry. It fails with ErrHubClosed once Shutdown
// has started.
func (h *Hub) Register(c *Client) error {
	return h.add(c, 0)
}

// add registers c and, in the same critical section, accounts for pumps
// goroutines that Shutdown must wait for.
func (h *Hub) add(c *Client, pumps int) error {
	if c == nil {
		return fmt.Errorf("register: nil client")
	}

	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return ErrHubClosed
	}
	if _, exists := h.clients[c.id]; exists {
		h.mutex.Unlock()
		return fmt.Errorf("register: client %s already registered", c.id)
	}
	h.clients[c.id] = c
	h.wg.Add(pumps)
	clientCount := len(h.clients)
	metrics.ConnectedClients.Set(float64(clientCount))
	h.mutex.Unlock()

	h.log.Info().
		Str("client_id", c.id).
		Int64("room_id", c.roomID).
		Str("remote_addr", c.addr).
		Int("clients", clientCount).
		Msg("client registered")
	return nil
}

// Deregister removes the client with the given id and closes its send queue.
// It reports whether an entry was removed; unknown or already removed ids are
// a no-op.
func (h *Hub) Deregister(id string) bool {
	h.mutex.Lock()
	client, ok := h.clients[id]
	if !ok {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, id)
	close(client.send)
	clientCount := len(h.clients)
	metrics.ConnectedClients.Set(float64(clientCount))
	h.mutex.Unlock()

	h.log.Info().
		Str("client_id", id).
		Int64("room_id", client.roomID).
		Int("clients", clientCount).
		Msg("client unregistered")
	return true
}

// Broadcast queues payload for every client in roomID except excludeID.
// Sends never block: a recipient whose queue is full misses this payload and
// the rest of the room is unaffected.
func (h *Hub) Broadcast(roomID int64, excludeID string, payload []byte) Delivery {
	var d Delivery

	h.mutex.RLock()
	for id, client := range h.clients {
		if client.roomID != roomID || id == excludeID {
			continue
		}
		select {
		case client.send <- payload:
			d.Delivered++
		default:
			d.Dropped = append(d.Dropped, id)
		}
	}
	h.mutex.RUnlock()

	metrics.Deliveries.Add(float64(d.Delivered))
	if len(d.Dropped) > 0 {
		metrics.DeliveryDrops.Add(float64(len(d.Dropped)))
		h.log.Warn().
			Int64("room_id", roomID).
			Strs("client_ids", d.Dropped).
			Msg("send buffer full; message dropped for slow clients")
	}
	h.log.Debug().
		Int64("room_id", roomID).
		Int("delivered", d.Delivered).
		Msg("broadcast")
	return d
}

// Count returns the number of registered clients across all rooms.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of registered clients in roomID.
func (h *Hub) RoomCount(roomID int64) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	n := 0
	for _, client := range h.clients {
		if client.roomID == roomID {
			n++
		}
	}
	return n
}

// Serve registers c and starts its read and write pumps.
func (h *Hub) Serve(c *Client) error {
	if err := h.add(c, 2); err != nil {
		return err
	}

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	return nil
}

// Shutdown refuses new registrations, terminates every registered client and
// waits for their pumps to exit or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.mutex.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.terminate()
	}
	h.log.Info().Int("clients", len(clients)).Msg("closed client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
