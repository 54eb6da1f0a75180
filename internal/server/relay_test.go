package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryMessages struct {
	mu     sync.Mutex
	lines  []string
	failOn error
}

func (m *memoryMessages) AppendMessage(_ context.Context, _ int64, sender, text string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOn != nil {
		return 0, m.failOn
	}
	m.lines = append(m.lines, sender+": "+text)
	return int64(len(m.lines)), nil
}

func (m *memoryMessages) stored() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func TestFormatPayload(t *testing.T) {
	assert.Equal(t, "alice: hello there", string(FormatPayload("alice", "hello there")))
	assert.Equal(t, "bob: ", string(FormatPayload("bob", "")))
}

func TestRelayPublishPersistsThenBroadcasts(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	msgs := &memoryMessages{}
	relay := NewRelay(msgs, hub, zerolog.Nop())

	sender := newTestClient(hub, 1, "alice", 8)
	peer := newTestClient(hub, 1, "bob", 8)
	other := newTestClient(hub, 2, "carol", 8)
	for _, c := range []*Client{sender, peer, other} {
		require.NoError(t, hub.Register(c))
	}

	d, err := relay.Publish(context.Background(), 1, sender.ID(), "alice", "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, d.Delivered)
	assert.Equal(t, []string{"alice: hello"}, msgs.stored())
	assert.Equal(t, []string{"alice: hello"}, drain(peer))
	assert.Empty(t, drain(sender), "sender must not receive its own message")
	assert.Empty(t, drain(other))
}

func TestRelayPersistenceFailureSkipsBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	errDisk := errors.New("disk full")
	relay := NewRelay(&memoryMessages{failOn: errDisk}, hub, zerolog.Nop())

	sender := newTestClient(hub, 1, "alice", 8)
	peer := newTestClient(hub, 1, "bob", 8)
	require.NoError(t, hub.Register(sender))
	require.NoError(t, hub.Register(peer))

	d, err := relay.Publish(context.Background(), 1, sender.ID(), "alice", "hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, 0, d.Delivered)
	assert.Empty(t, drain(peer))
	assert.Equal(t, 2, hub.Count(), "a failed publish must not close any connection")
}

// TestRelayDeliversInPersistedOrder publishes from several goroutines into
// one room and checks the recipient saw exactly the stored order.
func TestRelayDeliversInPersistedOrder(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	msgs := &memoryMessages{}
	relay := NewRelay(msgs, hub, zerolog.Nop())

	listener := newTestClient(hub, 1, "listener", 256)
	require.NoError(t, hub.Register(listener))

	const writers, perWriter = 5, 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sender := fmt.Sprintf("user%d", w)
			for i := 0; i < perWriter; i++ {
				_, err := relay.Publish(context.Background(), 1, "", sender, fmt.Sprintf("msg %d", i))
				if err != nil {
					t.Error(err)
				}
			}
		}(w)
	}
	wg.Wait()

	received := drain(listener)
	require.Len(t, received, writers*perWriter)
	assert.Equal(t, msgs.stored(), received)
}
