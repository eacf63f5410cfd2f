package client

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danrezi-gif/encontro/internal/presence"
	"github.com/danrezi-gif/encontro/internal/protocol"
)

func newDetachedPresenceSync() *PresenceSync {
	// A manager that never connects; handleMessage is driven directly.
	network := NewNetworkManager("ws://127.0.0.1:1/ws", clockwork.NewFakeClock())
	return NewPresenceSync(network, clockwork.NewFakeClock())
}

func TestRemoteStateCreatedOnFirstUpdate(t *testing.T) {
	p := newDetachedPresenceSync()

	_, ok := p.RemoteState("u2", time.Now())
	assert.False(t, ok)

	p.handleMessage(&protocol.RemotePresenceUpdate{
		UserID: "u2",
		State:  snapshotAt(time.Now().UnixMilli(), 7),
	})

	got, ok := p.RemoteState("u2", time.Now())
	require.True(t, ok)
	assert.Equal(t, 7.0, got.Position.X)
	assert.Equal(t, []string{"u2"}, p.RemoteUserIDs())
}

func TestRemoteDroppedOnUserLeft(t *testing.T) {
	p := newDetachedPresenceSync()

	p.handleMessage(&protocol.RemotePresenceUpdate{
		UserID: "u2",
		State:  snapshotAt(1000, 1),
	})
	p.handleMessage(&protocol.UserLeft{UserID: "u2"})

	_, ok := p.RemoteState("u2", time.Now())
	assert.False(t, ok)
	assert.Empty(t, p.RemoteUserIDs())
}

func TestUnrelatedMessagesIgnored(t *testing.T) {
	p := newDetachedPresenceSync()
	p.handleMessage(&protocol.CeremonyStart{StartTime: 1})
	p.handleMessage(&protocol.MergeDeny{})
	assert.Empty(t, p.RemoteUserIDs())
}

func TestStartSendingIdempotentAndStoppable(t *testing.T) {
	clock := clockwork.NewFakeClock()
	network := NewNetworkManager("ws://127.0.0.1:1/ws", clock)
	p := NewPresenceSync(network, clock)

	p.SetLocalState(presence.DefaultState(time.Now()))
	p.StartSending()
	p.StartSending() // second call must not spawn another loop

	p.mu.Lock()
	first := p.stop
	p.mu.Unlock()
	require.NotNil(t, first)

	p.StopSending()
	p.StopSending() // idempotent

	p.mu.Lock()
	assert.Nil(t, p.stop)
	p.mu.Unlock()
}
