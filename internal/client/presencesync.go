package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/danrezi-gif/encontro/internal/presence"
	"github.com/danrezi-gif/encontro/internal/protocol"
)

// SendRate is how often the local presence is transmitted, per second.
const SendRate = 30

// PresenceSync transmits the local presence at a fixed cadence, strictly
// decoupled from the render loop, and maintains an interpolation buffer
// per remote participant.
type PresenceSync struct {
	network *NetworkManager
	clock   clockwork.Clock

	mu      sync.Mutex
	local   *presence.State
	remotes map[string]*StateSync
	stop    chan struct{}

	unsubscribe func()
}

// NewPresenceSync wires presence handling onto a network manager.
func NewPresenceSync(network *NetworkManager, clock clockwork.Clock) *PresenceSync {
	p := &PresenceSync{
		network: network,
		clock:   clock,
		remotes: make(map[string]*StateSync),
	}
	p.unsubscribe = network.Subscribe(p.handleMessage)
	return p
}

// StartSending begins the periodic transmit loop. Idempotent.
func (p *PresenceSync) StartSending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	go p.sendLoop(p.stop)
}

// StopSending cancels the transmit loop. Idempotent.
func (p *PresenceSync) StopSending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

func (p *PresenceSync) sendLoop(stop chan struct{}) {
	ticker := p.clock.NewTicker(time.Second / SendRate)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			p.sendOnce()
		}
	}
}

func (p *PresenceSync) sendOnce() {
	p.mu.Lock()
	if p.local == nil {
		p.mu.Unlock()
		return
	}
	state := *p.local
	p.mu.Unlock()

	state.Timestamp = p.clock.Now().UnixMilli()
	// Send failures here are transient connection states; the next tick
	// retries with fresher data anyway.
	_ = p.network.Send(&protocol.PresenceUpdate{State: state})
}

// SetLocalState records the state to transmit, typically every frame.
func (p *PresenceSync) SetLocalState(state presence.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := state
	p.local = &s
}

// RemoteState returns the interpolated presence of one remote, ok=false
// while nothing has been received for it yet.
func (p *PresenceSync) RemoteState(userID string, now time.Time) (presence.State, bool) {
	p.mu.Lock()
	sync := p.remotes[userID]
	p.mu.Unlock()
	if sync == nil {
		return presence.State{}, false
	}
	return sync.Interpolated(now)
}

// RemoteUserIDs lists remotes with at least one received snapshot.
func (p *PresenceSync) RemoteUserIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.remotes))
	for id := range p.remotes {
		out = append(out, id)
	}
	return out
}

// Dispose stops sending and detaches from the network manager.
func (p *PresenceSync) Dispose() {
	p.StopSending()
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.mu.Lock()
	p.remotes = make(map[string]*StateSync)
	p.mu.Unlock()
}

func (p *PresenceSync) handleMessage(msg protocol.ServerMessage) {
	switch msg := msg.(type) {
	case *protocol.RemotePresenceUpdate:
		p.mu.Lock()
		sync := p.remotes[msg.UserID]
		if sync == nil {
			sync = NewStateSync()
			p.remotes[msg.UserID] = sync
		}
		p.mu.Unlock()
		sync.Push(msg.State)
	case *protocol.UserLeft:
		p.mu.Lock()
		delete(p.remotes, msg.UserID)
		p.mu.Unlock()
	}
}
