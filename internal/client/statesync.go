package client

import (
	"sync"
	"time"

	"github.com/danrezi-gif/encontro/internal/presence"
)

const (
	// stateBufferSize is how many snapshots are retained per remote.
	// Two are needed to bracket the render time; one spare absorbs
	// out-of-cadence arrivals.
	stateBufferSize = 3

	// InterpolationDelay is how far behind real time remote presences are
	// rendered. The constant lag buys immunity to network jitter, the
	// right trade for an ambient experience.
	InterpolationDelay = 100 * time.Millisecond
)

// StateSync buffers one remote participant's snapshots and serves
// interpolated reads at an arbitrary render rate. Pushes arrive on the
// network goroutine, reads on the render loop.
type StateSync struct {
	mu  sync.Mutex
	buf []presence.State
}

// NewStateSync returns an empty buffer.
func NewStateSync() *StateSync {
	return &StateSync{buf: make([]presence.State, 0, stateBufferSize)}
}

// Push appends a snapshot, discarding the oldest past capacity.
func (s *StateSync) Push(state presence.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, state)
	if len(s.buf) > stateBufferSize {
		s.buf = s.buf[1:]
	}
}

// Interpolated computes the presence at render time now−InterpolationDelay.
// No snapshots yet means no output and the remote is not yet visible; a
// single snapshot is returned verbatim, as is the newer of a bracketing
// pair whose timestamps are equal or inverted.
func (s *StateSync) Interpolated(now time.Time) (presence.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch len(s.buf) {
	case 0:
		return presence.State{}, false
	case 1:
		return s.buf[0], true
	}

	prev := s.buf[len(s.buf)-2]
	next := s.buf[len(s.buf)-1]

	duration := next.Timestamp - prev.Timestamp
	if duration <= 0 {
		return next, true
	}

	renderTime := now.UnixMilli() - InterpolationDelay.Milliseconds()
	t := float64(renderTime-prev.Timestamp) / float64(duration)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	out := presence.Interpolate(prev, next, t)
	out.Timestamp = renderTime
	return out, true
}

// Clear drops all buffered snapshots.
func (s *StateSync) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
}
