package ceremony

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// StartLookahead is how far in the future the authoritative ceremony start
// instant is placed once everyone is ready, giving clients time to prepare.
const StartLookahead = 3 * time.Second

var (
	// ErrRoomFull is returned by Join when the room is at capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrTooManyRooms is returned by Join when no new room may be created.
	ErrTooManyRooms = errors.New("room limit reached")
)

// Sink receives room notifications that originate outside any inbound
// message, i.e. timer-driven phase transitions. Implementations must not
// call back into the Registry: the sink fires with the registry lock held.
type Sink interface {
	// PhaseChanged reports an authoritative transition. bounded is false
	// for the terminal phase, whose duration is infinite.
	PhaseChanged(roomID string, phase Phase, startAt time.Time, duration time.Duration, bounded bool)
}

// Limits caps the registry's footprint. Zero values mean unlimited.
type Limits struct {
	MaxRooms    int
	MaxRoomSize int
}

// Registry maps room ids to live rooms and serializes every mutation —
// joins, leaves, readiness, merges, and timer callbacks — behind one
// mutex, so roster and phase state need no further synchronization.
// Construct one per process (or per test).
type Registry struct {
	mu        sync.Mutex
	rooms     map[string]*Room
	clock     clockwork.Clock
	durations Durations
	limits    Limits
	sink      Sink
}

// NewRegistry builds an empty registry. sink may be nil when no observer
// cares about timer-driven transitions (some tests).
func NewRegistry(clock clockwork.Clock, durations Durations, limits Limits, sink Sink) *Registry {
	return &Registry{
		rooms:     make(map[string]*Room),
		clock:     clock,
		durations: durations,
		limits:    limits,
		sink:      sink,
	}
}

// Join adds a participant to the room, creating the room lazily. It
// returns the ids of the other current members, for the joiner's welcome.
func (r *Registry) Join(roomID, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		if r.limits.MaxRooms > 0 && len(r.rooms) >= r.limits.MaxRooms {
			return nil, ErrTooManyRooms
		}
		room = newRoom(roomID)
		r.rooms[roomID] = room
		log.Info().Str("room_id", roomID).Msg("room created")
	}
	if r.limits.MaxRoomSize > 0 && len(room.users) >= r.limits.MaxRoomSize {
		return nil, ErrRoomFull
	}

	room.addUser(userID)
	log.Debug().
		Str("room_id", roomID).
		Str("user_id", userID).
		Int("occupancy", len(room.users)).
		Msg("participant joined")

	return room.userIDs(userID), nil
}

// Leave removes a participant. When the roster empties the room is torn
// down, cancelling any pending phase timer. emptied reports the teardown.
func (r *Registry) Leave(roomID, userID string) (emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	room.removeUser(userID)
	log.Debug().
		Str("room_id", roomID).
		Str("user_id", userID).
		Int("occupancy", len(room.users)).
		Msg("participant left")

	if len(room.users) == 0 {
		r.teardownLocked(room)
		return true
	}
	return false
}

// MarkReady flags a participant ready and evaluates the all-ready edge:
// at least two participants, all ready, ceremony not yet started. On that
// edge it fixes the authoritative start instant a short lookahead in the
// future, schedules the first phase transition for it, and reports it so
// the caller can broadcast the countdown. Every other call reports
// started=false.
func (r *Registry) MarkReady(roomID, userID string) (started bool, startAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false, time.Time{}
	}
	u, ok := room.users[userID]
	if !ok {
		return false, time.Time{}
	}
	u.ready = true

	if room.started || !room.allReady() {
		return false, time.Time{}
	}
	room.started = true
	startAt = r.clock.Now().Add(StartLookahead)

	log.Info().
		Str("room_id", roomID).
		Int("participants", len(room.users)).
		Time("start_at", startAt).
		Msg("all ready, ceremony scheduled")

	r.scheduleAdvanceLocked(room, 0, StartLookahead)
	return true, startAt
}

// RequestMerge records from's merge target and reports whether the pair
// became mutually confirmed by this request. Unknown rooms, participants,
// or targets are stored or dropped silently per the protocol's tolerance
// for connect/disconnect races; already-confirmed pairs are not
// re-announced.
func (r *Registry) RequestMerge(roomID, from, to string) (confirmed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	confirmed = room.setMergeTarget(from, to)
	if confirmed {
		log.Info().
			Str("room_id", roomID).
			Str("user_a", from).
			Str("user_b", to).
			Msg("merge confirmed")
	}
	return confirmed
}

// ReleaseMerge withdraws a participant's merge request.
func (r *Registry) ReleaseMerge(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok {
		room.clearMergeTarget(userID)
	}
}

// Phase reports the current phase of a room, ok=false for unknown rooms.
func (r *Registry) Phase(roomID string) (Phase, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return "", false
	}
	return room.phase, true
}

// RoomCount reports how many rooms are live.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Close tears down every room, cancelling all pending timers. The
// registry must not be used afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range r.rooms {
		r.teardownLocked(room)
	}
}

// teardownLocked destroys a room. Bumping the generation and closing done
// guarantees the pending timer can never surface as a phantom phase
// change: a callback already in flight rechecks both under the lock.
func (r *Registry) teardownLocked(room *Room) {
	room.gen++
	close(room.done)
	if room.timer != nil {
		stopAndDrainTimer(room.timer)
		room.timer = nil
	}
	delete(r.rooms, room.id)
	log.Info().Str("room_id", room.id).Msg("room destroyed")
}

// scheduleAdvanceLocked arms a one-shot timer that moves the room to
// Sequence[index] after d. Exactly one timer is pending per room at any
// time: each transition arms the next, and teardown cancels it.
func (r *Registry) scheduleAdvanceLocked(room *Room, index int, d time.Duration) {
	timer := r.clock.NewTimer(d)
	room.timer = timer
	gen := room.gen
	done := room.done

	go func() {
		select {
		case <-timer.Chan():
			r.timerFired(room.id, index, gen)
		case <-done:
			stopAndDrainTimer(timer)
		}
	}()
}

// timerFired re-enters the registry from a timer goroutine. The room may
// have been torn down (and its id even reused) since the timer was armed,
// so both existence and generation are rechecked under the lock.
func (r *Registry) timerFired(roomID string, index int, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok || room.gen != gen {
		return
	}
	room.timer = nil
	r.advanceLocked(room, index)
}

// advanceLocked performs the transition to Sequence[index], or to the
// terminal phase past the end of the sequence, notifies the sink, and
// arms the next timer for bounded phases.
func (r *Registry) advanceLocked(room *Room, index int) {
	now := r.clock.Now()

	if index >= len(Sequence) {
		room.phase = PhaseComplete
		room.phaseStart = now
		log.Info().Str("room_id", room.id).Msg("ceremony complete")
		if r.sink != nil {
			r.sink.PhaseChanged(room.id, PhaseComplete, now, 0, false)
		}
		return
	}

	phase := Sequence[index]
	duration := r.durations[phase]
	room.phase = phase
	room.phaseStart = now

	log.Info().
		Str("room_id", room.id).
		Str("phase", string(phase)).
		Dur("duration", duration).
		Msg("phase advanced")

	// Arm the next transition before announcing this one, so an observer
	// reacting to the notification always finds the timer in place.
	r.scheduleAdvanceLocked(room, index+1, duration)
	if r.sink != nil {
		r.sink.PhaseChanged(room.id, phase, now, duration, true)
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already
// fired, per the time.Timer.Stop contract.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
