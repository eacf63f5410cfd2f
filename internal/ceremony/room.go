package ceremony

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// participant is one roster entry. Owned exclusively by its room; all
// access is serialized by the registry mutex.
type participant struct {
	id          string
	ready       bool
	mergeTarget string
}

// Room is the authoritative state for one ceremony session. Rooms are
// created lazily on first join and torn down as soon as the roster
// empties. Mutation happens only through the Registry, which serializes
// every operation including timer callbacks.
type Room struct {
	id         string
	users      map[string]*participant
	phase      Phase
	phaseStart time.Time

	// started latches the all-ready edge so readiness churn after the
	// ceremony begins cannot restart it.
	started bool

	// confirmed tracks merge pairs already announced, keyed by pairKey,
	// so repeating an already-mutual request does not re-emit the
	// confirmation.
	confirmed map[string]struct{}

	// timer is the pending phase-advance timer, nil outside the timed
	// sequence. gen invalidates in-flight timer callbacks: teardown bumps
	// it, and a callback whose generation no longer matches is a no-op.
	timer clockwork.Timer
	gen   uint64

	// done releases the goroutine parked on the timer when the room is
	// torn down before the timer fires.
	done chan struct{}
}

func newRoom(id string) *Room {
	return &Room{
		id:        id,
		users:     make(map[string]*participant),
		phase:     PhaseLobby,
		confirmed: make(map[string]struct{}),
		done:      make(chan struct{}),
	}
}

// Phase returns the room's current phase.
func (r *Room) Phase() Phase { return r.phase }

// addUser inserts a not-ready participant.
func (r *Room) addUser(userID string) {
	r.users[userID] = &participant{id: userID}
}

// removeUser drops a participant and eagerly clears any merge target
// pointing at it. Dangling targets are never allowed to linger: merge
// confirmation is recomputed live, so a stale reference could confirm
// against a participant that no longer exists.
func (r *Room) removeUser(userID string) {
	delete(r.users, userID)
	for _, u := range r.users {
		if u.mergeTarget == userID {
			u.mergeTarget = ""
			delete(r.confirmed, pairKey(u.id, userID))
		}
	}
	r.clearConfirmed(userID)
}

// userIDs returns the roster, excluding the given id if present.
func (r *Room) userIDs(excluding string) []string {
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		if id != excluding {
			ids = append(ids, id)
		}
	}
	return ids
}

// allReady reports whether the ceremony should start: at least two
// participants, all of them ready.
func (r *Room) allReady() bool {
	if len(r.users) < 2 {
		return false
	}
	for _, u := range r.users {
		if !u.ready {
			return false
		}
	}
	return true
}

// setMergeTarget records a merge request and reports whether the pair is
// now mutually confirmed for the first time. Requests naming an unknown
// target are stored but can never confirm. Re-requesting an already
// announced pair reports false.
func (r *Room) setMergeTarget(from, to string) (confirmed bool) {
	u, ok := r.users[from]
	if !ok {
		return false
	}
	if u.mergeTarget != "" && u.mergeTarget != to {
		delete(r.confirmed, pairKey(from, u.mergeTarget))
	}
	u.mergeTarget = to

	target, ok := r.users[to]
	if !ok || target.mergeTarget != from {
		return false
	}
	key := pairKey(from, to)
	if _, seen := r.confirmed[key]; seen {
		return false
	}
	r.confirmed[key] = struct{}{}
	return true
}

// clearMergeTarget withdraws a participant's merge request. The former
// partner is not notified here; it observes the break through subsequent
// presence snapshots that no longer name it.
func (r *Room) clearMergeTarget(userID string) {
	if u, ok := r.users[userID]; ok {
		u.mergeTarget = ""
	}
	r.clearConfirmed(userID)
}

// clearConfirmed forgets announced pairs involving userID so a later
// re-pairing confirms afresh.
func (r *Room) clearConfirmed(userID string) {
	for key := range r.confirmed {
		a, b := splitPairKey(key)
		if a == userID || b == userID {
			delete(r.confirmed, key)
		}
	}
}

// pairKey builds an order-independent key for a merge pair. User ids are
// UUIDs and never contain '|'.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func splitPairKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
