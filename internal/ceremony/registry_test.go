package ceremony

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type phaseEvent struct {
	roomID   string
	phase    Phase
	startAt  time.Time
	duration time.Duration
	bounded  bool
}

type recordingSink struct {
	ch chan phaseEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan phaseEvent, 32)}
}

func (s *recordingSink) PhaseChanged(roomID string, phase Phase, startAt time.Time, duration time.Duration, bounded bool) {
	s.ch <- phaseEvent{roomID, phase, startAt, duration, bounded}
}

func (s *recordingSink) next(t *testing.T) phaseEvent {
	t.Helper()
	select {
	case ev := <-s.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for phase change")
		return phaseEvent{}
	}
}

func (s *recordingSink) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.ch:
		t.Fatalf("unexpected phase change: %v %v", ev.roomID, ev.phase)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestRegistry(sink Sink) (*Registry, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewRegistry(clock, DefaultDurations(), Limits{MaxRooms: 50, MaxRoomSize: 6}, sink), clock
}

func TestJoinReturnsExistingMembers(t *testing.T) {
	reg, _ := newTestRegistry(nil)

	others, err := reg.Join("r1", "alice")
	require.NoError(t, err)
	assert.Empty(t, others)

	others, err = reg.Join("r1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, others)

	phase, ok := reg.Phase("r1")
	require.True(t, ok)
	assert.Equal(t, PhaseLobby, phase)
}

func TestRoomDestroyedWhenEmpty(t *testing.T) {
	reg, _ := newTestRegistry(nil)

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.RoomCount())

	emptied := reg.Leave("r1", "alice")
	assert.True(t, emptied)
	assert.Equal(t, 0, reg.RoomCount())

	_, ok := reg.Phase("r1")
	assert.False(t, ok)
}

func TestReadyRequiresTwoParticipants(t *testing.T) {
	reg, _ := newTestRegistry(nil)

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)

	started, _ := reg.MarkReady("r1", "alice")
	assert.False(t, started, "solo readiness must not start the ceremony")
}

func TestCeremonyStartsOnceAllReady(t *testing.T) {
	sink := newRecordingSink()
	reg, clock := newTestRegistry(sink)

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)
	_, err = reg.Join("r1", "bob")
	require.NoError(t, err)

	started, _ := reg.MarkReady("r1", "alice")
	assert.False(t, started)

	started, startAt := reg.MarkReady("r1", "bob")
	require.True(t, started)
	assert.Equal(t, clock.Now().Add(StartLookahead), startAt)

	// Readiness churn after the edge has no further effect.
	started, _ = reg.MarkReady("r1", "alice")
	assert.False(t, started)

	// A late joiner becoming ready must not restart either.
	_, err = reg.Join("r1", "carol")
	require.NoError(t, err)
	started, _ = reg.MarkReady("r1", "carol")
	assert.False(t, started)
}

func TestPhaseSequenceAdvancesInOrder(t *testing.T) {
	sink := newRecordingSink()
	reg, clock := newTestRegistry(sink)
	durations := DefaultDurations()

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)
	_, err = reg.Join("r1", "bob")
	require.NoError(t, err)
	reg.MarkReady("r1", "alice")
	started, _ := reg.MarkReady("r1", "bob")
	require.True(t, started)

	clock.Advance(StartLookahead)
	for _, want := range Sequence {
		ev := sink.next(t)
		assert.Equal(t, "r1", ev.roomID)
		assert.Equal(t, want, ev.phase)
		assert.True(t, ev.bounded)
		assert.Equal(t, durations[want], ev.duration)

		phase, ok := reg.Phase("r1")
		require.True(t, ok)
		assert.Equal(t, want, phase)

		clock.Advance(ev.duration)
	}

	ev := sink.next(t)
	assert.Equal(t, PhaseComplete, ev.phase)
	assert.False(t, ev.bounded)

	// Complete is terminal: no timer is pending, nothing else ever fires.
	clock.Advance(24 * time.Hour)
	sink.assertQuiet(t)
}

func TestTeardownCancelsPhaseTimer(t *testing.T) {
	sink := newRecordingSink()
	reg, clock := newTestRegistry(sink)

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)
	_, err = reg.Join("r1", "bob")
	require.NoError(t, err)
	reg.MarkReady("r1", "alice")
	started, _ := reg.MarkReady("r1", "bob")
	require.True(t, started)

	clock.Advance(StartLookahead)
	ev := sink.next(t)
	require.Equal(t, PhaseArrival, ev.phase)

	reg.Leave("r1", "alice")
	emptied := reg.Leave("r1", "bob")
	require.True(t, emptied)

	// The pending Sensing timer must never surface after teardown.
	clock.Advance(24 * time.Hour)
	sink.assertQuiet(t)
}

func TestCloseCancelsAllTimers(t *testing.T) {
	sink := newRecordingSink()
	reg, clock := newTestRegistry(sink)

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)
	_, err = reg.Join("r1", "bob")
	require.NoError(t, err)
	reg.MarkReady("r1", "alice")
	reg.MarkReady("r1", "bob")

	reg.Close()
	clock.Advance(24 * time.Hour)
	sink.assertQuiet(t)
	assert.Equal(t, 0, reg.RoomCount())
}

func TestMergeConfirmationSymmetricAndIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(nil)

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)
	_, err = reg.Join("r1", "bob")
	require.NoError(t, err)

	assert.False(t, reg.RequestMerge("r1", "alice", "bob"), "one-sided request must not confirm")
	assert.True(t, reg.RequestMerge("r1", "bob", "alice"), "reciprocation confirms")
	assert.False(t, reg.RequestMerge("r1", "bob", "alice"), "repeat must not re-confirm")
	assert.False(t, reg.RequestMerge("r1", "alice", "bob"), "repeat from either side must not re-confirm")
}

func TestMergeReconfirmsAfterRelease(t *testing.T) {
	reg, _ := newTestRegistry(nil)

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)
	_, err = reg.Join("r1", "bob")
	require.NoError(t, err)

	reg.RequestMerge("r1", "alice", "bob")
	require.True(t, reg.RequestMerge("r1", "bob", "alice"))

	reg.ReleaseMerge("r1", "alice")
	assert.False(t, reg.RequestMerge("r1", "bob", "alice"), "bob already targets alice, no change")
	assert.True(t, reg.RequestMerge("r1", "alice", "bob"), "a fresh mutual pairing confirms again")
}

func TestMergeWithUnknownTargetNeverConfirms(t *testing.T) {
	reg, _ := newTestRegistry(nil)

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)

	assert.False(t, reg.RequestMerge("r1", "alice", "ghost"))
}

func TestLeaveClearsDanglingMergeTargets(t *testing.T) {
	reg, _ := newTestRegistry(nil)

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)
	_, err = reg.Join("r1", "bob")
	require.NoError(t, err)

	reg.RequestMerge("r1", "alice", "bob")
	reg.Leave("r1", "bob")

	// Bob rejoins under the same id; alice's stale request must be gone,
	// so bob's request alone cannot confirm.
	_, err = reg.Join("r1", "bob")
	require.NoError(t, err)
	assert.False(t, reg.RequestMerge("r1", "bob", "alice"))
}

func TestRoomCapacity(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := NewRegistry(clock, DefaultDurations(), Limits{MaxRooms: 1, MaxRoomSize: 2}, nil)

	_, err := reg.Join("r1", "alice")
	require.NoError(t, err)
	_, err = reg.Join("r1", "bob")
	require.NoError(t, err)

	_, err = reg.Join("r1", "carol")
	assert.ErrorIs(t, err, ErrRoomFull)

	_, err = reg.Join("r2", "dave")
	assert.ErrorIs(t, err, ErrTooManyRooms)
}

func TestOperationsOnUnknownRoomsAreDropped(t *testing.T) {
	reg, _ := newTestRegistry(nil)

	assert.False(t, reg.Leave("nope", "alice"))
	started, _ := reg.MarkReady("nope", "alice")
	assert.False(t, started)
	assert.False(t, reg.RequestMerge("nope", "alice", "bob"))
	reg.ReleaseMerge("nope", "alice")
}
