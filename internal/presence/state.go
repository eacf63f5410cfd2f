// Package presence defines the snapshot of one participant's pose and
// expressive state as it travels over the wire at ~30 Hz, together with the
// interpolation math clients use to smooth it back out.
package presence

import (
	"math/rand/v2"
	"time"
)

// Vec3 is a position in world space, meters.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is an orientation quaternion. Wire values are expected to be unit
// length; interpolation renormalizes its result.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Hand is one hand/controller pose. Absent when the device reports no hand.
type Hand struct {
	Position Vec3 `json:"position"`
	Rotation Quat `json:"rotation"`
}

// ColorHSL is a participant's presence color. Hue in degrees [0,360),
// saturation and lightness in [0,1].
type ColorHSL struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
	L float64 `json:"l"`
}

// State is one participant's transmitted presence at a point in time.
// Roughly 200 bytes encoded, sent at the presence update rate and never
// persisted.
type State struct {
	// Position is the head position in world space.
	Position Vec3 `json:"position"`
	// Rotation is the head orientation.
	Rotation Quat `json:"rotation"`
	// LeftHand and RightHand are controller poses, nil when untracked.
	LeftHand  *Hand `json:"leftHand"`
	RightHand *Hand `json:"rightHand"`
	// MovementRhythm is a smoothness metric in [0,1]; smooth = high.
	MovementRhythm float64 `json:"movementRhythm"`
	// ColorState is the current presence color.
	ColorState ColorHSL `json:"colorState"`
	// BreathRate in Hz when detectable, nil otherwise.
	BreathRate *float64 `json:"breathRate"`
	// MergeTarget is the user id this presence is merging with, empty for none.
	MergeTarget string `json:"mergeTarget,omitempty"`
	// MergeDepth is the merge intensity in [0,1].
	MergeDepth float64 `json:"mergeDepth"`
	// Timestamp is the sender's clock at capture, epoch milliseconds.
	// Must be monotonically increasing per sender; interpolation keys on it.
	Timestamp int64 `json:"timestamp"`
}

// DefaultState returns the initial presence for a new participant: standing
// at the origin at eye height, identity orientation, a random hue.
func DefaultState(now time.Time) State {
	return State{
		Position:   Vec3{X: 0, Y: 1.6, Z: 0},
		Rotation:   Quat{W: 1},
		ColorState: ColorHSL{H: rand.Float64() * 360, S: 0.7, L: 0.6},
		Timestamp:  now.UnixMilli(),
	}
}

// Interpolate blends two snapshots at parameter t in [0,1]. Positions and
// scalars interpolate linearly, hue as an angle, orientations spherically.
// Hand poses and breath rate interpolate only when both snapshots carry
// them; otherwise the newer snapshot's value wins. The merge target is
// never blended, the newer snapshot's declaration is authoritative.
func Interpolate(prev, next State, t float64) State {
	out := State{
		Position:       prev.Position.Lerp(next.Position, t),
		Rotation:       prev.Rotation.Slerp(next.Rotation, t),
		MovementRhythm: Lerp(prev.MovementRhythm, next.MovementRhythm, t),
		ColorState: ColorHSL{
			H: LerpAngle(prev.ColorState.H, next.ColorState.H, t),
			S: Lerp(prev.ColorState.S, next.ColorState.S, t),
			L: Lerp(prev.ColorState.L, next.ColorState.L, t),
		},
		BreathRate:  next.BreathRate,
		MergeTarget: next.MergeTarget,
		MergeDepth:  Lerp(prev.MergeDepth, next.MergeDepth, t),
		Timestamp:   prev.Timestamp + int64(t*float64(next.Timestamp-prev.Timestamp)),
	}
	out.LeftHand = lerpHand(prev.LeftHand, next.LeftHand, t)
	out.RightHand = lerpHand(prev.RightHand, next.RightHand, t)
	if prev.BreathRate != nil && next.BreathRate != nil {
		r := Lerp(*prev.BreathRate, *next.BreathRate, t)
		out.BreathRate = &r
	}
	return out
}

func lerpHand(prev, next *Hand, t float64) *Hand {
	if prev == nil || next == nil {
		return next
	}
	return &Hand{
		Position: prev.Position.Lerp(next.Position, t),
		Rotation: prev.Rotation.Slerp(next.Rotation, t),
	}
}
