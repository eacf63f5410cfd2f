package presence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epsilon = 1e-9

func quatNorm(q Quat) float64 {
	return math.Sqrt(q.Dot(q))
}

func assertQuatEqual(t *testing.T, want, got Quat) {
	t.Helper()
	// q and -q are the same orientation.
	if want.Dot(got) < 0 {
		got = Quat{X: -got.X, Y: -got.Y, Z: -got.Z, W: -got.W}
	}
	assert.InDelta(t, want.X, got.X, 1e-6)
	assert.InDelta(t, want.Y, got.Y, 1e-6)
	assert.InDelta(t, want.Z, got.Z, 1e-6)
	assert.InDelta(t, want.W, got.W, 1e-6)
}

func TestLerpAngleShortestArc(t *testing.T) {
	assert.InDelta(t, 0, LerpAngle(350, 10, 0.5), epsilon)
	assert.InDelta(t, 355, LerpAngle(350, 10, 0.25), epsilon)
	assert.InDelta(t, 0, LerpAngle(10, 350, 0.5), epsilon)
	assert.InDelta(t, 90, LerpAngle(80, 100, 0.5), epsilon)
}

func TestSlerpEndpoints(t *testing.T) {
	a := Quat{W: 1}
	b := Quat{Y: math.Sin(math.Pi / 4), W: math.Cos(math.Pi / 4)} // 90° about Y

	assertQuatEqual(t, a, a.Slerp(b, 0))
	assertQuatEqual(t, b, a.Slerp(b, 1))
}

func TestSlerpReturnsUnitQuaternions(t *testing.T) {
	a := Quat{X: 0.3, Y: 0.2, Z: 0.1, W: 0.9}.Normalize()
	b := Quat{X: -0.5, Y: 0.4, Z: 0.7, W: 0.3}.Normalize()

	for _, tt := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1} {
		got := a.Slerp(b, tt)
		require.InDelta(t, 1, quatNorm(got), 1e-6, "t=%v", tt)
	}
}

func TestSlerpTakesShortestArc(t *testing.T) {
	a := Quat{W: 1}
	b := Quat{Y: math.Sin(math.Pi / 4), W: math.Cos(math.Pi / 4)}
	negB := Quat{X: -b.X, Y: -b.Y, Z: -b.Z, W: -b.W}

	// b and -b are the same orientation; interpolation toward either must
	// pass through the same halfway orientation.
	assertQuatEqual(t, a.Slerp(b, 0.5), a.Slerp(negB, 0.5))
}

func TestSlerpNearlyIdenticalFallsBackToNlerp(t *testing.T) {
	a := Quat{W: 1}
	b := Quat{X: 1e-5, W: 1}.Normalize()

	got := a.Slerp(b, 0.5)
	assert.InDelta(t, 1, quatNorm(got), 1e-9)
	assert.False(t, math.IsNaN(got.X))
	assert.False(t, math.IsNaN(got.W))
}

func TestNormalizeZeroQuaternionYieldsIdentity(t *testing.T) {
	assert.Equal(t, Quat{W: 1}, Quat{}.Normalize())
}

func TestVec3Lerp(t *testing.T) {
	a := Vec3{X: 0, Y: 1, Z: 2}
	b := Vec3{X: 4, Y: 3, Z: -2}
	assert.Equal(t, Vec3{X: 2, Y: 2, Z: 0}, a.Lerp(b, 0.5))
	assert.Equal(t, a, a.Lerp(b, 0))
	assert.Equal(t, b, a.Lerp(b, 1))
}
