package presence

import "math"

// nlerpThreshold is the quaternion dot product above which slerp degrades
// numerically (sin theta near zero) and we fall back to normalized lerp.
const nlerpThreshold = 0.9995

// Lerp linearly interpolates between a and b.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// LerpAngle interpolates between two angles in degrees along the shortest
// arc, so a hue animating from 350 to 10 passes through 0, not 180.
func LerpAngle(a, b, t float64) float64 {
	diff := b - a
	if diff > 180 {
		diff -= 360
	}
	if diff < -180 {
		diff += 360
	}
	return a + diff*t
}

// Lerp interpolates componentwise between v and o.
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	return Vec3{
		X: Lerp(v.X, o.X, t),
		Y: Lerp(v.Y, o.Y, t),
		Z: Lerp(v.Z, o.Z, t),
	}
}

// Dot returns the quaternion dot product.
func (q Quat) Dot(o Quat) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Normalize returns q scaled to unit length. A zero quaternion normalizes
// to identity rather than NaN.
func (q Quat) Normalize() Quat {
	len := math.Sqrt(q.Dot(q))
	if len == 0 {
		return Quat{W: 1}
	}
	return Quat{X: q.X / len, Y: q.Y / len, Z: q.Z / len, W: q.W / len}
}

// Slerp spherically interpolates from q to o, always along the shortest
// arc. Nearly-parallel inputs use normalized linear interpolation instead,
// which is indistinguishable at small angles and avoids dividing by a
// vanishing sin theta.
func (q Quat) Slerp(o Quat, t float64) Quat {
	dot := q.Dot(o)

	sign := 1.0
	if dot < 0 {
		sign = -1
		dot = -dot
	}

	if dot > nlerpThreshold {
		return Quat{
			X: Lerp(q.X, o.X*sign, t),
			Y: Lerp(q.Y, o.Y*sign, t),
			Z: Lerp(q.Z, o.Z*sign, t),
			W: Lerp(q.W, o.W*sign, t),
		}.Normalize()
	}

	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta * sign

	return Quat{
		X: q.X*wa + o.X*wb,
		Y: q.Y*wa + o.Y*wb,
		Z: q.Z*wa + o.Z*wb,
		W: q.W*wa + o.W*wb,
	}
}
