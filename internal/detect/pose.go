package detect

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
)

// ErrDegenerateRotation is returned when a rotation matrix has (near) dependent
// columns and cannot be orthonormalized.
var ErrDegenerateRotation = errors.New("detect: degenerate rotation matrix")

const degenerateNorm = 1e-9

// NormalizeRotation turns the pose solver's rotation into a proper rotation
// matrix before angles are read from it.
//
// Contract: the result is orthonormal to machine precision and has
// determinant +1. Columns are re-orthogonalized with Gram-Schmidt in order
// (x, then y against x) and z is rebuilt as x × y, so the first column keeps
// its direction exactly and small drift in the others is removed. Input
// whose first two columns are (near) parallel or zero fails with
// ErrDegenerateRotation instead of yielding arbitrary angles.
func NormalizeRotation(m [3][3]float64) ([3][3]float64, error) {
	col := func(j int) r3.Vector {
		return r3.Vector{X: m[0][j], Y: m[1][j], Z: m[2][j]}
	}

	x := col(0)
	if x.Norm() < degenerateNorm {
		return m, ErrDegenerateRotation
	}
	x = x.Normalize()

	y := col(1)
	y = y.Sub(x.Mul(y.Dot(x)))
	if y.Norm() < degenerateNorm {
		return m, ErrDegenerateRotation
	}
	y = y.Normalize()

	z := x.Cross(y)

	var out [3][3]float64
	for i, c := range []r3.Vector{x, y, z} {
		out[0][i], out[1][i], out[2][i] = c.X, c.Y, c.Z
	}
	return out, nil
}

// EulerAngles extracts intrinsic roll (x), pitch (y) and yaw (z), in radians,
// from a rotation R = Rz(yaw) * Ry(pitch) * Rx(roll). R must be orthonormal.
// At gimbal lock (pitch = ±π/2) roll is reported as 0.
func EulerAngles(r [3][3]float64) (roll, pitch, yaw float64) {
	sp := -r[2][0]
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)

	if math.Abs(sp) < 1-1e-12 {
		roll = math.Atan2(r[2][1], r[2][2])
		yaw = math.Atan2(r[1][0], r[0][0])
		return roll, pitch, yaw
	}
	return 0, pitch, math.Atan2(-r[0][1], r[1][1])
}
