// Package geometry holds the vector, quaternion and rotation-matrix math
// used by pose synchronization and calibration.
package geometry

import "math"

// Vec3 is a 3D vector in meters or a unitless direction.
type Vec3 struct {
	X float64 `json:"x" cbor:"1,keyasint"`
	Y float64 `json:"y" cbor:"2,keyasint"`
	Z float64 `json:"z" cbor:"3,keyasint"`
}

func (v Vec3) Add(o Vec3) Vec3        { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3        { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3   { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float64     { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Norm() float64          { return math.Sqrt(v.Dot(v)) }
func (v Vec3) Array() [3]float64      { return [3]float64{v.X, v.Y, v.Z} }
func Vec3FromArray(a [3]float64) Vec3 { return Vec3{a[0], a[1], a[2]} }

// Normalized returns v scaled to unit length. The zero vector is returned unchanged.
func (v Vec3) Normalized() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// Quat is a rotation quaternion. Callers are trusted to keep it unit length.
type Quat struct {
	X float64 `json:"x" cbor:"1,keyasint"`
	Y float64 `json:"y" cbor:"2,keyasint"`
	Z float64 `json:"z" cbor:"3,keyasint"`
	W float64 `json:"w" cbor:"4,keyasint"`
}

// IdentityQuat is the zero rotation.
func IdentityQuat() Quat { return Quat{W: 1} }

// AxisAngle builds a quaternion rotating angle radians around axis.
func AxisAngle(axis Vec3, angle float64) Quat {
	a := axis.Normalized()
	s := math.Sin(angle / 2)
	return Quat{X: a.X * s, Y: a.Y * s, Z: a.Z * s, W: math.Cos(angle / 2)}
}

// Mul returns the Hamilton product q*o (apply o first, then q).
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

// Conjugate inverts a unit quaternion.
func (q Quat) Conjugate() Quat { return Quat{X: -q.X, Y: -q.Y, Z: -q.Z, W: q.W} }

// Normalized returns q scaled to unit length.
func (q Quat) Normalized() Quat {
	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if n == 0 {
		return IdentityQuat()
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 { return q.Matrix().Apply(v) }

// AngleTo is the rotation angle between q and o in radians.
func (q Quat) AngleTo(o Quat) float64 {
	d := math.Abs(q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W)
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

// Identity3 is the identity matrix.
func Identity3() Mat3 { return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} }

// Matrix converts q to a rotation matrix.
func (q Quat) Matrix() Mat3 {
	x, y, z, w := q.X, q.Y, q.Z, q.W
	return Mat3{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// Mul returns m*o.
func (m Mat3) Mul(o Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j] + m[i][2]*o[2][j]
		}
	}
	return r
}

// Transpose returns mᵀ.
func (m Mat3) Transpose() Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// Apply returns m*v.
func (m Mat3) Apply(v Vec3) Vec3 {
	return Vec3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

func (m Mat3) Trace() float64 { return m[0][0] + m[1][1] + m[2][2] }

// Det is the determinant of m.
func (m Mat3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// RotationDelta returns R(a)·R(b)ᵀ, the rotation taking b onto a.
func RotationDelta(a, b Quat) Mat3 {
	return a.Matrix().Mul(b.Matrix().Transpose())
}

// AxisOf extracts the unnormalized rotation axis of a rotation matrix.
// Its norm is 2·sin(angle), so it degenerates near 0 and π.
func AxisOf(r Mat3) Vec3 {
	return Vec3{
		X: r[2][1] - r[1][2],
		Y: r[0][2] - r[2][0],
		Z: r[1][0] - r[0][1],
	}
}

// AngleOf extracts the rotation angle of a rotation matrix in [0, π].
func AngleOf(r Mat3) float64 {
	c := (r.Trace() - 1) / 2
	switch {
	case c > 1:
		c = 1
	case c < -1:
		c = -1
	}
	return math.Acos(c)
}

// QuatFromMatrix converts a rotation matrix to a unit quaternion with W >= 0.
func QuatFromMatrix(m Mat3) Quat {
	var q Quat
	tr := m.Trace()
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = Quat{
			W: s / 4,
			X: (m[2][1] - m[1][2]) / s,
			Y: (m[0][2] - m[2][0]) / s,
			Z: (m[1][0] - m[0][1]) / s,
		}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		q = Quat{
			W: (m[2][1] - m[1][2]) / s,
			X: s / 4,
			Y: (m[0][1] + m[1][0]) / s,
			Z: (m[0][2] + m[2][0]) / s,
		}
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		q = Quat{
			W: (m[0][2] - m[2][0]) / s,
			X: (m[0][1] + m[1][0]) / s,
			Y: s / 4,
			Z: (m[1][2] + m[2][1]) / s,
		}
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		q = Quat{
			W: (m[1][0] - m[0][1]) / s,
			X: (m[0][2] + m[2][0]) / s,
			Y: (m[1][2] + m[2][1]) / s,
			Z: s / 4,
		}
	}
	q = q.Normalized()
	if q.W < 0 {
		q = Quat{-q.X, -q.Y, -q.Z, -q.W}
	}
	return q
}

// Pose is a position and orientation in some tracking space.
type Pose struct {
	Position    Vec3 `json:"position" cbor:"1,keyasint"`
	Orientation Quat `json:"orientation" cbor:"2,keyasint"`
}

// IdentityPose is the origin with no rotation.
func IdentityPose() Pose { return Pose{Orientation: IdentityQuat()} }
