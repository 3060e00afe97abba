package simclient

import (
	"math"

	"github.com/okian/netvr/internal/domain/geometry"
)

// Motion is the shared physical trajectory every simulated device follows
// while calibrating. Step k is deterministic so two devices sampling the
// same k observe the same physical pose.
func Motion(k int) geometry.Pose {
	f := float64(k)
	axis := geometry.Vec3{X: math.Cos(1.3 * f), Y: math.Sin(1.3 * f), Z: 0.6}
	angle := 0.9 + 0.35*float64(k%4)
	return geometry.Pose{
		Position:    geometry.Vec3{X: 0.3 * math.Sin(0.7*f), Y: 1.2 + 0.1*math.Cos(f), Z: 0.2 * math.Sin(1.9*f)},
		Orientation: geometry.AxisAngle(axis, angle),
	}
}

// Observe expresses a physical pose in a device's tracking space: the
// orientation is frame·motion and the position is rotated then offset.
func Observe(frame, physical geometry.Pose) geometry.Pose {
	return geometry.Pose{
		Position:    frame.Orientation.Rotate(physical.Position).Add(frame.Position),
		Orientation: frame.Orientation.Mul(physical.Orientation).Normalized(),
	}
}

// Relative is the rotation and translation that maps poses observed in
// target's space onto poses observed in reference's space.
func Relative(target, reference geometry.Pose) geometry.Pose {
	rot := reference.Orientation.Mul(target.Orientation.Conjugate()).Normalized()
	return geometry.Pose{
		Position:    reference.Position.Sub(rot.Rotate(target.Position)),
		Orientation: rot,
	}
}
