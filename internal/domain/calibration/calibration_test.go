package calibration_test

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/okian/netvr/internal/domain/calibration"
	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const valid = model.OrientationValid | model.PositionValid

// coupled builds n samples of two rigidly coupled devices whose spaces are
// related by ref = frame·target + offset.
func coupled(n int, frame geometry.Quat, offset geometry.Vec3, seed uint64) (target, reference []model.CalibrationSample) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	mount := geometry.AxisAngle(geometry.Vec3{X: 0.1, Y: 0.9, Z: 0.3}, 0.6)
	for k := 0; k < n; k++ {
		axis := geometry.Vec3{X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1, Z: rng.Float64()*2 - 1}
		q := geometry.AxisAngle(axis, rng.Float64()*math.Pi)
		p := geometry.Vec3{X: rng.Float64(), Y: rng.Float64() + 1, Z: rng.Float64()}

		target = append(target, model.CalibrationSample{
			Flags: valid,
			Pose:  geometry.Pose{Position: p, Orientation: q},
		})
		reference = append(reference, model.CalibrationSample{
			Flags: valid,
			Pose: geometry.Pose{
				Position:    frame.Rotate(p).Add(offset),
				Orientation: frame.Mul(q).Mul(mount),
			},
		})
	}
	return target, reference
}

func TestComputeRecoversKnownTransform(t *testing.T) {
	Convey("Given samples of two devices in rotated and shifted spaces", t, func() {
		frame := geometry.AxisAngle(geometry.Vec3{X: 0.3, Y: 1, Z: -0.2}, 1.3)
		offset := geometry.Vec3{X: 1, Y: -2, Z: 0.5}
		target, reference := coupled(40, frame, offset, 1)

		Convey("When the transform is computed", func() {
			report, err := calibration.Compute(target, reference)

			Convey("Then the rotation and translation are recovered", func() {
				So(err, ShouldBeNil)
				So(report.Samples, ShouldEqual, 40)
				So(report.AcceptedPairs, ShouldBeGreaterThanOrEqualTo, calibration.DefaultMinPairs)
				So(report.AcceptedPairs+report.RejectedPairs, ShouldEqual, 40*39/2)
				So(report.Result.Rotation.AngleTo(frame), ShouldBeLessThan, 1e-6)

				got := report.Result.Translation
				So(got.X, ShouldAlmostEqual, offset.X, 1e-6)
				So(got.Y, ShouldAlmostEqual, offset.Y, 1e-6)
				So(got.Z, ShouldAlmostEqual, offset.Z, 1e-6)
			})
		})

		Convey("When some samples lack a valid orientation", func() {
			for _, i := range []int{2, 5, 11} {
				target[i].Flags = model.PositionValid
				target[i].Pose.Orientation = geometry.IdentityQuat()
			}
			reference[7].Flags = 0
			report, err := calibration.Compute(target, reference)

			Convey("Then those indices are skipped and the result holds", func() {
				So(err, ShouldBeNil)
				So(report.AcceptedPairs+report.RejectedPairs, ShouldEqual, 36*35/2)
				So(report.Result.Rotation.AngleTo(frame), ShouldBeLessThan, 1e-6)
			})
		})

		Convey("When no sample has valid positions on both sides", func() {
			for i := range target {
				target[i].Flags = model.OrientationValid
			}
			report, err := calibration.Compute(target, reference)

			Convey("Then the translation is zero", func() {
				So(err, ShouldBeNil)
				So(report.Result.Translation, ShouldResemble, geometry.Vec3{})
			})
		})
	})
}

func TestComputeRejectsDegenerateMotion(t *testing.T) {
	Convey("Given samples that barely rotate", t, func() {
		var target, reference []model.CalibrationSample
		for k := 0; k < 10; k++ {
			q := geometry.AxisAngle(geometry.Vec3{Z: 1}, 0.03*float64(k))
			s := model.CalibrationSample{Flags: valid, Pose: geometry.Pose{Orientation: q}}
			target = append(target, s)
			reference = append(reference, s)
		}

		Convey("When the transform is computed", func() {
			report, err := calibration.Compute(target, reference)

			Convey("Then it fails with not enough pairs", func() {
				So(errors.Is(err, calibration.ErrNotEnoughPairs), ShouldBeTrue)
				So(report.AcceptedPairs, ShouldEqual, 0)
				So(report.RejectedPairs, ShouldEqual, 45)
			})
		})
	})

	Convey("Given sequences of different length", t, func() {
		target, reference := coupled(5, geometry.IdentityQuat(), geometry.Vec3{}, 2)
		_, err := calibration.Compute(target, reference[:4])
		So(errors.Is(err, calibration.ErrSampleMismatch), ShouldBeTrue)
	})

	Convey("Given a higher minimum than the data supports", t, func() {
		target, reference := coupled(4, geometry.IdentityQuat(), geometry.Vec3{}, 3)
		_, err := calibration.Compute(target, reference, calibration.WithMinPairs(100))
		So(errors.Is(err, calibration.ErrNotEnoughPairs), ShouldBeTrue)
	})

	Convey("Given no samples at all", t, func() {
		_, err := calibration.Compute(nil, nil)
		So(errors.Is(err, calibration.ErrNotEnoughPairs), ShouldBeTrue)
	})
}

// TestAxisPairsFilter checks that no accepted pair has a delta at or below
// the thresholds on either side.
func TestAxisPairsFilter(t *testing.T) {
	rng := rand.New(rand.NewPCG(99, 100))
	var target, reference []model.CalibrationSample
	for k := 0; k < 60; k++ {
		// Small random steps so many deltas fall below the threshold.
		tq := geometry.AxisAngle(geometry.Vec3{X: rng.Float64(), Y: rng.Float64(), Z: 1}, rng.Float64()*0.9)
		rq := geometry.AxisAngle(geometry.Vec3{X: 1, Y: rng.Float64(), Z: rng.Float64()}, rng.Float64()*0.9)
		target = append(target, model.CalibrationSample{Flags: valid, Pose: geometry.Pose{Orientation: tq}})
		reference = append(reference, model.CalibrationSample{Flags: valid, Pose: geometry.Pose{Orientation: rq}})
	}

	o := calibration.DefaultOptions()
	pairs, rejected := calibration.AxisPairs(target, reference, o)
	if rejected == 0 {
		t.Fatal("expected some pairs to be rejected")
	}
	for _, p := range pairs {
		dRef := geometry.RotationDelta(reference[p.I].Pose.Orientation, reference[p.J].Pose.Orientation)
		dTgt := geometry.RotationDelta(target[p.I].Pose.Orientation, target[p.J].Pose.Orientation)
		if geometry.AngleOf(dRef) <= o.MinAngle || geometry.AngleOf(dTgt) <= o.MinAngle {
			t.Fatalf("pair (%d,%d) accepted with small angle", p.I, p.J)
		}
		if geometry.AxisOf(dRef).Norm() <= o.MinAxisNorm || geometry.AxisOf(dTgt).Norm() <= o.MinAxisNorm {
			t.Fatalf("pair (%d,%d) accepted with degenerate axis", p.I, p.J)
		}
		if math.Abs(p.Target.Norm()-1) > 1e-9 || math.Abs(p.Reference.Norm()-1) > 1e-9 {
			t.Fatalf("pair (%d,%d) axes not normalised", p.I, p.J)
		}
	}
}

func TestAxisPairsNearHalfTurn(t *testing.T) {
	Convey("Given a target that turns almost exactly half a revolution between two samples", t, func() {
		sample := func(q geometry.Quat) model.CalibrationSample {
			return model.CalibrationSample{Flags: valid, Pose: geometry.Pose{Orientation: q}}
		}
		target := []model.CalibrationSample{
			sample(geometry.IdentityQuat()),
			sample(geometry.AxisAngle(geometry.Vec3{X: 1}, math.Pi-0.002)),
			sample(geometry.AxisAngle(geometry.Vec3{X: 1}, 1.2)),
		}
		reference := []model.CalibrationSample{
			sample(geometry.IdentityQuat()),
			sample(geometry.AxisAngle(geometry.Vec3{Z: 1}, 1.0)),
			sample(geometry.AxisAngle(geometry.Vec3{X: 1}, 2.0)),
		}
		o := calibration.DefaultOptions()

		Convey("Then the angle alone would pass but the axis is degenerate", func() {
			d := geometry.RotationDelta(target[0].Pose.Orientation, target[1].Pose.Orientation)
			So(geometry.AngleOf(d), ShouldBeGreaterThan, o.MinAngle)
			So(geometry.AxisOf(d).Norm(), ShouldBeLessThan, o.MinAxisNorm)
		})

		Convey("Then that pair is rejected and the others are kept", func() {
			pairs, rejected := calibration.AxisPairs(target, reference, o)
			So(rejected, ShouldEqual, 1)
			So(pairs, ShouldHaveLength, 2)
			for _, p := range pairs {
				So(p.I == 0 && p.J == 1, ShouldBeFalse)
			}
		})

		Convey("Then the report counts it among the rejected pairs", func() {
			report, err := calibration.Compute(target, reference, calibration.WithMinPairs(2))
			So(err, ShouldBeNil)
			So(report.RejectedPairs, ShouldEqual, 1)
			So(report.AcceptedPairs, ShouldEqual, 2)
		})
	})
}

func TestOptions(t *testing.T) {
	Convey("Given option overrides", t, func() {
		o := calibration.DefaultOptions()
		calibration.WithThresholds(0.2, 0.05)(&o)
		calibration.WithMinPairs(0)(&o)

		So(o.MinAngle, ShouldEqual, 0.2)
		So(o.MinAxisNorm, ShouldEqual, 0.05)
		So(o.MinPairs, ShouldEqual, calibration.DefaultMinPairs)
	})
}

func BenchmarkCompute(b *testing.B) {
	target, reference := coupled(200, geometry.AxisAngle(geometry.Vec3{Y: 1}, 0.5), geometry.Vec3{}, 5)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := calibration.Compute(target, reference); err != nil {
			b.Fatal(err)
		}
	}
}
