// Package calibration estimates the rigid transform between two tracking
// spaces from paired samples of two rigidly coupled devices.
//
// Relative rotations between every pair of samples are taken on each side.
// Their axes are the same physical axes expressed in the two spaces, so
// aligning the two axis clouds yields the rotation between the spaces.
package calibration

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/internal/domain/model"
)

// AxisPair is one accepted pair of relative-rotation axes, normalised.
type AxisPair struct {
	I, J      int
	Target    geometry.Vec3
	Reference geometry.Vec3
}

// Report is the outcome of Compute.
type Report struct {
	Result        model.CalibrationResult `json:"result"`
	Samples       int                     `json:"samples"`
	AcceptedPairs int                     `json:"accepted_pairs"`
	RejectedPairs int                     `json:"rejected_pairs"`
}

// Compute returns the rotation and translation mapping target-space poses
// onto reference-space poses, so that ref ≈ R·target + T.
func Compute(target, reference []model.CalibrationSample, opts ...Option) (Report, error) {
	o := buildOptions(opts)
	if len(target) != len(reference) {
		return Report{}, fmt.Errorf("%w: %d target, %d reference", ErrSampleMismatch, len(target), len(reference))
	}

	pairs, rejected := AxisPairs(target, reference, o)
	report := Report{Samples: len(target), AcceptedPairs: len(pairs), RejectedPairs: rejected}
	if len(pairs) < o.MinPairs {
		return report, fmt.Errorf("%w: %d accepted, need %d", ErrNotEnoughPairs, len(pairs), o.MinPairs)
	}

	rot, err := align(pairs)
	if err != nil {
		return report, err
	}
	report.Result = model.CalibrationResult{
		Rotation:    geometry.QuatFromMatrix(rot),
		Translation: translation(target, reference, rot),
	}
	return report, nil
}

// AxisPairs extracts the relative-rotation axes for every unordered pair of
// orientation-valid sample indices and keeps the pairs where both deltas
// rotate more than MinAngle about an axis whose raw norm exceeds MinAxisNorm.
func AxisPairs(target, reference []model.CalibrationSample, o Options) (pairs []AxisPair, rejected int) {
	n := min(len(target), len(reference))
	valid := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if target[i].Flags.Has(model.OrientationValid) && reference[i].Flags.Has(model.OrientationValid) {
			valid = append(valid, i)
		}
	}

	for a := 0; a < len(valid); a++ {
		for b := a + 1; b < len(valid); b++ {
			i, j := valid[a], valid[b]
			dRef := geometry.RotationDelta(reference[i].Pose.Orientation, reference[j].Pose.Orientation)
			dTgt := geometry.RotationDelta(target[i].Pose.Orientation, target[j].Pose.Orientation)
			axRef, axTgt := geometry.AxisOf(dRef), geometry.AxisOf(dTgt)
			if geometry.AngleOf(dRef) <= o.MinAngle || geometry.AngleOf(dTgt) <= o.MinAngle ||
				axRef.Norm() <= o.MinAxisNorm || axTgt.Norm() <= o.MinAxisNorm {
				rejected++
				continue
			}
			pairs = append(pairs, AxisPair{
				I: i, J: j,
				Target:    axTgt.Normalized(),
				Reference: axRef.Normalized(),
			})
		}
	}
	return pairs, rejected
}

// align finds R minimising Σ|r_i − R·t_i|² over the centred axis clouds.
func align(pairs []AxisPair) (geometry.Mat3, error) {
	var tc, rc geometry.Vec3
	for _, p := range pairs {
		tc = tc.Add(p.Target)
		rc = rc.Add(p.Reference)
	}
	inv := 1 / float64(len(pairs))
	tc, rc = tc.Scale(inv), rc.Scale(inv)

	h := mat.NewDense(3, 3, nil)
	for _, p := range pairs {
		t := p.Target.Sub(tc).Array()
		r := p.Reference.Sub(rc).Array()
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				h.Set(row, col, h.At(row, col)+t[row]*r[col])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return geometry.Mat3{}, ErrSVDFailed
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := 1.0
	if mat.Det(&vut) < 0 {
		d = -1
	}

	var vd, r mat.Dense
	vd.Mul(&v, mat.NewDiagDense(3, []float64{1, 1, d}))
	r.Mul(&vd, u.T())

	var out geometry.Mat3
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out[row][col] = r.At(row, col)
		}
	}
	return out, nil
}

// translation averages ref − R·target over samples whose positions are valid
// on both sides. It is zero when none are.
func translation(target, reference []model.CalibrationSample, rot geometry.Mat3) geometry.Vec3 {
	var sum geometry.Vec3
	count := 0
	for i := range target {
		if !target[i].Flags.Has(model.PositionValid) || !reference[i].Flags.Has(model.PositionValid) {
			continue
		}
		sum = sum.Add(reference[i].Pose.Position.Sub(rot.Apply(target[i].Pose.Position)))
		count++
	}
	if count == 0 {
		return geometry.Vec3{}
	}
	return sum.Scale(1 / float64(count))
}
