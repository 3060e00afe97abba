package model

import (
	"time"

	"github.com/okian/netvr/internal/domain/geometry"
)

// LocationFlags mirror the space-location validity bits reported by the
// tracking runtime.
type LocationFlags uint32

const (
	OrientationValid LocationFlags = 1 << iota
	PositionValid
	OrientationTracked
	PositionTracked
)

// Has reports whether every bit in f is set.
func (l LocationFlags) Has(f LocationFlags) bool { return l&f == f }

// PreviousLocation is the location reported by the previous sample request,
// when the runtime provided one.
type PreviousLocation struct {
	Flags LocationFlags `json:"flags"`
	Pose  geometry.Pose `json:"pose"`
}

// CalibrationSample is one located pose captured during calibration.
// Timestamps are nanoseconds in the device's clock.
type CalibrationSample struct {
	Flags       LocationFlags     `json:"flags"`
	Pose        geometry.Pose     `json:"pose"`
	Previous    *PreviousLocation `json:"previous,omitempty"`
	RequestedAt int64             `json:"requested_at"`
	CapturedAt  int64             `json:"captured_at"`
}

// CalibrationConfig is the sampling policy sent to devices. Devices pace
// their own sampling.
type CalibrationConfig struct {
	SampleCount    int   `json:"sample_count"`
	SampleInterval int64 `json:"sample_interval"`
}

// Interval returns SampleInterval as a duration.
func (c CalibrationConfig) Interval() time.Duration { return time.Duration(c.SampleInterval) }

// DefaultCalibrationConfig matches what operators use by default.
func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{SampleCount: 500, SampleInterval: int64(20 * time.Millisecond)}
}

// CalibrationResult is the rigid transform taking target-space poses into
// reference space.
type CalibrationResult struct {
	Translation geometry.Vec3 `json:"translation"`
	Rotation    geometry.Quat `json:"rotation"`
}

// Pose returns the result as a base-space pose override.
func (r CalibrationResult) Pose() geometry.Pose {
	return geometry.Pose{Position: r.Translation, Orientation: r.Rotation}
}

// CalibrationTrigger names the two devices of a calibration session and the
// subaction paths whose poses they sample.
type CalibrationTrigger struct {
	Target                 ClientID          `json:"target"`
	TargetSubactionPath    string            `json:"target_subaction_path"`
	Reference              ClientID          `json:"reference"`
	ReferenceSubactionPath string            `json:"reference_subaction_path"`
	Config                 CalibrationConfig `json:"config"`
}

// CalibrationInput is the complete raw input of a session, enough to
// recompute the result offline.
type CalibrationInput struct {
	SessionID string              `json:"session_id"`
	CreatedAt time.Time           `json:"created_at"`
	Trigger   CalibrationTrigger  `json:"trigger"`
	Target    []CalibrationSample `json:"target"`
	Reference []CalibrationSample `json:"reference"`
}
