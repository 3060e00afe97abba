// Package protocol defines the wire contract between devices and the
// coordinator: length-prefixed frames, the stream identifier handshake and
// the closed set of messages carried on the reliable stream and datagrams.
package protocol

import (
	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/internal/domain/model"
)

// Kind discriminates message bodies on the wire.
type Kind uint8

const (
	KindConfigurationSnapshot Kind = iota + 1
	KindCalibrationSample
	KindWelcome
	KindHeartbeat
	KindConfigurationSet
	KindBeginCalibration
	KindStopCalibration
	KindSetBaseSpace
	KindObjectReleased
	KindState
	KindApp
	KindStateSet
	KindWorld
)

// ConfigurationUp is sent by a device on its reliable stream.
type ConfigurationUp interface {
	Kind() Kind
	configurationUp()
}

// ConfigurationDown is sent by the coordinator on a device's reliable stream.
type ConfigurationDown interface {
	Kind() Kind
	configurationDown()
}

// DatagramPayload is carried by a device datagram.
type DatagramPayload interface {
	Kind() Kind
	datagramUp()
}

// DatagramDown is sent by the coordinator as a datagram.
type DatagramDown interface {
	Kind() Kind
	datagramDown()
}

type ConfigurationSnapshotUp struct {
	Snapshot model.ConfigurationSnapshot `json:"snapshot"`
}

type CalibrationSampleUp struct {
	Sample model.CalibrationSample `json:"sample"`
}

// Welcome is the first message after the handshake. Token authenticates the
// device's datagrams.
type Welcome struct {
	ClientID model.ClientID `json:"client_id"`
	Token    uint64         `json:"token"`
}

type Heartbeat struct{}

type ConfigurationSetDown struct {
	Set model.ConfigurationSnapshotSet `json:"set"`
}

// BeginCalibration asks a device to start sampling the given subaction path.
type BeginCalibration struct {
	SubactionPath string                  `json:"subaction_path"`
	Config        model.CalibrationConfig `json:"config"`
}

type StopCalibration struct{}

// SetBaseSpace overrides the device's base space pose.
type SetBaseSpace struct {
	Pose geometry.Pose `json:"pose"`
}

// ObjectReleased tells the previous owner it no longer holds the object.
type ObjectReleased struct {
	ObjectID model.ObjectID `json:"object_id"`
}

// DatagramUp is a device datagram. ClientID and Token must match the values
// issued in Welcome.
type DatagramUp struct {
	ClientID model.ClientID
	Token    uint64
	Payload  DatagramPayload
}

type StateUp struct {
	State model.StateSnapshot `json:"state"`
}

// AppUp carries a coordinator command. The sender is taken from the
// datagram, not from the command.
type AppUp struct {
	Command model.Command
}

type StateSetDown struct {
	Set model.StateSnapshotSet `json:"set"`
}

type WorldDown struct {
	Objects []model.Object `json:"objects"`
}

func (ConfigurationSnapshotUp) Kind() Kind { return KindConfigurationSnapshot }
func (CalibrationSampleUp) Kind() Kind     { return KindCalibrationSample }
func (Welcome) Kind() Kind                 { return KindWelcome }
func (Heartbeat) Kind() Kind               { return KindHeartbeat }
func (ConfigurationSetDown) Kind() Kind    { return KindConfigurationSet }
func (BeginCalibration) Kind() Kind        { return KindBeginCalibration }
func (StopCalibration) Kind() Kind         { return KindStopCalibration }
func (SetBaseSpace) Kind() Kind            { return KindSetBaseSpace }
func (ObjectReleased) Kind() Kind          { return KindObjectReleased }
func (StateUp) Kind() Kind                 { return KindState }
func (AppUp) Kind() Kind                   { return KindApp }
func (StateSetDown) Kind() Kind            { return KindStateSet }
func (WorldDown) Kind() Kind               { return KindWorld }

func (ConfigurationSnapshotUp) configurationUp() {}
func (CalibrationSampleUp) configurationUp()     {}

func (Welcome) configurationDown()              {}
func (Heartbeat) configurationDown()            {}
func (ConfigurationSetDown) configurationDown() {}
func (BeginCalibration) configurationDown()     {}
func (StopCalibration) configurationDown()      {}
func (SetBaseSpace) configurationDown()         {}
func (ObjectReleased) configurationDown()       {}

func (StateUp) datagramUp() {}
func (AppUp) datagramUp()   {}

func (StateSetDown) datagramDown() {}
func (WorldDown) datagramDown()    {}

func (k Kind) String() string {
	switch k {
	case KindConfigurationSnapshot:
		return "configuration_snapshot"
	case KindCalibrationSample:
		return "calibration_sample"
	case KindWelcome:
		return "welcome"
	case KindHeartbeat:
		return "heartbeat"
	case KindConfigurationSet:
		return "configuration_set"
	case KindBeginCalibration:
		return "begin_calibration"
	case KindStopCalibration:
		return "stop_calibration"
	case KindSetBaseSpace:
		return "set_base_space"
	case KindObjectReleased:
		return "object_released"
	case KindState:
		return "state"
	case KindApp:
		return "app"
	case KindStateSet:
		return "state_set"
	case KindWorld:
		return "world"
	default:
		return "unknown"
	}
}
