package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/internal/domain/model"
)

type envelope struct {
	Kind Kind            `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

type datagramEnvelope struct {
	ClientID model.ClientID  `cbor:"1,keyasint"`
	Token    uint64          `cbor:"2,keyasint"`
	Kind     Kind            `cbor:"3,keyasint"`
	Body     cbor.RawMessage `cbor:"4,keyasint"`
}

// appWire flattens the command variants for the wire.
type appWire struct {
	Op      string          `cbor:"1,keyasint"`
	Object  model.ObjectID  `cbor:"2,keyasint,omitempty"`
	Pose    geometry.Pose   `cbor:"3,keyasint,omitempty"`
	Objects []geometry.Pose `cbor:"4,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxArrayElements: 1 << 20, MaxMapPairs: 1 << 20}).DecMode(); err != nil {
		panic(err)
	}
}

func seal(kind Kind, body any) ([]byte, error) {
	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return encMode.Marshal(envelope{Kind: kind, Body: raw})
}

func open(b []byte) (envelope, error) {
	var env envelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func body[T any](kind Kind, raw cbor.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := decMode.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", kind, err)
	}
	return v, nil
}

// EncodeUp encodes a device stream message.
func EncodeUp(msg ConfigurationUp) ([]byte, error) {
	switch m := msg.(type) {
	case ConfigurationSnapshotUp, CalibrationSampleUp:
		return seal(m.Kind(), m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}
}

// DecodeUp decodes a device stream message.
func DecodeUp(b []byte) (ConfigurationUp, error) {
	env, err := open(b)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindConfigurationSnapshot:
		return body[ConfigurationSnapshotUp](env.Kind, env.Body)
	case KindCalibrationSample:
		return body[CalibrationSampleUp](env.Kind, env.Body)
	default:
		return nil, fmt.Errorf("%w: %d on configuration stream", ErrUnknownKind, env.Kind)
	}
}

// EncodeDown encodes a coordinator stream message.
func EncodeDown(msg ConfigurationDown) ([]byte, error) {
	switch m := msg.(type) {
	case Welcome, Heartbeat, ConfigurationSetDown, BeginCalibration, StopCalibration, SetBaseSpace, ObjectReleased:
		return seal(m.Kind(), m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}
}

// DecodeDown decodes a coordinator stream message.
func DecodeDown(b []byte) (ConfigurationDown, error) {
	env, err := open(b)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindWelcome:
		return body[Welcome](env.Kind, env.Body)
	case KindHeartbeat:
		return body[Heartbeat](env.Kind, env.Body)
	case KindConfigurationSet:
		return body[ConfigurationSetDown](env.Kind, env.Body)
	case KindBeginCalibration:
		return body[BeginCalibration](env.Kind, env.Body)
	case KindStopCalibration:
		return body[StopCalibration](env.Kind, env.Body)
	case KindSetBaseSpace:
		return body[SetBaseSpace](env.Kind, env.Body)
	case KindObjectReleased:
		return body[ObjectReleased](env.Kind, env.Body)
	default:
		return nil, fmt.Errorf("%w: %d on configuration stream", ErrUnknownKind, env.Kind)
	}
}

// EncodeDatagramUp encodes a device datagram.
func EncodeDatagramUp(d DatagramUp) ([]byte, error) {
	var (
		payload any
		kind    Kind
	)
	switch p := d.Payload.(type) {
	case StateUp:
		payload, kind = p, p.Kind()
	case AppUp:
		w, err := appToWire(p.Command)
		if err != nil {
			return nil, err
		}
		payload, kind = w, p.Kind()
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, d.Payload)
	}
	raw, err := encMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return encMode.Marshal(datagramEnvelope{ClientID: d.ClientID, Token: d.Token, Kind: kind, Body: raw})
}

// DecodeDatagramUp decodes a device datagram. The command sender of an
// AppUp payload is set from the datagram's ClientID.
func DecodeDatagramUp(b []byte) (DatagramUp, error) {
	var env datagramEnvelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return DatagramUp{}, fmt.Errorf("decode datagram: %w", err)
	}
	d := DatagramUp{ClientID: env.ClientID, Token: env.Token}
	switch env.Kind {
	case KindState:
		p, err := body[StateUp](env.Kind, env.Body)
		if err != nil {
			return d, err
		}
		d.Payload = p
	case KindApp:
		w, err := body[appWire](env.Kind, env.Body)
		if err != nil {
			return d, err
		}
		cmd, err := appFromWire(w, env.ClientID)
		if err != nil {
			return d, err
		}
		d.Payload = AppUp{Command: cmd}
	default:
		return d, fmt.Errorf("%w: %d in datagram", ErrUnknownKind, env.Kind)
	}
	return d, nil
}

// EncodeDatagramDown encodes a coordinator datagram.
func EncodeDatagramDown(msg DatagramDown) ([]byte, error) {
	switch m := msg.(type) {
	case StateSetDown, WorldDown:
		return seal(m.Kind(), m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}
}

// DecodeDatagramDown decodes a coordinator datagram.
func DecodeDatagramDown(b []byte) (DatagramDown, error) {
	env, err := open(b)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindStateSet:
		return body[StateSetDown](env.Kind, env.Body)
	case KindWorld:
		return body[WorldDown](env.Kind, env.Body)
	default:
		return nil, fmt.Errorf("%w: %d in datagram", ErrUnknownKind, env.Kind)
	}
}

func appToWire(c model.Command) (appWire, error) {
	switch cmd := c.(type) {
	case model.SetPose:
		return appWire{Op: "set_pose", Object: cmd.Object, Pose: cmd.Pose}, nil
	case model.Init:
		return appWire{Op: "init", Objects: cmd.Objects}, nil
	case model.Grab:
		return appWire{Op: "grab", Object: cmd.Object}, nil
	case model.Reset:
		return appWire{Op: "reset"}, nil
	default:
		return appWire{}, fmt.Errorf("%w: command %T", ErrUnknownKind, c)
	}
}

func appFromWire(w appWire, sender model.ClientID) (model.Command, error) {
	switch w.Op {
	case "set_pose":
		return model.SetPose{Client: sender, Object: w.Object, Pose: w.Pose}, nil
	case "init":
		return model.Init{Client: sender, Objects: w.Objects}, nil
	case "grab":
		return model.Grab{Client: sender, Object: w.Object}, nil
	case "reset":
		return model.Reset{Client: sender}, nil
	default:
		return nil, fmt.Errorf("%w: command %q", ErrUnknownKind, w.Op)
	}
}
