// Package simclient runs simulated VR devices against a coordinator. A
// device speaks the full protocol: it uploads a configuration, streams
// state, reconciles what the server sends back and answers calibration
// requests with poses taken from a shared trajectory.
package simclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/internal/adapters/transport"
	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/internal/domain/reconcile"
	"github.com/okian/netvr/pkg/logger"
)

const sendTimeout = 2 * time.Second

// Subaction paths every simulated device exposes.
const (
	LeftHand  = "/user/hand/left"
	RightHand = "/user/hand/right"
)

// Device is one simulated headset with two controllers.
type Device struct {
	name          string
	frame         geometry.Pose
	stateInterval time.Duration
	dialOpts      []transport.Option
	logger        logger.Logger

	stream  protocol.DeviceStream
	welcome protocol.Welcome
	grams   *transport.DatagramConn

	mu          sync.RWMutex
	version     uint32
	configs     model.ConfigurationSnapshotSet
	states      model.StateSnapshotSet
	merged      model.MergedSet
	world       []model.Object
	base        geometry.Pose
	released    []model.ObjectID
	calibrating context.CancelFunc
	samplesSent int
}

// Connect dials the coordinator, opens the datagram channel and uploads the
// first configuration.
func Connect(ctx context.Context, streamAddr, datagramAddr string, opts ...Option) (*Device, error) {
	d := &Device{
		name:          DefaultName,
		frame:         geometry.IdentityPose(),
		stateInterval: DefaultStateInterval,
		logger:        logger.Get().Named("simclient"),
		configs:       model.NewConfigurationSnapshotSet(),
		merged:        model.MergedSet{},
		base:          geometry.IdentityPose(),
	}
	for _, opt := range opts {
		opt(d)
	}

	stream, welcome, err := transport.Dial(ctx, streamAddr, d.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", streamAddr, err)
	}
	grams, err := transport.DialDatagrams(datagramAddr, welcome)
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("dial datagrams %s: %w", datagramAddr, err)
	}
	d.stream, d.welcome, d.grams = stream, welcome, grams
	d.logger = d.logger.With(logger.ClientID(welcome.ClientID))

	if err := d.Reconfigure(ctx); err != nil {
		d.Close()
		return nil, err
	}
	d.logger.Info(ctx, "device connected", logger.String("name", d.name))
	return d, nil
}

// ID is the identifier the server assigned.
func (d *Device) ID() model.ClientID { return d.welcome.ClientID }

// Version is the current configuration version.
func (d *Device) Version() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Reconfigure bumps the configuration version and uploads it. State sent
// afterwards refers to the new version.
func (d *Device) Reconfigure(ctx context.Context) error {
	d.mu.Lock()
	d.version++
	snap := d.configuration(d.version)
	d.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := d.stream.Send(sctx, protocol.ConfigurationSnapshotUp{Snapshot: snap}); err != nil {
		return fmt.Errorf("send configuration v%d: %w", snap.Version, err)
	}
	return nil
}

func (d *Device) configuration(version uint32) model.ConfigurationSnapshot {
	return model.ConfigurationSnapshot{
		Version:   version,
		Name:      d.name,
		UserPaths: []string{LeftHand, RightHand},
		InteractionProfiles: []model.InteractionProfile{{
			Path: "/interaction_profiles/khr/simple_controller",
			Bindings: []model.InteractionProfileBinding{
				{Type: model.BindingPose, Name: "grip_pose", LocalizedName: "Grip Pose", Path: "/input/grip/pose"},
				{Type: model.BindingBoolean, Name: "select", LocalizedName: "Select", Path: "/input/select/click"},
			},
		}},
	}
}

// Merged is the device's own reconciled view of every client.
func (d *Device) Merged() model.MergedSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.merged.Clone()
}

// World is the last world snapshot received.
func (d *Device) World() []model.Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Object(nil), d.world...)
}

// BaseSpace is the last base-space pose the server pushed.
func (d *Device) BaseSpace() geometry.Pose {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.base
}

// Released lists objects the device lost ownership of, in order.
func (d *Device) Released() []model.ObjectID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.ObjectID(nil), d.released...)
}

// SamplesSent counts calibration samples uploaded so far.
func (d *Device) SamplesSent() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.samplesSent
}

// Command sends a world command on the datagram channel.
func (d *Device) Command(cmd model.Command) error {
	return d.grams.Send(protocol.AppUp{Command: cmd})
}

// Run drives the device until ctx is done or a connection fails. It
// returns nil on cancellation.
func (d *Device) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.readStream(gctx, g) })
	g.Go(func() error { return d.sendStates(gctx) })
	g.Go(func() error { return d.readDatagrams(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		d.Close()
		return nil
	})

	err := g.Wait()
	d.stopCalibration()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close shuts both connections.
func (d *Device) Close() {
	_ = d.stream.Close()
	_ = d.grams.Close()
}

func (d *Device) readStream(ctx context.Context, g *errgroup.Group) error {
	for {
		msg, err := d.stream.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		switch m := msg.(type) {
		case protocol.Heartbeat:
		case protocol.ConfigurationSetDown:
			d.mu.Lock()
			d.configs = m.Set
			d.reconcileLocked()
			d.mu.Unlock()
		case protocol.BeginCalibration:
			d.beginCalibration(ctx, g, m)
		case protocol.StopCalibration:
			d.stopCalibration()
		case protocol.SetBaseSpace:
			d.mu.Lock()
			d.base = m.Pose
			d.mu.Unlock()
			d.logger.Info(ctx, "base space updated", logger.Any("pose", m.Pose))
		case protocol.ObjectReleased:
			d.mu.Lock()
			d.released = append(d.released, m.ObjectID)
			d.mu.Unlock()
		default:
			d.logger.Debug(ctx, "ignoring message", logger.String("kind", msg.Kind().String()))
		}
	}
}

func (d *Device) readDatagrams(ctx context.Context) error {
	for {
		msg, err := d.grams.Receive()
		var netErr *net.OpError
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
			return nil
		case errors.As(err, &netErr):
			return fmt.Errorf("read datagrams: %w", err)
		default:
			d.logger.Debug(ctx, "dropping malformed datagram", logger.Error(err))
			continue
		}
		d.mu.Lock()
		switch m := msg.(type) {
		case protocol.StateSetDown:
			if m.Set.Order >= d.states.Order {
				d.states = m.Set
				d.reconcileLocked()
			}
		case protocol.WorldDown:
			d.world = m.Objects
		}
		d.mu.Unlock()
	}
}

func (d *Device) reconcileLocked() {
	if d.states.Clients == nil {
		return
	}
	d.merged = reconcile.Reconcile(d.merged, d.configs, d.states)
}

func (d *Device) sendStates(ctx context.Context) error {
	t := time.NewTicker(d.stateInterval)
	defer t.Stop()
	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if err := d.grams.Send(protocol.StateUp{State: d.state(step)}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send state: %w", err)
		}
	}
}

// state builds an idle pose set tagged with the current version.
func (d *Device) state(step int) model.StateSnapshot {
	d.mu.RLock()
	version := d.version
	d.mu.RUnlock()

	view := Observe(d.frame, geometry.Pose{
		Position:    geometry.Vec3{Y: 1.7},
		Orientation: geometry.AxisAngle(geometry.Vec3{Y: 1}, 0.01*float64(step)),
	})
	return model.StateSnapshot{
		View:                  view,
		RequiredConfiguration: version,
		Controllers: []model.ControllerState{
			{UserPath: 0, Pose: Observe(d.frame, geometry.Pose{Position: geometry.Vec3{X: -0.2, Y: 1.1}, Orientation: geometry.IdentityQuat()})},
			{UserPath: 1, Pose: Observe(d.frame, geometry.Pose{Position: geometry.Vec3{X: 0.2, Y: 1.1}, Orientation: geometry.IdentityQuat()})},
		},
	}
}

// beginCalibration starts sampling, replacing any sampling already running.
func (d *Device) beginCalibration(ctx context.Context, g *errgroup.Group, m protocol.BeginCalibration) {
	cctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.calibrating != nil {
		d.calibrating()
	}
	d.calibrating = cancel
	d.mu.Unlock()

	d.logger.Info(ctx, "calibration requested", logger.String("path", m.SubactionPath),
		logger.Int("samples", m.Config.SampleCount), logger.Duration("interval", m.Config.Interval()))
	g.Go(func() error {
		defer cancel()
		d.sample(cctx, m.Config)
		return nil
	})
}

func (d *Device) stopCalibration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calibrating != nil {
		d.calibrating()
		d.calibrating = nil
	}
}

// sample uploads SampleCount poses of the shared trajectory, paced by the
// configured interval. Cancellation stops it early.
func (d *Device) sample(ctx context.Context, cfg model.CalibrationConfig) {
	var prev *model.PreviousLocation
	flags := model.OrientationValid | model.PositionValid | model.OrientationTracked | model.PositionTracked
	for k := 0; k < cfg.SampleCount; k++ {
		if k > 0 && cfg.Interval() > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.Interval()):
			}
		}
		if ctx.Err() != nil {
			return
		}
		requested := time.Now().UnixNano()
		pose := Observe(d.frame, Motion(k))
		sample := model.CalibrationSample{
			Flags:       flags,
			Pose:        pose,
			Previous:    prev,
			RequestedAt: requested,
			CapturedAt:  time.Now().UnixNano(),
		}
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := d.stream.Send(sctx, protocol.CalibrationSampleUp{Sample: sample})
		cancel()
		if err != nil {
			d.logger.Warn(ctx, "sending calibration sample failed", logger.Int("index", k), logger.Error(err))
			return
		}
		d.mu.Lock()
		d.samplesSent++
		d.mu.Unlock()
		prev = &model.PreviousLocation{Flags: flags, Pose: pose}
	}
}
