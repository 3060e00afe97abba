package simclient_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/netvr/internal/app"
	"github.com/okian/netvr/internal/config"
	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/internal/simclient"
	"github.com/okian/netvr/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func startService(t *testing.T) *service.Service {
	cfg := config.New()
	cfg.Addr = "127.0.0.1:0"
	cfg.StreamAddr = "127.0.0.1:0"
	cfg.DatagramAddr = "127.0.0.1:0"
	cfg.DiscoveryAddr = ""
	cfg.StatePushIntervalMS = 10
	cfg.TickIntervalMS = 10
	cfg.CalibrationTimeoutMS = 5_000
	cfg.CalibrationDumpDir = t.TempDir()
	svc := service.New(service.WithConfig(cfg))
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestTrajectory(t *testing.T) {
	Convey("Given two frames observing the same motion", t, func() {
		target, reference := simclient.Frame(1), simclient.Frame(0)
		rel := simclient.Relative(target, reference)

		Convey("Then the relative transform maps every target observation onto the reference one", func() {
			for k := 0; k < 8; k++ {
				tp := simclient.Observe(target, simclient.Motion(k))
				rp := simclient.Observe(reference, simclient.Motion(k))
				mapped := rel.Orientation.Rotate(tp.Position).Add(rel.Position)
				So(mapped.Sub(rp.Position).Norm(), ShouldBeLessThan, 1e-9)
				So(rel.Orientation.Mul(tp.Orientation).AngleTo(rp.Orientation), ShouldBeLessThan, 1e-6)
			}
		})

		Convey("Then consecutive steps rotate enough to constrain calibration", func() {
			for k := 0; k < 8; k++ {
				a, b := simclient.Motion(k).Orientation, simclient.Motion(k+1).Orientation
				So(a.AngleTo(b), ShouldBeGreaterThan, 0.4)
			}
		})
	})
}

func TestDevices(t *testing.T) {
	Convey("Given a coordinator and two simulated devices", t, func() {
		svc := startService(t)
		defer func() { _ = svc.Stop() }()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		connect := func(i int) *simclient.Device {
			d, err := simclient.Connect(ctx, svc.StreamAddr(), svc.DatagramAddr(),
				simclient.WithFrame(simclient.Frame(i)), simclient.WithStateInterval(5*time.Millisecond))
			So(err, ShouldBeNil)
			return d
		}
		a, b := connect(0), connect(1)
		done := make(chan error, 2)
		for _, d := range []*simclient.Device{a, b} {
			go func() { done <- d.Run(ctx) }()
		}

		Convey("Then each device reconciles both clients", func() {
			for _, d := range []*simclient.Device{a, b} {
				So(eventually(func() bool { return len(d.Merged()) == 2 }), ShouldBeTrue)
			}
			So(a.Merged()[b.ID()].Configuration.Name, ShouldEqual, simclient.DefaultName)
		})

		Convey("When a device reconfigures", func() {
			So(eventually(func() bool { return len(a.Merged()) == 2 }), ShouldBeTrue)
			So(b.Reconfigure(ctx), ShouldBeNil)
			So(b.Version(), ShouldEqual, uint32(2))

			Convey("Then the others pick up the new version once its state follows", func() {
				So(eventually(func() bool {
					v, ok := a.Merged()[b.ID()]
					return ok && v.Configuration.Version == 2 && v.State.RequiredConfiguration == 2
				}), ShouldBeTrue)
			})
		})

		Convey("When devices share a world", func() {
			So(a.Command(model.Init{Objects: []geometry.Pose{geometry.IdentityPose()}}), ShouldBeNil)
			So(eventually(func() bool { return len(b.World()) == 1 }), ShouldBeTrue)
			So(b.Command(model.Grab{Object: 0}), ShouldBeNil)

			Convey("Then the previous owner learns it was released", func() {
				So(eventually(func() bool { return len(a.Released()) == 1 }), ShouldBeTrue)
				So(a.Released()[0], ShouldEqual, model.ObjectID(0))
				So(eventually(func() bool {
					w := a.World()
					return len(w) == 1 && w[0].Owner == b.ID()
				}), ShouldBeTrue)
			})
		})

		Convey("When the two devices are calibrated", func() {
			trigger := model.CalibrationTrigger{
				Target: b.ID(), TargetSubactionPath: simclient.RightHand,
				Reference: a.ID(), ReferenceSubactionPath: simclient.RightHand,
				Config: model.CalibrationConfig{SampleCount: 12, SampleInterval: int64(time.Millisecond)},
			}
			_, err := svc.StartCalibration(ctx, trigger)
			So(err, ShouldBeNil)

			Convey("Then the target receives the transform into the reference space", func() {
				want := simclient.Relative(simclient.Frame(1), simclient.Frame(0))
				So(eventually(func() bool {
					return b.BaseSpace().Orientation.AngleTo(want.Orientation) < 1e-6
				}), ShouldBeTrue)
				So(b.BaseSpace().Position.Sub(want.Position).Norm(), ShouldBeLessThan, 1e-6)
				So(a.SamplesSent(), ShouldEqual, 12)
				So(b.SamplesSent(), ShouldEqual, 12)
				So(a.BaseSpace(), ShouldResemble, geometry.IdentityPose())
			})
		})

		Convey("When the context is cancelled", func() {
			cancel()

			Convey("Then Run returns without error", func() {
				for i := 0; i < 2; i++ {
					select {
					case err := <-done:
						So(err, ShouldBeNil)
					case <-time.After(2 * time.Second):
						So("device did not stop", ShouldBeEmpty)
					}
				}
			})
		})
	})
}

func TestRunValidation(t *testing.T) {
	Convey("Given a run without devices", t, func() {
		err := simclient.Run(context.Background(), simclient.Config{StreamAddr: "127.0.0.1:1"})
		So(err, ShouldNotBeNil)
	})

	Convey("Given an unreachable coordinator", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := simclient.Run(ctx, simclient.Config{StreamAddr: "127.0.0.1:1", Devices: 1})
		So(err, ShouldNotBeNil)
	})
}
