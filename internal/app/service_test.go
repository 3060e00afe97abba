package service_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/netvr/internal/adapters/dashboard"
	"github.com/okian/netvr/internal/adapters/http/api"
	"github.com/okian/netvr/internal/adapters/persist"
	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/internal/adapters/transport"
	service "github.com/okian/netvr/internal/app"
	"github.com/okian/netvr/internal/config"
	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
	"github.com/okian/netvr/pkg/metrics"
)

func init() {
	_ = logger.Init()
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.New()
	cfg.Addr = "127.0.0.1:0"
	cfg.StreamAddr = "127.0.0.1:0"
	cfg.DatagramAddr = "127.0.0.1:0"
	cfg.DiscoveryAddr = "127.0.0.1:0"
	cfg.HeartbeatIntervalMS = 50
	cfg.StatePushIntervalMS = 10
	cfg.TickIntervalMS = 10
	cfg.CalibrationTimeoutMS = 500
	cfg.CalibrationDumpDir = t.TempDir()
	return cfg
}

type device struct {
	stream  protocol.DeviceStream
	welcome protocol.Welcome
	dg      *transport.DatagramConn
	down    chan protocol.ConfigurationDown
	grams   chan protocol.DatagramDown
}

func connect(svc *service.Service) *device {
	stream, welcome, err := transport.Dial(context.Background(), svc.StreamAddr())
	So(err, ShouldBeNil)
	dg, err := transport.DialDatagrams(svc.DatagramAddr(), welcome)
	So(err, ShouldBeNil)

	d := &device{
		stream:  stream,
		welcome: welcome,
		dg:      dg,
		down:    make(chan protocol.ConfigurationDown, 64),
		grams:   make(chan protocol.DatagramDown, 64),
	}
	go func() {
		defer close(d.down)
		for {
			msg, err := stream.Receive()
			if err != nil {
				return
			}
			if _, hb := msg.(protocol.Heartbeat); hb {
				continue
			}
			d.down <- msg
		}
	}()
	go func() {
		for {
			msg, err := dg.Receive()
			if err != nil {
				return
			}
			select {
			case d.grams <- msg:
			default:
			}
		}
	}()
	return d
}

func (d *device) close() {
	_ = d.stream.Close()
	_ = d.dg.Close()
}

// await returns the first stream message matching ok within the deadline.
func await[T protocol.ConfigurationDown](d *device, ok func(T) bool) (T, bool) {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, open := <-d.down:
			if !open {
				var zero T
				return zero, false
			}
			if m, match := msg.(T); match && ok(m) {
				return m, true
			}
		case <-deadline:
			var zero T
			return zero, false
		}
	}
}

func awaitDatagram[T protocol.DatagramDown](d *device, ok func(T) bool) (T, bool) {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-d.grams:
			if m, match := msg.(T); match && ok(m) {
				return m, true
			}
		case <-deadline:
			var zero T
			return zero, false
		}
	}
}

// counter reads a counter from the coordinator registry.
func counter(name string) float64 {
	families, err := metrics.GetRegistry().Gather()
	So(err, ShouldBeNil)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) == 1 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service", t, func() {
		svc := service.New(service.WithConfig(testConfig(t)))

		Convey("When it is started twice", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)
			Reset(func() { _ = svc.Stop() })

			Convey("Then its endpoints are reachable", func() {
				resp, err := http.Get("http://" + svc.HTTPAddr() + "/healthz")
				So(err, ShouldBeNil)
				_ = resp.Body.Close()
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(svc.DiscoveryAddr(), ShouldNotBeEmpty)
				So(svc.GetStats().Started, ShouldBeTrue)
			})

			Convey("Then stopping it twice is harmless", func() {
				So(svc.Stop(), ShouldBeNil)
				So(svc.Stop(), ShouldBeNil)
				So(svc.GetStats().Started, ShouldBeFalse)
				select {
				case <-svc.Done():
				case <-time.After(time.Second):
					So("service not done", ShouldBeEmpty)
				}
			})
		})

		Convey("When an address is already taken", func() {
			other := service.New(service.WithConfig(testConfig(t)))
			So(other.Start(context.Background()), ShouldBeNil)
			defer func() { _ = other.Stop() }()

			cfg := testConfig(t)
			cfg.StreamAddr = other.StreamAddr()
			err := service.New(service.WithConfig(cfg)).Start(context.Background())

			Convey("Then Start fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestServiceSynchronisation(t *testing.T) {
	Convey("Given a running service with two devices", t, func() {
		svc := service.New(service.WithConfig(testConfig(t)))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer func() { _ = svc.Stop() }()

		a := connect(svc)
		defer a.close()
		b := connect(svc)
		defer b.close()
		So(a.welcome.ClientID, ShouldEqual, model.ClientID(1))
		So(b.welcome.ClientID, ShouldEqual, model.ClientID(2))
		ctx := context.Background()

		Convey("When a device uploads its configuration", func() {
			snap := model.ConfigurationSnapshot{Version: 1, Name: "headset-a"}
			So(a.stream.Send(ctx, protocol.ConfigurationSnapshotUp{Snapshot: snap}), ShouldBeNil)

			Convey("Then every device receives the new configuration set", func() {
				for _, d := range []*device{a, b} {
					set, ok := await(d, func(m protocol.ConfigurationSetDown) bool {
						_, has := m.Set.Clients[1]
						return has
					})
					So(ok, ShouldBeTrue)
					So(set.Set.Clients[1].Name, ShouldEqual, "headset-a")
				}
			})

			Convey("Then once state tags that version the client is merged", func() {
				So(a.dg.Send(protocol.StateUp{State: model.StateSnapshot{RequiredConfiguration: 1}}), ShouldBeNil)
				So(eventually(func() bool {
					return len(svc.FullState(ctx).Merged) == 1
				}), ShouldBeTrue)

				set, ok := awaitDatagram(a, func(m protocol.StateSetDown) bool {
					_, has := m.Set.Clients[1]
					return has
				})
				So(ok, ShouldBeTrue)
				So(set.Set.Clients[1].RequiredConfiguration, ShouldEqual, uint32(1))
			})
		})

		Convey("When the same configuration arrives twice", func() {
			const name = "netvr_coordinator_configuration_updates_total"
			before := counter(name)
			snap := model.ConfigurationSnapshot{Version: 1, Name: "headset-a"}
			So(a.stream.Send(ctx, protocol.ConfigurationSnapshotUp{Snapshot: snap}), ShouldBeNil)
			_, ok := await(b, func(m protocol.ConfigurationSetDown) bool { return len(m.Set.Clients) == 1 })
			So(ok, ShouldBeTrue)
			So(a.stream.Send(ctx, protocol.ConfigurationSnapshotUp{Snapshot: snap}), ShouldBeNil)
			bumped := snap
			bumped.Version = 2
			So(a.stream.Send(ctx, protocol.ConfigurationSnapshotUp{Snapshot: bumped}), ShouldBeNil)
			_, ok = await(b, func(m protocol.ConfigurationSetDown) bool { return m.Set.Clients[1].Version == 2 })
			So(ok, ShouldBeTrue)

			Convey("Then each version change is counted once", func() {
				So(counter(name)-before, ShouldEqual, 2)
			})
		})

		Convey("When a device disconnects", func() {
			So(b.stream.Send(ctx, protocol.ConfigurationSnapshotUp{Snapshot: model.ConfigurationSnapshot{Version: 1}}), ShouldBeNil)
			_, ok := await(a, func(m protocol.ConfigurationSetDown) bool { return len(m.Set.Clients) == 1 })
			So(ok, ShouldBeTrue)
			b.close()

			Convey("Then the others get a set without it", func() {
				_, ok := await(a, func(m protocol.ConfigurationSetDown) bool { return len(m.Set.Clients) == 0 })
				So(ok, ShouldBeTrue)
				So(eventually(func() bool { return svc.GetStats().Clients == 1 }), ShouldBeTrue)
			})
		})

		Convey("When world commands arrive", func() {
			So(a.dg.Send(protocol.AppUp{Command: model.Init{Objects: []geometry.Pose{geometry.IdentityPose()}}}), ShouldBeNil)
			So(eventually(func() bool { return len(svc.FullState(ctx).World) == 1 }), ShouldBeTrue)
			So(b.dg.Send(protocol.AppUp{Command: model.Grab{Object: 0}}), ShouldBeNil)

			Convey("Then the previous owner is told it lost the object", func() {
				rel, ok := await(a, func(protocol.ObjectReleased) bool { return true })
				So(ok, ShouldBeTrue)
				So(rel.ObjectID, ShouldEqual, model.ObjectID(0))
				So(svc.FullState(ctx).World[0].Owner, ShouldEqual, model.ClientID(2))
			})
		})

		Convey("When an operator moves a client", func() {
			pose := geometry.Pose{Position: geometry.Vec3{X: 1}, Orientation: geometry.IdentityQuat()}
			So(svc.MoveClients(ctx, []dashboard.ClientMove{{ID: 2, Pose: pose}}), ShouldBeNil)

			Convey("Then it receives the new base space", func() {
				got, ok := await(b, func(protocol.SetBaseSpace) bool { return true })
				So(ok, ShouldBeTrue)
				So(got.Pose, ShouldResemble, pose)
			})

			Convey("Then an unknown client is reported as not found", func() {
				err := svc.MoveClients(ctx, []dashboard.ClientMove{{ID: 9, Pose: pose}})
				So(errors.Is(err, api.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestServiceCalibration(t *testing.T) {
	Convey("Given a running service with two devices", t, func() {
		svc := service.New(service.WithConfig(testConfig(t)))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer func() { _ = svc.Stop() }()

		a := connect(svc)
		defer a.close()
		b := connect(svc)
		defer b.close()
		ctx := context.Background()
		trigger := model.CalibrationTrigger{
			Target: 1, Reference: 2,
			TargetSubactionPath: "/user/hand/left", ReferenceSubactionPath: "/user/hand/right",
			Config: model.CalibrationConfig{SampleCount: 3},
		}

		Convey("When a calibration is started", func() {
			id, err := svc.StartCalibration(ctx, trigger)
			So(err, ShouldBeNil)
			So(id, ShouldNotBeEmpty)

			Convey("Then both devices are asked to sample their own path", func() {
				begin, ok := await(a, func(protocol.BeginCalibration) bool { return true })
				So(ok, ShouldBeTrue)
				So(begin.SubactionPath, ShouldEqual, "/user/hand/left")
				begin, ok = await(b, func(protocol.BeginCalibration) bool { return true })
				So(ok, ShouldBeTrue)
				So(begin.SubactionPath, ShouldEqual, "/user/hand/right")
			})

			Convey("Then a second start conflicts", func() {
				_, err := svc.StartCalibration(ctx, trigger)
				So(errors.Is(err, api.ErrConflict), ShouldBeTrue)
			})

			Convey("Then without samples it times out and stops both devices", func() {
				_, ok := await(a, func(protocol.StopCalibration) bool { return true })
				So(ok, ShouldBeTrue)
				_, ok = await(b, func(protocol.StopCalibration) bool { return true })
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When a trigger asks for more samples than the cap", func() {
			huge := trigger
			huge.Config.SampleCount = 1 << 40
			_, err := svc.StartCalibration(ctx, huge)

			Convey("Then it is rejected before any device is asked", func() {
				So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
				_, begun := await(a, func(protocol.BeginCalibration) bool { return true })
				So(begun, ShouldBeFalse)
				So(svc.GetStats().Calibration, ShouldBeNil)
			})
		})

		Convey("When a session is running", func() {
			id, err := svc.StartCalibration(ctx, trigger)
			So(err, ShouldBeNil)

			Convey("Then stats report its progress", func() {
				progress := svc.GetStats().Calibration
				So(progress, ShouldNotBeNil)
				So(progress.SessionID, ShouldEqual, id)
				So(progress.Wanted, ShouldEqual, 3)
				So(progress.Target, ShouldEqual, 0)
			})

			Convey("Then after the timeout the failure is summarised", func() {
				So(eventually(func() bool { return svc.GetStats().LastCalibration != nil }), ShouldBeTrue)
				last := svc.GetStats().LastCalibration
				So(last.SessionID, ShouldEqual, id)
				So(last.Error, ShouldNotBeEmpty)
			})
		})

		Convey("When a trigger names a disconnected client", func() {
			bad := trigger
			bad.Reference = 7
			_, err := svc.StartCalibration(ctx, bad)
			So(errors.Is(err, api.ErrNotFound), ShouldBeTrue)
		})

		Convey("When a trigger names the same client twice", func() {
			bad := trigger
			bad.Reference = bad.Target
			_, err := svc.StartCalibration(ctx, bad)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		})
	})
}

func TestServiceLoadDump(t *testing.T) {
	Convey("Given a running service with a dump directory", t, func() {
		cfg := testConfig(t)
		svc := service.New(service.WithConfig(cfg))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer func() { _ = svc.Stop() }()
		ctx := context.Background()

		in := model.CalibrationInput{SessionID: "c9a1", Trigger: model.CalibrationTrigger{Target: 1, Reference: 2}}
		path, err := persist.NewDumper(cfg.CalibrationDumpDir).Dump(ctx, in)
		So(err, ShouldBeNil)

		Convey("When a dump is named by its file name", func() {
			got, err := svc.LoadDump(ctx, filepath.Base(path))
			So(err, ShouldBeNil)
			So(got.SessionID, ShouldEqual, "c9a1")
		})

		Convey("When a name escapes the directory", func() {
			for _, name := range []string{"../" + filepath.Base(path), path, "/etc/passwd"} {
				_, err := svc.LoadDump(ctx, name)
				So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
				So(err.Error(), ShouldNotContainSubstring, cfg.CalibrationDumpDir)
			}
		})

		Convey("When the dump does not exist", func() {
			_, err := svc.LoadDump(ctx, "missing.json")
			So(errors.Is(err, api.ErrNotFound), ShouldBeTrue)
			So(strings.Contains(err.Error(), "no such file"), ShouldBeFalse)
		})
	})
}
