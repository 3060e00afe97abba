package registry_test

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/internal/adapters/registry"
	"github.com/okian/netvr/internal/domain/model"
	"github.com/okian/netvr/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.ConfigurationDown
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg protocol.ConfigurationDown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type recordingWriter struct {
	mu    sync.Mutex
	addrs []netip.AddrPort
}

func (w *recordingWriter) WriteDatagram(addr netip.AddrPort, _ protocol.DatagramDown) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addrs = append(w.addrs, addr)
	return nil
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty registry", t, func() {
		writer := &recordingWriter{}
		r := registry.New(registry.WithDatagramWriter(writer))

		Convey("When clients register", func() {
			s1, s2 := &recordingSender{}, &recordingSender{}
			c1 := r.Register(s1, nil, "10.0.0.1:1")
			c2 := r.Register(s2, nil, "10.0.0.2:1")

			Convey("Then they get increasing ids and distinct tokens", func() {
				So(c1.ID, ShouldEqual, model.ClientID(1))
				So(c2.ID, ShouldEqual, model.ClientID(2))
				So(c1.Token, ShouldNotEqual, c2.Token)
				So(r.Len(), ShouldEqual, 2)
				So(r.IDs(), ShouldResemble, []model.ClientID{1, 2})
			})

			Convey("Then a freed id is reused by the next registration", func() {
				So(r.Remove(1), ShouldBeTrue)
				c3 := r.Register(&recordingSender{}, nil, "10.0.0.3:1")
				So(c3.ID, ShouldEqual, model.ClientID(1))
			})

			Convey("Then removal is idempotent and cancels the connection", func() {
				cctx, cancel := context.WithCancel(ctx)
				c := r.Register(&recordingSender{}, cancel, "x")
				So(r.Remove(c.ID), ShouldBeTrue)
				So(r.Remove(c.ID), ShouldBeFalse)
				So(cctx.Err(), ShouldEqual, context.Canceled)
				_, ok := r.Get(c.ID)
				So(ok, ShouldBeFalse)
			})

			Convey("Then sends reach the right client", func() {
				So(r.Send(ctx, 2, protocol.Heartbeat{}), ShouldBeNil)
				So(s2.sent, ShouldHaveLength, 1)
				So(s1.sent, ShouldBeEmpty)
			})

			Convey("Then sending to an unknown id reports it", func() {
				err := r.Send(ctx, 42, protocol.Heartbeat{})
				So(errors.Is(err, registry.ErrUnknownClient), ShouldBeTrue)
				So(errors.Is(r.SendDatagram(42, protocol.WorldDown{}), registry.ErrUnknownClient), ShouldBeTrue)
			})

			Convey("Then broadcast skips failures and reaches everyone else", func() {
				s1.err = errors.New("broken pipe")
				r.Broadcast(ctx, protocol.StopCalibration{})
				So(s1.sent, ShouldBeEmpty)
				So(s2.sent, ShouldHaveLength, 1)
			})

			Convey("When a datagram authenticates", func() {
				addr := netip.MustParseAddrPort("127.0.0.1:5000")

				Convey("Then a wrong token is rejected", func() {
					_, err := r.Authenticate(1, c1.Token+1, addr)
					So(errors.Is(err, registry.ErrBadToken), ShouldBeTrue)
					_, bound := c1.DatagramAddr()
					So(bound, ShouldBeFalse)
				})

				Convey("Then the right token binds the return address", func() {
					got, err := r.Authenticate(1, c1.Token, addr)
					So(err, ShouldBeNil)
					So(got, ShouldEqual, c1)
					bound, ok := c1.DatagramAddr()
					So(ok, ShouldBeTrue)
					So(bound, ShouldEqual, addr)

					Convey("And datagram broadcast only reaches bound clients", func() {
						r.BroadcastDatagram(protocol.WorldDown{})
						So(writer.addrs, ShouldResemble, []netip.AddrPort{addr})
					})
				})

				Convey("Then an unknown id is rejected", func() {
					_, err := r.Authenticate(9, 0, addr)
					So(errors.Is(err, registry.ErrUnknownClient), ShouldBeTrue)
				})
			})

			Convey("When the registry closes", func() {
				r.Close()
				So(r.Len(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a registry without a datagram writer", t, func() {
		r := registry.New()
		c := r.Register(&recordingSender{}, nil, "x")
		_, err := r.Authenticate(c.ID, c.Token, netip.MustParseAddrPort("127.0.0.1:1"))
		So(err, ShouldBeNil)
		So(errors.Is(r.SendDatagram(c.ID, protocol.WorldDown{}), registry.ErrNoDatagramWriter), ShouldBeTrue)
	})
}

func TestRegistryConcurrent(t *testing.T) {
	r := registry.New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := r.Register(&recordingSender{}, nil, "x")
			_ = r.Clients()
			r.Broadcast(context.Background(), protocol.Heartbeat{})
			r.Remove(c.ID)
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}
