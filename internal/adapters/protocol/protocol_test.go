package protocol_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/okian/netvr/internal/adapters/protocol"
	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFrames(t *testing.T) {
	Convey("Given a buffer", t, func() {
		var buf bytes.Buffer

		Convey("When a frame is written", func() {
			So(protocol.WriteFrame(&buf, []byte("hello"), 0), ShouldBeNil)

			Convey("Then it carries an 8-byte little-endian length", func() {
				raw := buf.Bytes()
				So(raw[:8], ShouldResemble, []byte{5, 0, 0, 0, 0, 0, 0, 0})
				So(string(raw[8:]), ShouldEqual, "hello")
			})

			Convey("Then it reads back", func() {
				got, err := protocol.ReadFrame(&buf, 16)
				So(err, ShouldBeNil)
				So(string(got), ShouldEqual, "hello")

				_, err = protocol.ReadFrame(&buf, 16)
				So(errors.Is(err, io.EOF), ShouldBeTrue)
			})

			Convey("Then a smaller limit rejects it", func() {
				_, err := protocol.ReadFrame(&buf, 4)
				So(errors.Is(err, protocol.ErrFrameTooLarge), ShouldBeTrue)
			})
		})

		Convey("When a payload exceeds the write limit", func() {
			err := protocol.WriteFrame(&buf, make([]byte, 10), 4)
			So(errors.Is(err, protocol.ErrFrameTooLarge), ShouldBeTrue)
			So(buf.Len(), ShouldEqual, 0)
		})

		Convey("When a frame is truncated", func() {
			buf.Write([]byte{9, 0, 0, 0, 0, 0, 0, 0, 'a', 'b'})
			_, err := protocol.ReadFrame(&buf, 0)
			So(errors.Is(err, protocol.ErrShortFrame), ShouldBeTrue)
		})
	})
}

func TestHandshake(t *testing.T) {
	ctx := context.Background()

	Convey("Given a connected pipe", t, func() {
		a, b := net.Pipe()
		defer func() { _ = a.Close(); _ = b.Close() }()

		Convey("When both sides use the same identifier", func() {
			errc := make(chan error, 1)
			go func() { errc <- protocol.Accept(ctx, b, protocol.ConfigurationStream, time.Second) }()
			err := protocol.Initiate(ctx, a, protocol.ConfigurationStream, time.Second)

			Convey("Then both succeed", func() {
				So(err, ShouldBeNil)
				So(<-errc, ShouldBeNil)
			})
		})

		Convey("When the initiator sends a different identifier", func() {
			errc := make(chan error, 1)
			go func() { errc <- protocol.Accept(ctx, b, protocol.ConfigurationStream, time.Second) }()
			go func() { _, _ = a.Write([]byte("netvrxxx")) }()

			Convey("Then the acceptor rejects it", func() {
				So(errors.Is(<-errc, protocol.ErrBadIdentifier), ShouldBeTrue)
			})
		})

		Convey("When the initiator never speaks", func() {
			err := protocol.Accept(ctx, b, protocol.ConfigurationStream, 50*time.Millisecond)

			Convey("Then the acceptor times out", func() {
				So(errors.Is(err, protocol.ErrHandshakeTimeout), ShouldBeTrue)
			})
		})

		Convey("When the context is cancelled during the wait", func() {
			cctx, cancel := context.WithCancel(ctx)
			time.AfterFunc(20*time.Millisecond, cancel)
			err := protocol.Accept(cctx, b, protocol.ConfigurationStream, time.Second)

			Convey("Then the context error is returned", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

func TestCodecStream(t *testing.T) {
	Convey("Given every reliable message", t, func() {
		down := []protocol.ConfigurationDown{
			protocol.Welcome{ClientID: 3, Token: 0xfeedface},
			protocol.Heartbeat{},
			protocol.ConfigurationSetDown{Set: model.ConfigurationSnapshotSet{Clients: map[model.ClientID]model.ConfigurationSnapshot{
				1: {Version: 2, Name: "a", UserPaths: []string{"/user/head"}},
			}}},
			protocol.BeginCalibration{SubactionPath: "/user/hand/left", Config: model.CalibrationConfig{SampleCount: 5, SampleInterval: 1000}},
			protocol.StopCalibration{},
			protocol.SetBaseSpace{Pose: geometry.Pose{Position: geometry.Vec3{X: 1}, Orientation: geometry.IdentityQuat()}},
			protocol.ObjectReleased{ObjectID: 4},
		}
		up := []protocol.ConfigurationUp{
			protocol.ConfigurationSnapshotUp{Snapshot: model.ConfigurationSnapshot{Version: 1, Name: "quest"}},
			protocol.CalibrationSampleUp{Sample: model.CalibrationSample{
				Flags:    model.OrientationValid,
				Previous: &model.PreviousLocation{Flags: model.PositionValid},
			}},
		}

		Convey("Then each decodes to an equal value", func() {
			for _, m := range down {
				b, err := protocol.EncodeDown(m)
				So(err, ShouldBeNil)
				got, err := protocol.DecodeDown(b)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, m)
			}
			for _, m := range up {
				b, err := protocol.EncodeUp(m)
				So(err, ShouldBeNil)
				got, err := protocol.DecodeUp(b)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, m)
			}
		})

		Convey("Then a downstream message is not accepted upstream", func() {
			b, err := protocol.EncodeDown(protocol.Heartbeat{})
			So(err, ShouldBeNil)
			_, err = protocol.DecodeUp(b)
			So(errors.Is(err, protocol.ErrUnknownKind), ShouldBeTrue)
		})

		Convey("Then garbage is a decode error", func() {
			_, err := protocol.DecodeDown([]byte{0xff, 0x00})
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given streams over a pipe", t, func() {
		a, b := net.Pipe()
		server := protocol.ServerStream{Stream: protocol.NewStream(a, 0)}
		device := protocol.DeviceStream{Stream: protocol.NewStream(b, 0)}
		defer func() { _ = server.Close(); _ = device.Close() }()

		Convey("When the server sends Welcome", func() {
			go func() { _ = server.Send(context.Background(), protocol.Welcome{ClientID: 9, Token: 1}) }()
			msg, err := device.Receive()

			Convey("Then the device receives it", func() {
				So(err, ShouldBeNil)
				So(msg, ShouldResemble, protocol.Welcome{ClientID: 9, Token: 1})
			})
		})

		Convey("When the send context is already done", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			So(errors.Is(server.Send(ctx, protocol.Heartbeat{}), context.Canceled), ShouldBeTrue)
		})
	})
}

func TestDatagrams(t *testing.T) {
	Convey("Given device datagrams", t, func() {
		cases := []protocol.DatagramUp{
			{ClientID: 2, Token: 77, Payload: protocol.StateUp{State: model.StateSnapshot{RequiredConfiguration: 4}}},
			{ClientID: 2, Token: 77, Payload: protocol.AppUp{Command: model.SetPose{Client: 2, Object: 1, Pose: geometry.IdentityPose()}}},
			{ClientID: 2, Token: 77, Payload: protocol.AppUp{Command: model.Init{Client: 2, Objects: []geometry.Pose{geometry.IdentityPose()}}}},
			{ClientID: 2, Token: 77, Payload: protocol.AppUp{Command: model.Grab{Client: 2, Object: 3}}},
			{ClientID: 2, Token: 77, Payload: protocol.AppUp{Command: model.Reset{Client: 2}}},
		}

		Convey("Then they round trip", func() {
			for _, d := range cases {
				b, err := protocol.EncodeDatagramUp(d)
				So(err, ShouldBeNil)
				got, err := protocol.DecodeDatagramUp(b)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, d)
			}
		})

		Convey("Then the command sender follows the datagram, not the body", func() {
			b, err := protocol.EncodeDatagramUp(protocol.DatagramUp{
				ClientID: 5, Token: 1,
				Payload: protocol.AppUp{Command: model.Grab{Client: 99, Object: 1}},
			})
			So(err, ShouldBeNil)
			got, err := protocol.DecodeDatagramUp(b)
			So(err, ShouldBeNil)
			So(got.Payload.(protocol.AppUp).Command.Sender(), ShouldEqual, model.ClientID(5))
		})
	})

	Convey("Given coordinator datagrams", t, func() {
		world := protocol.WorldDown{Objects: []model.Object{{ID: 0, Owner: 1, Pose: geometry.IdentityPose()}}}
		b, err := protocol.EncodeDatagramDown(world)
		So(err, ShouldBeNil)
		got, err := protocol.DecodeDatagramDown(b)
		So(err, ShouldBeNil)
		So(got, ShouldResemble, world)
	})
}
