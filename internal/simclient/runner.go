package simclient

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/okian/netvr/internal/adapters/discovery"
	"github.com/okian/netvr/internal/domain/geometry"
	"github.com/okian/netvr/pkg/logger"
)

// Config describes a simulation run.
type Config struct {
	StreamAddr   string // coordinator stream address, ignored with DiscoverAddr
	DatagramAddr string // defaults to StreamAddr
	DiscoverAddr string // probe this address for the coordinator when set
	Devices      int
	Options      []Option
}

// Run connects cfg.Devices devices, each in its own frame, and drives them
// until ctx is done or one of them fails.
func Run(ctx context.Context, cfg Config) error {
	log := logger.Get().Named("simclient")
	if cfg.Devices <= 0 {
		return fmt.Errorf("simclient: devices must be positive, got %d", cfg.Devices)
	}

	streamAddr, datagramAddr := cfg.StreamAddr, cfg.DatagramAddr
	if cfg.DiscoverAddr != "" {
		found, err := discovery.Probe(ctx, cfg.DiscoverAddr)
		if err != nil {
			return fmt.Errorf("discover coordinator: %w", err)
		}
		// Discovery answers from the coordinator host; the stream and
		// datagram ports are the protocol defaults on that host.
		streamAddr = net.JoinHostPort(found.IP.String(), strconv.Itoa(DefaultPort))
		datagramAddr = streamAddr
		log.Info(ctx, "coordinator discovered", logger.String("addr", streamAddr))
	}
	if datagramAddr == "" {
		datagramAddr = streamAddr
	}

	devices := make([]*Device, 0, cfg.Devices)
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()
	for i := 0; i < cfg.Devices; i++ {
		opts := append([]Option{WithName(fmt.Sprintf("sim-%d", i+1)), WithFrame(Frame(i))}, cfg.Options...)
		d, err := Connect(ctx, streamAddr, datagramAddr, opts...)
		if err != nil {
			return fmt.Errorf("device %d: %w", i+1, err)
		}
		devices = append(devices, d)
	}
	log.Info(ctx, "simulation running", logger.Int("devices", len(devices)), logger.String("addr", streamAddr))

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range devices {
		g.Go(func() error { return d.Run(gctx) })
	}
	return g.Wait()
}

// DefaultPort is the coordinator's default stream and datagram port.
const DefaultPort = 13161

// Frame is the tracking-space placement of the i-th simulated device. The
// first device sits at the origin.
func Frame(i int) geometry.Pose {
	if i == 0 {
		return geometry.IdentityPose()
	}
	f := float64(i)
	return geometry.Pose{
		Position:    geometry.Vec3{X: 0.5 * f, Z: -0.25 * f},
		Orientation: geometry.AxisAngle(geometry.Vec3{Y: 1, X: 0.1 * f}, math.Mod(0.6*f, math.Pi)),
	}
}
