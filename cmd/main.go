// Command netvr runs the VR coordinator and its companion tools.
//
// Usage:
//
//	netvr serve                 run the coordinator (config via NETVR_* env or NETVR_CONFIG)
//	netvr reapply <dump.json>   recompute a stored calibration offline
//	netvr simulate --devices 2  drive simulated devices against a coordinator
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	service "github.com/okian/netvr/internal/app"
	"github.com/okian/netvr/internal/config"
	"github.com/okian/netvr/pkg/logger"
)

// Version is set at build time via ldflags.
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "netvr",
		Short: "Coordinator for shared multi-device VR sessions",
		Long: `netvr accepts VR devices over a reliable stream and a datagram channel,
keeps their configurations and poses in sync and calibrates their tracking
spaces against each other.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := logger.Init(); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			return nil
		},
	}
	root.Version = Version
	root.SetVersionTemplate("netvr version {{.Version}}\n")
	root.AddCommand(newServeCmd(), newReapplyCmd(), newSimulateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

// serve runs the service until ctx is done or the service fails.
func serve(ctx context.Context) error {
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := service.New(service.WithConfig(cfg), service.WithLogger(log))
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	log.Info(ctx, "coordinator running",
		logger.String("stream", svc.StreamAddr()),
		logger.String("datagram", svc.DatagramAddr()),
		logger.String("http", svc.HTTPAddr()),
		logger.String("discovery", svc.DiscoveryAddr()))

	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down coordinator...")
	case <-svc.Done():
		log.Warn(ctx, "coordinator stopped unexpectedly")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- svc.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown did not finish within %s", shutdownTimeout)
	}
	log.Info(context.Background(), "coordinator stopped")
	return nil
}
