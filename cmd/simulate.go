package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/netvr/internal/simclient"
)

func newSimulateCmd() *cobra.Command {
	var (
		cfg      simclient.Config
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive simulated devices against a coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cfg.Options = append(cfg.Options, simclient.WithStateInterval(interval))
			return simclient.Run(ctx, cfg)
		},
	}
	cmd.Flags().IntVar(&cfg.Devices, "devices", 2, "number of simulated devices")
	cmd.Flags().StringVar(&cfg.StreamAddr, "addr", "127.0.0.1:13161", "coordinator stream address")
	cmd.Flags().StringVar(&cfg.DatagramAddr, "datagram-addr", "", "coordinator datagram address (defaults to --addr)")
	cmd.Flags().StringVar(&cfg.DiscoverAddr, "discover", "", "probe this UDP address for the coordinator instead of --addr")
	cmd.Flags().DurationVar(&interval, "state-interval", simclient.DefaultStateInterval, "state datagram interval")
	return cmd
}
