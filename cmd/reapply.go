package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/netvr/internal/adapters/persist"
	"github.com/okian/netvr/internal/app/calibration"
	rigid "github.com/okian/netvr/internal/domain/calibration"
)

func newReapplyCmd() *cobra.Command {
	var minPairs int
	cmd := &cobra.Command{
		Use:   "reapply <dump.json>",
		Short: "Recompute a stored calibration without contacting any device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := persist.Load(args[0])
			if err != nil {
				return err
			}
			out := calibration.Replay(in, rigid.WithMinPairs(minPairs))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return out.Err
		},
	}
	cmd.Flags().IntVar(&minPairs, "min-pairs", rigid.DefaultMinPairs, "minimum accepted rotation pairs")
	return cmd
}
