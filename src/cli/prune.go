package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:     "prune",
	Short:   "Delete stored data older than the configured retention windows",
	PreRunE: loadApp,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := getApp().Prune(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "trade deltas: %d\nliquidations: %d\ndepth snapshots: %d\n",
			report.TradeDeltas, report.Liquidations, report.DepthSnapshots)
		return nil
	},
}
