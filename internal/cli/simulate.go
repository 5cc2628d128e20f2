package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/m2rcus/hypemonitoring/internal/app"
)

var (
	simulatePrices []float64
	simulateStep   time.Duration
	simulateNotify bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Feed a fixed price sequence through the monitor",
	Example: "  hypemonitor simulate-alert --prices 43,43,42,41.5,41.2 --step 1m\n" +
		"  hypemonitor simulate-alert --prices 42,40,39.5 --notify",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulatePrices) == 0 {
			return fmt.Errorf("--prices must list at least one price")
		}

		_, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Prices: simulatePrices,
			Step:   simulateStep,
			Notify: simulateNotify,
		})
		return err
	},
}

func init() {
	simulateCmd.Flags().Float64SliceVar(&simulatePrices, "prices", nil, "Comma-separated prices, oldest first")
	simulateCmd.Flags().DurationVar(&simulateStep, "step", time.Minute, "Virtual time between prices")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "Deliver fired alerts through the configured notifier")
}
