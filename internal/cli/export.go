package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/m2rcus/hypemonitoring/internal/app"
)

var (
	exportRange     timeRange
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored prices and alert decisions as CSV and/or a PNG chart",
	Example: "  hypemonitor export --last 24h --png out/hype.png\n" +
		"  hypemonitor export --from 2025-03-01T00:00:00Z --csv out/hype.csv --max-points 500",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := exportRange.resolve(time.Now().UTC())
		if err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), app.ExportOptions{
			From:      from,
			To:        to,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		})
	},
}

func init() {
	exportRange.bind(exportCmd)
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Write a price chart with threshold lines and alert markers")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Write samples joined with their decisions")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Downsample to this many points (defaults to export.max_data_points)")
	exportCmd.MarkFlagsOneRequired("csv", "png")
}
