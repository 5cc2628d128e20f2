package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/m2rcus/hypemonitoring/internal/app"
)

var replayRange timeRange

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run stored samples through a fresh engine and list the alerts it would raise",
	Example: "  hypemonitor replay --last 6h\n" +
		"  hypemonitor replay --from 2025-03-01T00:00:00Z --to 2025-03-02T00:00:00Z",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now().UTC()
		from, to, err := replayRange.resolve(now)
		if err != nil {
			return err
		}
		if from == nil {
			return fmt.Errorf("one of --from or --last must be provided")
		}
		if to == nil {
			to = &now
		}

		_, err = getApp().Replay(cmd.Context(), app.ReplayOptions{From: *from, To: *to})
		return err
	},
}

func init() {
	replayRange.bind(replayCmd)
}
