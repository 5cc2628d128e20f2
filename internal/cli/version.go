package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m2rcus/hypemonitoring/internal/version"
)

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print build information",
	Annotations: map[string]string{noConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "hypemonitor %s\n", version.String())
	},
}
