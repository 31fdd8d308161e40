package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nft-market-sync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "version: %s\ncommit: %s\nbuilt: %s\ngo: %s\n", version.Version, version.Commit, version.BuildDate, version.GoVersion())
	},
}
