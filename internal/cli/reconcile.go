package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nft-market-sync/internal/app"
)

var reconcileChainID int64

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild the listings mirror once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Reconcile(cmd.Context(), app.ReconcileOptions{ChainID: reconcileChainID})
	},
}

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Display active listings with metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Listings(cmd.Context())
	},
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Display recent reconciliation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Runs(cmd.Context(), runsLimit)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

func init() {
	reconcileCmd.Flags().Int64Var(&reconcileChainID, "chain", 0, "Only reconcile this chain id")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to display")
}
