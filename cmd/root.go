package cmd

import (
	"fmt"
	"os"

	"github.com/Norgate-AV/xcwatch/internal/config"
	"github.com/Norgate-AV/xcwatch/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "xcwatch",
	Short:        "Xcode DerivedData build monitor",
	Long:         `Watch the Xcode DerivedData directory for build activity and disk usage, with no cooperation from Xcode itself.`,
	RunE:         runScan,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)

	// Flag defaults mirror the config defaults so an unchanged flag never
	// shadows a config-file value through viper's lookup order.
	rootCmd.PersistentFlags().StringP("derived-data", "d", config.DefaultDerivedDataPath, "Path to the DerivedData directory to watch")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().Duration("poll-interval", config.DefaultPollInterval, "Fallback poll interval")
	rootCmd.PersistentFlags().Int("auto-delete-days", 0, "Auto-delete projects older than this many days (0 disables)")
	rootCmd.PersistentFlags().Int("size-alert-gb", 0, "Warn when total size exceeds this many GB (0 disables)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(historyCmd)
}
