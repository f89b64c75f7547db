package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "btmon",
	Short: "Background task monitor - schedules jobs and analyzes their timing",
	Long: `btmon runs recurring background jobs on a cron schedule, records every
lifecycle event (scheduled, started, completed, expired, cancelled, failed)
into a bounded in-memory log, and derives execution statistics and
scheduling recommendations from that history.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("btmon %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./btmon.yaml", "path to config file (json or yaml)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
