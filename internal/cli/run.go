package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssathy2/backgroundtime/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring daemon",
	Long: `Run the daemon: start the cron scheduler and the job runner, record all
lifecycle events, persist snapshots when storage is configured, and reload
the config file on change. Stops cleanly on SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			return err
		}

		<-a.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := a.Stop(stopCtx); err != nil {
			return err
		}
		return a.Err()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
