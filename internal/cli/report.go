package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssathy2/backgroundtime/internal/config"
	"github.com/ssathy2/backgroundtime/internal/eventlog"
	"github.com/ssathy2/backgroundtime/internal/schedstats"
	"github.com/ssathy2/backgroundtime/internal/stats"
	"github.com/ssathy2/backgroundtime/internal/storage"
	logx "github.com/ssathy2/backgroundtime/pkg/logx"
)

var (
	reportSubject string
	reportJSON    bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize persisted event history",
	Long: `Load the persisted event snapshot and print execution statistics plus
per-job scheduling analysis (delays, partitions, best hours, and
recommendations). Requires a storage section in the config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := loadPersistedEvents(cfgPath)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}

		summary := stats.Summarize(events)
		var analyses []*schedstats.Analysis
		if reportSubject != "" {
			if a := schedstats.Analyze(events, reportSubject); a != nil {
				analyses = append(analyses, a)
			}
		} else {
			analyses = schedstats.AnalyzeAll(events)
		}

		if reportJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Statistics stats.Statistics       `json:"statistics"`
				Scheduling []*schedstats.Analysis `json:"scheduling"`
			}{summary, analyses})
		}

		printStatistics(summary, len(events))
		for _, a := range analyses {
			printAnalysis(a)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportSubject, "subject", "", "limit the scheduling analysis to one job")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "emit machine-readable JSON")
	rootCmd.AddCommand(reportCmd)
}

func loadPersistedEvents(path string) ([]eventlog.Event, error) {
	m := config.NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("no storage configured; nothing to report on")
	}
	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer st.Close()

	snap, err := st.LoadSnapshot(context.Background())
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	return snap.Elements, nil
}

func printStatistics(s stats.Statistics, total int) {
	fmt.Printf("Events: %d\n", total)
	fmt.Printf("Scheduled: %d  Executed: %d  Completed: %d  Failed: %d  Expired: %d\n",
		s.TotalScheduled, s.TotalExecuted, s.TotalCompleted, s.TotalFailed, s.TotalExpired)
	fmt.Printf("Success rate: %.1f%%\n", s.SuccessRate*100)
	if s.AverageExecutionTime > 0 {
		fmt.Printf("Average execution time: %s\n", s.AverageExecutionTime.Round(time.Millisecond))
	}
	if s.LastExecutionTime != nil {
		fmt.Printf("Last execution: %s\n", s.LastExecutionTime.Format(time.RFC3339))
	}
	if len(s.ErrorsByType) > 0 {
		fmt.Println("Errors:")
		for text, n := range s.ErrorsByType {
			fmt.Printf("  %dx %s\n", n, text)
		}
	}
}

func printAnalysis(a *schedstats.Analysis) {
	fmt.Printf("\n%s\n", a.SubjectID)
	fmt.Printf("  scheduled %d, executed %d (%.0f%%)\n",
		a.TotalScheduled, a.TotalExecuted, a.ExecutionRate*100)
	if a.TotalExecuted > 0 {
		fmt.Printf("  delay avg %s, median %s, min %s, max %s\n",
			a.AverageDelay.Round(time.Millisecond),
			a.MedianDelay.Round(time.Millisecond),
			a.MinDelay.Round(time.Millisecond),
			a.MaxDelay.Round(time.Millisecond))
	}
	for _, w := range a.BestWindows {
		fmt.Printf("  window %02d:00-%02d:00 avg delay %s (%d samples)\n",
			w.Hour, (w.Hour+1)%24, w.AverageDelay.Round(time.Millisecond), w.SampleCount)
	}
	for _, r := range a.Recommendations {
		fmt.Printf("  [%s] %s: %s\n", r.Priority, r.Title, r.Description)
	}
}
