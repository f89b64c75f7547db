// Package stats derives aggregate execution statistics from an event log
// snapshot. Summarize is pure: it never fails and keeps no state between
// calls.
package stats

import (
	"strings"
	"time"

	"github.com/ssathy2/backgroundtime/internal/eventlog"
)

// UnknownError is the histogram key for failures without an error text.
const UnknownError = "Unknown Error"

// Statistics is a complete summary over one snapshot. All fields are
// recomputed on every call; nothing here is persisted.
type Statistics struct {
	TotalScheduled int `json:"total_scheduled"`
	TotalExecuted  int `json:"total_executed"`
	TotalCompleted int `json:"total_completed"`
	TotalFailed    int `json:"total_failed"`
	TotalExpired   int `json:"total_expired"`

	// SuccessRate is clamped to [0, 1]. RawSuccessRate keeps the unclamped
	// ratio so callers can notice start/completion counting asymmetries
	// instead of having them silently masked.
	SuccessRate    float64 `json:"success_rate"`
	RawSuccessRate float64 `json:"-"`

	AverageExecutionTime time.Duration `json:"average_execution_time"`

	ExecutionsByHour map[int]int    `json:"executions_by_hour"`
	ErrorsByType     map[string]int `json:"errors_by_type"`

	LastExecutionTime *time.Time `json:"last_execution_time,omitempty"`
}

// Summarize computes statistics over events (oldest first). The empty
// snapshot yields the all-zero result with empty histograms.
func Summarize(events []eventlog.Event) Statistics {
	s := Statistics{
		ExecutionsByHour: make(map[int]int),
		ErrorsByType:     make(map[string]int),
	}

	var (
		started              []eventlog.Event
		completed            []eventlog.Event
		successfulCompletion int
		failedCompletion     int
		failedCount          int
		cancelledCount       int
		durTotal             time.Duration
		durCount             int
	)

	for _, e := range events {
		switch e.Kind {
		case eventlog.KindScheduled:
			s.TotalScheduled++
		case eventlog.KindExecutionStarted:
			started = append(started, e)
		case eventlog.KindExecutionCompleted:
			completed = append(completed, e)
			if e.Success {
				successfulCompletion++
			} else {
				failedCompletion++
				s.ErrorsByType[errorKey(e)]++
			}
			if e.Duration != nil {
				durTotal += *e.Duration
				durCount++
			}
		case eventlog.KindExpired:
			s.TotalExpired++
			s.ErrorsByType[errorKey(e)]++
		case eventlog.KindCancelled:
			cancelledCount++
			s.ErrorsByType[errorKey(e)]++
		case eventlog.KindFailed:
			failedCount++
			s.ErrorsByType[errorKey(e)]++
		}
	}

	// When start events were not recorded, fall back to completions as the
	// "executed" population.
	executed := started
	if len(executed) == 0 {
		executed = completed
	}
	s.TotalExecuted = len(executed)

	s.TotalCompleted = successfulCompletion
	s.TotalFailed = failedCompletion + failedCount + s.TotalExpired + cancelledCount

	if durCount > 0 {
		s.AverageExecutionTime = durTotal / time.Duration(durCount)
	}

	if s.TotalExecuted > 0 {
		s.RawSuccessRate = float64(successfulCompletion) / float64(s.TotalExecuted)
		s.SuccessRate = clamp01(s.RawSuccessRate)
	}

	for _, e := range executed {
		s.ExecutionsByHour[e.Timestamp.Hour()]++
		if s.LastExecutionTime == nil || e.Timestamp.After(*s.LastExecutionTime) {
			ts := e.Timestamp
			s.LastExecutionTime = &ts
		}
	}

	return s
}

func errorKey(e eventlog.Event) string {
	if strings.TrimSpace(e.ErrorText) == "" {
		return UnknownError
	}
	return e.ErrorText
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
