package stats

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/ssathy2/backgroundtime/internal/eventlog"
)

func ev(kind eventlog.Kind, ts time.Time) eventlog.Event {
	return eventlog.Event{ID: "x", SubjectID: "task.sync", Kind: kind, Timestamp: ts}
}

func durp(d time.Duration) *time.Duration { return &d }

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.TotalScheduled != 0 || s.TotalExecuted != 0 || s.TotalCompleted != 0 || s.TotalFailed != 0 {
		t.Fatalf("non-zero counts on empty input: %+v", s)
	}
	if s.SuccessRate != 0 || s.AverageExecutionTime != 0 {
		t.Fatalf("non-zero rate/time on empty input: %+v", s)
	}
	if len(s.ExecutionsByHour) != 0 || len(s.ErrorsByType) != 0 {
		t.Fatalf("non-empty histograms on empty input: %+v", s)
	}
	if s.LastExecutionTime != nil {
		t.Fatalf("LastExecutionTime = %v, want nil", s.LastExecutionTime)
	}
}

func TestSummarizeCounts(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var events []eventlog.Event

	for i := 0; i < 4; i++ {
		events = append(events, ev(eventlog.KindScheduled, base.Add(time.Duration(i)*time.Minute)))
	}
	for i := 0; i < 3; i++ {
		events = append(events, ev(eventlog.KindExecutionStarted, base.Add(time.Duration(i)*time.Hour)))
	}

	good := ev(eventlog.KindExecutionCompleted, base.Add(10*time.Minute))
	good.Success = true
	good.Duration = durp(2 * time.Second)
	events = append(events, good)

	bad := ev(eventlog.KindExecutionCompleted, base.Add(20*time.Minute))
	bad.ErrorText = "disk full"
	bad.Duration = durp(4 * time.Second)
	events = append(events, bad)

	events = append(events, ev(eventlog.KindExpired, base.Add(30*time.Minute)))
	events = append(events, ev(eventlog.KindCancelled, base.Add(40*time.Minute)))
	events = append(events, ev(eventlog.KindFailed, base.Add(50*time.Minute)))

	s := Summarize(events)

	if s.TotalScheduled != 4 {
		t.Fatalf("TotalScheduled = %d, want 4", s.TotalScheduled)
	}
	if s.TotalExecuted != 3 {
		t.Fatalf("TotalExecuted = %d, want 3", s.TotalExecuted)
	}
	if s.TotalCompleted != 1 {
		t.Fatalf("TotalCompleted = %d, want 1", s.TotalCompleted)
	}
	// failed completion + failed + expired + cancelled
	if s.TotalFailed != 4 {
		t.Fatalf("TotalFailed = %d, want 4", s.TotalFailed)
	}
	if s.TotalExpired != 1 {
		t.Fatalf("TotalExpired = %d, want 1", s.TotalExpired)
	}
	if s.AverageExecutionTime != 3*time.Second {
		t.Fatalf("AverageExecutionTime = %v, want 3s", s.AverageExecutionTime)
	}
	if got := s.SuccessRate; got < 0.333 || got > 0.334 {
		t.Fatalf("SuccessRate = %v, want 1/3", got)
	}

	// Hours 9, 10, 11 from the three started events.
	for _, h := range []int{9, 10, 11} {
		if s.ExecutionsByHour[h] != 1 {
			t.Fatalf("ExecutionsByHour[%d] = %d, want 1", h, s.ExecutionsByHour[h])
		}
	}
	if s.ErrorsByType["disk full"] != 1 {
		t.Fatalf("ErrorsByType[disk full] = %d, want 1", s.ErrorsByType["disk full"])
	}
	// Expired, cancelled and failed events carried no error text.
	if s.ErrorsByType[UnknownError] != 3 {
		t.Fatalf("ErrorsByType[%s] = %d, want 3", UnknownError, s.ErrorsByType[UnknownError])
	}
	if s.LastExecutionTime == nil || !s.LastExecutionTime.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("LastExecutionTime = %v, want %v", s.LastExecutionTime, base.Add(2*time.Hour))
	}
}

// With no start events, completions are the executed population: both the
// hour histogram and the last-execution timestamp come from them.
func TestSummarizeCompletionFallback(t *testing.T) {
	base := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	c1 := ev(eventlog.KindExecutionCompleted, base)
	c1.Success = true
	c2 := ev(eventlog.KindExecutionCompleted, base.Add(time.Hour))
	c2.Success = true

	s := Summarize([]eventlog.Event{c1, c2})
	if s.TotalExecuted != 2 {
		t.Fatalf("TotalExecuted = %d, want 2", s.TotalExecuted)
	}
	if s.SuccessRate != 1.0 {
		t.Fatalf("SuccessRate = %v, want 1.0", s.SuccessRate)
	}
	if s.ExecutionsByHour[14] != 1 || s.ExecutionsByHour[15] != 1 {
		t.Fatalf("ExecutionsByHour = %v", s.ExecutionsByHour)
	}
	if s.LastExecutionTime == nil || !s.LastExecutionTime.Equal(c2.Timestamp) {
		t.Fatalf("LastExecutionTime = %v", s.LastExecutionTime)
	}
}

// More successful completions than start events pushes the raw ratio above
// 1.0; the published rate must stay clamped while the raw value surfaces
// the asymmetry.
func TestSummarizeSuccessRateClamp(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	events := []eventlog.Event{ev(eventlog.KindExecutionStarted, base)}
	for i := 0; i < 3; i++ {
		c := ev(eventlog.KindExecutionCompleted, base.Add(time.Duration(i)*time.Minute))
		c.Success = true
		events = append(events, c)
	}

	s := Summarize(events)
	if s.SuccessRate != 1.0 {
		t.Fatalf("SuccessRate = %v, want clamped 1.0", s.SuccessRate)
	}
	if s.RawSuccessRate != 3.0 {
		t.Fatalf("RawSuccessRate = %v, want 3.0", s.RawSuccessRate)
	}
}

// For any synthetic event mix, however skewed, the success rate stays
// inside [0, 1].
func TestSummarizeSuccessRateBoundsProperty(t *testing.T) {
	kinds := []eventlog.Kind{
		eventlog.KindScheduled,
		eventlog.KindExecutionStarted,
		eventlog.KindExecutionCompleted,
		eventlog.KindExpired,
		eventlog.KindCancelled,
		eventlog.KindFailed,
	}
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 60).Draw(rt, "events")
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

		events := make([]eventlog.Event, 0, n)
		for i := 0; i < n; i++ {
			e := ev(rapid.SampledFrom(kinds).Draw(rt, "kind"), base.Add(time.Duration(i)*time.Minute))
			e.Success = rapid.Bool().Draw(rt, "success")
			events = append(events, e)
		}

		s := Summarize(events)
		if s.SuccessRate < 0 || s.SuccessRate > 1 {
			rt.Fatalf("SuccessRate = %v out of [0,1]", s.SuccessRate)
		}
	})
}
