package schedstats

import (
	"testing"
	"time"

	"github.com/ssathy2/backgroundtime/internal/eventlog"
)

var base = time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)

func sched(subject string, ts time.Time, meta map[string]string) eventlog.Event {
	return eventlog.Event{ID: "s", SubjectID: subject, Kind: eventlog.KindScheduled, Timestamp: ts, Metadata: meta}
}

func exec(subject string, ts time.Time) eventlog.Event {
	return eventlog.Event{ID: "x", SubjectID: subject, Kind: eventlog.KindExecutionStarted, Timestamp: ts}
}

// pairAt appends a scheduled event plus its execution start delay later.
func pairAt(events []eventlog.Event, subject string, ts time.Time, delay time.Duration, meta map[string]string) []eventlog.Event {
	return append(events, sched(subject, ts, meta), exec(subject, ts.Add(delay)))
}

func TestAnalyzeNoScheduledEvents(t *testing.T) {
	events := []eventlog.Event{exec("task.sync", base)}
	if a := Analyze(events, "task.sync"); a != nil {
		t.Fatalf("expected nil analysis, got %+v", a)
	}
	if a := Analyze(nil, "task.sync"); a != nil {
		t.Fatalf("expected nil analysis on empty snapshot, got %+v", a)
	}
}

// Executions strictly before every scheduled timestamp produce no pairs:
// counts survive, everything derived is zero.
func TestAnalyzeNoPairs(t *testing.T) {
	events := []eventlog.Event{
		exec("task.sync", base.Add(-time.Hour)),
		sched("task.sync", base, nil),
		sched("task.sync", base.Add(time.Minute), nil),
	}
	a := Analyze(events, "task.sync")
	if a == nil {
		t.Fatalf("expected zero-valued analysis, got nil")
	}
	if a.TotalScheduled != 2 || a.TotalExecuted != 1 {
		t.Fatalf("counts = %d/%d, want 2/1", a.TotalScheduled, a.TotalExecuted)
	}
	if a.ExecutionRate != 0.5 {
		t.Fatalf("ExecutionRate = %v, want 0.5", a.ExecutionRate)
	}
	if a.AverageDelay != 0 || a.MedianDelay != 0 || a.MinDelay != 0 || a.MaxDelay != 0 {
		t.Fatalf("non-zero delay stats: %+v", a)
	}
	if a.Immediate != nil || a.Delayed != nil || a.Network != nil || a.Power != nil {
		t.Fatalf("non-nil partitions without pairs: %+v", a)
	}
	if len(a.Recommendations) != 0 {
		t.Fatalf("recommendations without pairs: %+v", a.Recommendations)
	}
}

func TestAnalyzeUniformDelays(t *testing.T) {
	var events []eventlog.Event
	for i := 0; i < 5; i++ {
		events = pairAt(events, "task.refresh", base.Add(time.Duration(i)*time.Minute), 5*time.Second, nil)
	}
	// Another subject's noise must not leak in.
	events = pairAt(events, "task.other", base, time.Hour, nil)

	a := Analyze(events, "task.refresh")
	if a == nil {
		t.Fatalf("nil analysis")
	}
	if a.TotalScheduled != 5 || a.TotalExecuted != 5 {
		t.Fatalf("counts = %d/%d, want 5/5", a.TotalScheduled, a.TotalExecuted)
	}
	if a.ExecutionRate != 1.0 {
		t.Fatalf("ExecutionRate = %v, want 1.0", a.ExecutionRate)
	}
	for name, got := range map[string]time.Duration{
		"avg": a.AverageDelay, "median": a.MedianDelay, "min": a.MinDelay, "max": a.MaxDelay,
	} {
		if got != 5*time.Second {
			t.Fatalf("%s delay = %v, want 5s", name, got)
		}
	}
}

// The pairing is greedy first-match and does not consume execution events:
// one start at or after several scheduled timestamps satisfies all of them.
func TestAnalyzeSharedExecution(t *testing.T) {
	events := []eventlog.Event{
		sched("task.sync", base, nil),
		sched("task.sync", base.Add(3*time.Second), nil),
		exec("task.sync", base.Add(10*time.Second)),
	}
	a := Analyze(events, "task.sync")
	if a == nil {
		t.Fatalf("nil analysis")
	}
	// Pairs: 10s and 7s.
	if a.MinDelay != 7*time.Second || a.MaxDelay != 10*time.Second {
		t.Fatalf("min/max = %v/%v, want 7s/10s", a.MinDelay, a.MaxDelay)
	}
	if a.MedianDelay != 8500*time.Millisecond {
		t.Fatalf("median = %v, want 8.5s", a.MedianDelay)
	}
}

func TestAnalyzePartitions(t *testing.T) {
	netMeta := map[string]string{eventlog.MetaRequiresNetwork: "true"}
	delayedMeta := map[string]string{eventlog.MetaEarliestBeginDate: base.Format(time.RFC3339)}

	var events []eventlog.Event
	events = pairAt(events, "task.upload", base, 2*time.Second, netMeta)
	events = pairAt(events, "task.upload", base.Add(time.Minute), 4*time.Second, netMeta)
	events = pairAt(events, "task.upload", base.Add(2*time.Minute), 10*time.Second, delayedMeta)

	a := Analyze(events, "task.upload")
	if a == nil {
		t.Fatalf("nil analysis")
	}
	if a.Network == nil || a.Network.Count != 2 {
		t.Fatalf("Network = %+v, want count 2", a.Network)
	}
	if a.Network.AverageDelay != 3*time.Second || a.Network.MedianDelay != 3*time.Second {
		t.Fatalf("Network avg/median = %v/%v, want 3s/3s", a.Network.AverageDelay, a.Network.MedianDelay)
	}
	if a.Delayed == nil || a.Delayed.Count != 1 || a.Delayed.AverageDelay != 10*time.Second {
		t.Fatalf("Delayed = %+v", a.Delayed)
	}
	if a.Immediate == nil || a.Immediate.Count != 2 {
		t.Fatalf("Immediate = %+v, want count 2", a.Immediate)
	}
	if a.Power != nil {
		t.Fatalf("Power = %+v, want nil", a.Power)
	}
}

func TestTimeWindowsThresholdAndOrder(t *testing.T) {
	var events []eventlog.Event
	// Hour 3: three samples averaging 2s.
	for i := 0; i < 3; i++ {
		events = pairAt(events, "task.sync", base.Add(time.Duration(i)*time.Minute), 2*time.Second, nil)
	}
	// Hour 10: four samples averaging 40s.
	slow := base.Add(7 * time.Hour)
	for i := 0; i < 4; i++ {
		events = pairAt(events, "task.sync", slow.Add(time.Duration(i)*time.Minute), 40*time.Second, nil)
	}
	// Hour 20: two samples only, below the ranking threshold.
	for i := 0; i < 2; i++ {
		events = pairAt(events, "task.sync", base.Add(17*time.Hour+time.Duration(i)*time.Minute), time.Second, nil)
	}

	a := Analyze(events, "task.sync")
	if a == nil {
		t.Fatalf("nil analysis")
	}
	if len(a.BestWindows) != 2 {
		t.Fatalf("windows = %+v, want 2 entries", a.BestWindows)
	}
	if a.BestWindows[0].Hour != 3 || a.BestWindows[0].AverageDelay != 2*time.Second || a.BestWindows[0].SampleCount != 3 {
		t.Fatalf("best window = %+v", a.BestWindows[0])
	}
	if a.BestWindows[1].Hour != 10 || a.BestWindows[1].AverageDelay != 40*time.Second {
		t.Fatalf("second window = %+v", a.BestWindows[1])
	}
}

func TestAnalyzeAllSkipsReservedSubject(t *testing.T) {
	var events []eventlog.Event
	events = pairAt(events, "task.b", base, time.Second, nil)
	events = pairAt(events, "task.a", base, time.Second, nil)
	events = pairAt(events, eventlog.SubjectAll, base, time.Second, nil)
	// A subject with only execution events yields no analysis.
	events = append(events, exec("task.c", base))

	all := AnalyzeAll(events)
	if len(all) != 2 {
		t.Fatalf("got %d analyses, want 2", len(all))
	}
	if all[0].SubjectID != "task.a" || all[1].SubjectID != "task.b" {
		t.Fatalf("order = [%s %s], want [task.a task.b]", all[0].SubjectID, all[1].SubjectID)
	}
}
