// Package schedstats pairs "scheduled" with "execution started" events per
// subject, measures scheduling delays, partitions them by scheduling
// properties, and synthesizes prioritized recommendations.
//
// Analyze and AnalyzeAll are pure functions over a snapshot. "No data" always
// yields nil or zero-valued structures, never an error.
package schedstats

import (
	"sort"
	"time"

	"github.com/ssathy2/backgroundtime/internal/eventlog"
)

// Analysis is the per-subject result.
type Analysis struct {
	SubjectID string `json:"subject_id"`

	TotalScheduled int     `json:"total_scheduled"`
	TotalExecuted  int     `json:"total_executed"`
	ExecutionRate  float64 `json:"execution_rate"`

	AverageDelay time.Duration `json:"average_delay"`
	MedianDelay  time.Duration `json:"median_delay"`
	MinDelay     time.Duration `json:"min_delay"`
	MaxDelay     time.Duration `json:"max_delay"`

	// Partitions are nil when they have no members.
	Immediate *Partition `json:"immediate,omitempty"`
	Delayed   *Partition `json:"delayed,omitempty"`
	Network   *Partition `json:"network,omitempty"`
	Power     *Partition `json:"power,omitempty"`

	// BestWindows ranks hour-of-day buckets (>= 3 samples) over all pairs,
	// fastest first.
	BestWindows []TimeWindow `json:"best_windows,omitempty"`

	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// pair is one scheduled event matched to an execution start.
type pair struct {
	sched eventlog.Event
	delay time.Duration
}

// Analyze computes the scheduling analysis for one subject. It returns nil
// when the snapshot holds no Scheduled events for that subject.
func Analyze(events []eventlog.Event, subjectID string) *Analysis {
	var scheduled, executed []eventlog.Event
	for _, e := range events {
		if e.SubjectID != subjectID {
			continue
		}
		switch e.Kind {
		case eventlog.KindScheduled:
			scheduled = append(scheduled, e)
		case eventlog.KindExecutionStarted:
			executed = append(executed, e)
		}
	}
	if len(scheduled) == 0 {
		return nil
	}

	a := &Analysis{
		SubjectID:      subjectID,
		TotalScheduled: len(scheduled),
		TotalExecuted:  len(executed),
		ExecutionRate:  float64(len(executed)) / float64(len(scheduled)),
	}

	pairs := matchPairs(scheduled, executed)
	if len(pairs) == 0 {
		return a
	}

	delays := make([]time.Duration, len(pairs))
	var total time.Duration
	a.MinDelay = pairs[0].delay
	a.MaxDelay = pairs[0].delay
	for i, p := range pairs {
		delays[i] = p.delay
		total += p.delay
		if p.delay < a.MinDelay {
			a.MinDelay = p.delay
		}
		if p.delay > a.MaxDelay {
			a.MaxDelay = p.delay
		}
	}
	a.AverageDelay = total / time.Duration(len(pairs))
	a.MedianDelay = median(delays)

	a.Immediate = buildPartition(pairs, func(p pair) bool {
		return p.sched.Meta(eventlog.MetaEarliestBeginDate) == ""
	})
	a.Delayed = buildPartition(pairs, func(p pair) bool {
		return p.sched.Meta(eventlog.MetaEarliestBeginDate) != ""
	})
	a.Network = buildPartition(pairs, func(p pair) bool {
		return p.sched.Meta(eventlog.MetaRequiresNetwork) == "true"
	})
	a.Power = buildPartition(pairs, func(p pair) bool {
		return p.sched.Meta(eventlog.MetaRequiresPower) == "true"
	})
	a.BestWindows = timeWindows(pairs)

	a.Recommendations = recommend(a, pairs)
	return a
}

// AnalyzeAll analyzes every distinct subject present in the snapshot,
// skipping the reserved marker subject. Results are ordered by subject ID.
func AnalyzeAll(events []eventlog.Event) []*Analysis {
	seen := map[string]bool{}
	var subjects []string
	for _, e := range events {
		if e.SubjectID == "" || e.SubjectID == eventlog.SubjectAll {
			continue
		}
		if !seen[e.SubjectID] {
			seen[e.SubjectID] = true
			subjects = append(subjects, e.SubjectID)
		}
	}
	sort.Strings(subjects)

	out := make([]*Analysis, 0, len(subjects))
	for _, id := range subjects {
		if a := Analyze(events, id); a != nil {
			out = append(out, a)
		}
	}
	return out
}

// matchPairs pairs each scheduled event with the first execution start at
// or after its timestamp. Executed events are not consumed: the same start
// may satisfy several scheduled events when timings overlap. Unmatched
// scheduled events are simply excluded.
func matchPairs(scheduled, executed []eventlog.Event) []pair {
	execSorted := append([]eventlog.Event(nil), executed...)
	sort.Slice(execSorted, func(i, j int) bool {
		return execSorted[i].Timestamp.Before(execSorted[j].Timestamp)
	})

	pairs := make([]pair, 0, len(scheduled))
	for _, s := range scheduled {
		idx := sort.Search(len(execSorted), func(i int) bool {
			return !execSorted[i].Timestamp.Before(s.Timestamp)
		})
		if idx == len(execSorted) {
			continue
		}
		pairs = append(pairs, pair{
			sched: s,
			delay: execSorted[idx].Timestamp.Sub(s.Timestamp),
		})
	}
	return pairs
}

// median uses standard even/odd-count averaging.
func median(delays []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), delays...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
