package schedstats

import (
	"sort"
	"time"
)

// minWindowSamples is the smallest hour bucket worth ranking; fewer samples
// are noise.
const minWindowSamples = 3

// Partition is a sub-analysis over the pairs sharing one scheduling
// property.
type Partition struct {
	Count        int           `json:"count"`
	AverageDelay time.Duration `json:"average_delay"`
	MedianDelay  time.Duration `json:"median_delay"`

	BestWindows []TimeWindow `json:"best_windows,omitempty"`
}

// TimeWindow is an hour-of-day bucket with its mean scheduling delay.
type TimeWindow struct {
	Hour         int           `json:"hour"`
	SampleCount  int           `json:"sample_count"`
	AverageDelay time.Duration `json:"average_delay"`
}

// buildPartition returns nil when no pair matches.
func buildPartition(pairs []pair, match func(pair) bool) *Partition {
	var members []pair
	for _, p := range pairs {
		if match(p) {
			members = append(members, p)
		}
	}
	if len(members) == 0 {
		return nil
	}

	delays := make([]time.Duration, len(members))
	var total time.Duration
	for i, p := range members {
		delays[i] = p.delay
		total += p.delay
	}
	return &Partition{
		Count:        len(members),
		AverageDelay: total / time.Duration(len(members)),
		MedianDelay:  median(delays),
		BestWindows:  timeWindows(members),
	}
}

// timeWindows groups pairs by hour-of-day of the scheduled timestamp, keeps
// hours with at least minWindowSamples samples, and sorts by ascending mean
// delay (fastest hour first).
func timeWindows(pairs []pair) []TimeWindow {
	type bucket struct {
		count int
		total time.Duration
	}
	byHour := map[int]*bucket{}
	for _, p := range pairs {
		h := p.sched.Timestamp.Hour()
		b := byHour[h]
		if b == nil {
			b = &bucket{}
			byHour[h] = b
		}
		b.count++
		b.total += p.delay
	}

	var windows []TimeWindow
	for h, b := range byHour {
		if b.count < minWindowSamples {
			continue
		}
		windows = append(windows, TimeWindow{
			Hour:         h,
			SampleCount:  b.count,
			AverageDelay: b.total / time.Duration(b.count),
		})
	}
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].AverageDelay != windows[j].AverageDelay {
			return windows[i].AverageDelay < windows[j].AverageDelay
		}
		return windows[i].Hour < windows[j].Hour
	})
	return windows
}
