// Package monitor wires the event log, the derived engines and the access
// monitor into the query surface the rest of the program uses.
//
// There is no process-wide instance: construct one Monitor per application
// or test context and pass it explicitly.
package monitor

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ssathy2/backgroundtime/internal/eventbus"
	"github.com/ssathy2/backgroundtime/internal/eventlog"
	"github.com/ssathy2/backgroundtime/internal/schedstats"
	"github.com/ssathy2/backgroundtime/internal/stats"
	logx "github.com/ssathy2/backgroundtime/pkg/logx"
)

// ConditionsFunc captures environmental state at event time. nil means
// events carry no conditions snapshot.
type ConditionsFunc func() *eventlog.Conditions

// BufferStats is an O(1) view of the ring state.
type BufferStats struct {
	Capacity    int     `json:"capacity"`
	Count       int     `json:"count"`
	Available   int     `json:"available"`
	Utilization float64 `json:"utilization"`
	IsFull      bool    `json:"is_full"`
	Evicted     uint64  `json:"evicted"`
}

type Monitor struct {
	log logx.Logger
	bus eventbus.Bus

	// mu guards the elog pointer (swapped by Restore), not the log's
	// contents; the log carries its own lock.
	mu   sync.RWMutex
	elog *eventlog.Log

	acc        *eventlog.AccessMonitor
	conditions ConditionsFunc

	evictMu   sync.Mutex
	evicted   uint64
	evictWarn *rate.Limiter
}

// New creates a monitor around an empty log. capacity 0 means the
// historical default; negative values are a programmer error and panic.
func New(capacity int, log logx.Logger, bus eventbus.Bus) *Monitor {
	if capacity == 0 {
		capacity = eventlog.DefaultCapacity
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		log:  log,
		bus:  bus,
		elog: eventlog.New(capacity),
		acc:  eventlog.NewAccessMonitor(),
		// One eviction warning per interval is plenty; the counter keeps
		// the real number.
		evictWarn: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// SetConditionsFunc installs the environmental snapshot hook used for
// events recorded without one.
func (m *Monitor) SetConditionsFunc(fn ConditionsFunc) {
	m.mu.Lock()
	m.conditions = fn
	m.mu.Unlock()
}

func (m *Monitor) logRef() *eventlog.Log {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.elog
}

// Record appends an event, filling in ID, timestamp and conditions when the
// producer left them empty. Malformed producer input is accepted as-is.
func (m *Monitor) Record(e eventlog.Event) {
	defer m.acc.Observe("append")()

	m.mu.RLock()
	l := m.elog
	cond := m.conditions
	m.mu.RUnlock()

	if e.ID == "" || e.Timestamp.IsZero() {
		filled := eventlog.NewEvent(e.SubjectID, e.Kind, e.Timestamp)
		if e.ID == "" {
			e.ID = filled.ID
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = filled.Timestamp
		}
	}
	if e.Conditions == nil && cond != nil {
		e.Conditions = cond()
	}

	old, evicted := l.Append(e)
	if m.bus != nil {
		m.bus.Publish(eventbus.Signal{Type: eventbus.TypeAppended, Time: e.Timestamp, Data: e})
	}
	if evicted {
		m.noteEviction(old)
	}
}

func (m *Monitor) noteEviction(old eventlog.Event) {
	m.evictMu.Lock()
	m.evicted++
	n := m.evicted
	warn := m.evictWarn.Allow()
	m.evictMu.Unlock()

	if m.bus != nil {
		m.bus.Publish(eventbus.Signal{Type: eventbus.TypeEvicted, Data: old})
	}
	if warn {
		m.log.Warn("event log full; evicting oldest events",
			logx.Uint64("evicted_total", n),
			logx.String("subject", old.SubjectID),
		)
	}
}

// GetAll returns an oldest-first copy of the log.
func (m *Monitor) GetAll() []eventlog.Event {
	defer m.acc.Observe("snapshot")()
	return m.logRef().Snapshot()
}

// GetInRange returns events with start <= timestamp <= end.
func (m *Monitor) GetInRange(start, end time.Time) []eventlog.Event {
	defer m.acc.Observe("range")()
	return m.logRef().Filter(func(e eventlog.Event) bool {
		return !e.Timestamp.Before(start) && !e.Timestamp.After(end)
	})
}

// GetForSubject returns the events belonging to one subject.
func (m *Monitor) GetForSubject(subjectID string) []eventlog.Event {
	defer m.acc.Observe("subject")()
	return m.logRef().Filter(func(e eventlog.Event) bool {
		return e.SubjectID == subjectID
	})
}

// GenerateStatistics summarizes the whole log.
func (m *Monitor) GenerateStatistics() stats.Statistics {
	defer m.acc.Observe("statistics")()
	return m.summarize(m.logRef().Snapshot())
}

// GenerateStatisticsFor summarizes an explicit event set restricted to
// [start, end].
func (m *Monitor) GenerateStatisticsFor(events []eventlog.Event, start, end time.Time) stats.Statistics {
	defer m.acc.Observe("statistics")()
	in := make([]eventlog.Event, 0, len(events))
	for _, e := range events {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			in = append(in, e)
		}
	}
	return m.summarize(in)
}

func (m *Monitor) summarize(events []eventlog.Event) stats.Statistics {
	s := stats.Summarize(events)
	// Start/completion asymmetry is a data-quality signal, not something
	// to mask silently.
	if s.RawSuccessRate > 1.0 {
		m.log.Debug("success ratio exceeded 1.0 before clamping",
			logx.Float64("raw", s.RawSuccessRate),
			logx.Int("executed", s.TotalExecuted),
			logx.Int("completed", s.TotalCompleted),
		)
	}
	return s
}

// AnalyzeScheduling analyzes one subject; nil when it has no scheduled
// events.
func (m *Monitor) AnalyzeScheduling(subjectID string) *schedstats.Analysis {
	defer m.acc.Observe("analyze")()
	return schedstats.Analyze(m.logRef().Snapshot(), subjectID)
}

// AnalyzeAllScheduling analyzes every subject present in the log.
func (m *Monitor) AnalyzeAllScheduling() []*schedstats.Analysis {
	defer m.acc.Observe("analyze")()
	return schedstats.AnalyzeAll(m.logRef().Snapshot())
}

// BufferStats reports the ring state.
func (m *Monitor) BufferStats() BufferStats {
	l := m.logRef()
	m.evictMu.Lock()
	ev := m.evicted
	m.evictMu.Unlock()
	return BufferStats{
		Capacity:    l.Cap(),
		Count:       l.Len(),
		Available:   l.Available(),
		Utilization: l.Utilization(),
		IsFull:      l.IsFull(),
		Evicted:     ev,
	}
}

// AccessReport returns latency aggregates for the monitor's own operations.
func (m *Monitor) AccessReport() map[string]eventlog.OpStats {
	return m.acc.Report()
}

// Resize changes the log capacity, keeping the newest events, and reports
// how many were dropped.
func (m *Monitor) Resize(capacity int) int {
	defer m.acc.Observe("resize")()
	dropped := m.logRef().Resize(capacity)
	if dropped > 0 {
		m.log.Info("event log resized", logx.Int("capacity", capacity), logx.Int("dropped", dropped))
	}
	return dropped
}

// Clear empties the log; capacity is unchanged.
func (m *Monitor) Clear() {
	m.logRef().Clear()
}

// Snapshot captures the log for persistence.
func (m *Monitor) Snapshot() eventlog.Snapshot {
	defer m.acc.Observe("snapshot")()
	return eventlog.TakeSnapshot(m.logRef())
}

// Restore replaces the log contents from a persisted snapshot. On a corrupt
// snapshot the current log is kept and the error returned.
func (m *Monitor) Restore(s eventlog.Snapshot) error {
	l, err := eventlog.FromSnapshot(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.elog = l
	m.mu.Unlock()
	m.log.Info("event log restored", logx.Int("events", l.Len()), logx.Int("capacity", l.Cap()))
	return nil
}
