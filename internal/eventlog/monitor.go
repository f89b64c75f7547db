package eventlog

import (
	"sync"
	"time"
)

// OpStats aggregates observed latencies for one log operation.
type OpStats struct {
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
}

// AccessMonitor records operation latencies on the event log for
// self-observability. It is additive bookkeeping only; Record is O(1) and
// holds its lock for a map update, so it cannot starve log operations.
type AccessMonitor struct {
	mu  sync.Mutex
	ops map[string]*OpStats
}

func NewAccessMonitor() *AccessMonitor {
	return &AccessMonitor{ops: make(map[string]*OpStats)}
}

// Record adds one observation for the named operation.
func (m *AccessMonitor) Record(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ops[op]
	if st == nil {
		st = &OpStats{Min: d, Max: d}
		m.ops[op] = st
	}
	st.Count++
	st.Total += d
	if d < st.Min {
		st.Min = d
	}
	if d > st.Max {
		st.Max = d
	}
}

// Observe starts a latency measurement; call the returned func when the
// operation completes.
//
//	defer m.Observe("snapshot")()
func (m *AccessMonitor) Observe(op string) func() {
	start := time.Now()
	return func() { m.Record(op, time.Since(start)) }
}

// Report returns a copy of the aggregates, with Mean filled in.
func (m *AccessMonitor) Report() map[string]OpStats {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]OpStats, len(m.ops))
	for op, st := range m.ops {
		cp := *st
		if cp.Count > 0 {
			cp.Mean = cp.Total / time.Duration(cp.Count)
		}
		out[op] = cp
	}
	return out
}

// Reset drops all recorded aggregates.
func (m *AccessMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ops = make(map[string]*OpStats)
	m.mu.Unlock()
}
