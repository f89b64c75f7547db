package eventlog

import (
	"fmt"
	"sync"
)

// DefaultCapacity is the historical default ring size.
const DefaultCapacity = 1000

// Log is a fixed-capacity FIFO ring of events. Appending past capacity
// evicts the oldest resident event.
//
// All methods are safe for concurrent use. Read helpers (Snapshot, Filter,
// Each) copy the live contents under the lock and release it before any
// caller-supplied function runs, so callbacks may touch the log again
// without deadlocking.
type Log struct {
	mu    sync.Mutex
	buf   []Event
	head  int // next write position
	tail  int // oldest resident element
	count int
}

// New creates an empty log. capacity must be positive; a non-positive
// value is a programmer error and panics.
func New(capacity int) *Log {
	if capacity <= 0 {
		panic(fmt.Sprintf("eventlog: capacity must be positive, got %d", capacity))
	}
	return &Log{buf: make([]Event, capacity)}
}

// Append inserts e as the newest element. When the log is already full it
// returns the evicted oldest element and true. O(1).
func (l *Log) Append(e Event) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var evicted Event
	var didEvict bool
	if l.count == cap(l.buf) {
		evicted = l.buf[l.tail]
		didEvict = true
		l.tail = (l.tail + 1) % cap(l.buf)
	} else {
		l.count++
	}
	l.buf[l.head] = e
	l.head = (l.head + 1) % cap(l.buf)
	return evicted, didEvict
}

// Snapshot returns an oldest-first copy of the current contents. Mutating
// the returned slice never affects the log.
func (l *Log) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Log) snapshotLocked() []Event {
	out := make([]Event, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.buf[(l.tail+i)%cap(l.buf)]
	}
	return out
}

// Filter returns the events matching pred, oldest first. pred runs on a
// snapshot, outside the lock.
func (l *Log) Filter(pred func(Event) bool) []Event {
	snap := l.Snapshot()
	out := make([]Event, 0, len(snap))
	for _, e := range snap {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Each calls fn for every event, oldest first, outside the lock.
func (l *Log) Each(fn func(Event)) {
	for _, e := range l.Snapshot() {
		fn(e)
	}
}

// Map applies fn to a snapshot of l, oldest first, outside the lock.
func Map[T any](l *Log, fn func(Event) T) []T {
	snap := l.Snapshot()
	out := make([]T, len(snap))
	for i, e := range snap {
		out[i] = fn(e)
	}
	return out
}

// Resize changes the capacity, keeping the most recently appended elements
// (oldest-first order preserved among survivors), and reports how many were
// dropped. A non-positive capacity panics.
func (l *Log) Resize(capacity int) int {
	if capacity <= 0 {
		panic(fmt.Sprintf("eventlog: capacity must be positive, got %d", capacity))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.snapshotLocked()
	dropped := 0
	if len(snap) > capacity {
		dropped = len(snap) - capacity
		snap = snap[dropped:]
	}

	l.buf = make([]Event, capacity)
	copy(l.buf, snap)
	l.tail = 0
	l.count = len(snap)
	l.head = l.count % capacity
	return dropped
}

// Clear empties the log. Capacity is unchanged.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Drop references so evicted payloads become collectable.
	for i := range l.buf {
		l.buf[i] = Event{}
	}
	l.head = 0
	l.tail = 0
	l.count = 0
}

// Len returns the number of resident events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Cap returns the fixed capacity.
func (l *Log) Cap() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cap(l.buf)
}

func (l *Log) IsEmpty() bool { return l.Len() == 0 }

func (l *Log) IsFull() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count == cap(l.buf)
}

// Available returns how many more events fit before eviction starts.
func (l *Log) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cap(l.buf) - l.count
}

// Utilization returns the fill level as a percentage in [0, 100].
func (l *Log) Utilization() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.count) / float64(cap(l.buf)) * 100
}
