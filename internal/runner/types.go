package runner

import (
	"errors"
	"sync"
	"time"
)

// Config controls the job execution pool.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Job.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay expires jobs that have been queued longer than this
	// duration. 0 disables stale-queue expiry.
	MaxQueueDelay time.Duration
}

// Job is a unit of work executed by the pool. Command is the argv to run;
// the first element is the binary.
type Job struct {
	Name    string
	Command []string
	Timeout time.Duration

	// Delay shifts execution after dequeue (deliberate-delay jobs).
	Delay time.Duration

	RequiresNetwork bool
	RequiresPower   bool
}

type queuedJob struct {
	job        Job
	enqueuedAt time.Time
	timeout    time.Duration
	state      *runState
}

// runState tracks whether a job is already in-flight or queued, so a
// schedule that fires faster than execution can't blow up the queue.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers  int
	QueueLen int
	QueueCap int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64
	SkippedOverlap   uint64
}

var (
	ErrStopped     = errors.New("runner stopped")
	ErrQueueFull   = errors.New("runner queue full")
	ErrOverlapSkip = errors.New("job skipped: previous run still active")
)
