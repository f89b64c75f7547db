package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ssathy2/backgroundtime/internal/eventbus"
	"github.com/ssathy2/backgroundtime/internal/eventlog"
	"github.com/ssathy2/backgroundtime/internal/monitor"
	rtsup "github.com/ssathy2/backgroundtime/internal/runtime/supervisor"
	logx "github.com/ssathy2/backgroundtime/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service executes queued jobs on a bounded worker pool and records every
// lifecycle transition into the monitor.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	mon *monitor.Monitor

	q chan queuedJob

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	stateMu sync.Mutex
	states  map[string]*runState

	dropped          uint64
	droppedQueueFull uint64
	droppedStale     uint64
	skippedOverlap   uint64

	lastQueueFullWarnAt int64
	lastStaleWarnAt     int64
}

func New(cfg Config, mon *monitor.Monitor, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		mon:    mon,
		states: make(map[string]*runState),
	}
}

func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return
	}
	// If core execution settings changed, restart workers.
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg

	// Start is idempotent.
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			s.Start(ctx)
		}
		return
	}

	s.q = make(chan queuedJob, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "runner"))),
		// worker failures should not hard-kill the app
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		name := fmt.Sprintf("worker.%d", idx)
		// Auto-restart workers if they panic.
		sup.GoRestart(name, func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		},
			rtsup.WithPublishFirstError(true),
		)
	}

	s.log.Info("runner started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("runner stopped")
	case <-ctx.Done():
		s.log.Warn("runner stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue tries to enqueue a job without blocking. If the queue is full, the
// job is dropped and an expired event is recorded so the miss is visible in
// scheduling analysis.
func (s *Service) Enqueue(j Job) error {
	name := strings.TrimSpace(j.Name)
	if name == "" {
		return fmt.Errorf("job Name is required")
	}
	if len(j.Command) == 0 {
		return fmt.Errorf("job Command is required")
	}
	j.Name = name

	now := time.Now()

	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if q == nil || stopCh == nil || stopping {
		return ErrStopped
	}

	timeout := j.Timeout
	if timeout <= 0 && cfg.DefaultTimeout > 0 {
		timeout = cfg.DefaultTimeout
	}

	st := s.stateFor(j.Name)
	if !st.tryAcquire() {
		atomic.AddUint64(&s.skippedOverlap, 1)
		if s.bus != nil {
			s.bus.Publish(eventbus.Signal{Type: eventbus.TypeJobSkipped, Time: now, Data: j.Name})
		}
		s.log.Debug("job skipped: previous run still active", logx.String("job", j.Name))
		return ErrOverlapSkip
	}

	qj := queuedJob{job: j, enqueuedAt: now, timeout: timeout, state: st}
	select {
	case q <- qj:
		return nil
	default:
		st.release()
		s.onQueueFullDropped(now, j, q)
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	ql, qc := 0, 0
	if q != nil {
		ql = len(q)
		qc = cap(q)
	}
	return Snapshot{
		Workers:          cfg.Workers,
		QueueLen:         ql,
		QueueCap:         qc,
		Dropped:          atomic.LoadUint64(&s.dropped),
		DroppedQueueFull: atomic.LoadUint64(&s.droppedQueueFull),
		DroppedStale:     atomic.LoadUint64(&s.droppedStale),
		SkippedOverlap:   atomic.LoadUint64(&s.skippedOverlap),
	}
}

func (s *Service) stateFor(name string) *runState {
	s.stateMu.Lock()
	st := s.states[name]
	if st == nil {
		st = &runState{}
		s.states[name] = st
	}
	s.stateMu.Unlock()
	return st
}

func (s *Service) shouldWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}

func (s *Service) onQueueFullDropped(now time.Time, j Job, q chan queuedJob) {
	atomic.AddUint64(&s.dropped, 1)
	atomic.AddUint64(&s.droppedQueueFull, 1)

	if s.bus != nil {
		s.bus.Publish(eventbus.Signal{Type: eventbus.TypeJobSkipped, Time: now, Data: j.Name})
	}
	if s.mon != nil {
		s.mon.Record(jobEvent(j, eventlog.KindExpired, now, "queue full"))
	}
	if s.shouldWarn(&s.lastQueueFullWarnAt, now) {
		s.log.Warn(
			"job dropped: queue full",
			logx.String("job", j.Name),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped_queue_full", atomic.LoadUint64(&s.droppedQueueFull)),
		)
	}
}

// jobEvent builds a lifecycle event for a job, carrying the requirement flags
// so scheduling analysis can partition on them.
func jobEvent(j Job, kind eventlog.Kind, at time.Time, errText string) eventlog.Event {
	e := eventlog.Event{
		SubjectID: j.Name,
		Kind:      kind,
		Timestamp: at,
		ErrorText: errText,
	}
	if j.RequiresNetwork || j.RequiresPower {
		e.Metadata = map[string]string{}
		if j.RequiresNetwork {
			e.Metadata[eventlog.MetaRequiresNetwork] = "true"
		}
		if j.RequiresPower {
			e.Metadata[eventlog.MetaRequiresPower] = "true"
		}
	}
	return e
}
