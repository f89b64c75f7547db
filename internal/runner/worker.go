package runner

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"time"

	logx "github.com/ssathy2/backgroundtime/pkg/logx"

	"github.com/ssathy2/backgroundtime/internal/eventlog"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedJob) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qj, ok := <-queue:
			if !ok {
				return
			}
			s.execOne(ctx, stopCh, qj)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qj queuedJob) {
	defer qj.state.release()

	j := qj.job
	now := time.Now()
	queueDelay := time.Duration(0)
	if !qj.enqueuedAt.IsZero() {
		queueDelay = now.Sub(qj.enqueuedAt)
		if queueDelay < 0 {
			queueDelay = 0
		}
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.onStaleDropped(now, j, queueDelay)
		return
	}

	// Deliberate delay before execution.
	if j.Delay > 0 {
		t := time.NewTimer(j.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.recordEnd(j, eventlog.KindCancelled, time.Now(), nil, "shutdown before start")
			return
		case <-stopCh:
			t.Stop()
			s.recordEnd(j, eventlog.KindCancelled, time.Now(), nil, "shutdown before start")
			return
		case <-t.C:
		}
	}

	start := time.Now()
	if s.mon != nil {
		s.mon.Record(jobEvent(j, eventlog.KindExecutionStarted, start, ""))
	}
	s.log.Debug("job started",
		logx.String("job", j.Name),
		logx.Duration("queue_delay", queueDelay),
	)

	var runCtx context.Context
	var cancel context.CancelFunc
	if qj.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qj.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, j.Command[0], j.Command[1:]...)
	err := cmd.Run()
	took := time.Since(start)
	end := start.Add(took)

	switch {
	case err == nil:
		s.recordCompleted(j, end, took, true, "")
		s.log.Debug("job completed", logx.String("job", j.Name), logx.Duration("took", took))
	case runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		s.recordEnd(j, eventlog.KindExpired, end, &took, "timeout exceeded")
		s.log.Warn("job timed out",
			logx.String("job", j.Name),
			logx.Duration("timeout", qj.timeout),
			logx.Duration("took", took),
		)
	case ctx.Err() != nil:
		s.recordEnd(j, eventlog.KindCancelled, end, &took, "shutdown")
		s.log.Debug("job cancelled on shutdown", logx.String("job", j.Name))
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.recordCompleted(j, end, took, false, err.Error())
			s.log.Warn("job failed",
				logx.String("job", j.Name),
				logx.Int("exit_code", exitErr.ExitCode()),
				logx.Duration("took", took),
			)
		} else {
			// The command never started (missing binary, bad permissions).
			s.recordEnd(j, eventlog.KindFailed, end, nil, err.Error())
			s.log.Error("job could not start", logx.String("job", j.Name), logx.Err(err))
		}
	}
}

func (s *Service) recordCompleted(j Job, at time.Time, took time.Duration, success bool, errText string) {
	if s.mon == nil {
		return
	}
	e := jobEvent(j, eventlog.KindExecutionCompleted, at, errText)
	e.Success = success
	e.Duration = &took
	s.mon.Record(e)
}

func (s *Service) recordEnd(j Job, kind eventlog.Kind, at time.Time, took *time.Duration, errText string) {
	if s.mon == nil {
		return
	}
	e := jobEvent(j, kind, at, errText)
	e.Duration = took
	s.mon.Record(e)
}

func (s *Service) onStaleDropped(now time.Time, j Job, queueDelay time.Duration) {
	atomic.AddUint64(&s.dropped, 1)
	atomic.AddUint64(&s.droppedStale, 1)

	if s.mon != nil {
		s.mon.Record(jobEvent(j, eventlog.KindExpired, now, "stale queue delay"))
	}
	if s.shouldWarn(&s.lastStaleWarnAt, now) {
		s.log.Warn(
			"job expired: stale queue",
			logx.String("job", j.Name),
			logx.Duration("queue_delay", queueDelay),
			logx.Uint64("dropped_stale", atomic.LoadUint64(&s.droppedStale)),
		)
	}
}
