package runner

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/ssathy2/backgroundtime/internal/eventbus"
	"github.com/ssathy2/backgroundtime/internal/eventlog"
	"github.com/ssathy2/backgroundtime/internal/monitor"
	logx "github.com/ssathy2/backgroundtime/pkg/logx"
)

func newTestRunner(t *testing.T, cfg Config) (*Service, *monitor.Monitor) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests shell out to unix utilities")
	}
	mon := monitor.New(100, logx.Nop(), eventbus.New())
	s := New(cfg, mon, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, mon
}

// waitForKind polls until the subject has an event of the given kind.
func waitForKind(t *testing.T, mon *monitor.Monitor, subject string, kind eventlog.Kind) eventlog.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range mon.GetForSubject(subject) {
			if e.Kind == kind {
				return e
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %s event for %s; have %+v", kind, subject, mon.GetForSubject(subject))
	return eventlog.Event{}
}

func TestEnqueueValidation(t *testing.T) {
	s, _ := newTestRunner(t, Config{Workers: 1})
	if err := s.Enqueue(Job{Command: []string{"true"}}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := s.Enqueue(Job{Name: "x"}); err == nil {
		t.Error("expected error for missing command")
	}
}

func TestRunRecordsLifecycle(t *testing.T) {
	s, mon := newTestRunner(t, Config{Workers: 1})
	job := Job{Name: "job.ok", Command: []string{"true"}, RequiresNetwork: true}
	if err := s.Enqueue(job); err != nil {
		t.Fatal(err)
	}

	started := waitForKind(t, mon, "job.ok", eventlog.KindExecutionStarted)
	if started.Meta(eventlog.MetaRequiresNetwork) != "true" {
		t.Errorf("started metadata = %v", started.Metadata)
	}

	done := waitForKind(t, mon, "job.ok", eventlog.KindExecutionCompleted)
	if !done.Success {
		t.Errorf("completion not successful: %+v", done)
	}
	if done.Duration == nil || *done.Duration < 0 {
		t.Errorf("duration = %v", done.Duration)
	}
}

func TestFailingCommandRecordsUnsuccessfulCompletion(t *testing.T) {
	s, mon := newTestRunner(t, Config{Workers: 1})
	if err := s.Enqueue(Job{Name: "job.fail", Command: []string{"false"}}); err != nil {
		t.Fatal(err)
	}
	done := waitForKind(t, mon, "job.fail", eventlog.KindExecutionCompleted)
	if done.Success {
		t.Error("expected unsuccessful completion")
	}
	if done.ErrorText == "" {
		t.Error("expected error text")
	}
}

func TestMissingBinaryRecordsFailure(t *testing.T) {
	s, mon := newTestRunner(t, Config{Workers: 1})
	if err := s.Enqueue(Job{Name: "job.nobin", Command: []string{"/definitely/not/a/binary"}}); err != nil {
		t.Fatal(err)
	}
	e := waitForKind(t, mon, "job.nobin", eventlog.KindFailed)
	if e.ErrorText == "" {
		t.Error("expected error text")
	}
}

func TestTimeoutRecordsExpiration(t *testing.T) {
	s, mon := newTestRunner(t, Config{Workers: 1})
	job := Job{Name: "job.slow", Command: []string{"sleep", "10"}, Timeout: 100 * time.Millisecond}
	if err := s.Enqueue(job); err != nil {
		t.Fatal(err)
	}
	e := waitForKind(t, mon, "job.slow", eventlog.KindExpired)
	if e.ErrorText != "timeout exceeded" {
		t.Errorf("error text = %q", e.ErrorText)
	}
}

func TestOverlapSkip(t *testing.T) {
	s, _ := newTestRunner(t, Config{Workers: 2})
	job := Job{Name: "job.overlap", Command: []string{"sleep", "2"}}
	if err := s.Enqueue(job); err != nil {
		t.Fatal(err)
	}
	err := s.Enqueue(job)
	if !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("err = %v, want ErrOverlapSkip", err)
	}
	if got := s.Snapshot().SkippedOverlap; got != 1 {
		t.Errorf("SkippedOverlap = %d", got)
	}
}

func TestQueueFullRecordsExpired(t *testing.T) {
	s, mon := newTestRunner(t, Config{Workers: 1, QueueSize: 1})
	// Occupy the single worker, then fill the queue.
	if err := s.Enqueue(Job{Name: "job.a", Command: []string{"sleep", "2"}}); err != nil {
		t.Fatal(err)
	}
	waitForKind(t, mon, "job.a", eventlog.KindExecutionStarted)
	if err := s.Enqueue(Job{Name: "job.b", Command: []string{"true"}}); err != nil {
		t.Fatal(err)
	}

	err := s.Enqueue(Job{Name: "job.c", Command: []string{"true"}})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	e := waitForKind(t, mon, "job.c", eventlog.KindExpired)
	if e.ErrorText != "queue full" {
		t.Errorf("error text = %q", e.ErrorText)
	}
	if got := s.Snapshot().DroppedQueueFull; got != 1 {
		t.Errorf("DroppedQueueFull = %d", got)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	s, _ := newTestRunner(t, Config{Workers: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	err := s.Enqueue(Job{Name: "x", Command: []string{"true"}})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
