package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ssathy2/backgroundtime/internal/eventlog"
	"github.com/ssathy2/backgroundtime/internal/monitor"
	"github.com/ssathy2/backgroundtime/internal/runner"
	logx "github.com/ssathy2/backgroundtime/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Amsterdam"
}

// JobSpec binds a schedule expression to a runner job.
//
// Schedule accepts crontab syntax ("*/5 * * * *", optionally with a seconds
// field), descriptors ("@hourly") and intervals ("@every 30s").
type JobSpec struct {
	Schedule string
	Job      runner.Job
}

// ScheduleInfo is a diagnostic view of one registered schedule.
type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Service is trigger-only: each tick records a scheduled event and hands the
// job to the runner. Execution never happens on cron's goroutine.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	mon *monitor.Monitor
	run *runner.Service

	parser  cron.Parser
	c       *cron.Cron
	jobs    []JobSpec
	entries map[string]cron.EntryID
}

func New(cfg Config, mon *monitor.Monitor, run *runner.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		mon: mon,
		run: run,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]cron.EntryID{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// SetJobs replaces the registered schedules. If the service is running, the
// cron is rebuilt so removed jobs stop firing.
func (s *Service) SetJobs(jobs []JobSpec) error {
	// Validate before touching state so a bad set is rejected atomically.
	for _, j := range jobs {
		if strings.TrimSpace(j.Job.Name) == "" {
			return errors.New("schedule job name required")
		}
		if _, err := s.parser.Parse(j.Schedule); err != nil {
			return errors.New("schedule " + j.Job.Name + ": " + err.Error())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = jobs
	if s.c != nil {
		s.restartLocked()
	}
	return nil
}

// Apply updates config; a timezone change restarts the cron in the new
// location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for i := range s.jobs {
		s.addLocked(s.jobs[i])
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.jobs)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	s.log.Info("scheduler stopped")
}

// Schedules returns diagnostics for the registered schedules.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := ScheduleInfo{Name: j.Job.Name, Spec: j.Schedule}
		if s.c != nil {
			if id, ok := s.entries[j.Job.Name]; ok {
				e := s.c.Entry(id)
				info.Next = e.Next
				info.Prev = e.Prev
			}
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) restartLocked() {
	old := s.c
	if old != nil {
		old.Stop()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.entries = map[string]cron.EntryID{}
	for i := range s.jobs {
		s.addLocked(s.jobs[i])
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.jobs)))
}

func (s *Service) addLocked(spec JobSpec) {
	job := spec.Job
	id, err := s.c.AddFunc(spec.Schedule, func() { s.fire(job) })
	if err != nil {
		// SetJobs validated the spec already; parse errors here mean a parser
		// mismatch and are worth surfacing loudly.
		s.log.Error("schedule rejected", logx.String("job", job.Name), logx.Err(err))
		return
	}
	s.entries[job.Name] = id
}

// fire records the scheduling event and enqueues the job. Enqueue refusals
// (overlap, queue full) are the runner's to report; the scheduled event is
// recorded regardless so misses stay visible in analysis.
func (s *Service) fire(job runner.Job) {
	now := time.Now()
	if s.mon != nil {
		s.mon.Record(scheduledEvent(job, now))
	}
	if s.run == nil {
		return
	}
	if err := s.run.Enqueue(job); err != nil {
		s.log.Debug("enqueue refused", logx.String("job", job.Name), logx.Err(err))
	}
}

func scheduledEvent(job runner.Job, at time.Time) eventlog.Event {
	md := map[string]string{
		eventlog.MetaRequiresNetwork: boolValue(job.RequiresNetwork),
		eventlog.MetaRequiresPower:   boolValue(job.RequiresPower),
	}
	if job.Delay > 0 {
		md[eventlog.MetaEarliestBeginDate] = at.Add(job.Delay).Format(time.RFC3339Nano)
	}
	return eventlog.Event{
		SubjectID: job.Name,
		Kind:      eventlog.KindScheduled,
		Timestamp: at,
		Metadata:  md,
	}
}

func boolValue(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
