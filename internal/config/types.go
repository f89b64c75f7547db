package config

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Monitor controls the in-memory event log.
	Monitor MonitorConfig `json:"monitor"`

	// Scheduler controls the cron trigger service that emits scheduling events.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Runner controls execution settings for scheduled jobs.
	// If omitted, defaults are applied (see RunnerConfig).
	Runner *RunnerConfig `json:"runner,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`

	Jobs []JobConfig `json:"jobs"`
}

// MonitorConfig controls the bounded event log.
//
// Defaults (when fields are omitted/zero):
//   - capacity: 1000
//   - persist_interval: "1m" (only used when storage is configured)
type MonitorConfig struct {
	Capacity int `json:"capacity,omitempty"`

	// PersistInterval is a Go duration string (e.g. "30s", "5m").
	// Snapshots are written to storage at this cadence.
	PersistInterval string `json:"persist_interval,omitempty"`
}

// RunnerConfig controls the job execution pool.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
type RunnerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout applies to jobs that don't set their own timeout.
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay expires jobs that have been queued longer than this duration.
	// Use "0s" to disable stale queue expiry.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
}

// SchedulerConfig controls the cron trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone (IANA name, e.g. "Europe/Amsterdam"). Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./btmon_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// JobConfig describes one recurring job the scheduler triggers and the
// runner executes.
type JobConfig struct {
	Name string `json:"name"`

	// Schedule is a cron expression ("*/5 * * * *") or an @every interval
	// ("@every 30s").
	Schedule string `json:"schedule"`

	// Command is the argv to execute. The first element is the binary.
	Command []string `json:"command"`

	// Timeout is a Go duration string. Zero/empty falls back to the runner's
	// default_timeout.
	Timeout string `json:"timeout,omitempty"`

	// Delay shifts execution after the trigger fires (deliberate-delay jobs).
	Delay string `json:"delay,omitempty"`

	RequiresNetwork bool `json:"requires_network,omitempty"`
	RequiresPower   bool `json:"requires_power,omitempty"`

	Disabled bool `json:"disabled,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

const (
	DefaultCapacity        = 1000
	DefaultPersistInterval = time.Minute
	DefaultWorkers         = 2
	DefaultQueueSize       = 256
)

// CapacityOrDefault returns the configured event log capacity, falling back
// to DefaultCapacity when unset.
func (m MonitorConfig) CapacityOrDefault() int {
	if m.Capacity > 0 {
		return m.Capacity
	}
	return DefaultCapacity
}

func (m MonitorConfig) PersistIntervalOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("monitor.persist_interval", m.PersistInterval, DefaultPersistInterval)
}

// Effective returns runner settings with defaults applied. Safe on nil.
func (r *RunnerConfig) Effective() RunnerConfig {
	out := RunnerConfig{Workers: DefaultWorkers, QueueSize: DefaultQueueSize}
	if r == nil {
		return out
	}
	out = *r
	if out.Workers <= 0 {
		out.Workers = DefaultWorkers
	}
	if out.QueueSize <= 0 {
		out.QueueSize = DefaultQueueSize
	}
	return out
}

// Validate checks cross-field constraints that the strict decoder can't.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Monitor.Capacity < 0 {
		return fmt.Errorf("monitor.capacity must be > 0")
	}
	if _, err := c.Monitor.PersistIntervalOrDefault(); err != nil {
		return err
	}
	if r := c.Runner; r != nil {
		if _, err := ParseDurationField("runner.default_timeout", r.DefaultTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("runner.max_queue_delay", r.MaxQueueDelay); err != nil {
			return err
		}
	}
	if s := c.Storage; s != nil {
		switch s.Driver {
		case "file", "sqlite":
		case "":
			return fmt.Errorf("storage.driver is required when storage is set")
		default:
			return fmt.Errorf("storage.driver %q not supported (file|sqlite)", s.Driver)
		}
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path is required when storage is set")
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(c.Jobs))
	for i, j := range c.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("jobs[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("jobs[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(j.Schedule) == "" {
			return fmt.Errorf("jobs[%d] (%s): schedule is required", i, name)
		}
		if len(j.Command) == 0 {
			return fmt.Errorf("jobs[%d] (%s): command is required", i, name)
		}
		if _, err := ParseDurationField(fmt.Sprintf("jobs[%d].timeout", i), j.Timeout); err != nil {
			return err
		}
		if _, err := ParseDurationField(fmt.Sprintf("jobs[%d].delay", i), j.Delay); err != nil {
			return err
		}
	}
	return nil
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
