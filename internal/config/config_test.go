package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseJSON(t *testing.T) {
	p := writeFile(t, "config.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"monitor": {"capacity": 500, "persist_interval": "30s"},
		"scheduler": {"enabled": true, "timezone": "UTC"},
		"runner": {"workers": 4, "queue_size": 128, "default_timeout": "10s"},
		"storage": {"driver": "file", "path": "./store"},
		"jobs": [
			{"name": "sync", "schedule": "@every 1m", "command": ["/usr/bin/sync-tool", "--fast"], "requires_network": true}
		]
	}`)

	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Monitor.CapacityOrDefault() != 500 {
		t.Errorf("capacity = %d", cfg.Monitor.CapacityOrDefault())
	}
	iv, err := cfg.Monitor.PersistIntervalOrDefault()
	if err != nil || iv != 30*time.Second {
		t.Errorf("persist interval = %v, %v", iv, err)
	}
	r := cfg.Runner.Effective()
	if r.Workers != 4 || r.QueueSize != 128 {
		t.Errorf("runner = %+v", r)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Name != "sync" || !cfg.Jobs[0].RequiresNetwork {
		t.Errorf("jobs = %+v", cfg.Jobs)
	}
}

func TestParseYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: true
    path: ./btmon.log
monitor:
  capacity: 100
scheduler:
  enabled: true
jobs:
  - name: backup
    schedule: "0 3 * * *"
    command: ["/usr/local/bin/backup.sh"]
    requires_power: true
    delay: 5s
`)
	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Logging.File.Enabled || cfg.Logging.File.Path != "./btmon.log" {
		t.Errorf("logging.file = %+v", cfg.Logging.File)
	}
	if cfg.Jobs[0].Delay != "5s" || !cfg.Jobs[0].RequiresPower {
		t.Errorf("job = %+v", cfg.Jobs[0])
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}, "monitor": {}, "scheduler": {"enabled": false}, "jobs": [], "bogus": 1}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestParseRejectsMissingFile(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "nope.json")).Parse()
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Scheduler: SchedulerConfig{Enabled: true},
			Jobs: []JobConfig{
				{Name: "a", Schedule: "@every 1m", Command: []string{"true"}},
			},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty job name", func(c *Config) { c.Jobs[0].Name = " " }},
		{"duplicate job name", func(c *Config) { c.Jobs = append(c.Jobs, c.Jobs[0]) }},
		{"missing schedule", func(c *Config) { c.Jobs[0].Schedule = "" }},
		{"missing command", func(c *Config) { c.Jobs[0].Command = nil }},
		{"bad timeout", func(c *Config) { c.Jobs[0].Timeout = "soon" }},
		{"negative delay", func(c *Config) { c.Jobs[0].Delay = "-5s" }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"storage without path", func(c *Config) { c.Storage = &StorageConfig{Driver: "file"} }},
		{"unknown storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis", Path: "x"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestDiff(t *testing.T) {
	a := &Config{
		Monitor:   MonitorConfig{Capacity: 100},
		Scheduler: SchedulerConfig{Enabled: true},
		Jobs:      []JobConfig{{Name: "a", Schedule: "@every 1m", Command: []string{"true"}}},
	}

	if ch := Diff(a, a); ch.Any() {
		t.Errorf("identical configs reported change: %+v", ch)
	}

	b := *a
	b.Monitor.Capacity = 200
	if ch := Diff(a, &b); !ch.Capacity || ch.Jobs || ch.Logging {
		t.Errorf("capacity-only change = %+v", ch)
	}

	c := *a
	c.Jobs = []JobConfig{{Name: "a", Schedule: "@every 5m", Command: []string{"true"}}}
	if ch := Diff(a, &c); !ch.Jobs || ch.Capacity {
		t.Errorf("jobs-only change = %+v", ch)
	}

	// default capacity is equivalent to an explicit 1000
	d := &Config{Monitor: MonitorConfig{Capacity: DefaultCapacity}}
	if ch := Diff(&Config{}, d); ch.Capacity {
		t.Error("explicit default capacity reported as change")
	}
}

func TestLoadCommitGet(t *testing.T) {
	p := writeFile(t, "config.json", `{"logging": {"level": "info", "console": false, "file": {"enabled": false, "path": ""}}, "monitor": {"capacity": 10}, "scheduler": {"enabled": false}, "jobs": []}`)
	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if m.Get() != cfg {
		t.Error("Get did not return committed config")
	}
}

func TestSubscribeDeliversLatestWhenFull(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Monitor: MonitorConfig{Capacity: 1}}
	second := &Config{Monitor: MonitorConfig{Capacity: 2}}
	m.publish(first)
	m.publish(second) // buffer full: oldest dropped, latest delivered

	got := <-ch
	if got.Monitor.Capacity != 2 {
		t.Errorf("capacity = %d, want 2", got.Monitor.Capacity)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra delivery: %+v", extra)
	default:
	}
}

func TestWatchPublishesOnChange(t *testing.T) {
	body := `{"logging": {"level": "info", "console": false, "file": {"enabled": false, "path": ""}}, "monitor": {"capacity": 10}, "scheduler": {"enabled": false}, "jobs": []}`
	p := writeFile(t, "config.json", body)

	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	time.Sleep(100 * time.Millisecond) // let the watcher attach
	updated := `{"logging": {"level": "info", "console": false, "file": {"enabled": false, "path": ""}}, "monitor": {"capacity": 20}, "scheduler": {"enabled": false}, "jobs": []}`
	if err := os.WriteFile(p, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-ch:
		if cfg.Monitor.Capacity != 20 {
			t.Errorf("capacity = %d, want 20", cfg.Monitor.Capacity)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config publish")
	}

	cancel()
	<-done
}
