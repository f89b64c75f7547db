package config

import "encoding/json"

// Change captures which config sections differ between two revisions.
// The daemon uses it on hot reload to apply only what actually changed.
type Change struct {
	Logging   bool
	Capacity  bool
	Scheduler bool
	Runner    bool
	Storage   bool
	Jobs      bool
}

func (c Change) Any() bool {
	return c.Logging || c.Capacity || c.Scheduler || c.Runner || c.Storage || c.Jobs
}

// Diff compares two configs section by section. Nil configs are treated as
// zero values so a first load reports every non-zero section as changed.
func Diff(prev, next *Config) Change {
	if prev == nil {
		prev = &Config{}
	}
	if next == nil {
		next = &Config{}
	}
	return Change{
		Logging:   !sectionEqual(prev.Logging, next.Logging),
		Capacity:  prev.Monitor.CapacityOrDefault() != next.Monitor.CapacityOrDefault(),
		Scheduler: !sectionEqual(prev.Scheduler, next.Scheduler),
		Runner:    !sectionEqual(prev.Runner.Effective(), next.Runner.Effective()),
		Storage:   !sectionEqual(prev.Storage, next.Storage),
		Jobs:      !sectionEqual(prev.Jobs, next.Jobs),
	}
}

// sectionEqual compares by canonical JSON so field order and zero values
// behave predictably across sections with nested slices and pointers.
func sectionEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return hashBytes(ab) == hashBytes(bb)
}
