package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a lifecycle event. The set below is closed for the
// engines; producers may append custom kinds, which the engines carry
// through without interpreting.
type Kind string

const (
	KindScheduled          Kind = "scheduled"
	KindExecutionStarted   Kind = "execution_started"
	KindExecutionCompleted Kind = "execution_completed"
	KindExpired            Kind = "expired"
	KindCancelled          Kind = "cancelled"
	KindFailed             Kind = "failed"
)

// SubjectAll is a reserved subject identifier used for log-wide markers.
// Per-subject analysis skips it.
const SubjectAll = "ALL_TASKS"

// Metadata keys the scheduling analyzer interprets on Scheduled events.
// Values for the boolean keys are "true"/"false".
const (
	MetaRequiresNetwork   = "requiresNetwork"
	MetaRequiresPower     = "requiresPower"
	MetaEarliestBeginDate = "earliestBeginDate"
)

// Conditions is an opaque snapshot of environmental state at event time.
// It is carried on events for consumers; nothing in this package or the
// engines reads it.
type Conditions struct {
	BatteryLevel float64 `json:"battery_level"`
	Charging     bool    `json:"charging"`
	PowerSaving  bool    `json:"power_saving"`
	ThermalState string  `json:"thermal_state,omitempty"`
}

// Event is one record in a subject's lifecycle. Events are immutable once
// appended; the log never hands out references into its backing array.
type Event struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	Kind      Kind   `json:"kind"`

	Timestamp time.Time `json:"timestamp"`

	// Duration is present only on completion-like events.
	Duration *time.Duration `json:"duration,omitempty"`

	Success   bool   `json:"success"`
	ErrorText string `json:"error,omitempty"`

	Metadata   map[string]string `json:"metadata,omitempty"`
	Conditions *Conditions       `json:"conditions,omitempty"`
}

// NewEvent builds an event with a fresh ID. A zero ts means "now".
func NewEvent(subjectID string, kind Kind, ts time.Time) Event {
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Kind:      kind,
		Timestamp: ts,
	}
}

// WithMeta returns a copy of e with the metadata key set. The original
// event's map is not shared.
func (e Event) WithMeta(key, value string) Event {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

// Meta returns the metadata value for key, or "" when absent.
func (e Event) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}
