package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Snapshot schema version. Bump when the wire shape changes.
const snapshotSchemaVersion = 1

// ErrCorruptSnapshot wraps decode failures of persisted snapshots. Callers
// are expected to fall back to an empty log rather than crash.
var ErrCorruptSnapshot = errors.New("corrupt event log snapshot")

// Snapshot is the persisted form of a log: its capacity plus the resident
// events, oldest first.
type Snapshot struct {
	Version  int     `json:"v"`
	Capacity int     `json:"capacity"`
	Elements []Event `json:"elements"`
}

// TakeSnapshot captures the log as a Snapshot value.
func TakeSnapshot(l *Log) Snapshot {
	return Snapshot{
		Version:  snapshotSchemaVersion,
		Capacity: l.Cap(),
		Elements: l.Snapshot(),
	}
}

// Encode serializes the log for persistence.
func Encode(l *Log) ([]byte, error) {
	return EncodeSnapshot(TakeSnapshot(l))
}

// EncodeSnapshot serializes an already-captured snapshot.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot parses persisted bytes without rebuilding a log.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return s, nil
}

// Decode reconstructs a log from persisted bytes. The rebuilt log's
// Snapshot() equals the persisted elements, capped to the most recent
// `capacity` entries if the source held more.
func Decode(data []byte) (*Log, error) {
	s, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return FromSnapshot(s)
}

// FromSnapshot rebuilds a log from an already-decoded snapshot.
func FromSnapshot(s Snapshot) (*Log, error) {
	if s.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrCorruptSnapshot, s.Capacity)
	}
	l := New(s.Capacity)
	elems := s.Elements
	if len(elems) > s.Capacity {
		elems = elems[len(elems)-s.Capacity:]
	}
	for _, e := range elems {
		l.Append(e)
	}
	return l, nil
}
