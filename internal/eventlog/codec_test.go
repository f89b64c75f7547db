package eventlog

import (
	"errors"
	"testing"
	"time"
)

func TestSnapshotRoundTrip(t *testing.T) {
	l := New(5)
	dur := 1500 * time.Millisecond
	for i := 0; i < 4; i++ {
		e := seqEvent(i)
		if i == 3 {
			e.Kind = KindExecutionCompleted
			e.Duration = &dur
			e.Success = true
			e.Metadata = map[string]string{MetaRequiresNetwork: "true"}
			e.Conditions = &Conditions{BatteryLevel: 0.8, Charging: true}
		}
		l.Append(e)
	}

	b, err := Encode(l)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if back.Cap() != l.Cap() {
		t.Fatalf("capacity = %d, want %d", back.Cap(), l.Cap())
	}
	orig := l.Snapshot()
	got := back.Snapshot()
	if len(got) != len(orig) {
		t.Fatalf("len = %d, want %d", len(got), len(orig))
	}
	for i := range orig {
		if got[i].ID != orig[i].ID || got[i].Kind != orig[i].Kind {
			t.Fatalf("element %d = %+v, want %+v", i, got[i], orig[i])
		}
		if !got[i].Timestamp.Equal(orig[i].Timestamp) {
			t.Fatalf("element %d timestamp = %v, want %v", i, got[i].Timestamp, orig[i].Timestamp)
		}
	}
	last := got[len(got)-1]
	if last.Duration == nil || *last.Duration != dur {
		t.Fatalf("duration not preserved: %v", last.Duration)
	}
	if last.Meta(MetaRequiresNetwork) != "true" {
		t.Fatalf("metadata not preserved: %+v", last.Metadata)
	}
	if last.Conditions == nil || last.Conditions.BatteryLevel != 0.8 {
		t.Fatalf("conditions not preserved: %+v", last.Conditions)
	}
}

func TestDecodeCapsOverfullSnapshot(t *testing.T) {
	s := Snapshot{Version: 1, Capacity: 2}
	for i := 0; i < 5; i++ {
		s.Elements = append(s.Elements, seqEvent(i))
	}
	l, err := FromSnapshot(s)
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}
	got := ids(l.Snapshot())
	if len(got) != 2 || got[0] != "e3" || got[1] != "e4" {
		t.Fatalf("snapshot = %v, want [e3 e4]", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     "{nope",
		"zero cap":     `{"v":1,"capacity":0,"elements":[]}`,
		"negative cap": `{"v":1,"capacity":-3,"elements":[]}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrCorruptSnapshot) {
			t.Fatalf("%s: err = %v, want ErrCorruptSnapshot", name, err)
		}
	}
}
