package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ssathy2/backgroundtime/internal/eventlog"
	logx "github.com/ssathy2/backgroundtime/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json  (periodic full snapshot, written atomically)
//   - <prefix>.journal.jsonl  (append-only event journal)
//
// The journal is truncated each time a snapshot is written, so recovery is
// snapshot + replay of whatever was journaled since.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	// loaded is the recovered state computed at open time, updated on save.
	loaded *eventlog.Snapshot
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	loaded, err := loadSnapshotFile(snapPath)
	if err != nil {
		if errors.Is(err, eventlog.ErrCorruptSnapshot) {
			log.Warn("snapshot unreadable; starting from journal only",
				logx.String("path", snapPath), logx.Err(err))
			loaded = nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	loaded = replayJournal(journalPath, loaded, log)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		loaded:       loaded,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) AppendEvent(ctx context.Context, e eventlog.Event) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("event journal closed")
	}
	return json.NewEncoder(s.journalFile).Encode(e)
}

func (s *fileStore) SaveSnapshot(ctx context.Context, snap eventlog.Snapshot) error {
	_ = ctx
	b, err := eventlog.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}

	// The snapshot now covers everything journaled so far.
	if s.journalFile != nil {
		if err := s.journalFile.Truncate(0); err != nil {
			return err
		}
		if _, err := s.journalFile.Seek(0, io.SeekEnd); err != nil {
			return err
		}
	}
	s.loaded = &snap
	return nil
}

func (s *fileStore) LoadSnapshot(ctx context.Context) (*eventlog.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded == nil {
		return nil, nil
	}
	cp := *s.loaded
	cp.Elements = append([]eventlog.Event(nil), s.loaded.Elements...)
	return &cp, nil
}

func loadSnapshotFile(path string) (*eventlog.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	snap, err := eventlog.DecodeSnapshot(b)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// replayJournal appends journaled events to the recovered snapshot, keeping
// only the newest Capacity elements. Malformed lines (a torn final write) are
// skipped.
func replayJournal(path string, snap *eventlog.Snapshot, log logx.Logger) *eventlog.Snapshot {
	f, err := os.Open(path)
	if err != nil {
		return snap
	}
	defer f.Close()

	var events []eventlog.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e eventlog.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			log.Debug("skipping malformed journal line", logx.Err(err))
			continue
		}
		events = append(events, e)
	}
	if len(events) == 0 {
		return snap
	}

	if snap == nil {
		snap = &eventlog.Snapshot{Capacity: len(events)}
	}
	snap.Elements = append(snap.Elements, events...)
	if snap.Capacity > 0 && len(snap.Elements) > snap.Capacity {
		snap.Elements = snap.Elements[len(snap.Elements)-snap.Capacity:]
	}
	return snap
}
