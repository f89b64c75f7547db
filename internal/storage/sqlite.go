//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ssathy2/backgroundtime/internal/eventlog"
	logx "github.com/ssathy2/backgroundtime/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendEvent(ctx context.Context, e eventlog.Event) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO event_journal(body) VALUES(?)`, string(body))
	return err
}

// SaveSnapshot replaces the stored snapshot and clears the journal it covers.
func (s *sqliteStore) SaveSnapshot(ctx context.Context, snap eventlog.Snapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	body, err := eventlog.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot(id, body) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET body=excluded.body`, string(body)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_journal`); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSnapshot(ctx context.Context) (*eventlog.Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}

	var snap *eventlog.Snapshot
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM snapshot WHERE id = 1`).Scan(&body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// no snapshot yet; maybe a journal
	case err != nil:
		return nil, err
	default:
		decoded, derr := eventlog.DecodeSnapshot([]byte(body))
		if derr != nil {
			if !s.log.IsZero() {
				s.log.Warn("stored snapshot unreadable; starting from journal only", logx.Err(derr))
			}
		} else {
			snap = &decoded
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT body FROM event_journal ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []eventlog.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e eventlog.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			if !s.log.IsZero() {
				s.log.Debug("skipping malformed journal row", logx.Err(err))
			}
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return snap, nil
	}
	if snap == nil {
		snap = &eventlog.Snapshot{Capacity: len(events)}
	}
	snap.Elements = append(snap.Elements, events...)
	if snap.Capacity > 0 && len(snap.Elements) > snap.Capacity {
		snap.Elements = snap.Elements[len(snap.Elements)-snap.Capacity:]
	}
	return snap, nil
}
