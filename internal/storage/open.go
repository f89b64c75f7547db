package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/ssathy2/backgroundtime/internal/eventlog"
	logx "github.com/ssathy2/backgroundtime/pkg/logx"
)

// Store is the persistence API used by the daemon.
//
// AppendEvent journals a single recorded event so a crash between snapshots
// loses as little as possible. SaveSnapshot persists the full buffer state
// and compacts the journal. LoadSnapshot returns (nil, nil) when nothing has
// been persisted yet.
type Store interface {
	AppendEvent(ctx context.Context, e eventlog.Event) error
	SaveSnapshot(ctx context.Context, snap eventlog.Snapshot) error
	LoadSnapshot(ctx context.Context) (*eventlog.Snapshot, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
