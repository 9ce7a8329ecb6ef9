package storage

import (
	"context"
	"errors"
	"strings"

	"zvonbot/pkg/logx"
)

// Store is the durable mirror of the task registry.
//
// Save overwrites the full persisted set; callers serialize Save calls so a
// write reflecting a newer mutation is never overtaken by a stale one.
type Store interface {
	Load(ctx context.Context) ([]TaskRecord, error)
	Save(ctx context.Context, recs []TaskRecord) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
