package storage

import (
	"context"
	"errors"
	"strings"

	"syncwire/internal/audit"
	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

// Store is the archive API used by the exporter and the audit recorder.
type Store interface {
	AppendEvent(ctx context.Context, ev capture.Event) error

	// Events returns up to limit newest events of one stream in
	// capture order (oldest first). limit <= 0 means everything kept.
	Events(ctx context.Context, stream capture.StreamType, limit int) ([]capture.Event, error)

	AppendCommandLog(ctx context.Context, e audit.Entry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the archive is disabled.
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
