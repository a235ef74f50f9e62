package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the local archive.
//
// Driver values:
//   - "file": dependency-free file backend (per-stream jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the archive is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// KeepEvents caps how many events are retained per stream; older
	// events are pruned during compaction. 0 means 10000.
	KeepEvents int
}

func (c Config) keep() int {
	if c.KeepEvents <= 0 {
		return 10000
	}
	return c.KeepEvents
}
