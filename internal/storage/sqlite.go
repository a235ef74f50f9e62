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
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"syncwire/internal/audit"
	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	opCount    atomic.Uint64
	pruneEvery uint64
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

	st := &sqliteStore{db: db, log: log, keep: cfg.keep(), pruneEvery: 500}

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

func (s *sqliteStore) AppendEvent(ctx context.Context, ev capture.Event) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	var extra any
	if len(ev.Extra) > 0 {
		b, err := json.Marshal(ev.Extra)
		if err != nil {
			return err
		}
		extra = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(stream, sender, body, ts, extra) VALUES(?,?,?,?,?)`,
		string(ev.Stream), ev.Sender, ev.Body, ev.Timestamp, extra,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		_ = s.pruneStream(pctx, ev.Stream)
		cancel()
	}
	return err
}

func (s *sqliteStore) Events(ctx context.Context, stream capture.StreamType, limit int) ([]capture.Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT sender, body, ts, extra FROM events WHERE stream = ? ORDER BY ts DESC, id DESC`
	args := []any{string(stream)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []capture.Event
	for rows.Next() {
		var (
			ev    capture.Event
			extra sql.NullString
		)
		ev.Stream = stream
		if err := rows.Scan(&ev.Sender, &ev.Body, &ev.Timestamp, &extra); err != nil {
			return nil, err
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &ev.Extra); err != nil {
				ev.Extra = nil
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query is newest-first for the LIMIT; callers get capture order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqliteStore) AppendCommandLog(ctx context.Context, e audit.Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_log(device, command, value, status, err, received_at, executed_at)
		 VALUES(?,?,?,?,?,?,?)`,
		e.Device, e.Command, nullStr(e.Value), string(e.Status), nullStr(e.Error), e.ReceivedAt, e.ExecutedAt,
	)
	return err
}

func (s *sqliteStore) pruneStream(ctx context.Context, stream capture.StreamType) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE stream = ? AND id NOT IN
		 (SELECT id FROM events WHERE stream = ? ORDER BY ts DESC, id DESC LIMIT ?)`,
		string(stream), string(stream), s.keep,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
