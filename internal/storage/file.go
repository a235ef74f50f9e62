package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"syncwire/internal/audit"
	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

// fileStore is the dependency-free archive backend.
//
// Files:
//   - <prefix>.sms.jsonl          (append-only JSON Lines)
//   - <prefix>.notification.jsonl (append-only JSON Lines)
//   - <prefix>.commands.jsonl     (append-only JSON Lines)
//
// Event files are compacted in place every compactEvery appends, keeping
// the newest Config.KeepEvents entries. The command log is never pruned.
type fileStore struct {
	log  logx.Logger
	keep int

	mu sync.Mutex

	prefix  string
	events  map[capture.StreamType]*os.File
	cmdFile *os.File
	writes  map[capture.StreamType]int
}

const compactEvery = 500

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

	s := &fileStore{
		log:    log,
		keep:   cfg.keep(),
		prefix: prefix,
		events: map[capture.StreamType]*os.File{},
		writes: map[capture.StreamType]int{},
	}

	for _, stream := range []capture.StreamType{capture.StreamSMS, capture.StreamNotification} {
		f, err := os.OpenFile(s.eventPath(stream), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.events[stream] = f
	}

	cf, err := os.OpenFile(prefix+".commands.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.cmdFile = cf
	return s, nil
}

func (s *fileStore) eventPath(stream capture.StreamType) string {
	return s.prefix + "." + string(stream) + ".jsonl"
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for stream, f := range s.events {
		if f != nil {
			if err := f.Close(); err != nil && first == nil {
				first = err
			}
			s.events[stream] = nil
		}
	}
	if s.cmdFile != nil {
		if err := s.cmdFile.Close(); err != nil && first == nil {
			first = err
		}
		s.cmdFile = nil
	}
	return first
}

func (s *fileStore) AppendEvent(ctx context.Context, ev capture.Event) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.events[ev.Stream]
	if f == nil {
		return errors.New("event file closed or unknown stream: " + string(ev.Stream))
	}
	if err := json.NewEncoder(f).Encode(ev); err != nil {
		return err
	}

	s.writes[ev.Stream]++
	if s.writes[ev.Stream]%compactEvery == 0 {
		if err := s.compactLocked(ev.Stream); err != nil {
			s.log.Debug("event compact failed",
				logx.String("stream", string(ev.Stream)), logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Events(ctx context.Context, stream capture.StreamType, limit int) ([]capture.Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := readEvents(s.eventPath(stream))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (s *fileStore) AppendCommandLog(ctx context.Context, e audit.Entry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmdFile == nil {
		return errors.New("command log file closed")
	}
	return json.NewEncoder(s.cmdFile).Encode(e)
}

// compactLocked rewrites one stream file keeping the newest s.keep events.
func (s *fileStore) compactLocked(stream capture.StreamType) error {
	path := s.eventPath(stream)
	events, err := readEvents(path)
	if err != nil {
		return err
	}
	if len(events) <= s.keep {
		return nil
	}
	events = events[len(events)-s.keep:]

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	// Swap the append handle onto the rewritten file.
	if old := s.events[stream]; old != nil {
		_ = old.Close()
	}
	nf, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.events[stream] = nil
		return err
	}
	s.events[stream] = nf
	return nil
}

func readEvents(path string) ([]capture.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []capture.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var ev capture.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			// A torn tail line from a crash is skipped, not fatal.
			continue
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}
