// Package export builds backup archives of the local event store, either
// on a cron schedule or on a remote "backup" command.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

// Archive reads the events to back up; implemented by the storage layer.
type Archive interface {
	Events(ctx context.Context, stream capture.StreamType, limit int) ([]capture.Event, error)
}

// BlobSink uploads the finished archive; implemented by the keypath client.
type BlobSink interface {
	PutBlob(ctx context.Context, path string, v any) error
}

// Summary describes one finished export job.
type Summary struct {
	JobID         string `json:"job_id"`
	Format        string `json:"format"`
	Messages      int    `json:"messages"`
	Notifications int    `json:"notifications"`
	Destination   string `json:"destination"`
}

type Options struct {
	Device string
	Dir    string // local fallback directory; "" means ./backups
}

// Exporter snapshots the archive into a JSON or CSV backup and uploads it
// to backup/{device}/{job}. When the upload fails the archive lands in the
// local directory instead; an export only fails when both do.
type Exporter struct {
	archive Archive
	sink    BlobSink
	device  string
	dir     string
	log     logx.Logger
}

func New(archive Archive, sink BlobSink, opts Options, log logx.Logger) *Exporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Dir == "" {
		opts.Dir = "./backups"
	}
	return &Exporter{
		archive: archive,
		sink:    sink,
		device:  opts.Device,
		dir:     opts.Dir,
		log:     log.With(logx.String("component", "export")),
	}
}

type jsonArchive struct {
	DeviceID      string          `json:"device_id"`
	GeneratedAt   int64           `json:"generated_at"` // unix ms
	Messages      []capture.Event `json:"messages"`
	Notifications []capture.Event `json:"notifications"`
}

// Run builds one backup in the given format ("json" or "csv").
func (e *Exporter) Run(ctx context.Context, format string) (Summary, error) {
	if e.archive == nil {
		return Summary{}, fmt.Errorf("no local archive configured")
	}

	messages, err := e.archive.Events(ctx, capture.StreamSMS, 0)
	if err != nil {
		return Summary{}, fmt.Errorf("read sms archive: %w", err)
	}
	notifications, err := e.archive.Events(ctx, capture.StreamNotification, 0)
	if err != nil {
		return Summary{}, fmt.Errorf("read notification archive: %w", err)
	}

	job := uuid.NewString()
	sum := Summary{
		JobID:         job,
		Format:        format,
		Messages:      len(messages),
		Notifications: len(notifications),
	}

	var payload []byte
	switch format {
	case "", "json":
		sum.Format = "json"
		payload, err = json.Marshal(jsonArchive{
			DeviceID:      e.device,
			GeneratedAt:   time.Now().UnixMilli(),
			Messages:      messages,
			Notifications: notifications,
		})
		if err != nil {
			return Summary{}, fmt.Errorf("encode archive: %w", err)
		}
	case "csv":
		payload, err = encodeCSV(messages, notifications)
		if err != nil {
			return Summary{}, fmt.Errorf("encode archive: %w", err)
		}
	default:
		return Summary{}, fmt.Errorf("unsupported backup format %q", format)
	}

	remote := "backup/" + e.device + "/" + job
	if e.sink != nil {
		err := e.sink.PutBlob(ctx, remote, string(payload))
		if err == nil {
			sum.Destination = remote
			e.log.Info("backup uploaded",
				logx.String("job", job), logx.String("format", sum.Format),
				logx.Int("messages", sum.Messages), logx.Int("notifications", sum.Notifications))
			return sum, nil
		}
		e.log.Warn("backup upload failed, writing locally", logx.Err(err))
	}

	local, err := e.writeLocal(job, sum.Format, payload)
	if err != nil {
		return Summary{}, err
	}
	sum.Destination = local
	e.log.Info("backup written",
		logx.String("job", job), logx.String("dest", local))
	return sum, nil
}

// Backup adapts Run for the command dispatcher.
func (e *Exporter) Backup(ctx context.Context, format string) (string, error) {
	sum, err := e.Run(ctx, format)
	if err != nil {
		return "", err
	}
	return sum.Destination, nil
}

func (e *Exporter) writeLocal(job, format string, payload []byte) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(e.dir, job+"."+format)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func encodeCSV(messages, notifications []capture.Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"stream", "sender", "title", "body", "direction", "timestamp"}); err != nil {
		return nil, err
	}
	write := func(events []capture.Event) error {
		for _, ev := range events {
			row := []string{
				string(ev.Stream),
				ev.Sender,
				ev.Title(),
				ev.Body,
				ev.Direction(),
				strconv.FormatInt(ev.Timestamp, 10),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(messages); err != nil {
		return nil, err
	}
	if err := write(notifications); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
