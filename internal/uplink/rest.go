package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"syncwire/internal/audit"
	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

// RESTConfig configures the batch API client.
type RESTConfig struct {
	BaseURL string
	Token   string // bearer (do not log)
	Device  string

	Timeout time.Duration // per-request; 0 means 15s
}

// DeviceInfo is the registration/heartbeat payload.
type DeviceInfo struct {
	DeviceID          string `json:"device_id"`
	Name              string `json:"name,omitempty"`
	Model             string `json:"model,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Code              string `json:"code,omitempty"`
	IsActive          bool   `json:"is_active"`
	LastSeen          int64  `json:"last_seen"` // unix ms
	BatteryPercentage int    `json:"battery_percentage,omitempty"`
}

// envelope is the backend's uniform response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RESTClient talks to the batch backend: one POST per flush, plus the
// command-log audit sink and device registration.
type RESTClient struct {
	cfg  RESTConfig
	http *http.Client
	log  logx.Logger
}

func NewREST(cfg RESTConfig, log logx.Logger) *RESTClient {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &RESTClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// Sync uploads one flushed batch as a single call.
func (c *RESTClient) Sync(ctx context.Context, stream capture.StreamType, events []capture.Event) error {
	if len(events) == 0 {
		return nil
	}
	switch stream {
	case capture.StreamSMS:
		return c.post(ctx, "/api/messages/", messageRecords(c.cfg.Device, events))
	case capture.StreamNotification:
		return c.post(ctx, "/api/notifications/", notificationRecords(c.cfg.Device, events))
	default:
		return fmt.Errorf("unknown stream %q", stream)
	}
}

// WriteCommandLog posts one terminal command outcome (audit.Sink).
func (c *RESTClient) WriteCommandLog(ctx context.Context, e audit.Entry) error {
	return c.post(ctx, "/api/command-logs/", e)
}

// RegisterDevice creates or refreshes the device record (also used as a
// heartbeat carrying last_seen).
func (c *RESTClient) RegisterDevice(ctx context.Context, info DeviceInfo) error {
	return c.post(ctx, "/api/devices/", info)
}

func (c *RESTClient) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("batch encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var env envelope
	if len(data) > 0 {
		// Tolerate non-envelope bodies on errors; status check below still applies.
		_ = json.Unmarshal(data, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if env.Error != "" {
			return fmt.Errorf("batch %s: status %d: %s", path, resp.StatusCode, env.Error)
		}
		return fmt.Errorf("batch %s: status %d", path, resp.StatusCode)
	}
	if len(data) > 0 && !env.Success {
		detail := env.Error
		if detail == "" {
			detail = env.Message
		}
		if detail == "" {
			detail = "request rejected"
		}
		return fmt.Errorf("batch %s: %s", path, detail)
	}
	return nil
}
