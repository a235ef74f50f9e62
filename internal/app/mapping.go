package app

import (
	"fmt"
	"strings"
	"time"

	"syncwire/internal/config"
	"syncwire/internal/storage"
	"syncwire/internal/uplink"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path, KeepEvents: sc.KeepEvents}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, KeepEvents: sc.KeepEvents}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapKeypathConfig(cfg *config.Config) (uplink.KeypathConfig, error) {
	rc := cfg.Uplink.Realtime
	if strings.TrimSpace(rc.BaseURL) == "" {
		return uplink.KeypathConfig{}, fmt.Errorf("uplink.realtime.base_url is required")
	}
	timeout, err := config.ParseDurationField("uplink.realtime.timeout", rc.Timeout)
	if err != nil {
		return uplink.KeypathConfig{}, err
	}
	return uplink.KeypathConfig{
		BaseURL:    rc.BaseURL,
		Root:       rc.Root,
		Auth:       rc.Auth,
		Device:     cfg.Device.ID,
		RatePerSec: rc.RatePerSec,
		Timeout:    timeout,
		RetryMax:   rc.RetryMax,
	}, nil
}

func mapRESTConfig(cfg *config.Config) (uplink.RESTConfig, error) {
	bc := cfg.Uplink.Batch
	if strings.TrimSpace(bc.BaseURL) == "" {
		return uplink.RESTConfig{}, fmt.Errorf("uplink.batch.base_url is required")
	}
	timeout, err := config.ParseDurationField("uplink.batch.timeout", bc.Timeout)
	if err != nil {
		return uplink.RESTConfig{}, err
	}
	return uplink.RESTConfig{
		BaseURL: bc.BaseURL,
		Token:   bc.Token,
		Device:  cfg.Device.ID,
		Timeout: timeout,
	}, nil
}

func heartbeatEvery(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationField("heartbeat.every", cfg.Heartbeat.Every)
	if err != nil {
		return 0
	}
	return d
}

// validate is the reload gate: a config that fails here is never committed,
// so a bad hot-edit cannot take a running agent down. Flush timeouts and
// filter strings are not checked; they clamp or fail open when applied.
func validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Device.ID) == "" {
		return fmt.Errorf("device.id is required")
	}
	if _, err := mapKeypathConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRESTConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("commands.poll_every", cfg.Commands.PollEvery); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("heartbeat.every", cfg.Heartbeat.Every); err != nil {
		return err
	}
	switch f := strings.ToLower(strings.TrimSpace(cfg.Export.Format)); f {
	case "", "json", "csv":
	default:
		return fmt.Errorf("export.format: unsupported %q", cfg.Export.Format)
	}
	return nil
}
