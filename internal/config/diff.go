package config

import (
	"strings"

	logx "syncwire/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like the
// realtime auth token or the batch bearer token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Device (identity changes warrant a restart; still surfaced here)
	if oldCfg.Device != newCfg.Device {
		changed = append(changed, "device")
		attrs = append(attrs, logx.String("device.id", strings.TrimSpace(newCfg.Device.ID)))
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	// Streams (filters + flush timeouts)
	if !streamEqual(oldCfg.Streams.SMS, newCfg.Streams.SMS) ||
		!streamEqual(oldCfg.Streams.Notifications, newCfg.Streams.Notifications) {
		changed = append(changed, "streams")
		attrs = append(attrs,
			logx.Bool("streams.sms.enabled", newCfg.Streams.SMS.On()),
			logx.Int("streams.sms.flush_timeout", newCfg.Streams.SMS.FlushTimeout),
			logx.Bool("streams.sms.filter_set", strings.TrimSpace(newCfg.Streams.SMS.Filter) != ""),
			logx.Bool("streams.notifications.enabled", newCfg.Streams.Notifications.On()),
			logx.Int("streams.notifications.flush_timeout", newCfg.Streams.Notifications.FlushTimeout),
			logx.Bool("streams.notifications.filter_set", strings.TrimSpace(newCfg.Streams.Notifications.Filter) != ""),
		)
	}

	// Uplink (never log auth/token)
	if oldCfg.Uplink != newCfg.Uplink {
		changed = append(changed, "uplink")
		attrs = append(attrs,
			logx.String("uplink.realtime.base_url", strings.TrimSpace(newCfg.Uplink.Realtime.BaseURL)),
			logx.Int("uplink.realtime.rate_per_sec", newCfg.Uplink.Realtime.RatePerSec),
			logx.String("uplink.batch.base_url", strings.TrimSpace(newCfg.Uplink.Batch.BaseURL)),
			logx.Bool("uplink.batch.token_set", strings.TrimSpace(newCfg.Uplink.Batch.Token) != ""),
		)
	}

	// Commands
	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, "commands")
		attrs = append(attrs, logx.String("commands.poll_every", strings.TrimSpace(newCfg.Commands.PollEvery)))
	}

	// Storage (restart required; the reload loop warns about this)
	if !storageEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	// Export
	if oldCfg.Export != newCfg.Export {
		changed = append(changed, "export")
		attrs = append(attrs,
			logx.String("export.schedule", strings.TrimSpace(newCfg.Export.Schedule)),
			logx.String("export.format", strings.TrimSpace(newCfg.Export.Format)),
		)
	}

	// Heartbeat
	if oldCfg.Heartbeat != newCfg.Heartbeat {
		changed = append(changed, "heartbeat")
		attrs = append(attrs, logx.String("heartbeat.every", strings.TrimSpace(newCfg.Heartbeat.Every)))
	}

	return changed, attrs
}

func streamEqual(a, b StreamConfig) bool {
	if a.On() != b.On() {
		return false
	}
	return a.FlushTimeout == b.FlushTimeout && strings.TrimSpace(a.Filter) == strings.TrimSpace(b.Filter)
}

func storageEqual(a, b *StorageConfig) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
