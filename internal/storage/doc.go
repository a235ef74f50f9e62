// Package storage is the local archive behind the uplink: captured events
// and command-log entries are mirrored here so the backup exporter and the
// audit trail survive restarts and offline stretches.
//
// Two drivers:
//   - "file": append-only JSON Lines per stream, periodically compacted
//   - "sqlite": single database file (optional, build tag "sqlite")
package storage
